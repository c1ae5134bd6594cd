// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/grailbio/adlsfs/errors"
)

// ReadBlockSize is the minimum number of bytes fetched by one range request.
// It is exposed only for unittests.
var ReadBlockSize = 1 << 20

// rangeReader reads an object with byte-range GET requests, keeping the
// last block in memory.
type rangeReader struct {
	impl *Impl
	path adlsPath
	size int64
	etag string

	pos      int64  // seek offset.
	blockOff int64  // offset of block in the object.
	block    []byte // last fetched range.
}

func (r *rangeReader) read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.pos >= r.size {
		return 0, io.EOF
	}
	if r.pos < r.blockOff || r.pos >= r.blockOff+int64(len(r.block)) {
		n := len(p)
		if n < ReadBlockSize {
			n = ReadBlockSize
		}
		if err := r.fetch(ctx, r.pos, n); err != nil {
			return 0, err
		}
		if r.pos < r.blockOff || r.pos >= r.blockOff+int64(len(r.block)) {
			return 0, errors.E(errors.Integrity, "adlsfile.read", r.path.String(), fmt.Sprintf("short object: want offset %d", r.pos))
		}
	}
	n := copy(p, r.block[r.pos-r.blockOff:])
	r.pos += int64(n)
	return n, nil
}

func (r *rangeReader) fetch(ctx context.Context, off int64, n int) error {
	if rem := r.size - off; int64(n) > rem {
		n = int(rem)
	}
	p := r.path
	retrier := r.impl.newRetrier("read", p.String())
	defer retrier.done()
	resp, err := r.impl.execute(ctx, retrier, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, r.impl.helper.URL(DFS, p.fs, p.key, nil), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(n)-1))
		if r.etag != "" {
			req.Header.Set("If-Match", r.etag)
		}
		return req, nil
	}, "adlsfile.read", p.String())
	if err != nil {
		if errors.Is(errors.Precondition, err) {
			return errors.E(errors.Precondition, "adlsfile.read", p.String(), "object changed while reading", err)
		}
		return err
	}
	if len(resp.body) == 0 {
		return errors.E(errors.Integrity, "adlsfile.read", p.String(), fmt.Sprintf("empty range at %d of %d bytes", off, r.size))
	}
	if resp.status == http.StatusOK {
		// The range was ignored and the whole object returned.
		off = 0
	}
	r.blockOff, r.block = off, resp.body
	return nil
}

func (r *rangeReader) seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = r.pos + offset
	case io.SeekEnd:
		pos = r.size + offset
	default:
		return r.pos, errors.E(errors.Invalid, fmt.Sprintf("seek %s: bad whence %d", r.path, whence))
	}
	if pos < 0 {
		return r.pos, errors.E(errors.Invalid, fmt.Sprintf("seek %s: negative offset %d", r.path, pos))
	}
	r.pos = pos
	return pos, nil
}

func (r *rangeReader) release() { r.block = nil }
