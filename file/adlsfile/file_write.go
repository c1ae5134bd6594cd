// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file"
	"github.com/grailbio/adlsfs/log"
)

type writeState int

const (
	writeUnopened writeState = iota
	writeCreated
	writeAppending
	writeClosed
	writeFailed
)

// createHeaders are the headers of file.Opts.Headers that are forwarded to
// the create request.
var createHeaders = map[string]bool{
	"x-ms-cache-control":       true,
	"x-ms-content-type":        true,
	"x-ms-content-encoding":    true,
	"x-ms-content-language":    true,
	"x-ms-content-disposition": true,
	"x-ms-properties":          true,
	"x-ms-permissions":         true,
	"x-ms-umask":               true,
	"x-ms-owner":               true,
	"x-ms-group":               true,
	"x-ms-acl":                 true,
	"x-ms-lease-id":            true,
	"x-ms-client-request-id":   true,
}

// writeHandle emulates a sequential writer over the create, append and
// flush requests. The remote object is created empty when the handle is
// opened; bytes are appended in chunks of impl.opts.ChunkSize and become
// visible when Close flushes them.
//
// Invariant: committed + len(buf) is the number of bytes written so far.
//
// A failed append leaves the remote object holding only the committed
// prefix; the handle then fails every call with an error of kind
// errors.Incomplete and Close does not flush. Not thread safe.
type writeHandle struct {
	impl      *Impl
	path      adlsPath
	state     writeState
	buf       []byte
	committed int64
	err       error
}

// createFile issues the create request and returns a handle in the Created
// state.
func (impl *Impl) createFile(ctx context.Context, p adlsPath, opts file.Opts) (*writeHandle, error) {
	if p.isRoot() || p.key == "" {
		return nil, errors.E(errors.Invalid, "adlsfile.create", p.String(), "is not an object path")
	}
	r := impl.newRetrier("create", p.String())
	defer r.done()
	_, err := impl.execute(ctx, r, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPut, impl.helper.URL(DFS, p.fs, p.key, url.Values{"resource": {"file"}}), nil)
		if err != nil {
			return nil, err
		}
		for k, v := range opts.Headers {
			if createHeaders[strings.ToLower(k)] {
				req.Header.Set(k, v)
			}
		}
		return req, nil
	}, "adlsfile.create", p.String())
	// The create truncates any previous object, successful or not.
	impl.invalidateCreated(p)
	if err != nil {
		return nil, err
	}
	return &writeHandle{impl: impl, path: p, state: writeCreated}, nil
}

// write buffers p and appends every full chunk.
func (w *writeHandle) write(ctx context.Context, p []byte) (int, error) {
	switch w.state {
	case writeFailed:
		return 0, w.err
	case writeClosed:
		return 0, errors.E(errors.Invalid, "adlsfile.write", w.path.String(), "write after close")
	}
	chunk := w.impl.opts.ChunkSize
	w.buf = append(w.buf, p...)
	for len(w.buf) >= chunk {
		if err := w.append(ctx, w.buf[:chunk]); err != nil {
			// Bytes of p that were not committed are reported as unwritten.
			n := len(p) - len(w.buf)
			if n < 0 {
				n = 0
			}
			return n, err
		}
		w.buf = w.buf[chunk:]
	}
	// Keep the backing array from growing without bound.
	if cap(w.buf) > 2*chunk {
		w.buf = append(make([]byte, 0, chunk), w.buf...)
	}
	return len(p), nil
}

// append issues one append request at the committed offset.
func (w *writeHandle) append(ctx context.Context, data []byte) error {
	p := w.path
	r := w.impl.newRetrier("append", p.String())
	defer r.done()
	position := w.committed
	_, err := w.impl.execute(ctx, r, func() (*http.Request, error) {
		q := url.Values{"action": {"append"}, "position": {strconv.FormatInt(position, 10)}}
		req, err := http.NewRequest(http.MethodPatch, w.impl.helper.URL(DFS, p.fs, p.key, q), bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.ContentLength = int64(len(data))
		return req, nil
	}, "adlsfile.append", p.String())
	if err != nil {
		w.state = writeFailed
		w.err = errors.E(errors.Incomplete, "adlsfile.write", p.String(),
			fmt.Sprintf("object left with %d committed bytes", w.committed), err)
		log.Error.Printf("adlsfile.write %s: append at %d failed; object is partially written", p, position)
		w.impl.invalidate(p)
		return w.err
	}
	w.committed += int64(len(data))
	w.state = writeAppending
	r.metric.Bytes(len(data))
	return nil
}

// close appends what is buffered and seals the object with a flush.
func (w *writeHandle) close(ctx context.Context) error {
	switch w.state {
	case writeFailed:
		return w.err
	case writeClosed:
		return nil
	}
	if len(w.buf) > 0 {
		if err := w.append(ctx, w.buf); err != nil {
			return err
		}
		w.buf = nil
	}
	p := w.path
	r := w.impl.newRetrier("flush", p.String())
	defer r.done()
	_, err := w.impl.execute(ctx, r, func() (*http.Request, error) {
		q := url.Values{
			"action":   {"flush"},
			"close":    {"true"},
			"position": {strconv.FormatInt(w.committed, 10)},
		}
		return http.NewRequest(http.MethodPatch, w.impl.helper.URL(DFS, p.fs, p.key, q), nil)
	}, "adlsfile.flush", p.String())
	w.impl.invalidate(p)
	if err != nil {
		w.state = writeFailed
		w.err = errors.E(errors.Incomplete, "adlsfile.close", p.String(), "flush failed", err)
		return w.err
	}
	w.state = writeClosed
	return nil
}

// discard drops the buffered bytes and deletes the object the handle
// created, committed prefix included. A flushed object is left alone.
func (w *writeHandle) discard(ctx context.Context) error {
	w.buf = nil
	if w.state == writeClosed {
		return nil
	}
	w.state = writeClosed
	err := w.impl.deletePath(ctx, "discard", w.path, false)
	w.impl.invalidate(w.path)
	if errors.Is(errors.NotExist, err) {
		return nil
	}
	return err
}
