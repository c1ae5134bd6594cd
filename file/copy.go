// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package file

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/grailbio/adlsfs/errors"
)

// copyBufferSize is the size of a single read of Copy.
const copyBufferSize = 32 << 10

// Copy is a context-aware io.Copy, used to stream between files of
// different implementations (for example a local file into an object being
// written). When ctx is canceled the copy stops at the next buffer boundary
// and Copy returns ctx.Err(). A partial copy is not undone; the destination
// should then be discarded.
func Copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var (
		stop    atomic.Bool
		written int64
		copyErr error
		done    = make(chan struct{})
	)
	go func() {
		defer close(done)
		written, copyErr = copyBuffers(dst, src, &stop)
	}()
	select {
	case <-done:
		return written, copyErr
	case <-ctx.Done():
		stop.Store(true)
		<-done
		return written, ctx.Err()
	}
}

// copyBuffers copies src to dst until EOF, an error, or stop is set.
func copyBuffers(dst io.Writer, src io.Reader, stop *atomic.Bool) (written int64, err error) {
	buf := make([]byte, copyBufferSize)
	for !stop.Load() {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
			}
			switch {
			case werr != nil:
				return written, errors.E("file.Copy", werr)
			case nw != nr:
				return written, errors.E("file.Copy", io.ErrShortWrite)
			}
		}
		switch {
		case rerr == io.EOF:
			return written, nil
		case rerr != nil:
			return written, errors.E("file.Copy", rerr)
		}
	}
	return written, nil
}
