// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file"
)

type accessMode int

const (
	readonly  accessMode = iota // file is opened by Open.
	writeonly                   // file is opened by Create.
)

// adlsFile implements file.File. Calls are serialized by mu; a file opened
// for writing still has a single logical writer, since appends are
// sequential.
type adlsFile struct {
	name string // "adls://fs/key/.."
	mode accessMode

	mu     sync.Mutex
	info   *adlsInfo    // readonly only.
	reader *rangeReader // readonly only.
	writer *writeHandle // writeonly only.
	closed bool
}

// Open implements file.Implementation interface. It fails with an error
// of kind errors.NotExist when there is no object at path.
func (impl *Impl) Open(ctx context.Context, path string, opts ...file.Opts) (file.File, error) {
	p, err := parse(path)
	if err != nil {
		return nil, err
	}
	info, err := impl.Stat(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errors.E(errors.Invalid, "adlsfile.open", path, "is a directory")
	}
	ai := info.(*adlsInfo)
	return &adlsFile{
		name:   path,
		mode:   readonly,
		info:   ai,
		reader: &rangeReader{impl: impl, path: p, size: ai.size, etag: ai.etag},
	}, nil
}

// Create implements file.Implementation interface. The object is created
// (or truncated) before Create returns; its contents become visible when
// the file is closed.
func (impl *Impl) Create(ctx context.Context, path string, opts ...file.Opts) (file.File, error) {
	p, err := parse(path)
	if err != nil {
		return nil, err
	}
	w, err := impl.createFile(ctx, p, mergeFileOpts(opts))
	if err != nil {
		return nil, err
	}
	return &adlsFile{name: path, mode: writeonly, writer: w}, nil
}

// Name returns the name of the file.
func (f *adlsFile) Name() string { return f.name }

func (f *adlsFile) String() string { return f.name }

// Stat implements file.File.
func (f *adlsFile) Stat(ctx context.Context) (file.Info, error) {
	if f.mode != readonly {
		return nil, errors.E(errors.NotSupported, f.name, "stat for writeonly file not supported")
	}
	return f.info, nil
}

type fileReader struct {
	ctx context.Context
	f   *adlsFile
}

func (r *fileReader) Read(p []byte) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.closed {
		return 0, errors.E(errors.Invalid, "read", r.f.name, "file is closed")
	}
	return r.f.reader.read(r.ctx, p)
}

func (r *fileReader) Seek(offset int64, whence int) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return r.f.reader.seek(offset, whence)
}

// Reader implements file.File.
func (f *adlsFile) Reader(ctx context.Context) io.ReadSeeker {
	if f.mode != readonly {
		return file.NewErrorReader(fmt.Errorf("reader %v: file is not opened in read mode", f.name))
	}
	return &fileReader{ctx: ctx, f: f}
}

type fileWriter struct {
	ctx context.Context
	f   *adlsFile
}

func (w *fileWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.f.mu.Lock()
	defer w.f.mu.Unlock()
	return w.f.writer.write(w.ctx, p)
}

// Writer implements file.File.
func (f *adlsFile) Writer(ctx context.Context) io.Writer {
	if f.mode != writeonly {
		return file.NewErrorWriter(fmt.Errorf("writer %v: file is not opened in write mode", f.name))
	}
	return &fileWriter{ctx: ctx, f: f}
}

// Close implements file.File. For a written file it appends the buffered
// bytes and flushes the object.
func (f *adlsFile) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.E(errors.Invalid, "close", f.name, "file already closed")
	}
	f.closed = true
	if f.mode == writeonly {
		return f.writer.close(ctx)
	}
	f.reader.release()
	return nil
}

// Discard implements file.File. The object created by Create is deleted,
// so nothing is left behind at the path.
func (f *adlsFile) Discard(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mode != writeonly || f.closed {
		return nil
	}
	f.closed = true
	return f.writer.discard(ctx)
}
