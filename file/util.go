// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package file

import (
	"context"
	"fmt"
	"io"

	"github.com/grailbio/adlsfs/errors"
	"golang.org/x/sync/errgroup"
)

// removeAllParallelism bounds the number of concurrent Remove calls
// RemoveAll issues for stores without directory support.
const removeAllParallelism = 32

// ReadFile reads the given file and returns the contents. A successful call
// returns err == nil, not err == EOF. Arg opts is passed to file.Open.
func ReadFile(ctx context.Context, path string, opts ...Opts) ([]byte, error) {
	in, err := Open(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Reader(ctx))
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, err
	}
	return data, in.Close(ctx)
}

// WriteFile writes data to the given file. If the file does not exist,
// WriteFile creates it; otherwise WriteFile truncates it before writing.
func WriteFile(ctx context.Context, path string, data []byte, opts ...Opts) error {
	out, err := Create(ctx, path, opts...)
	if err != nil {
		return err
	}
	n, err := out.Writer(ctx).Write(data)
	if n != len(data) && err == nil {
		err = fmt.Errorf("writefile %s: requested to write %d bytes, actually wrote %d bytes", path, len(data), n)
	}
	if err != nil {
		out.Discard(ctx) // nolint: errcheck
		return err
	}
	return out.Close(ctx)
}

// RemoveAll removes path and any children it contains. Stores with real
// directories remove the tree with a single recursive delete; others
// have each file removed in parallel. It returns the first error it
// encounters. If the path does not exist, RemoveAll returns nil.
func RemoveAll(ctx context.Context, path string) error {
	impl, err := findImpl(path)
	if err != nil {
		return err
	}
	if d, ok := impl.(Directory); ok {
		info, err := impl.Stat(ctx, path)
		switch {
		case errors.Is(errors.NotExist, err):
			return nil
		case err != nil:
			return err
		case !info.IsDir():
			return impl.Remove(ctx, path)
		}
		err = d.RmdirRecursive(ctx, path)
		if errors.Is(errors.NotExist, err) {
			return nil
		}
		return err
	}
	g, ectx := errgroup.WithContext(ctx)
	g.SetLimit(removeAllParallelism)
	l := impl.List(ectx, path, true)
	for l.Scan() {
		if !l.IsDir() {
			path := l.Path()
			g.Go(func() error { return impl.Remove(ectx, path) })
		}
	}
	if err := l.Err(); err != nil && !errors.Is(errors.NotExist, err) {
		g.Go(func() error { return err })
	}
	return g.Wait()
}
