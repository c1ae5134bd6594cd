// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"io"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file"
)

func Cat(ctx context.Context, out io.Writer, args []string) (err error) {
	for _, arg := range expandGlobs(ctx, args) {
		if err := cat(ctx, out, arg); err != nil {
			return err
		}
	}
	return nil
}

func cat(ctx context.Context, out io.Writer, path string) (err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return errors.E(err, "cat", path)
	}
	defer file.CloseAndReport(ctx, f, &err)
	if _, err = io.Copy(out, f.Reader(ctx)); err != nil {
		return errors.E(err, "cat", path)
	}
	return nil
}
