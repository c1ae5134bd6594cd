// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"io"
	"os"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file"
)

// Stdin is read by Put. Tests replace it.
var Stdin io.Reader = os.Stdin

func Put(ctx context.Context, out io.Writer, args []string) (err error) {
	if len(args) != 1 {
		return errors.New("put requires a single path")
	}
	arg := args[0]
	f, err := file.Create(ctx, arg)
	if err != nil {
		return errors.E(err, "put", arg)
	}
	defer file.CloseAndReport(ctx, f, &err)
	if _, err = io.Copy(f.Writer(ctx), Stdin); err != nil {
		return errors.E(err, "put", arg)
	}
	return nil
}
