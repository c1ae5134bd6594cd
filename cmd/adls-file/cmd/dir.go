// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"flag"
	"io"
	"os"
	"strconv"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file"
)

func Mkdir(ctx context.Context, out io.Writer, args []string) error {
	var (
		flags     flag.FlagSet
		modeFlag  = flags.String("m", "", "Octal permission bits of the new directories")
		parentsOK = flags.Bool("p", false, "Do not fail if a directory exists")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	var mode os.FileMode
	if *modeFlag != "" {
		m, err := strconv.ParseUint(*modeFlag, 8, 32)
		if err != nil {
			return errors.E(errors.Invalid, "mkdir: bad mode", *modeFlag, err)
		}
		mode = os.FileMode(m) & os.ModePerm
	}
	if flags.NArg() == 0 {
		return errors.New("Usage: mkdir [-m mode] [-p] dir...")
	}
	for _, path := range flags.Args() {
		err := file.Mkdir(ctx, path, mode)
		if err != nil && !(*parentsOK && errors.Is(errors.Exists, err)) {
			return err
		}
	}
	return nil
}

func Rmdir(ctx context.Context, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New("Usage: rmdir dir...")
	}
	for _, path := range args {
		if err := file.Rmdir(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

func Mv(ctx context.Context, out io.Writer, args []string) error {
	if len(args) != 2 {
		return errors.New("Usage: mv src dst")
	}
	return file.Rename(ctx, args[0], args[1])
}
