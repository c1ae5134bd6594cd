// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file"
	"golang.org/x/sync/errgroup"
)

func Cp(ctx context.Context, out io.Writer, args []string) error {
	var (
		flags         flag.FlagSet
		verboseFlag   = flags.Bool("v", false, "Enable verbose logging")
		recursiveFlag = flags.Bool("R", false, "Recursive copy")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	args = flags.Args()

	// Copy a regular file. The first return value is true if the source exists as
	// a regular file.
	copyRegularFile := func(src, dst string) (bool, error) {
		if *verboseFlag {
			fmt.Fprintf(os.Stderr, "%s -> %s\n", src, dst) // nolint: errcheck
		}
		info, err := file.Stat(ctx, src)
		if err != nil {
			return false, err
		}
		if info.IsDir() {
			return false, errors.E(errors.NotSupported, "cp", src, "is a directory")
		}
		switch err := file.CopyObject(ctx, src, dst); {
		case err == nil:
			return true, nil
		case !errors.Is(errors.NotSupported, err):
			return true, errors.E(err, fmt.Sprintf("cp %v->%v", src, dst))
		}
		in, err := file.Open(ctx, src)
		if err != nil {
			return true, err
		}
		defer in.Close(ctx) // nolint: errcheck
		out, err := file.Create(ctx, dst)
		if err != nil {
			return true, errors.E(err, fmt.Sprintf("cp %v->%v", src, dst))
		}
		if _, err := file.Copy(ctx, out.Writer(ctx), in.Reader(ctx)); err != nil {
			_ = out.Discard(ctx)
			return true, errors.E(err, fmt.Sprintf("cp %v->%v", src, dst))
		}
		err = out.Close(ctx)
		if err != nil {
			err = errors.E(err, fmt.Sprintf("cp %v->%v", src, dst))
		}
		return true, err
	}

	// Copy a regular file or a directory.
	copyFile := func(src, dst string) error {
		if srcExists, err := copyRegularFile(src, dst); srcExists || !*recursiveFlag {
			return err
		}
		return forEachFile(ctx, src, func(path string) error {
			suffix := strings.TrimLeft(path[len(src):], "/")
			_, e := copyRegularFile(file.Join(src, suffix), file.Join(dst, suffix))
			return e
		})
	}

	copyFileInDir := func(src, dstDir string) error {
		return copyFile(src, file.Join(dstDir, file.Base(src)))
	}

	nArg := len(args)
	if nArg < 2 {
		return errors.New("Usage: cp src... dst")
	}
	dst := args[nArg-1]
	if _, hasGlob := parseGlob(dst); hasGlob {
		return fmt.Errorf("cp: destination %s cannot be a glob", dst)
	}
	srcs := expandGlobs(ctx, args[:nArg-1])
	if len(srcs) == 1 {
		// Copy to dst unless it is an existing directory; then copy to
		// dst/<srcbasename>.
		if !strings.HasSuffix(dst, "/") {
			if info, err := file.Stat(ctx, dst); err != nil || !info.IsDir() {
				return copyFile(srcs[0], dst)
			}
		}
		return copyFileInDir(srcs[0], dst)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, src := range srcs {
		src := src
		g.Go(func() error { return copyFileInDir(src, dst) })
	}
	return g.Wait()
}
