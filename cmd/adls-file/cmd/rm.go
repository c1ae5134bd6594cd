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

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file"
	"golang.org/x/sync/errgroup"
)

func Rm(ctx context.Context, out io.Writer, args []string) error {
	var (
		flags         flag.FlagSet
		verboseFlag   = flags.Bool("v", false, "Enable verbose logging")
		recursiveFlag = flags.Bool("R", false, "Recursive remove")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	args = expandGlobs(ctx, flags.Args())
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, path := range args {
		path := path
		g.Go(func() error {
			if *verboseFlag {
				fmt.Fprintf(os.Stderr, "%s\n", path) // nolint: errcheck
			}
			if !*recursiveFlag {
				return file.Remove(ctx, path)
			}
			info, err := file.Stat(ctx, path)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return file.Remove(ctx, path)
			}
			// Stores with directories delete the tree in one request.
			err = file.RmdirRecursive(ctx, path)
			if !errors.Is(errors.NotSupported, err) {
				return err
			}
			return forEachFile(ctx, path, func(path string) error {
				if *verboseFlag {
					fmt.Fprintf(os.Stderr, "%s\n", path) // nolint: errcheck
				}
				return file.Remove(ctx, path)
			})
		})
	}
	return g.Wait()
}
