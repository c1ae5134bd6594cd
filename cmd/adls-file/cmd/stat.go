// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/grailbio/adlsfs/file"
)

func Stat(ctx context.Context, out io.Writer, args []string) error {
	for _, path := range expandGlobs(ctx, args) {
		info, err := file.Stat(ctx, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%d\t%s\t%s\t%s\n", path, info.Size(), info.Mode(), info.ModTime().Format(iso8601), info.ETag()) // nolint: errcheck
	}
	return nil
}
