// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file"
)

func Sign(ctx context.Context, out io.Writer, args []string) error {
	var (
		flags      flag.FlagSet
		methodFlag = flags.String("method", "GET", "HTTP method the URL allows: GET, PUT or DELETE")
		expiryFlag = flags.Duration("expiry", time.Hour, "Lifetime of the URL")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return errors.New("Usage: sign [-method GET|PUT|DELETE] [-expiry 1h] path...")
	}
	for _, path := range flags.Args() {
		u, err := file.Presign(ctx, path, *methodFlag, *expiryFlag)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, u) // nolint: errcheck
	}
	return nil
}
