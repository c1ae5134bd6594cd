// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-test/deep"
	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file"
)

// perRequestKeys name response headers that differ between any two
// requests; they are left out of setmeta's diff.
var perRequestKeys = []string{"x-ms-request-id", "x-ms-client-request-id", "x-ms-version"}

func GetMeta(ctx context.Context, out io.Writer, args []string) error {
	var (
		flags      flag.FlagSet
		domainFlag = flags.String("domain", "STATUS", "Metadata domain: STATUS or ACL")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("Usage: getmeta [-domain STATUS|ACL] path")
	}
	md, err := file.GetFileMetadata(ctx, flags.Arg(0), *domainFlag)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%s=%s\n", k, md[k]) // nolint: errcheck
	}
	return nil
}

func SetMeta(ctx context.Context, out io.Writer, args []string) error {
	var (
		flags         flag.FlagSet
		domainFlag    = flags.String("domain", "PROPERTIES", "Metadata domain: PROPERTIES or ACL")
		recursiveFlag = flags.Bool("R", false, "Apply an ACL change to the whole tree")
		modeFlag      = flags.String("mode", "", "Recursive ACL mode: set, modify or remove")
		diffFlag      = flags.Bool("diff", false, "Print how the metadata of path changed")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 2 {
		return errors.New("Usage: setmeta [-domain PROPERTIES|ACL] [-R] [-mode set|modify|remove] [-diff] path key=value...")
	}
	md := make(map[string]string)
	for _, kv := range flags.Args()[1:] {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			return errors.E(errors.Invalid, "setmeta: expected key=value, got", kv)
		}
		md[kv[:i]] = kv[i+1:]
	}
	path := flags.Arg(0)
	// Properties are read back through the STATUS domain.
	readDomain := "STATUS"
	if strings.EqualFold(*domainFlag, "ACL") {
		readDomain = "ACL"
	}
	var orig map[string]string
	if *diffFlag {
		var err error
		if orig, err = file.GetFileMetadata(ctx, path, readDomain); err != nil {
			return err
		}
	}
	if err := file.SetFileMetadata(ctx, path, *domainFlag, md,
		file.MetadataOpts{Recursive: *recursiveFlag, Mode: *modeFlag}); err != nil {
		return err
	}
	if !*diffFlag {
		return nil
	}
	updated, err := file.GetFileMetadata(ctx, path, readDomain)
	if err != nil {
		return err
	}
	for _, md := range []map[string]string{orig, updated} {
		for _, k := range perRequestKeys {
			delete(md, k)
		}
	}
	diff := deep.Equal(orig, updated)
	if len(diff) == 0 {
		fmt.Fprintln(out, "No diffs") // nolint: errcheck
		return nil
	}
	fmt.Fprintf(out, "Found %d diffs:\n", len(diff)) // nolint: errcheck
	for _, l := range diff {
		fmt.Fprintf(out, "\t%s\n", l) // nolint: errcheck
	}
	return nil
}
