// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command adls-file manipulates files and directories in Azure Data Lake
// Storage Gen2 and on the local filesystem.
//
//	adls-file [-config path] [-set key=value]... [-gops] [-debug-addr addr] subcommand args...
//
// Paths are of the form adls://<filesystem>/<key> or local paths. Run
// without arguments for the list of subcommands. With -debug-addr the
// process serves /metrics and /debug/pprof/ while it runs; set
// metrics.enabled for the client's request metrics to show up there.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/grailbio/adlsfs/cmd/adls-file/cmd"
	"github.com/grailbio/adlsfs/config"
	"github.com/grailbio/adlsfs/file"
	"github.com/grailbio/adlsfs/file/adlsfile"
	"github.com/grailbio/adlsfs/grail"
	"github.com/grailbio/adlsfs/log"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	flags := config.RegisterFlags(flag.CommandLine, "")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] subcommand args...\n", os.Args[0]) // nolint: errcheck
		flag.PrintDefaults()
		cmd.PrintHelp()
	}
	cfg, shutdown := grail.Init(flags)
	err := run(cfg)
	shutdown()
	if err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	impl, err := cfg.Implementation(ctx, nil)
	if err != nil {
		return err
	}
	file.RegisterImplementation(adlsfile.Scheme, func() file.Implementation { return impl })
	return cmd.Run(ctx, flag.Args())
}
