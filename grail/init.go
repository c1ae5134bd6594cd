// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package grail contains the Init function that the adlsfs programs call
// to parse their flags, load the client configuration and start the
// process-wide facilities: logging, the gops agent and the debug server.
package grail

import (
	"flag"
	"os"
	"sync"

	"github.com/google/gops/agent"
	"github.com/grailbio/adlsfs/config"
	"github.com/grailbio/adlsfs/log"
	"v.io/x/lib/vlog"
)

// Shutdown is a function that needs to be called to perform the final
// cleanup.
type Shutdown func()

// Options selects the facilities Start brings up.
type Options struct {
	// Gops starts the gops diagnostics agent.
	Gops bool
	// DebugAddr, if set, is the listen address of an HTTP server that
	// exposes /metrics and /debug/pprof/.
	DebugAddr string
}

var (
	initialized      = false
	mu               = sync.Mutex{}
	shutdownHandlers = []Shutdown{}
	gopsFlag         = flag.Bool("gops", false, "enable the gops listener")
	debugAddrFlag    = flag.String("debug-addr", "", "serve /metrics and /debug/pprof/ on this address")
)

// Init should be called once at the beginning of each adlsfs executable.
// It parses the command line, loads the configuration selected by flags
// (see config.RegisterFlags) and calls Start. Errors are fatal. The
// Shutdown function should be called to perform the final cleanup.
//
// Suggested use:
//
//	flags := config.RegisterFlags(flag.CommandLine, "")
//	cfg, shutdown := grail.Init(flags)
//	defer shutdown()
func Init(flags *config.Flags) (*config.Config, Shutdown) {
	mu.Lock()
	if initialized {
		panic("Init called twice")
	}
	initialized = true
	mu.Unlock()
	flag.CommandLine.Init(os.Args[0], flag.ContinueOnError)
	err := flag.CommandLine.Parse(os.Args[1:])
	if err == flag.ErrHelp {
		os.Exit(0)
	} else if err != nil {
		os.Exit(2)
	}
	cfg, err := flags.Load()
	if err != nil {
		log.Fatal(err)
	}
	_, ok := os.LookupEnv("GOPS")
	shutdown, err := Start(cfg, Options{Gops: ok || *gopsFlag, DebugAddr: *debugAddrFlag})
	if err != nil {
		log.Fatal(err)
	}
	return cfg, shutdown
}

// Start installs the logger cfg describes and starts the facilities opts
// asks for. The returned Shutdown stops them and restores the previous
// logger.
func Start(cfg *config.Config, opts Options) (Shutdown, error) {
	if cfg.Log.Format == "vlog" {
		vlog.ConfigureLibraryLoggerFromFlags()
		prev := log.SetOutputter(VlogOutputter{})
		RegisterShutdownCallback(func() {
			vlog.FlushLog()
			log.SetOutputter(prev)
		})
	} else {
		prev, err := cfg.SetupLogging()
		if err != nil {
			return nil, err
		}
		RegisterShutdownCallback(func() { log.SetOutputter(prev) })
	}
	if opts.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Print(err)
		} else {
			RegisterShutdownCallback(agent.Close)
		}
	}
	if opts.DebugAddr != "" {
		if err := startDebugServer(opts.DebugAddr); err != nil {
			RunShutdownCallbacks()
			return nil, err
		}
	}
	return RunShutdownCallbacks, nil
}

// RegisterShutdownCallback registers a function to be run in the Init shutdown
// callback. The callbacks will run in the reverse order of registration.
func RegisterShutdownCallback(cb Shutdown) {
	mu.Lock()
	shutdownHandlers = append(shutdownHandlers, cb)
	mu.Unlock()
}

// RunShutdownCallbacks run callbacks added in RegisterShutdownCallbacks. This
// function is not for general use.
func RunShutdownCallbacks() {
	mu.Lock()
	cbs := shutdownHandlers
	shutdownHandlers = nil
	mu.Unlock()
	for i := len(cbs) - 1; i >= 0; i-- {
		cbs[i]()
	}
}
