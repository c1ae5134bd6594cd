// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package grail

import (
	"net"
	"net/http"
	"net/http/pprof"
	"sync"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	debugMu   sync.Mutex
	debugAddr net.Addr
)

// DebugAddr returns the address the debug server listens on, or nil when
// it is not running.
func DebugAddr() net.Addr {
	debugMu.Lock()
	defer debugMu.Unlock()
	return debugAddr
}

func startDebugServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.E("debug server: listen", addr, err)
	}
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error.Printf("debug server %s: %v", ln.Addr(), err)
		}
	}()
	debugMu.Lock()
	debugAddr = ln.Addr()
	debugMu.Unlock()
	log.Printf("debug server listening on %s", ln.Addr())
	RegisterShutdownCallback(func() {
		if err := srv.Close(); err != nil {
			log.Error.Printf("debug server %s: close: %v", ln.Addr(), err)
		}
		debugMu.Lock()
		debugAddr = nil
		debugMu.Unlock()
	})
	return nil
}
