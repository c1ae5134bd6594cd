// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package grail_test

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/grailbio/adlsfs/config"
	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/grail"
	"github.com/grailbio/adlsfs/log"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func load(t *testing.T, sets ...string) *config.Config {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := config.Load("", append([]string{"account=acct"}, sets...)...)
	assert.NoError(t, err)
	return cfg
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.EQ(t, http.StatusOK, resp.StatusCode, url)
	body, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	return string(body)
}

var testCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "grail_test_events_total",
	Help: "Events counted by the grail tests.",
})

func TestDebugServer(t *testing.T) {
	old := log.GetOutputter()
	cfg := load(t, "metrics.enabled=true")
	shutdown, err := grail.Start(cfg, grail.Options{DebugAddr: "127.0.0.1:0"})
	assert.NoError(t, err)
	addr := grail.DebugAddr()
	assert.NotNil(t, addr)

	testCounter.Inc()
	metrics := get(t, fmt.Sprintf("http://%s/metrics", addr))
	expect.True(t, strings.Contains(metrics, "grail_test_events_total"), "%s", metrics)
	index := get(t, fmt.Sprintf("http://%s/debug/pprof/", addr))
	expect.True(t, strings.Contains(index, "goroutine"), "%s", index)

	shutdown()
	expect.Nil(t, grail.DebugAddr())
	_, err = http.Get(fmt.Sprintf("http://%s/metrics", addr))
	expect.NotNil(t, err)
	expect.EQ(t, old, log.GetOutputter())
}

func TestDebugServerListenError(t *testing.T) {
	cfg := load(t)
	_, err := grail.Start(cfg, grail.Options{DebugAddr: "not-an-address"})
	expect.NotNil(t, err)
	expect.Nil(t, grail.DebugAddr())
}

func TestVlogFormat(t *testing.T) {
	old := log.GetOutputter()
	cfg := load(t, "log.format=vlog")
	shutdown, err := grail.Start(cfg, grail.Options{})
	assert.NoError(t, err)
	_, ok := log.GetOutputter().(grail.VlogOutputter)
	expect.True(t, ok)
	log.Printf("logged through vlog")
	shutdown()
	expect.EQ(t, old, log.GetOutputter())

	// The config package leaves vlog to Start.
	_, err = cfg.SetupLogging()
	expect.True(t, errors.Is(errors.NotSupported, err), "err: %v", err)
}

func TestShutdownOrder(t *testing.T) {
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		grail.RegisterShutdownCallback(func() { order = append(order, i) })
	}
	grail.RunShutdownCallbacks()
	expect.EQ(t, []int{2, 1, 0}, order)
	grail.RunShutdownCallbacks()
	expect.EQ(t, 3, len(order))
}
