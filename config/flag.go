// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

type listFlag struct {
	values    *[]string
	needEqual bool
}

func (l *listFlag) String() string {
	if l.values == nil {
		return ""
	}
	return strings.Join(*l.values, ",")
}

func (l *listFlag) Set(value string) error {
	if l.needEqual && !strings.Contains(value, "=") {
		return fmt.Errorf("invalid flag value %s: missing '='", value)
	}
	*l.values = append(*l.values, value)
	return nil
}

// Flags holds the values of the flags registered by RegisterFlags.
type Flags struct {
	path string
	sets []string
	dump bool
}

// RegisterFlags registers a set of flags on the provided FlagSet. These
// flags configure the Config returned by Load. The flags are:
//
//	-config path
//		Reads the configuration file at the given path. Without it,
//		config.yaml in DefaultDir is read if it exists.
//
//	-set key=value
//		Sets the value of the named key, e.g. -set retry.max_retries=2.
//		This flag may be repeated.
//
//	-configdump
//		Writes the loaded configuration to standard error and exits.
//
// The flag names are prefixed with the provided prefix.
func RegisterFlags(fs *flag.FlagSet, prefix string) *Flags {
	f := new(Flags)
	fs.StringVar(&f.path, prefix+"config", "", "read the configuration file at the provided path")
	fs.Var(&listFlag{&f.sets, true}, prefix+"set", "set a configuration key; may be repeated")
	fs.BoolVar(&f.dump, prefix+"configdump", false, "dump the configuration to stderr and exit")
	return f
}

// Load loads the configuration as directed by the parsed flags.
func (f *Flags) Load() (*Config, error) {
	cfg, err := Load(f.path, f.sets...)
	if err != nil {
		return nil, err
	}
	if f.dump {
		fmt.Fprintln(os.Stderr, cfg.String())
		os.Exit(1)
	}
	return cfg, nil
}

// String renders c with its secrets elided.
func (c *Config) String() string {
	redact := func(s string) string {
		if s == "" {
			return ""
		}
		return "<redacted>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "account: %s\n", c.Account)
	fmt.Fprintf(&b, "access_key: %s\n", redact(c.AccessKey))
	fmt.Fprintf(&b, "connection_string: %s\n", redact(c.ConnectionString))
	fmt.Fprintf(&b, "sas_token: %s\n", redact(c.SASToken))
	fmt.Fprintf(&b, "tenant_id: %s\nclient_id: %s\n", c.TenantID, c.ClientID)
	fmt.Fprintf(&b, "client_secret: %s\n", redact(c.ClientSecret))
	fmt.Fprintf(&b, "token_url: %s\n", c.TokenURL)
	ep := c.Endpoints()
	fmt.Fprintf(&b, "dfs_endpoint: %s\nblob_endpoint: %s\n", ep.DFS, ep.Blob)
	fmt.Fprintf(&b, "chunk_size_mb: %d\nmax_results: %d\n", c.ChunkSizeMB, c.MaxResults)
	fmt.Fprintf(&b, "retry:\n  max_retries: %d\n  initial_delay: %s\n  max_delay: %s\n  max_duration: %s\n  codes: %s\n",
		c.Retry.MaxRetries, c.Retry.InitialDelay, c.Retry.MaxDelay, c.Retry.MaxDuration, c.Retry.Codes)
	fmt.Fprintf(&b, "log:\n  level: %s\n  format: %s\n", c.Log.Level, c.Log.Format)
	fmt.Fprintf(&b, "metrics:\n  enabled: %v", c.Metrics.Enabled)
	return b.String()
}
