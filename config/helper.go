// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file/adlsfile"
	"github.com/grailbio/adlsfs/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2/clientcredentials"
)

// Endpoints returns the account endpoints, honoring the endpoint
// overrides.
func (c *Config) Endpoints() adlsfile.Endpoints {
	ep := adlsfile.DefaultEndpoints(c.Account)
	if c.BlobEndpoint != "" {
		ep.Blob = strings.TrimSuffix(c.BlobEndpoint, "/")
		ep.DFS = strings.Replace(ep.Blob, ".blob.", ".dfs.", 1)
	}
	if c.DFSEndpoint != "" {
		ep.DFS = strings.TrimSuffix(c.DFSEndpoint, "/")
	}
	return ep
}

// Helper builds the request helper for the configured credentials. The
// first configured of these wins: connection string, account key, SAS
// token, service principal through a token URL, service principal through
// Azure AD, and finally the azidentity default chain (environment,
// workload and managed identity, Azure CLI).
func (c *Config) Helper(ctx context.Context) (adlsfile.HandleHelper, error) {
	switch {
	case c.ConnectionString != "":
		cs, err := adlsfile.ParseConnectionString(c.ConnectionString)
		if err != nil {
			return nil, err
		}
		if c.DFSEndpoint != "" {
			cs.DFSEndpoint = strings.TrimSuffix(c.DFSEndpoint, "/")
		}
		return cs.Helper()
	case c.AccessKey != "":
		return adlsfile.NewSharedKeyHelper(c.Endpoints(), c.Account, c.AccessKey)
	case c.SASToken != "":
		return adlsfile.NewSASHelper(c.Endpoints(), c.SASToken)
	case c.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			TokenURL:     c.TokenURL,
			Scopes:       []string{"https://storage.azure.com/.default"},
		}
		return adlsfile.NewTokenSourceHelper(c.Endpoints(), cc.TokenSource(ctx)), nil
	case c.TenantID != "" && c.ClientID != "" && c.ClientSecret != "":
		cred, err := azidentity.NewClientSecretCredential(c.TenantID, c.ClientID, c.ClientSecret, nil)
		if err != nil {
			return nil, errors.E(errors.Invalid, "config: client secret credential", err)
		}
		return adlsfile.NewTokenCredentialHelper(c.Endpoints(), cred), nil
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, errors.E(errors.NotAllowed, "config: no credentials configured", err)
	}
	log.Debug.Printf("config: using the default Azure credential chain for account %s", c.Account)
	return adlsfile.NewTokenCredentialHelper(c.Endpoints(), cred), nil
}

// Options builds adlsfile options. Client may be nil. Metrics are
// registered with prometheus.DefaultRegisterer when enabled, and with a
// private registry otherwise.
func (c *Config) Options(client *http.Client) adlsfile.Options {
	opts := adlsfile.Options{
		ChunkSize:        c.ChunkSizeMB << 20,
		MaxResults:       c.MaxResults,
		MaxRetries:       c.Retry.MaxRetries,
		InitialDelay:     c.Retry.InitialDelay,
		MaxDelay:         c.Retry.MaxDelay,
		MaxRetryDuration: c.Retry.MaxDuration,
		HTTPClient:       client,
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = -1
	}
	// Validate has checked the codes.
	opts.RetryCodes, opts.RetryAll, _ = parseRetryCodes(c.Retry.Codes)
	if c.Metrics.Enabled {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	return opts
}

// Implementation builds an adlsfile implementation from c.
func (c *Config) Implementation(ctx context.Context, client *http.Client) (*adlsfile.Impl, error) {
	helper, err := c.Helper(ctx)
	if err != nil {
		return nil, err
	}
	return adlsfile.NewImplementation(helper, c.Options(client))
}

// SetupLogging installs the configured log outputter and level. It returns
// the outputter that was replaced. The vlog format is left to the process
// bootstrap, which owns the vlog flags.
func (c *Config) SetupLogging() (log.Outputter, error) {
	level, err := log.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		return nil, errors.E(errors.Invalid, "config: log level", err)
	}
	switch c.Log.Format {
	case "vlog":
		return nil, errors.E(errors.NotSupported, "config: the vlog format is installed by grail.Init")
	case "golog":
		log.SetLevel(level)
		return log.GetOutputter(), nil
	}
	l, err := log.NewLogrusLogger(level, c.Log.Format)
	if err != nil {
		return nil, errors.E(errors.Invalid, "config: log format", err)
	}
	return log.SetOutputter(log.NewLogrusOutputter(l)), nil
}
