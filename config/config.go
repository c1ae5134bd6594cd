// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package config loads the settings of an ADLS client from an optional
// configuration file, the environment, and command-line overrides, and
// builds the adlsfile helper and options they describe.
//
// Settings are looked up in this order, highest priority first:
//
//	-set key=value flags
//	environment variables (see the table below)
//	the configuration file (YAML, TOML or JSON, by extension)
//	defaults
//
// Environment variables carry the names used by the Azure tools:
//
//	account            AZURE_STORAGE_ACCOUNT
//	access_key         AZURE_STORAGE_ACCESS_KEY
//	connection_string  AZURE_STORAGE_CONNECTION_STRING
//	sas_token          AZURE_STORAGE_SAS_TOKEN
//	tenant_id          AZURE_TENANT_ID
//	client_id          AZURE_CLIENT_ID
//	client_secret      AZURE_CLIENT_SECRET
//	token_url          AZURE_STORAGE_TOKEN_URL
//	dfs_endpoint       AZURE_STORAGE_DFS_ENDPOINT
//	blob_endpoint      AZURE_STORAGE_BLOB_ENDPOINT
//	chunk_size_mb      VSIAZ_CHUNK_SIZE
//	max_results        AZURE_MAX_RESULTS
//	retry.max_retries  ADLS_MAX_RETRY
//	retry.initial_delay ADLS_RETRY_DELAY
//	retry.codes        ADLS_RETRY_CODES
//
// Durations are either Go duration strings ("1.5s", "10m") or plain
// numbers of seconds.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file/adlsfile"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the complete client configuration.
type Config struct {
	// Account is the storage account name.
	Account string `mapstructure:"account"`
	// AccessKey is the base64 account key.
	AccessKey string `mapstructure:"access_key" validate:"omitempty,base64"`
	// ConnectionString is an Azure storage connection string. It takes
	// precedence over every other credential.
	ConnectionString string `mapstructure:"connection_string"`
	// SASToken is a shared access signature, with or without the leading
	// '?'.
	SASToken string `mapstructure:"sas_token"`

	// TenantID, ClientID and ClientSecret select a service principal.
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// TokenURL is an OAuth2 token endpoint used with ClientID and
	// ClientSecret in place of Azure AD discovery.
	TokenURL string `mapstructure:"token_url" validate:"omitempty,url"`

	// DFSEndpoint and BlobEndpoint override the public-cloud endpoints
	// derived from Account.
	DFSEndpoint  string `mapstructure:"dfs_endpoint" validate:"omitempty,url"`
	BlobEndpoint string `mapstructure:"blob_endpoint" validate:"omitempty,url"`

	// ChunkSizeMB is the size of an append request in MiB.
	ChunkSizeMB int `mapstructure:"chunk_size_mb" validate:"gte=1,lte=100"`
	MaxResults  int `mapstructure:"max_results" validate:"gte=1,lte=5000"`

	Retry   RetryConfig   `mapstructure:"retry"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// RetryConfig controls the retry controller.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt. Zero
	// disables retries.
	MaxRetries   int           `mapstructure:"max_retries" validate:"gte=0"`
	InitialDelay time.Duration `mapstructure:"initial_delay" validate:"gt=0"`
	MaxDelay     time.Duration `mapstructure:"max_delay" validate:"gtefield=InitialDelay"`
	MaxDuration  time.Duration `mapstructure:"max_duration" validate:"gt=0"`
	// Codes is "ALL" or a comma-separated list of HTTP status codes.
	Codes string `mapstructure:"codes" validate:"retrycodes"`
}

// LogConfig selects the log outputter.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=off error info debug OFF ERROR INFO DEBUG"`
	Format string `mapstructure:"format" validate:"oneof=text json golog vlog"`
}

// MetricsConfig controls metric collection.
type MetricsConfig struct {
	// Enabled registers the client's metrics with the default prometheus
	// registry.
	Enabled bool `mapstructure:"enabled"`
}

// envBindings maps configuration keys to environment variables.
var envBindings = map[string]string{
	"account":             "AZURE_STORAGE_ACCOUNT",
	"access_key":          "AZURE_STORAGE_ACCESS_KEY",
	"connection_string":   "AZURE_STORAGE_CONNECTION_STRING",
	"sas_token":           "AZURE_STORAGE_SAS_TOKEN",
	"tenant_id":           "AZURE_TENANT_ID",
	"client_id":           "AZURE_CLIENT_ID",
	"client_secret":       "AZURE_CLIENT_SECRET",
	"token_url":           "AZURE_STORAGE_TOKEN_URL",
	"dfs_endpoint":        "AZURE_STORAGE_DFS_ENDPOINT",
	"blob_endpoint":       "AZURE_STORAGE_BLOB_ENDPOINT",
	"chunk_size_mb":       "VSIAZ_CHUNK_SIZE",
	"max_results":         "AZURE_MAX_RESULTS",
	"retry.max_retries":   "ADLS_MAX_RETRY",
	"retry.initial_delay": "ADLS_RETRY_DELAY",
	"retry.codes":         "ADLS_RETRY_CODES",
}

func setDefaults(v *viper.Viper) {
	for key := range envBindings {
		v.SetDefault(key, "")
	}
	v.SetDefault("chunk_size_mb", adlsfile.DefaultChunkSize>>20)
	v.SetDefault("max_results", adlsfile.DefaultMaxResults)
	v.SetDefault("retry.max_retries", adlsfile.DefaultMaxRetries)
	v.SetDefault("retry.initial_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.max_duration", adlsfile.MaxRetryDuration)
	v.SetDefault("retry.codes", "429,500,502,503,504")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "golog")
	v.SetDefault("metrics.enabled", false)
}

// Load reads the configuration file at path, which may be empty, applies
// the environment and the given "key=value" overrides, and validates the
// result. When path is empty, the default file
// ($XDG_CONFIG_HOME/adlsfs/config.yaml) is read if it exists.
func Load(path string, sets ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.E(errors.Invalid, "config: bind", key, err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(DefaultDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, errors.E(errors.Invalid, "config: read", path, err)
		}
	}
	for _, set := range sets {
		kv := strings.SplitN(set, "=", 2)
		if len(kv) != 2 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("config: malformed override %q: missing '='", set))
		}
		v.Set(strings.TrimSpace(kv[0]), kv[1])
	}
	cfg := new(Config)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       durationHook,
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return nil, errors.E(errors.Invalid, "config: decoder", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, errors.E(errors.Invalid, "config: decode", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// durationHook decodes durations from duration strings and from plain
// numbers of seconds.
func durationHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != durationType || from == durationType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		if secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return time.ParseDuration(strings.TrimSpace(v))
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}

// DefaultDir returns the directory searched for config.yaml when no path
// is given.
func DefaultDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "adlsfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "adlsfs")
}
