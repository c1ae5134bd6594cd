// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/grailbio/adlsfs/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("retrycodes", func(fl validator.FieldLevel) bool {
		_, _, err := parseRetryCodes(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate checks the field constraints of c and that it names a usable
// account.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			e := verrs[0]
			return errors.E(errors.Invalid, fmt.Sprintf("config: %s: validation failed on '%s' (value: %v)",
				e.Namespace(), e.Tag(), e.Value()))
		}
		return errors.E(errors.Invalid, "config", err)
	}
	if c.ConnectionString == "" && c.Account == "" && (c.DFSEndpoint == "" || c.BlobEndpoint == "") {
		return errors.E(errors.Invalid, "config: one of account, connection_string or both endpoints must be set")
	}
	if c.AccessKey != "" && c.Account == "" {
		return errors.E(errors.Invalid, "config: access_key needs account")
	}
	if c.TokenURL != "" && (c.ClientID == "" || c.ClientSecret == "") {
		return errors.E(errors.Invalid, "config: token_url needs client_id and client_secret")
	}
	return nil
}

// parseRetryCodes parses "ALL" or a comma-separated list of HTTP status
// codes. An empty string yields no codes, selecting the defaults.
func parseRetryCodes(s string) (codes []int, all bool, err error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "all") {
		return nil, true, nil
	}
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f == "" {
			continue
		}
		code, err := strconv.Atoi(f)
		if err != nil || code < 100 || code > 599 {
			return nil, false, fmt.Errorf("invalid HTTP status %q", f)
		}
		codes = append(codes, code)
	}
	return codes, false, nil
}
