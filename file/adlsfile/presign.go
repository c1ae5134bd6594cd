// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"context"
	"net/http"
	"time"

	"github.com/grailbio/adlsfs/errors"
)

// GetSignedURL returns a blob-endpoint URL of path that carries its own
// authorization. It needs a helper that can sign, such as SharedKeyHelper.
func (impl *Impl) GetSignedURL(ctx context.Context, path string, opts SignOpts) (string, error) {
	p, err := parse(path)
	if err != nil {
		return "", err
	}
	url, err := impl.helper.SignURL(p.fs, p.key, opts)
	if err != nil {
		return "", errors.E("adlsfile.sign", path, err)
	}
	return url, nil
}

// Presign implements file.Implementation interface.
func (impl *Impl) Presign(ctx context.Context, path, method string, expiry time.Duration) (string, error) {
	var perms string
	switch method {
	case http.MethodGet:
		perms = "r"
	case http.MethodPut:
		perms = "cw"
	case http.MethodDelete:
		perms = "d"
	default:
		return "", errors.E(errors.NotSupported, "adlsfile.presign: unsupported http method", method)
	}
	return impl.GetSignedURL(ctx, path, SignOpts{Expiry: expiry, Permissions: perms})
}
