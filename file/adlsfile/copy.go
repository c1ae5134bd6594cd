// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"context"
	"net/http"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/log"
)

// CopyObject implements file.Copier. The DFS endpoint has no copy
// operation, so the copy is issued to the blob endpoint of the same
// account. The service may complete the copy asynchronously.
func (impl *Impl) CopyObject(ctx context.Context, srcpath, dstpath string) error {
	src, err := parse(srcpath)
	if err != nil {
		return err
	}
	dst, err := parse(dstpath)
	if err != nil {
		return err
	}
	if src.key == "" || dst.key == "" {
		return errors.E(errors.Invalid, "adlsfile.copy", srcpath, dstpath, "only objects can be copied")
	}
	r := impl.newRetrier("copy", src.String())
	defer r.done()
	resp, err := impl.execute(ctx, r, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPut, impl.helper.URL(Blob, dst.fs, dst.key, nil), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-ms-copy-source", impl.helper.URL(Blob, src.fs, src.key, nil))
		return req, nil
	}, "adlsfile.copy", srcpath, dstpath)
	impl.invalidateCreated(dst)
	if err != nil {
		return err
	}
	log.Debug.Printf("adlsfile.copy %s %s: status %s", src, dst, resp.header.Get("x-ms-copy-status"))
	return nil
}
