// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"context"
	"net/http"
	"net/url"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/log"
)

// Rename implements file.Renamer. Renaming a path to itself succeeds without
// contacting the service. Renames of large directories are paginated by
// the service; if a later page fails, the entries moved by earlier pages
// stay moved.
func (impl *Impl) Rename(ctx context.Context, oldpath, newpath string) error {
	src, err := parse(oldpath)
	if err != nil {
		return err
	}
	dst, err := parse(newpath)
	if err != nil {
		return err
	}
	if src == dst {
		return nil
	}
	if src.key == "" || dst.key == "" {
		return errors.E(errors.NotSupported, "adlsfile.rename", oldpath, newpath, "filesystems cannot be renamed")
	}
	if _, err := impl.Stat(ctx, oldpath); err != nil {
		return err
	}
	r := impl.newRetrier("rename", src.String())
	defer r.done()
	source := pathSeparator + escapePath(src.fs) + pathSeparator + escapePath(src.key)
	var marker string
	for page := 0; ; page++ {
		resp, err := impl.execute(ctx, r, func() (*http.Request, error) {
			var q url.Values
			if marker != "" {
				q = url.Values{"continuation": {marker}}
			}
			req, err := http.NewRequest(http.MethodPut, impl.helper.URL(DFS, dst.fs, dst.key, q), nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("x-ms-rename-source", source)
			return req, nil
		}, "adlsfile.rename", oldpath, newpath)
		if err != nil {
			if page > 0 {
				log.Error.Printf("adlsfile.rename %s %s: failed after %d pages; the rename was applied partially: %v", src, dst, page, err)
			}
			impl.invalidateRename(src, dst)
			return err
		}
		if marker = resp.continuation(); marker == "" {
			break
		}
		r.reset()
	}
	impl.invalidateRename(src, dst)
	return nil
}

func (impl *Impl) invalidateRename(src, dst adlsPath) {
	impl.cache.InvalidatePrefix(src.String())
	impl.cache.InvalidatePrefix(dst.String())
	impl.invalidate(src)
	impl.invalidateCreated(dst)
}
