// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file"
	"github.com/grailbio/adlsfs/log"
)

// Mkdir implements file.Directory. A path without a key creates a filesystem;
// otherwise a directory is created with the permission bits of mode, when
// any are set. Unless opts.NoStatCheck is set, an existing path fails with
// an error of kind errors.Exists.
func (impl *Impl) Mkdir(ctx context.Context, path string, mode os.FileMode, opts ...file.Opts) error {
	o := mergeFileOpts(opts)
	p, err := parse(path)
	if err != nil {
		return err
	}
	if p.isRoot() {
		return errors.E(errors.Exists, "adlsfile.mkdir", path, "is the account root")
	}
	if !o.NoStatCheck {
		_, err := impl.Stat(ctx, path)
		if err == nil {
			return errors.E(errors.Exists, "adlsfile.mkdir", path)
		}
		if !errors.Is(errors.NotExist, err) {
			return err
		}
	}
	r := impl.newRetrier("mkdir", p.String())
	defer r.done()
	_, err = impl.execute(ctx, r, func() (*http.Request, error) {
		q := url.Values{"resource": {"directory"}}
		if p.key == "" {
			q.Set("resource", "filesystem")
		}
		req, err := http.NewRequest(http.MethodPut, impl.helper.URL(DFS, p.fs, p.key, q), nil)
		if err != nil {
			return nil, err
		}
		if p.key != "" {
			if perm := mode & os.ModePerm; perm != 0 {
				req.Header.Set("x-ms-permissions", fmt.Sprintf("0%03o", uint32(perm)))
			}
			if !o.NoStatCheck {
				req.Header.Set("If-None-Match", "*")
			}
		}
		return req, nil
	}, "adlsfile.mkdir", p.String())
	impl.invalidateCreated(p)
	if errors.Is(errors.Precondition, err) {
		return errors.E(errors.Exists, "adlsfile.mkdir", path, err)
	}
	return err
}

// Rmdir implements file.Directory. It fails with errors.NotEmpty if the directory
// has entries and with errors.NotDir if path is a file.
func (impl *Impl) Rmdir(ctx context.Context, path string) error {
	p, err := impl.dirPath(ctx, "adlsfile.rmdir", path)
	if err != nil {
		return err
	}
	if p.key == "" {
		// Deleting a filesystem is always recursive, so emptiness is
		// checked here.
		e, err := impl.openDir(ctx, p, ListOpts{MaxEntries: 1, NoCache: true})
		if err != nil {
			return err
		}
		_, nonEmpty := e.Next(ctx)
		e.Close()
		if nonEmpty {
			return errors.E(errors.NotEmpty, "adlsfile.rmdir", path)
		}
	}
	err = impl.deletePath(ctx, "rmdir", p, false)
	impl.invalidate(p)
	return err
}

// RmdirRecursive implements file.Directory. The delete is paginated by the
// service; if a later page fails, the entries deleted by earlier pages stay
// deleted.
func (impl *Impl) RmdirRecursive(ctx context.Context, path string) error {
	p, err := impl.dirPath(ctx, "adlsfile.rmdir", path)
	if err != nil {
		return err
	}
	err = impl.deletePath(ctx, "rmdir", p, true)
	impl.cache.InvalidatePrefix(p.String())
	impl.invalidate(p)
	return err
}

// Remove implements file.Implementation interface. Only files and empty
// directories can be removed.
func (impl *Impl) Remove(ctx context.Context, path string) error {
	p, err := parse(path)
	if err != nil {
		return err
	}
	if p.key == "" {
		return errors.E(errors.Invalid, "adlsfile.remove", path, "is a filesystem; use Rmdir")
	}
	err = impl.deletePath(ctx, "remove", p, false)
	impl.invalidate(p)
	return err
}

// dirPath parses path and checks that it names a directory other than the
// account root.
func (impl *Impl) dirPath(ctx context.Context, op, path string) (adlsPath, error) {
	p, err := parse(path)
	if err != nil {
		return p, err
	}
	if p.isRoot() {
		return p, errors.E(errors.NotAllowed, op, path, "cannot remove the account root")
	}
	info, err := impl.Stat(ctx, path)
	if err != nil {
		return p, err
	}
	if !info.IsDir() {
		return p, errors.E(errors.NotDir, op, path)
	}
	return p, nil
}

// deletePath issues a delete of p, following continuation tokens until the
// service reports the delete complete.
func (impl *Impl) deletePath(ctx context.Context, op string, p adlsPath, recursive bool) error {
	r := impl.newRetrier(op, p.String())
	defer r.done()
	var marker string
	for page := 0; ; page++ {
		resp, err := impl.execute(ctx, r, func() (*http.Request, error) {
			q := url.Values{}
			if p.key == "" {
				q.Set("resource", "filesystem")
			} else {
				q.Set("recursive", strconv.FormatBool(recursive))
				if marker != "" {
					q.Set("continuation", marker)
				}
			}
			return http.NewRequest(http.MethodDelete, impl.helper.URL(DFS, p.fs, p.key, q), nil)
		}, "adlsfile."+op, p.String())
		if err != nil {
			if page > 0 {
				log.Error.Printf("adlsfile.%s %s: failed after %d pages; the delete was applied partially: %v", op, p, page, err)
			}
			return err
		}
		if marker = resp.continuation(); marker == "" {
			return nil
		}
		log.Debug.Printf("adlsfile.%s %s: continuing after page %d", op, p, page)
		r.reset()
	}
}
