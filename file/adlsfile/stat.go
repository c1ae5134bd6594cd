// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file"
	"github.com/grailbio/adlsfs/log"
)

// adlsInfo implements file.Info.
type adlsInfo struct {
	name    string
	size    int64
	modTime time.Time
	mode    os.FileMode
	etag    string
}

func (i *adlsInfo) Name() string       { return i.name }
func (i *adlsInfo) Size() int64        { return i.size }
func (i *adlsInfo) ModTime() time.Time { return i.modTime }
func (i *adlsInfo) IsDir() bool        { return i.mode.IsDir() }
func (i *adlsInfo) Mode() os.FileMode  { return i.mode }
func (i *adlsInfo) ETag() string       { return i.etag }

// Stat implements file.Implementation interface. Results, including "does
// not exist", are cached until a mutation through impl invalidates them;
// file.Opts.NoCache forces a round trip.
func (impl *Impl) Stat(ctx context.Context, path string, opts ...file.Opts) (file.Info, error) {
	o := mergeFileOpts(opts)
	p, err := parse(path)
	if err != nil {
		return nil, err
	}
	name := p.String()
	if !o.NoCache {
		if st, ok := impl.cacheGet(name); ok {
			log.Debug.Printf("adlsfile.stat %s: cached", name)
			if st.Existence == Absent {
				return nil, errors.E(errors.NotExist, "adlsfile.stat", path)
			}
			return st.info(p.base()), nil
		}
	}
	st, err := impl.stat(ctx, p)
	if errors.Is(errors.NotExist, err) {
		impl.cache.Put(name, CachedStat{Existence: Absent})
	}
	if err != nil {
		return nil, err
	}
	impl.cache.Put(name, st)
	return st.info(p.base()), nil
}

func (impl *Impl) stat(ctx context.Context, p adlsPath) (CachedStat, error) {
	switch {
	case p.isRoot():
		// The root exists if the account can be listed.
		e, err := impl.openDir(ctx, p, ListOpts{MaxEntries: 1, NoCache: true})
		if err != nil {
			return CachedStat{}, err
		}
		e.Close()
		return CachedStat{Existence: Exists, IsDir: true}, nil
	case p.key == "":
		return impl.statFilesystem(ctx, p)
	}
	return impl.statPath(ctx, p)
}

func (impl *Impl) statFilesystem(ctx context.Context, p adlsPath) (CachedStat, error) {
	r := impl.newRetrier("stat", p.String())
	defer r.done()
	resp, err := impl.execute(ctx, r, func() (*http.Request, error) {
		return http.NewRequest(http.MethodHead, impl.helper.URL(DFS, p.fs, "", url.Values{"resource": {"filesystem"}}), nil)
	}, "adlsfile.stat", p.String())
	if err != nil {
		return CachedStat{}, err
	}
	return CachedStat{
		Existence: Exists,
		IsDir:     true,
		ModTime:   parseTime(resp.header.Get("Last-Modified")),
		ETag:      resp.header.Get("ETag"),
	}, nil
}

func (impl *Impl) statPath(ctx context.Context, p adlsPath) (CachedStat, error) {
	r := impl.newRetrier("stat", p.String())
	defer r.done()
	resp, err := impl.execute(ctx, r, func() (*http.Request, error) {
		return http.NewRequest(http.MethodHead, impl.helper.URL(DFS, p.fs, p.key, nil), nil)
	}, "adlsfile.stat", p.String())
	if err != nil {
		return CachedStat{}, err
	}
	st := CachedStat{
		Existence: Exists,
		IsDir:     resp.header.Get("x-ms-resource-type") == "directory",
		ModTime:   parseTime(resp.header.Get("Last-Modified")),
		ETag:      resp.header.Get("ETag"),
		Mode:      parseMode(resp.header.Get("x-ms-permissions")),
	}
	if !st.IsDir {
		st.Size, _ = strconv.ParseInt(resp.header.Get("Content-Length"), 10, 64)
	}
	return st, nil
}

// parseTime parses an HTTP date. It returns the zero time for malformed
// input.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(s)
	if err != nil {
		log.Debug.Printf("adlsfile: malformed time %q: %v", s, err)
		return time.Time{}
	}
	return t
}

// parseMode parses a symbolic permission string such as "rwxr-x---" or
// "rwxr-x--t+" into permission bits.
func parseMode(s string) os.FileMode {
	if len(s) < 9 {
		return 0
	}
	var mode os.FileMode
	for i := 0; i < 9; i++ {
		switch s[i] {
		case '-', 'T':
		default:
			mode |= 1 << uint(8-i)
		}
	}
	if s[8] == 't' || s[8] == 'T' {
		mode |= os.ModeSticky
	}
	return mode
}
