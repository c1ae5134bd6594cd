// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file"
	"github.com/grailbio/adlsfs/log"
)

// DirEntry is one entry produced by an Enumerator.
type DirEntry struct {
	// Name is relative to the listed directory. Entries of a recursive
	// listing of the account root are qualified by their filesystem.
	Name    string
	Size    int64
	IsDir   bool
	Mode    os.FileMode // Type and permission bits.
	ModTime time.Time
	ETag    string
	// Attrs holds the remaining listing attributes, such as "owner" and
	// "group".
	Attrs map[string]string
}

// ListOpts configures an Enumerator.
type ListOpts struct {
	// Recursive lists the whole tree below the directory. A recursive listing
	// of the account root walks every filesystem.
	Recursive bool
	// MaxEntries stops the enumeration after that many entries. Zero means
	// no limit.
	MaxEntries int
	// Prefix skips entries whose names do not start with it. Skipped entries
	// do not count toward MaxEntries.
	Prefix string
	// Pattern skips entries whose names do not match the glob. '/' is a
	// separator, so "*" does not cross directories but "**" does.
	Pattern string
	// NoCache stops the enumerator from populating the metadata cache.
	NoCache bool
}

// pageState is the pagination state of one listing endpoint.
type pageState struct {
	marker  string // continuation token; "" when no more pages.
	entries []DirEntry
	pos     int
}

func (s *pageState) buffered() bool { return s.pos < len(s.entries) }

// Enumerator is a lazy sequence of directory entries. It chains two
// listing endpoints: the filesystems of the account and the paths within
// one filesystem. Entries are produced in page order, and in a recursive
// walk of the root each filesystem is followed by its contents. Not thread
// safe.
type Enumerator struct {
	impl    *Impl
	dir     adlsPath
	opts    ListOpts
	pattern glob.Glob
	// walkRoot is set for a recursive listing of the account root.
	walkRoot bool
	// fs is the filesystem whose paths are listed; "" while reading the
	// filesystem list.
	fs       string
	fsPage   pageState
	pathPage pageState
	n        int // entries produced
	err      error
}

// OpenDir opens an enumeration of path. The first page is fetched before
// OpenDir returns, so a missing directory is reported here as an error of
// kind errors.NotExist.
func (impl *Impl) OpenDir(ctx context.Context, path string, opts ListOpts) (*Enumerator, error) {
	p, err := parse(path)
	if err != nil {
		return nil, err
	}
	return impl.openDir(ctx, p, opts)
}

func (impl *Impl) openDir(ctx context.Context, p adlsPath, opts ListOpts) (*Enumerator, error) {
	e := &Enumerator{
		impl:     impl,
		dir:      p,
		opts:     opts,
		walkRoot: p.isRoot() && opts.Recursive,
		fs:       p.fs,
	}
	if opts.Pattern != "" {
		g, err := glob.Compile(opts.Pattern, '/')
		if err != nil {
			return nil, errors.E(errors.Invalid, "adlsfile.list: bad pattern", opts.Pattern, err)
		}
		e.pattern = g
	}
	if p.isRoot() {
		e.fetchFilesystems(ctx)
	} else {
		e.fetchPaths(ctx)
	}
	if e.err != nil {
		return nil, e.err
	}
	return e, nil
}

// Next returns the next entry. It returns false at the end of the sequence
// or on error; Err tells them apart.
func (e *Enumerator) Next(ctx context.Context) (DirEntry, bool) {
	for {
		if e.err != nil || (e.opts.MaxEntries > 0 && e.n >= e.opts.MaxEntries) {
			return DirEntry{}, false
		}
		if e.fs != "" {
			if !e.pathPage.buffered() {
				switch {
				case e.pathPage.marker != "":
					e.fetchPaths(ctx)
				case e.walkRoot:
					// Done with this filesystem; resume the filesystem list.
					e.fs = ""
					e.pathPage = pageState{}
				default:
					return DirEntry{}, false
				}
				continue
			}
			ent := e.pathPage.entries[e.pathPage.pos]
			e.pathPage.pos++
			if !e.keep(ent.Name) {
				continue
			}
			e.n++
			return ent, true
		}
		if !e.fsPage.buffered() {
			if e.fsPage.marker == "" {
				return DirEntry{}, false
			}
			e.fetchFilesystems(ctx)
			continue
		}
		ent := e.fsPage.entries[e.fsPage.pos]
		e.fsPage.pos++
		if e.walkRoot {
			e.fs = ent.Name
			e.pathPage = pageState{}
			e.fetchPaths(ctx)
			if e.err != nil {
				return DirEntry{}, false
			}
		}
		if !e.keep(ent.Name) {
			continue
		}
		e.n++
		return ent, true
	}
}

// Err returns the error that ended the enumeration, if any.
func (e *Enumerator) Err() error { return e.err }

// Close releases the buffered pages.
func (e *Enumerator) Close() {
	e.fsPage = pageState{}
	e.pathPage = pageState{}
	if e.err == nil {
		e.err = errors.E(errors.Canceled, "adlsfile.list: enumerator closed")
	}
}

func (e *Enumerator) keep(name string) bool {
	if e.opts.Prefix != "" && !strings.HasPrefix(name, e.opts.Prefix) {
		return false
	}
	return e.pattern == nil || e.pattern.Match(name)
}

// pageSize returns the maxresults parameter of the next request.
func (e *Enumerator) pageSize() int {
	n := e.impl.opts.MaxResults
	if e.opts.MaxEntries > 0 && e.opts.MaxEntries < n && e.opts.Prefix == "" && e.pattern == nil {
		n = e.opts.MaxEntries
	}
	return n
}

// jsonString accepts both JSON strings and bare scalars; the service sends
// booleans and numbers either way depending on the API version.
type jsonString string

func (s *jsonString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = jsonString(v)
		return nil
	}
	*s = jsonString(b)
	return nil
}

func (e *Enumerator) fetch(ctx context.Context, fs string, query url.Values, marker string, out interface{}) (string, bool) {
	path := e.dir.String()
	r := e.impl.newRetrier("list", path)
	defer r.done()
	query.Set("maxresults", strconv.Itoa(e.pageSize()))
	if marker != "" {
		query.Set("continuation", marker)
	}
	resp, err := e.impl.execute(ctx, r, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, e.impl.helper.URL(DFS, fs, "", query), nil)
	}, "adlsfile.list", path)
	if err != nil {
		e.err = err
		return "", false
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		e.err = errors.E(errors.Remote, "adlsfile.list", path, "malformed listing", err)
		return "", false
	}
	return resp.continuation(), true
}

func (e *Enumerator) fetchFilesystems(ctx context.Context) {
	var page struct {
		Filesystems []struct {
			Name         string `json:"name"`
			LastModified string `json:"lastModified"`
			ETag         string `json:"etag"`
		} `json:"filesystems"`
	}
	marker, ok := e.fetch(ctx, "", url.Values{"resource": {"account"}}, e.fsPage.marker, &page)
	if !ok {
		return
	}
	log.Debug.Printf("adlsfile.list %s: %d filesystems, more=%v", e.dir, len(page.Filesystems), marker != "")
	entries := make([]DirEntry, 0, len(page.Filesystems))
	for _, fs := range page.Filesystems {
		ent := DirEntry{
			Name:    fs.Name,
			IsDir:   true,
			Mode:    os.ModeDir,
			ModTime: parseTime(fs.LastModified),
			ETag:    fs.ETag,
		}
		entries = append(entries, ent)
		e.cacheEntry(adlsPath{scheme: e.dir.scheme, fs: fs.Name}, ent)
	}
	e.fsPage = pageState{marker: marker, entries: entries}
}

func (e *Enumerator) fetchPaths(ctx context.Context) {
	var page struct {
		Paths []struct {
			Name          string     `json:"name"`
			IsDirectory   jsonString `json:"isDirectory"`
			ContentLength jsonString `json:"contentLength"`
			LastModified  string     `json:"lastModified"`
			ETag          string     `json:"etag"`
			Permissions   string     `json:"permissions"`
			Owner         string     `json:"owner"`
			Group         string     `json:"group"`
		} `json:"paths"`
	}
	query := url.Values{
		"resource":  {"filesystem"},
		"recursive": {strconv.FormatBool(e.opts.Recursive)},
	}
	// Only the listed filesystem itself carries the directory key; the
	// filesystems of a root walk are listed from their top.
	if !e.walkRoot && e.dir.key != "" {
		query.Set("directory", e.dir.key)
	}
	marker, ok := e.fetch(ctx, e.fs, query, e.pathPage.marker, &page)
	if !ok {
		return
	}
	log.Debug.Printf("adlsfile.list %s/%s: %d paths, more=%v", e.dir, e.fs, len(page.Paths), marker != "")
	entries := make([]DirEntry, 0, len(page.Paths))
	for _, p := range page.Paths {
		ent := DirEntry{
			Name:    p.Name,
			IsDir:   p.IsDirectory == "true",
			ModTime: parseTime(p.LastModified),
			ETag:    p.ETag,
			Mode:    parseMode(p.Permissions),
		}
		if ent.IsDir {
			ent.Mode |= os.ModeDir
		} else {
			ent.Size, _ = strconv.ParseInt(string(p.ContentLength), 10, 64)
		}
		if p.Owner != "" || p.Group != "" {
			ent.Attrs = map[string]string{"owner": p.Owner, "group": p.Group}
		}
		e.cacheEntry(adlsPath{scheme: e.dir.scheme, fs: e.fs, key: p.Name}, ent)
		switch {
		case e.walkRoot:
			ent.Name = e.fs + pathSeparator + ent.Name
		case e.dir.key != "":
			ent.Name = strings.TrimPrefix(ent.Name, e.dir.key+pathSeparator)
		}
		entries = append(entries, ent)
	}
	e.pathPage = pageState{marker: marker, entries: entries}
}

func (e *Enumerator) cacheEntry(p adlsPath, ent DirEntry) {
	if e.opts.NoCache {
		return
	}
	e.impl.cache.Put(p.String(), CachedStat{
		Existence: Exists,
		Size:      ent.Size,
		IsDir:     ent.IsDir,
		Mode:      ent.Mode & (os.ModePerm | os.ModeSticky),
		ModTime:   ent.ModTime,
		ETag:      ent.ETag,
	})
}

// List implements file.Implementation interface.
func (impl *Impl) List(ctx context.Context, dir string, recursive bool) file.Lister {
	e, err := impl.OpenDir(ctx, dir, ListOpts{Recursive: recursive})
	prefix := dir
	if !strings.HasSuffix(dir, "://") {
		prefix = strings.TrimSuffix(dir, pathSeparator)
	}
	return &lister{ctx: ctx, e: e, err: err, prefix: prefix}
}

// lister adapts an Enumerator to file.Lister.
type lister struct {
	ctx    context.Context
	e      *Enumerator
	prefix string
	cur    DirEntry
	err    error
}

func (l *lister) Scan() bool {
	if l.err != nil {
		return false
	}
	ent, ok := l.e.Next(l.ctx)
	if !ok {
		l.err = l.e.Err()
		return false
	}
	l.cur = ent
	return true
}

func (l *lister) Err() error { return l.err }

func (l *lister) Path() string {
	if strings.HasSuffix(l.prefix, "://") {
		return l.prefix + l.cur.Name
	}
	return l.prefix + pathSeparator + l.cur.Name
}

func (l *lister) IsDir() bool { return l.cur.IsDir }

func (l *lister) Info() file.Info {
	return &adlsInfo{
		name:    l.cur.Name[strings.LastIndex(l.cur.Name, pathSeparator)+1:],
		size:    l.cur.Size,
		modTime: l.cur.ModTime,
		mode:    l.cur.Mode,
		etag:    l.cur.ETag,
	}
}
