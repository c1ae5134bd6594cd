// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile

import (
	"os"
	"strings"
	"sync"
	"time"
)

// Existence records what is known about whether a path exists.
type Existence int8

const (
	// Unknown means nothing is known about the path.
	Unknown Existence = iota
	// Exists means the path exists; the other CachedStat fields are valid.
	Exists
	// Absent means a lookup found nothing at the path.
	Absent
)

// CachedStat is the cached metadata of one path.
type CachedStat struct {
	Existence Existence
	Size      int64
	IsDir     bool
	// Mode holds the permission and sticky bits only.
	Mode    os.FileMode
	ModTime time.Time
	ETag    string
}

func (s CachedStat) info(name string) *adlsInfo {
	mode := s.Mode & (os.ModePerm | os.ModeSticky)
	if s.IsDir {
		mode |= os.ModeDir
	}
	return &adlsInfo{name: name, size: s.Size, modTime: s.ModTime, mode: mode, etag: s.ETag}
}

// StatCache maps canonical paths ("adls://fs/dir/file") to their cached
// metadata. Entries have no TTL: they live until a mutation invalidates them
// or the cache is cleared. All methods are safe for concurrent use; each
// call is atomic with respect to the others.
type StatCache struct {
	mu sync.Mutex
	m  map[string]CachedStat
}

// NewStatCache returns an empty cache.
func NewStatCache() *StatCache {
	return &StatCache{m: make(map[string]CachedStat)}
}

// Get returns the entry for path. Ok is false on a miss.
func (c *StatCache) Get(path string) (st CachedStat, ok bool) {
	c.mu.Lock()
	st, ok = c.m[path]
	c.mu.Unlock()
	return
}

// Put replaces the entry for path.
func (c *StatCache) Put(path string, st CachedStat) {
	c.mu.Lock()
	c.m[path] = st
	c.mu.Unlock()
}

// Invalidate drops the entry for path.
func (c *StatCache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.m, path)
	c.mu.Unlock()
}

// InvalidateAbsent drops the entry for path if it records the path as
// absent.
func (c *StatCache) InvalidateAbsent(path string) {
	c.mu.Lock()
	if st, ok := c.m[path]; ok && st.Existence == Absent {
		delete(c.m, path)
	}
	c.mu.Unlock()
}

// InvalidateDirectory drops what the cache knows about the contents of dir
// as a whole. The cache holds no listings, so this is the entry of dir
// itself, whose size and modification time follow its contents. Entries of
// individual children stay valid.
func (c *StatCache) InvalidateDirectory(dir string) {
	c.Invalidate(dir)
}

// InvalidatePrefix drops the entry for dir and for every path below it.
func (c *StatCache) InvalidatePrefix(dir string) {
	prefix := dir
	if !strings.HasSuffix(prefix, "://") {
		prefix += pathSeparator
	}
	c.mu.Lock()
	delete(c.m, dir)
	for path := range c.m {
		if strings.HasPrefix(path, prefix) {
			delete(c.m, path)
		}
	}
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *StatCache) Clear() {
	c.mu.Lock()
	c.m = make(map[string]CachedStat)
	c.mu.Unlock()
}

// Len returns the number of entries.
func (c *StatCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// cacheGet is Get that records a hit or miss.
func (impl *Impl) cacheGet(path string) (CachedStat, bool) {
	st, ok := impl.cache.Get(path)
	if ok && st.Existence != Unknown {
		impl.metrics.cacheHit()
		return st, true
	}
	impl.metrics.cacheMiss()
	return CachedStat{}, false
}
