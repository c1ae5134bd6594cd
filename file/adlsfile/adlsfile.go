// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package adlsfile implements the grail file interface for Azure Data Lake
// Storage Gen2 accounts with a hierarchical namespace.
//
// Paths have the form "adls://filesystem/dir/file". "adls://" names the
// account root, whose entries are the account's filesystems (containers).
//
// Besides file.Implementation, *Impl implements the optional file.Directory,
// file.Renamer, file.Copier and file.Metadata interfaces. Mutations that
// span several server round trips (recursive delete, rename of a large
// directory, recursive ACL updates) are not atomic: when a later page
// fails, the pages already applied stay applied.
package adlsfile

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file"
	"github.com/grailbio/adlsfs/retry"
	"github.com/prometheus/client_golang/prometheus"
)

// Scheme is the URL scheme under which the implementation is usually
// registered.
const Scheme = "adls"

// Path separator used by adlsfile.
const pathSeparator = "/"

const (
	// DefaultChunkSize is the size of a single append request.
	DefaultChunkSize = 4 << 20
	// MaxChunkSize is the largest chunk size Options accepts.
	MaxChunkSize = 100 << 20
	// DefaultMaxResults is the page size of listing requests. It is also
	// the largest page the service returns.
	DefaultMaxResults = 5000
	// DefaultMaxRetries is the number of retries after a failed first
	// attempt.
	DefaultMaxRetries = 5
)

// Options defines options that can be given when creating an Impl. The zero
// value selects the defaults.
type Options struct {
	// ChunkSize is the number of bytes buffered by a writer before it
	// issues an append request.
	ChunkSize int
	// MaxResults caps the page size of listing requests.
	MaxResults int
	// MaxRetries is the number of retries after the first attempt of a
	// request. Zero selects DefaultMaxRetries; a negative value disables
	// retries.
	MaxRetries int
	// InitialDelay and MaxDelay bound the exponential backoff between
	// retries. When both are zero, BackoffPolicy is used.
	InitialDelay, MaxDelay time.Duration
	// MaxRetryDuration bounds the time a request may spend retrying. Zero
	// selects the package-level MaxRetryDuration.
	MaxRetryDuration time.Duration
	// RetryCodes replaces the set of HTTP status codes that are retried.
	RetryCodes []int
	// RetryAll retries every non-2xx status.
	RetryAll bool
	// HTTPClient issues the requests. http.DefaultClient is used when nil.
	HTTPClient *http.Client
	// Registerer receives the package's metrics. A private registry is
	// used when nil.
	Registerer prometheus.Registerer
}

// Impl is the ADLS Gen2 file.Implementation. It is safe for concurrent use.
type Impl struct {
	helper     HandleHelper
	opts       Options
	client     *http.Client
	cache      *StatCache
	metrics    *metricSet
	policy     retry.Policy // nil when retries are disabled.
	retryCodes map[int]bool
}

var (
	_ file.Implementation = (*Impl)(nil)
	_ file.Directory      = (*Impl)(nil)
	_ file.Renamer        = (*Impl)(nil)
	_ file.Copier         = (*Impl)(nil)
	_ file.Metadata       = (*Impl)(nil)
)

// NewImplementation creates a new Impl. The helper builds request URLs and
// authorizes requests.
func NewImplementation(helper HandleHelper, opts Options) (*Impl, error) {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkSize < 0 || opts.ChunkSize > MaxChunkSize {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("adlsfile: chunk size %d out of range (1..%d)", opts.ChunkSize, MaxChunkSize))
	}
	if opts.MaxResults <= 0 || opts.MaxResults > DefaultMaxResults {
		opts.MaxResults = DefaultMaxResults
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxRetryDuration <= 0 {
		opts.MaxRetryDuration = MaxRetryDuration
	}
	impl := &Impl{
		helper:  helper,
		opts:    opts,
		client:  opts.HTTPClient,
		cache:   NewStatCache(),
		metrics: newMetricSet(opts.Registerer),
	}
	if impl.client == nil {
		impl.client = http.DefaultClient
	}
	if opts.MaxRetries > 0 {
		backoff := BackoffPolicy
		if opts.InitialDelay > 0 || opts.MaxDelay > 0 {
			initial, max := opts.InitialDelay, opts.MaxDelay
			if initial <= 0 {
				initial = max
			}
			if max < initial {
				max = initial
			}
			backoff = retry.Jitter(retry.Backoff(initial, max, 2), 0.2)
		}
		impl.policy = retry.MaxTries(backoff, opts.MaxRetries)
	}
	codes := opts.RetryCodes
	if len(codes) == 0 {
		codes = defaultRetryCodes
	}
	impl.retryCodes = make(map[int]bool, len(codes))
	for _, c := range codes {
		impl.retryCodes[c] = true
	}
	return impl, nil
}

// String implements a human-readable description.
func (impl *Impl) String() string { return "adls" }

// Cache returns the metadata cache shared by all operations of impl.
func (impl *Impl) Cache() *StatCache { return impl.cache }

// ClearCache drops every cached entry.
func (impl *Impl) ClearCache() { impl.cache.Clear() }

// adlsPath is a parsed logical path.
type adlsPath struct {
	scheme, fs, key string
}

func (p adlsPath) isRoot() bool { return p.fs == "" }

// String returns the canonical form of the path, which is also its cache
// key.
func (p adlsPath) String() string {
	switch {
	case p.fs == "":
		return p.scheme + "://"
	case p.key == "":
		return p.scheme + "://" + p.fs
	}
	return p.scheme + "://" + p.fs + pathSeparator + p.key
}

// parent returns the directory containing p. The parent of the root is the
// root.
func (p adlsPath) parent() adlsPath {
	switch {
	case p.fs == "":
		return p
	case p.key == "":
		return adlsPath{scheme: p.scheme}
	}
	q := p
	if i := strings.LastIndex(p.key, pathSeparator); i >= 0 {
		q.key = p.key[:i]
	} else {
		q.key = ""
	}
	return q
}

func (p adlsPath) base() string {
	switch {
	case p.fs == "":
		return pathSeparator
	case p.key == "":
		return p.fs
	}
	return p.key[strings.LastIndex(p.key, pathSeparator)+1:]
}

// ParseURL parses a path of form "adls://fs/dir/file" and returns
// ("adls", "fs", "dir/file", nil). Leading and trailing slashes of the
// suffix are ignored.
func ParseURL(url string) (scheme, fs, key string, err error) {
	p, err := parse(url)
	return p.scheme, p.fs, p.key, err
}

func parse(url string) (adlsPath, error) {
	scheme, suffix, err := file.ParsePath(url)
	if err != nil {
		return adlsPath{}, errors.E(errors.Invalid, "adlsfile: could not parse", url, err)
	}
	if scheme == "" {
		return adlsPath{}, errors.E(errors.Invalid, "adlsfile: not a URL:", url)
	}
	suffix = strings.Trim(suffix, pathSeparator)
	parts := strings.SplitN(suffix, pathSeparator, 2)
	p := adlsPath{scheme: scheme, fs: parts[0]}
	if len(parts) == 2 {
		p.key = parts[1]
	}
	return p, nil
}

// invalidate drops the cached state of p and of its parent directory.
func (impl *Impl) invalidate(p adlsPath) {
	impl.cache.Invalidate(p.String())
	impl.cache.InvalidateDirectory(p.parent().String())
}

// invalidateCreated is invalidate for a mutation that brings p into
// existence. The service creates missing intermediate directories along
// the way, so ancestors cached as absent are dropped as well.
func (impl *Impl) invalidateCreated(p adlsPath) {
	impl.invalidate(p)
	for q := p.parent(); q.key != ""; q = q.parent() {
		impl.cache.InvalidateAbsent(q.String())
	}
}

func mergeFileOpts(opts []file.Opts) (o file.Opts) {
	switch len(opts) {
	case 0:
	case 1:
		o = opts[0]
	default:
		panic(fmt.Sprintf("More than one options specified: %+v", opts))
	}
	return
}
