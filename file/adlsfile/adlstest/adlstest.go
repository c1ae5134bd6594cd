// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package adlstest implements an in-memory fake of the Azure Data Lake
// Storage Gen2 REST service for tests. One Server serves both the DFS
// endpoint (under /dfs) and the blob endpoint (under /blob) of a single
// account.
//
// The fake covers the requests issued by adlsfile: filesystem and path
// create/delete/list, rename, append/flush, range reads, properties and
// access control, and blob copies. Multi-page operations (recursive
// delete, rename and recursive ACL updates) are split into pages of
// OpsPageSize entries, so continuation handling can be exercised.
package adlstest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Fault makes matching requests fail. Zero fields match everything.
type Fault struct {
	Method string
	// Path is a substring of the request path, e.g. "/dfs/fs/dir".
	Path string
	// Query is a substring of the raw query, e.g. "action=flush".
	Query string
	// Status and Code are the injected status and x-ms-error-code.
	Status int
	Code   string
	// Body replaces the default JSON error body.
	Body string
	// Header is added to the response.
	Header http.Header
	// Times is the number of requests to fail; zero or less fails all
	// matching requests.
	Times int
}

func (f *Fault) match(r *http.Request) bool {
	return (f.Method == "" || f.Method == r.Method) &&
		strings.Contains(r.URL.Path, f.Path) &&
		strings.Contains(r.URL.RawQuery, f.Query)
}

// Request is a logged request.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
}

type node struct {
	dir     bool
	data    []byte // flushed contents.
	pending []byte // appended, not yet flushed.
	modTime time.Time
	etag    string
	perms   string
	owner   string
	group   string
	acl     string
	props   map[string]string
}

type filesystem struct {
	modTime time.Time
	etag    string
	nodes   map[string]*node
}

// Server is a fake storage account. Its exported fields may be changed
// between requests; the methods are safe for concurrent use.
type Server struct {
	// DFS and Blob are the endpoint base URLs, without a trailing slash.
	DFS, Blob string
	// PageSize caps the number of entries of a listing page. Zero means
	// 5000.
	PageSize int
	// OpsPageSize caps the number of paths a recursive delete, rename or
	// ACL update handles per request. Zero means no limit.
	OpsPageSize int
	// RequireAuth rejects requests that carry neither an Authorization
	// header nor a "sig" query parameter.
	RequireAuth bool

	srv *httptest.Server

	mu      sync.Mutex
	fss     map[string]*filesystem
	faults  []*Fault
	log     []Request
	nextID  int
	etagSeq int64
}

// NewServer starts a server with no filesystems.
func NewServer() *Server {
	s := &Server{fss: make(map[string]*filesystem)}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	s.DFS = s.srv.URL + "/dfs"
	s.Blob = s.srv.URL + "/blob"
	return s
}

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }

// Client returns an HTTP client for the server.
func (s *Server) Client() *http.Client { return s.srv.Client() }

// AddFault installs f. Faults are matched in the order they were added.
func (s *Server) AddFault(f Fault) {
	s.mu.Lock()
	s.faults = append(s.faults, &f)
	s.mu.Unlock()
}

// ClearFaults removes every fault.
func (s *Server) ClearFaults() {
	s.mu.Lock()
	s.faults = nil
	s.mu.Unlock()
}

// Requests returns the requests served so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.log...)
}

// ResetRequests clears the request log.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	s.log = nil
	s.mu.Unlock()
}

// Count returns the number of logged requests with the given method (any
// if empty) whose "path?query" contains substr.
func (s *Server) Count(method, substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.log {
		if method != "" && r.Method != method {
			continue
		}
		if strings.Contains(r.Path+"?"+r.Query.Encode(), substr) {
			n++
		}
	}
	return n
}

// CreateFilesystem creates an empty filesystem, if it does not exist.
func (s *Server) CreateFilesystem(name string) {
	s.mu.Lock()
	s.createFS(name)
	s.mu.Unlock()
}

// Mkdir creates directory "fs/dir/..." and its parents, including the
// filesystem.
func (s *Server) Mkdir(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fsName, key := split(path)
	fs := s.createFS(fsName)
	if key != "" {
		s.mkdirAll(fs, key)
	}
}

// PutFile creates "fs/dir/file" with flushed contents data, creating the
// filesystem and parent directories as needed.
func (s *Server) PutFile(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fsName, key := split(path)
	fs := s.createFS(fsName)
	s.mkdirAll(fs, parentKey(key))
	n := s.newNode(false)
	n.data = append([]byte(nil), data...)
	fs.nodes[key] = n
}

// Data returns the flushed contents of file "fs/dir/file".
func (s *Server) Data(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.lookup(path)
	if n == nil || n.dir {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// Exists tells whether "fs" or "fs/path" exists.
func (s *Server) Exists(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	fsName, key := split(path)
	if key == "" {
		return s.fss[fsName] != nil
	}
	return s.lookup(path) != nil
}

// ACL returns the access control list of "fs/path".
func (s *Server) ACL(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.lookup(path); n != nil {
		return n.acl
	}
	return ""
}

func (s *Server) lookup(path string) *node {
	fsName, key := split(path)
	fs := s.fss[fsName]
	if fs == nil {
		return nil
	}
	return fs.nodes[key]
}

func split(path string) (fs, key string) {
	path = strings.Trim(path, "/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 2 {
		return parts[0], strings.TrimSuffix(parts[1], "/")
	}
	return parts[0], ""
}

func parentKey(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return ""
}

func now() time.Time { return time.Now().UTC().Truncate(time.Second) }

func (s *Server) newETag() string {
	s.etagSeq++
	return fmt.Sprintf("\"0x8D%013X\"", s.etagSeq)
}

func (s *Server) newNode(dir bool) *node {
	n := &node{dir: dir, modTime: now(), etag: s.newETag(), owner: "$superuser", group: "$superuser"}
	if dir {
		n.perms = "rwxr-x---"
	} else {
		n.perms = "rw-r-----"
	}
	return n
}

func (s *Server) touch(n *node) {
	n.modTime = now()
	n.etag = s.newETag()
}

func (s *Server) createFS(name string) *filesystem {
	fs := s.fss[name]
	if fs == nil {
		fs = &filesystem{modTime: now(), etag: s.newETag(), nodes: make(map[string]*node)}
		s.fss[name] = fs
	}
	return fs
}

// mkdirAll creates key and its parents as directories. It returns false if
// a file is in the way.
func (s *Server) mkdirAll(fs *filesystem, key string) bool {
	if key == "" {
		return true
	}
	if !s.mkdirAll(fs, parentKey(key)) {
		return false
	}
	if n, ok := fs.nodes[key]; ok {
		return n.dir
	}
	fs.nodes[key] = s.newNode(true)
	return true
}

// descendants returns the keys below key, sorted.
func descendants(fs *filesystem, key string) []string {
	var keys []string
	for k := range fs.nodes {
		if key == "" || strings.HasPrefix(k, key+"/") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Header: r.Header.Clone()})
	s.nextID++
	w.Header().Set("x-ms-request-id", fmt.Sprintf("req-%d", s.nextID))
	w.Header().Set("x-ms-version", r.Header.Get("x-ms-version"))
	w.Header().Set("Server", "adlstest")

	if s.RequireAuth && r.Header.Get("Authorization") == "" && r.URL.Query().Get("sig") == "" {
		s.fail(w, r, http.StatusForbidden, "AuthenticationFailed", "no credentials")
		return
	}
	for i, f := range s.faults {
		if !f.match(r) {
			continue
		}
		if f.Times > 0 {
			if f.Times--; f.Times == 0 {
				s.faults = append(s.faults[:i:i], s.faults[i+1:]...)
			}
		}
		for k, v := range f.Header {
			w.Header()[k] = v
		}
		if f.Body != "" {
			if f.Code != "" {
				w.Header().Set("x-ms-error-code", f.Code)
			}
			w.WriteHeader(f.Status)
			io.WriteString(w, f.Body) // nolint: errcheck
			return
		}
		s.fail(w, r, f.Status, f.Code, "injected fault")
		return
	}
	switch {
	case strings.HasPrefix(r.URL.Path, "/dfs"):
		s.serveDFS(w, r, strings.TrimPrefix(r.URL.Path, "/dfs"))
	case strings.HasPrefix(r.URL.Path, "/blob"):
		s.serveBlob(w, r, strings.TrimPrefix(r.URL.Path, "/blob"))
	default:
		s.fail(w, r, http.StatusNotFound, "InvalidUri", r.URL.Path)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	if code != "" {
		w.Header().Set("x-ms-error-code", code)
	}
	if r.Method == http.MethodHead || status < 400 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	body.Error.Code, body.Error.Message = code, msg
	json.NewEncoder(w).Encode(body) // nolint: errcheck
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) // nolint: errcheck
}

func (s *Server) serveDFS(w http.ResponseWriter, r *http.Request, path string) {
	q := r.URL.Query()
	fsName, key := split(path)
	if fsName == "" {
		if r.Method == http.MethodGet && q.Get("resource") == "account" {
			s.listFilesystems(w, r)
			return
		}
		s.fail(w, r, http.StatusBadRequest, "InvalidQueryParameterValue", "unsupported account request")
		return
	}
	fs := s.fss[fsName]
	if key == "" {
		switch r.Method {
		case http.MethodPut:
			if fs != nil {
				s.fail(w, r, http.StatusConflict, "FilesystemAlreadyExists", fsName)
				return
			}
			fs = s.createFS(fsName)
			w.Header().Set("ETag", fs.etag)
			w.WriteHeader(http.StatusCreated)
			return
		}
		if fs == nil {
			s.fail(w, r, http.StatusNotFound, "FilesystemNotFound", fsName)
			return
		}
		switch r.Method {
		case http.MethodHead:
			w.Header().Set("Last-Modified", fs.modTime.Format(http.TimeFormat))
			w.Header().Set("ETag", fs.etag)
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			delete(s.fss, fsName)
			w.WriteHeader(http.StatusAccepted)
		case http.MethodGet:
			s.listPaths(w, r, fs)
		default:
			s.fail(w, r, http.StatusBadRequest, "UnsupportedHttpVerb", r.Method)
		}
		return
	}
	if fs == nil {
		s.fail(w, r, http.StatusNotFound, "FilesystemNotFound", fsName)
		return
	}
	switch r.Method {
	case http.MethodPut:
		switch {
		case r.Header.Get("x-ms-rename-source") != "":
			s.rename(w, r, fs, key)
		case q.Get("resource") == "file":
			s.create(w, r, fs, key, false)
		case q.Get("resource") == "directory":
			s.create(w, r, fs, key, true)
		default:
			s.fail(w, r, http.StatusBadRequest, "InvalidQueryParameterValue", "resource")
		}
	case http.MethodHead:
		s.properties(w, r, fs, key)
	case http.MethodGet:
		s.read(w, r, fs, key)
	case http.MethodDelete:
		s.delete(w, r, fs, key)
	case http.MethodPatch:
		s.update(w, r, fs, key)
	default:
		s.fail(w, r, http.StatusBadRequest, "UnsupportedHttpVerb", r.Method)
	}
}

func (s *Server) pageSize(q url.Values) int {
	n := s.PageSize
	if n <= 0 {
		n = 5000
	}
	if m, err := strconv.Atoi(q.Get("maxresults")); err == nil && m > 0 && m < n {
		n = m
	}
	return n
}

func (s *Server) listFilesystems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var names []string
	for name := range s.fss {
		if name >= q.Get("continuation") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if n := s.pageSize(q); len(names) > n {
		w.Header().Set("x-ms-continuation", names[n])
		names = names[:n]
	}
	type entry struct {
		Name         string `json:"name"`
		LastModified string `json:"lastModified"`
		ETag         string `json:"etag"`
	}
	out := struct {
		Filesystems []entry `json:"filesystems"`
	}{Filesystems: []entry{}}
	for _, name := range names {
		fs := s.fss[name]
		out.Filesystems = append(out.Filesystems, entry{name, fs.modTime.Format(http.TimeFormat), fs.etag})
	}
	writeJSON(w, out)
}

func (s *Server) listPaths(w http.ResponseWriter, r *http.Request, fs *filesystem) {
	q := r.URL.Query()
	dir := strings.Trim(q.Get("directory"), "/")
	if dir != "" {
		n := fs.nodes[dir]
		if n == nil {
			s.fail(w, r, http.StatusNotFound, "PathNotFound", dir)
			return
		}
		if !n.dir {
			s.fail(w, r, http.StatusBadRequest, "PathIsNotDirectory", dir)
			return
		}
	}
	recursive := q.Get("recursive") == "true"
	var keys []string
	for _, k := range descendants(fs, dir) {
		if !recursive && parentKey(k) != dir {
			continue
		}
		if k >= q.Get("continuation") {
			keys = append(keys, k)
		}
	}
	if n := s.pageSize(q); len(keys) > n {
		w.Header().Set("x-ms-continuation", keys[n])
		keys = keys[:n]
	}
	type entry struct {
		Name          string `json:"name"`
		IsDirectory   string `json:"isDirectory,omitempty"`
		ContentLength string `json:"contentLength"`
		LastModified  string `json:"lastModified"`
		ETag          string `json:"etag"`
		Permissions   string `json:"permissions"`
		Owner         string `json:"owner"`
		Group         string `json:"group"`
	}
	out := struct {
		Paths []entry `json:"paths"`
	}{Paths: []entry{}}
	for _, k := range keys {
		n := fs.nodes[k]
		e := entry{
			Name:          k,
			ContentLength: strconv.Itoa(len(n.data)),
			LastModified:  n.modTime.Format(http.TimeFormat),
			ETag:          n.etag,
			Permissions:   n.perms,
			Owner:         n.owner,
			Group:         n.group,
		}
		if n.dir {
			e.IsDirectory, e.ContentLength = "true", "0"
		}
		out.Paths = append(out.Paths, e)
	}
	writeJSON(w, out)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, fs *filesystem, key string, dir bool) {
	old := fs.nodes[key]
	if old != nil && r.Header.Get("If-None-Match") == "*" {
		s.fail(w, r, http.StatusConflict, "PathAlreadyExists", key)
		return
	}
	if old != nil && old.dir != dir {
		s.fail(w, r, http.StatusConflict, "PathConflict", key)
		return
	}
	if !s.mkdirAll(fs, parentKey(key)) {
		s.fail(w, r, http.StatusConflict, "PathConflict", "parent of "+key+" is a file")
		return
	}
	n := s.newNode(dir)
	if old != nil && dir {
		// Creating an existing directory keeps its attributes.
		n = old
		s.touch(n)
	}
	if p := r.Header.Get("x-ms-permissions"); p != "" {
		n.perms = symbolic(p)
	}
	for _, h := range []string{"x-ms-owner", "x-ms-group"} {
		if v := r.Header.Get(h); v != "" {
			if h == "x-ms-owner" {
				n.owner = v
			} else {
				n.group = v
			}
		}
	}
	if v := r.Header.Get("x-ms-acl"); v != "" {
		n.acl = v
	}
	if v := r.Header.Get("x-ms-properties"); v != "" {
		n.props = map[string]string{"x-ms-properties": v}
	}
	fs.nodes[key] = n
	w.Header().Set("ETag", n.etag)
	w.Header().Set("Last-Modified", n.modTime.Format(http.TimeFormat))
	w.WriteHeader(http.StatusCreated)
}

// symbolic converts an octal permission string such as "0750" into the
// symbolic form; symbolic input is returned unchanged.
func symbolic(p string) string {
	v, err := strconv.ParseUint(p, 8, 32)
	if err != nil {
		return p
	}
	const rwx = "rwxrwxrwx"
	b := []byte("---------")
	for i := 0; i < 9; i++ {
		if v&(1<<uint(8-i)) != 0 {
			b[i] = rwx[i]
		}
	}
	if v&01000 != 0 {
		if b[8] == 'x' {
			b[8] = 't'
		} else {
			b[8] = 'T'
		}
	}
	return string(b)
}

func (s *Server) properties(w http.ResponseWriter, r *http.Request, fs *filesystem, key string) {
	n := fs.nodes[key]
	if n == nil {
		s.fail(w, r, http.StatusNotFound, "PathNotFound", key)
		return
	}
	h := w.Header()
	h.Set("Last-Modified", n.modTime.Format(http.TimeFormat))
	h.Set("ETag", n.etag)
	h.Set("x-ms-owner", n.owner)
	h.Set("x-ms-group", n.group)
	h.Set("x-ms-permissions", n.perms)
	if r.URL.Query().Get("action") == "getAccessControl" {
		h.Set("x-ms-acl", n.acl)
		w.WriteHeader(http.StatusOK)
		return
	}
	for k, v := range n.props {
		h.Set(k, v)
	}
	if n.dir {
		h.Set("x-ms-resource-type", "directory")
		h.Set("Content-Length", "0")
	} else {
		h.Set("x-ms-resource-type", "file")
		h.Set("Content-Length", strconv.Itoa(len(n.data)))
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) read(w http.ResponseWriter, r *http.Request, fs *filesystem, key string) {
	n := fs.nodes[key]
	if n == nil {
		s.fail(w, r, http.StatusNotFound, "PathNotFound", key)
		return
	}
	if n.dir {
		s.fail(w, r, http.StatusBadRequest, "InvalidFlushOperation", key+" is a directory")
		return
	}
	if m := r.Header.Get("If-Match"); m != "" && m != n.etag {
		s.fail(w, r, http.StatusPreconditionFailed, "ConditionNotMet", key)
		return
	}
	w.Header().Set("ETag", n.etag)
	rng := r.Header.Get("Range")
	if rng == "" {
		w.WriteHeader(http.StatusOK)
		w.Write(n.data) // nolint: errcheck
		return
	}
	var start, end int64
	if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err != nil || start > end {
		s.fail(w, r, http.StatusBadRequest, "InvalidRange", rng)
		return
	}
	size := int64(len(n.data))
	if start >= size {
		s.fail(w, r, http.StatusRequestedRangeNotSatisfiable, "InvalidRange", rng)
		return
	}
	if end >= size {
		end = size - 1
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(n.data[start : end+1]) // nolint: errcheck
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request, fs *filesystem, key string) {
	n := fs.nodes[key]
	if n == nil {
		s.fail(w, r, http.StatusNotFound, "PathNotFound", key)
		return
	}
	desc := descendants(fs, key)
	if len(desc) > 0 && r.URL.Query().Get("recursive") != "true" {
		s.fail(w, r, http.StatusConflict, "DirectoryNotEmpty", key)
		return
	}
	if s.OpsPageSize > 0 && len(desc) > s.OpsPageSize {
		// Children sort after their parents; delete from the end.
		for _, k := range desc[len(desc)-s.OpsPageSize:] {
			delete(fs.nodes, k)
		}
		w.Header().Set("x-ms-continuation", "delete:"+key)
		w.WriteHeader(http.StatusOK)
		return
	}
	for _, k := range desc {
		delete(fs.nodes, k)
	}
	delete(fs.nodes, key)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) rename(w http.ResponseWriter, r *http.Request, dstFS *filesystem, dst string) {
	source, err := url.PathUnescape(r.Header.Get("x-ms-rename-source"))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, "InvalidSourceUri", err.Error())
		return
	}
	if i := strings.IndexByte(source, '?'); i >= 0 {
		source = source[:i]
	}
	srcName, src := split(source)
	srcFS := s.fss[srcName]
	if srcFS == nil || src == "" || srcFS.nodes[src] == nil {
		s.fail(w, r, http.StatusNotFound, "SourcePathNotFound", source)
		return
	}
	if srcFS == dstFS && (dst == src || strings.HasPrefix(dst, src+"/")) {
		s.fail(w, r, http.StatusBadRequest, "InvalidDestinationPath", dst)
		return
	}
	continuing := r.URL.Query().Get("continuation") != ""
	if old := dstFS.nodes[dst]; old != nil && !continuing && (old.dir || srcFS.nodes[src].dir) {
		s.fail(w, r, http.StatusConflict, "PathAlreadyExists", dst)
		return
	}
	if !s.mkdirAll(dstFS, parentKey(dst)) {
		s.fail(w, r, http.StatusConflict, "PathConflict", "parent of "+dst+" is a file")
		return
	}
	desc := descendants(srcFS, src)
	move := func(k string) {
		nk := dst + strings.TrimPrefix(k, src)
		s.mkdirAll(dstFS, parentKey(nk))
		dstFS.nodes[nk] = srcFS.nodes[k]
		delete(srcFS.nodes, k)
	}
	if s.OpsPageSize > 0 && len(desc) > s.OpsPageSize {
		for _, k := range desc[:s.OpsPageSize] {
			move(k)
		}
		w.Header().Set("x-ms-continuation", "rename:"+src)
		w.WriteHeader(http.StatusCreated)
		return
	}
	for _, k := range desc {
		move(k)
	}
	move(src)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, fs *filesystem, key string) {
	q := r.URL.Query()
	n := fs.nodes[key]
	if n == nil {
		s.fail(w, r, http.StatusNotFound, "PathNotFound", key)
		return
	}
	switch action := q.Get("action"); action {
	case "append", "flush":
		if n.dir {
			s.fail(w, r, http.StatusBadRequest, "InvalidFlushOperation", key+" is a directory")
			return
		}
		pos, err := strconv.ParseInt(q.Get("position"), 10, 64)
		if err != nil || pos < 0 {
			s.fail(w, r, http.StatusBadRequest, "InvalidQueryParameterValue", "position")
			return
		}
		if action == "append" {
			if pos != int64(len(n.data)+len(n.pending)) {
				s.fail(w, r, http.StatusBadRequest, "InvalidFlushPosition", q.Get("position"))
				return
			}
			data, err := io.ReadAll(r.Body)
			if err != nil {
				s.fail(w, r, http.StatusBadRequest, "InvalidInput", err.Error())
				return
			}
			n.pending = append(n.pending, data...)
			w.WriteHeader(http.StatusAccepted)
			return
		}
		if pos != int64(len(n.data)+len(n.pending)) {
			s.fail(w, r, http.StatusBadRequest, "InvalidFlushPosition", q.Get("position"))
			return
		}
		n.data = append(n.data, n.pending...)
		n.pending = nil
		s.touch(n)
		w.Header().Set("ETag", n.etag)
		w.WriteHeader(http.StatusOK)
	case "setProperties":
		if n.props == nil {
			n.props = make(map[string]string)
		}
		for k, v := range r.Header {
			if lk := strings.ToLower(k); strings.HasPrefix(lk, "x-ms-") && lk != "x-ms-version" && lk != "x-ms-date" {
				n.props[lk] = strings.Join(v, ",")
			}
		}
		s.touch(n)
		w.WriteHeader(http.StatusOK)
	case "setAccessControl":
		if v := r.Header.Get("x-ms-owner"); v != "" {
			n.owner = v
		}
		if v := r.Header.Get("x-ms-group"); v != "" {
			n.group = v
		}
		if v := r.Header.Get("x-ms-permissions"); v != "" {
			n.perms = symbolic(v)
		}
		if v := r.Header.Get("x-ms-acl"); v != "" {
			n.acl = v
		}
		w.WriteHeader(http.StatusOK)
	case "setAccessControlRecursive":
		s.aclRecursive(w, r, fs, key)
	default:
		s.fail(w, r, http.StatusBadRequest, "InvalidQueryParameterValue", "action="+action)
	}
}

func (s *Server) aclRecursive(w http.ResponseWriter, r *http.Request, fs *filesystem, key string) {
	q := r.URL.Query()
	mode := q.Get("mode")
	if mode != "set" && mode != "modify" && mode != "remove" {
		s.fail(w, r, http.StatusBadRequest, "InvalidQueryParameterValue", "mode="+mode)
		return
	}
	acl := r.Header.Get("x-ms-acl")
	keys := append([]string{key}, descendants(fs, key)...)
	start := 0
	if c := q.Get("continuation"); c != "" {
		start, _ = strconv.Atoi(c)
	}
	if start > len(keys) {
		start = len(keys)
	}
	end := len(keys)
	if s.OpsPageSize > 0 && end-start > s.OpsPageSize {
		end = start + s.OpsPageSize
		w.Header().Set("x-ms-continuation", strconv.Itoa(end))
	}
	var dirs, files int
	for _, k := range keys[start:end] {
		n := fs.nodes[k]
		n.acl = applyACL(n.acl, acl, mode)
		if n.dir {
			dirs++
		} else {
			files++
		}
	}
	writeJSON(w, map[string]interface{}{
		"directoriesSuccessful": dirs,
		"filesSuccessful":       files,
		"failureCount":          0,
		"failedEntries":         []interface{}{},
	})
}

// applyACL applies a recursive update to acl. Entries are identified by
// everything but their permissions.
func applyACL(acl, update, mode string) string {
	if mode == "set" {
		return update
	}
	id := func(entry string) string {
		if i := strings.LastIndexByte(entry, ':'); i >= 0 && mode != "remove" {
			return entry[:i]
		}
		return entry
	}
	var entries []string
	if acl != "" {
		entries = strings.Split(acl, ",")
	}
	for _, u := range strings.Split(update, ",") {
		if u == "" {
			continue
		}
		found := false
		for i := 0; i < len(entries); i++ {
			if id(entries[i]) != id(u) && (mode != "remove" || !strings.HasPrefix(entries[i], u+":")) {
				continue
			}
			found = true
			if mode == "remove" {
				entries = append(entries[:i], entries[i+1:]...)
				i--
			} else {
				entries[i] = u
			}
		}
		if !found && mode == "modify" {
			entries = append(entries, u)
		}
	}
	return strings.Join(entries, ",")
}

func (s *Server) serveBlob(w http.ResponseWriter, r *http.Request, path string) {
	fsName, key := split(path)
	fs := s.fss[fsName]
	if fs == nil {
		s.fail(w, r, http.StatusNotFound, "ContainerNotFound", fsName)
		return
	}
	switch r.Method {
	case http.MethodGet:
		n := fs.nodes[key]
		if n == nil || n.dir {
			s.fail(w, r, http.StatusNotFound, "BlobNotFound", key)
			return
		}
		w.Header().Set("ETag", n.etag)
		w.WriteHeader(http.StatusOK)
		w.Write(n.data) // nolint: errcheck
	case http.MethodPut:
		source := r.Header.Get("x-ms-copy-source")
		if source == "" {
			s.fail(w, r, http.StatusBadRequest, "MissingRequiredHeader", "x-ms-copy-source")
			return
		}
		u, err := url.Parse(source)
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, "InvalidHeaderValue", source)
			return
		}
		srcName, srcKey := split(strings.TrimPrefix(u.Path, "/blob"))
		var src *node
		if srcFS := s.fss[srcName]; srcFS != nil {
			src = srcFS.nodes[srcKey]
		}
		if src == nil || src.dir {
			s.fail(w, r, http.StatusNotFound, "BlobNotFound", srcName+"/"+srcKey)
			return
		}
		if old := fs.nodes[key]; old != nil && old.dir {
			s.fail(w, r, http.StatusConflict, "PathConflict", key)
			return
		}
		if !s.mkdirAll(fs, parentKey(key)) {
			s.fail(w, r, http.StatusConflict, "PathConflict", "parent of "+key+" is a file")
			return
		}
		n := s.newNode(false)
		n.data = append([]byte(nil), src.data...)
		fs.nodes[key] = n
		w.Header().Set("x-ms-copy-status", "success")
		w.Header().Set("ETag", n.etag)
		w.WriteHeader(http.StatusAccepted)
	default:
		s.fail(w, r, http.StatusBadRequest, "UnsupportedHttpVerb", r.Method)
	}
}
