// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package adlsfile_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/file"
	"github.com/grailbio/adlsfs/file/adlsfile"
	"github.com/grailbio/adlsfs/file/adlsfile/adlstest"
	"github.com/grailbio/adlsfs/file/internal/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testSAS = "sv=2021-06-08&ss=b&srt=sco&sp=rwdlac&sig=dGVzdA%3D%3D"

var schemeSeq int32

type testEnv struct {
	srv    *adlstest.Server
	impl   *adlsfile.Impl
	reg    *prometheus.Registry
	scheme string
}

// newEnv starts a fake account holding filesystem "fs" and registers an
// implementation for it under a scheme unique to the test.
func newEnv(t *testing.T, opts adlsfile.Options) *testEnv {
	srv := adlstest.NewServer()
	t.Cleanup(srv.Close)
	srv.RequireAuth = true
	srv.CreateFilesystem("fs")
	helper, err := adlsfile.NewSASHelper(adlsfile.Endpoints{DFS: srv.DFS, Blob: srv.Blob}, testSAS)
	assert.NoError(t, err)
	reg := prometheus.NewRegistry()
	opts.Registerer = reg
	opts.HTTPClient = srv.Client()
	if opts.InitialDelay == 0 && opts.MaxDelay == 0 {
		opts.InitialDelay, opts.MaxDelay = time.Millisecond, 2*time.Millisecond
	}
	impl, err := adlsfile.NewImplementation(helper, opts)
	assert.NoError(t, err)
	scheme := fmt.Sprintf("adls%d", atomic.AddInt32(&schemeSeq, 1))
	file.RegisterImplementation(scheme, func() file.Implementation { return impl })
	t.Cleanup(func() { file.UnregisterImplementation(scheme) })
	return &testEnv{srv: srv, impl: impl, reg: reg, scheme: scheme}
}

func (e *testEnv) path(p string) string { return e.scheme + "://" + p }

// counter returns the value of a counter of the implementation's metrics,
// summed over the series whose labels include labelValue ("" for all).
func (e *testEnv) counter(t *testing.T, name, labelValue string) float64 {
	mfs, err := e.reg.Gather()
	require.NoError(t, err)
	var v float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := labelValue == ""
			for _, l := range m.GetLabel() {
				if l.GetValue() == labelValue {
					match = true
				}
			}
			if match {
				v += m.GetCounter().GetValue()
			}
		}
	}
	return v
}

func writeFile(ctx context.Context, t *testing.T, impl file.Implementation, path, data string) {
	f, err := impl.Create(ctx, path)
	assert.NoError(t, err)
	_, err = f.Writer(ctx).Write([]byte(data))
	assert.NoError(t, err)
	assert.NoError(t, f.Close(ctx))
}

func readFile(ctx context.Context, t *testing.T, impl file.Implementation, path string) string {
	f, err := impl.Open(ctx, path)
	assert.NoError(t, err)
	data, err := io.ReadAll(f.Reader(ctx))
	assert.NoError(t, err)
	assert.NoError(t, f.Close(ctx))
	return string(data)
}

func TestADLS(t *testing.T) {
	env := newEnv(t, adlsfile.Options{ChunkSize: 7})
	testutil.TestAll(context.Background(), t, env.impl, env.path("fs/dir"))
}

func TestADLSWithRetries(t *testing.T) {
	env := newEnv(t, adlsfile.Options{ChunkSize: 5, MaxRetries: 10})
	// Every kind of request fails once, with a rotating retryable status.
	for i, q := range []string{"", "resource=file", "action=append", "action=flush", "resource=filesystem"} {
		status := []int{500, 503, 429, 502, 504}[i]
		env.srv.AddFault(adlstest.Fault{Query: q, Status: status, Code: "ServerBusy", Times: 1})
	}
	ctx := context.Background()
	testutil.TestAll(ctx, t, env.impl, env.path("fs/retry"))
	assert.True(t, env.counter(t, "adlsfs_retries_total", "") >= 5)
}

func TestSmallReadBlocks(t *testing.T) {
	old := adlsfile.ReadBlockSize
	adlsfile.ReadBlockSize = 4
	defer func() { adlsfile.ReadBlockSize = old }()
	env := newEnv(t, adlsfile.Options{})
	ctx := context.Background()
	testutil.TestReads(ctx, t, env.impl, env.path("fs/small.txt"))
}

func TestRetryTransient(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	ctx := context.Background()
	env.srv.PutFile("fs/a.txt", []byte("hello"))
	env.srv.AddFault(adlstest.Fault{Method: http.MethodHead, Path: "/fs/a.txt", Status: 503, Code: "ServerBusy", Times: 1})

	info, err := env.impl.Stat(ctx, env.path("fs/a.txt"))
	assert.NoError(t, err)
	assert.EQ(t, int64(5), info.Size())
	assert.EQ(t, 2, env.srv.Count(http.MethodHead, "/dfs/fs/a.txt"))
	assert.EQ(t, 1.0, env.counter(t, "adlsfs_retries_total", "stat"))
}

func TestRetryExhausted(t *testing.T) {
	env := newEnv(t, adlsfile.Options{MaxRetries: 2})
	ctx := context.Background()
	env.srv.PutFile("fs/a.txt", []byte("hello"))
	env.srv.AddFault(adlstest.Fault{Method: http.MethodHead, Status: 503, Code: "ServerBusy"})

	_, err := env.impl.Stat(ctx, env.path("fs/a.txt"))
	assert.True(t, errors.Is(errors.Unavailable, err), "err: %v", err)
	assert.True(t, errors.IsTemporary(err))
	assert.True(t, strings.Contains(err.Error(), "x-ms-request-id: req-3"), "err: %v", err)
	assert.True(t, strings.Contains(err.Error(), "retries=2"), "err: %v", err)
	assert.EQ(t, 3, env.srv.Count(http.MethodHead, "/dfs/fs/a.txt"))

	var remote *adlsfile.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.EQ(t, 503, remote.StatusCode)
	assert.EQ(t, "ServerBusy", remote.Code)
}

func TestRetryDisabled(t *testing.T) {
	env := newEnv(t, adlsfile.Options{MaxRetries: -1})
	env.srv.AddFault(adlstest.Fault{Method: http.MethodHead, Status: 500, Times: 1})
	_, err := env.impl.Stat(context.Background(), env.path("fs/a.txt"))
	assert.True(t, errors.Is(errors.Unavailable, err), "err: %v", err)
	assert.EQ(t, 1, env.srv.Count(http.MethodHead, ""))
}

func TestRetryCodes(t *testing.T) {
	ctx := context.Background()

	// 403 is terminal by default.
	env := newEnv(t, adlsfile.Options{})
	env.srv.AddFault(adlstest.Fault{Method: http.MethodHead, Status: 403, Code: "AuthorizationFailure", Times: 1})
	_, err := env.impl.Stat(ctx, env.path("fs/a.txt"))
	assert.True(t, errors.Is(errors.NotAllowed, err), "err: %v", err)
	assert.EQ(t, 1, env.srv.Count(http.MethodHead, ""))

	// A request timeout reported as 400 is retried.
	env = newEnv(t, adlsfile.Options{})
	env.srv.PutFile("fs/a.txt", nil)
	env.srv.AddFault(adlstest.Fault{Method: http.MethodGet, Status: 400, Code: "RequestTimeout",
		Body: `{"error":{"code":"RequestTimeout","message":"slow"}}`, Times: 1})
	l := env.impl.List(ctx, env.path("fs"), false)
	assert.True(t, l.Scan(), "err: %v", l.Err())
	assert.EQ(t, 2, env.srv.Count(http.MethodGet, "resource=filesystem"))

	// RetryCodes replaces the default set.
	env = newEnv(t, adlsfile.Options{RetryCodes: []int{409}})
	env.srv.AddFault(adlstest.Fault{Method: http.MethodHead, Status: 503, Times: 1})
	_, err = env.impl.Stat(ctx, env.path("fs/a.txt"))
	assert.True(t, errors.Is(errors.Remote, err), "err: %v", err)
	assert.EQ(t, 1, env.srv.Count(http.MethodHead, ""))

	env = newEnv(t, adlsfile.Options{RetryAll: true})
	env.srv.PutFile("fs/a.txt", nil)
	env.srv.AddFault(adlstest.Fault{Method: http.MethodHead, Status: 403, Times: 2})
	_, err = env.impl.Stat(ctx, env.path("fs/a.txt"))
	assert.NoError(t, err)
	assert.EQ(t, 3, env.srv.Count(http.MethodHead, ""))
}

func TestRetryDeadline(t *testing.T) {
	env := newEnv(t, adlsfile.Options{
		MaxRetries:       100,
		InitialDelay:     20 * time.Millisecond,
		MaxDelay:         20 * time.Millisecond,
		MaxRetryDuration: 50 * time.Millisecond,
	})
	env.srv.AddFault(adlstest.Fault{Status: 503})
	start := time.Now()
	_, err := env.impl.Stat(context.Background(), env.path("fs/a.txt"))
	assert.True(t, errors.Is(errors.Unavailable, err), "err: %v", err)
	assert.True(t, strings.Contains(err.Error(), "waitErr="), "err: %v", err)
	assert.True(t, time.Since(start) < 10*time.Second)
	assert.True(t, env.srv.Count("", "") < 100)
}

func TestCancellation(t *testing.T) {
	env := newEnv(t, adlsfile.Options{MaxRetries: 100, InitialDelay: time.Second, MaxDelay: time.Second})
	env.srv.AddFault(adlstest.Fault{Status: 503})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := env.impl.Stat(ctx, env.path("fs/a.txt"))
	assert.NotNil(t, err)
	assert.True(t, env.srv.Count("", "") < 5)
}

func TestNotExist(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	ctx := context.Background()
	for _, path := range []string{"fs/nothere", "fs/no/such/dir/file", "nofs", "nofs/file"} {
		_, err := env.impl.Stat(ctx, env.path(path))
		assert.True(t, errors.Is(errors.NotExist, err), "%s: %v", path, err)
	}
	info, err := env.impl.Stat(ctx, env.path(""))
	assert.NoError(t, err)
	assert.True(t, info.IsDir())
	info, err = env.impl.Stat(ctx, env.path("fs"))
	assert.NoError(t, err)
	assert.True(t, info.IsDir())
	named, ok := info.(interface{ Name() string })
	assert.True(t, ok)
	assert.EQ(t, "fs", named.Name())
}

func TestListPaging(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	env.srv.PageSize = 2
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		env.srv.PutFile(fmt.Sprintf("fs/dir/f%d", i), []byte("x"))
	}
	e, err := env.impl.OpenDir(ctx, env.path("fs/dir"), adlsfile.ListOpts{})
	assert.NoError(t, err)
	var names []string
	for {
		ent, ok := e.Next(ctx)
		if !ok {
			break
		}
		names = append(names, ent.Name)
	}
	assert.NoError(t, e.Err())
	assert.EQ(t, []string{"f0", "f1", "f2", "f3", "f4"}, names)
	assert.EQ(t, 3, env.srv.Count(http.MethodGet, "directory=dir"))
	assert.EQ(t, 2, env.srv.Count(http.MethodGet, "continuation="))
}

func TestListOpts(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	ctx := context.Background()
	for _, p := range []string{"a.txt", "b.txt", "c.bin", "sub/d.txt", "sub/e.bin"} {
		env.srv.PutFile("fs/dir/"+p, []byte(p))
	}
	list := func(opts adlsfile.ListOpts) []string {
		e, err := env.impl.OpenDir(ctx, env.path("fs/dir"), opts)
		assert.NoError(t, err)
		var names []string
		for {
			ent, ok := e.Next(ctx)
			if !ok {
				break
			}
			names = append(names, ent.Name)
		}
		assert.NoError(t, e.Err())
		return names
	}
	assert.EQ(t, []string{"a.txt", "b.txt", "c.bin", "sub"}, list(adlsfile.ListOpts{}))
	assert.EQ(t, []string{"a.txt", "b.txt"}, list(adlsfile.ListOpts{MaxEntries: 2}))
	assert.EQ(t, []string{"a.txt", "b.txt"}, list(adlsfile.ListOpts{Pattern: "*.txt"}))
	assert.EQ(t, []string{"a.txt", "b.txt", "sub/d.txt"}, list(adlsfile.ListOpts{Recursive: true, Pattern: "**.txt"}))
	assert.EQ(t, []string{"sub", "sub/d.txt"}, list(adlsfile.ListOpts{Recursive: true, Prefix: "sub", MaxEntries: 2}))

	_, err := env.impl.OpenDir(ctx, env.path("fs/dir"), adlsfile.ListOpts{Pattern: "[a-"})
	assert.True(t, errors.Is(errors.Invalid, err), "err: %v", err)
	_, err = env.impl.OpenDir(ctx, env.path("fs/dir/a.txt"), adlsfile.ListOpts{})
	assert.NotNil(t, err)

	e, err := env.impl.OpenDir(ctx, env.path("fs/dir"), adlsfile.ListOpts{})
	assert.NoError(t, err)
	e.Close()
	_, ok := e.Next(ctx)
	assert.False(t, ok)
	assert.True(t, errors.Is(errors.Canceled, e.Err()))
}

func TestListRoot(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	env.srv.PageSize = 1
	ctx := context.Background()
	env.srv.PutFile("fs/x", []byte("1"))
	env.srv.PutFile("fs/d/y", []byte("22"))
	env.srv.PutFile("gs/z", []byte("333"))
	env.srv.CreateFilesystem("hs")

	doList := func(recursive bool) (paths []string) {
		l := env.impl.List(ctx, env.path(""), recursive)
		for l.Scan() {
			paths = append(paths, l.Path())
		}
		assert.NoError(t, l.Err())
		return
	}
	assert.EQ(t, []string{env.path("fs"), env.path("gs"), env.path("hs")}, doList(false))
	assert.EQ(t, []string{
		env.path("fs"), env.path("fs/d"), env.path("fs/d/y"), env.path("fs/x"),
		env.path("gs"), env.path("gs/z"),
		env.path("hs"),
	}, doList(true))

	// The walk filled the cache.
	env.srv.ResetRequests()
	info, err := env.impl.Stat(ctx, env.path("gs/z"))
	assert.NoError(t, err)
	assert.EQ(t, int64(3), info.Size())
	assert.EQ(t, 0, env.srv.Count("", ""))
}

func TestListThenStatUsesCache(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	ctx := context.Background()
	env.srv.PutFile("fs/dir/a", []byte("abc"))
	l := env.impl.List(ctx, env.path("fs/dir"), false)
	for l.Scan() {
	}
	assert.NoError(t, l.Err())

	env.srv.ResetRequests()
	info, err := env.impl.Stat(ctx, env.path("fs/dir/a"))
	assert.NoError(t, err)
	assert.EQ(t, int64(3), info.Size())
	assert.EQ(t, 0, env.srv.Count("", ""))
	assert.EQ(t, 1.0, env.counter(t, "adlsfs_statcache_lookups_total", "hit"))

	_, err = env.impl.Stat(ctx, env.path("fs/dir/a"), file.Opts{NoCache: true})
	assert.NoError(t, err)
	assert.EQ(t, 1, env.srv.Count(http.MethodHead, ""))

	env.impl.ClearCache()
	assert.EQ(t, 0, env.impl.Cache().Len())
	_, err = env.impl.Stat(ctx, env.path("fs/dir/a"))
	assert.NoError(t, err)
	assert.EQ(t, 2, env.srv.Count(http.MethodHead, ""))
}

func TestMkdirInvalidatesNegativeEntry(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	ctx := context.Background()
	path := env.path("fs/newdir")
	_, err := env.impl.Stat(ctx, path)
	assert.True(t, errors.Is(errors.NotExist, err))

	assert.NoError(t, env.impl.Mkdir(ctx, path, 0755))
	info, err := env.impl.Stat(ctx, path)
	assert.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.EQ(t, "rwxr-xr-x", info.Mode().Perm().String()[1:])
	assert.True(t, errors.Is(errors.Exists, env.impl.Mkdir(ctx, path, 0755)))
	// Without the stat check, an existing directory is accepted.
	assert.NoError(t, env.impl.Mkdir(ctx, path, 0755, file.Opts{NoStatCheck: true}))

	assert.NoError(t, env.impl.Mkdir(ctx, env.path("newfs"), 0))
	assert.True(t, env.srv.Exists("newfs"))
	assert.True(t, errors.Is(errors.Exists, env.impl.Mkdir(ctx, env.path("newfs"), 0)))
	assert.True(t, errors.Is(errors.Exists, env.impl.Mkdir(ctx, env.path(""), 0)))
}

func TestCreateInvalidatesAbsentAncestors(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	ctx := context.Background()
	stat := func(path string) error {
		_, err := env.impl.Stat(ctx, env.path(path))
		return err
	}
	for _, path := range []string{"fs/a", "fs/a/b", "fs/m", "fs/r", "fs/c"} {
		assert.True(t, errors.Is(errors.NotExist, stat(path)), path)
	}

	writeFile(ctx, t, env.impl, env.path("fs/a/b/c.txt"), "c")
	assert.True(t, env.srv.Exists("fs/a"))
	assert.NoError(t, stat("fs/a"))
	assert.NoError(t, stat("fs/a/b"))

	assert.NoError(t, env.impl.Mkdir(ctx, env.path("fs/m/n/o"), 0755))
	assert.NoError(t, stat("fs/m"))
	assert.NoError(t, stat("fs/m/n"))

	assert.NoError(t, env.impl.Rename(ctx, env.path("fs/a/b/c.txt"), env.path("fs/r/s/c.txt")))
	assert.NoError(t, stat("fs/r"))

	assert.NoError(t, env.impl.CopyObject(ctx, env.path("fs/r/s/c.txt"), env.path("fs/c/d/c.txt")))
	assert.NoError(t, stat("fs/c"))

	// Entries known to exist are kept.
	env.srv.ResetRequests()
	assert.NoError(t, stat("fs/m"))
	assert.EQ(t, 0, env.srv.Count("", ""))
}

func TestWriteChunks(t *testing.T) {
	env := newEnv(t, adlsfile.Options{ChunkSize: 16})
	ctx := context.Background()
	path := env.path("fs/out/data")
	f, err := env.impl.Create(ctx, path, file.Opts{Headers: map[string]string{
		"x-ms-permissions": "0640",
		"x-ms-unknown":     "dropped",
	}})
	assert.NoError(t, err)
	w := f.Writer(ctx)
	n, err := w.Write([]byte(strings.Repeat("a", 10)))
	assert.NoError(t, err)
	assert.EQ(t, 10, n)
	n, err = w.Write([]byte(strings.Repeat("b", 20)))
	assert.NoError(t, err)
	assert.EQ(t, 20, n)
	assert.EQ(t, 1, env.srv.Count(http.MethodPatch, "action=append"))
	assert.NoError(t, f.Close(ctx))

	assert.EQ(t, 2, env.srv.Count(http.MethodPatch, "action=append"))
	assert.EQ(t, 1, env.srv.Count(http.MethodPatch, "action=flush"))
	assert.EQ(t, 1, env.srv.Count(http.MethodPatch, "position=30"))
	data, ok := env.srv.Data("fs/out/data")
	assert.True(t, ok)
	assert.EQ(t, strings.Repeat("a", 10)+strings.Repeat("b", 20), string(data))
	assert.EQ(t, 30.0, env.counter(t, "adlsfs_bytes_written_total", ""))

	info, err := env.impl.Stat(ctx, path)
	assert.NoError(t, err)
	assert.EQ(t, int64(30), info.Size())
	assert.EQ(t, "-rw-r-----", info.Mode().String())
	for _, r := range env.srv.Requests() {
		if r.Query.Get("resource") == "file" {
			assert.EQ(t, "0640", r.Header.Get("x-ms-permissions"))
			assert.EQ(t, "", r.Header.Get("x-ms-unknown"))
		}
	}
}

func TestWriteAppendFailure(t *testing.T) {
	env := newEnv(t, adlsfile.Options{ChunkSize: 4})
	ctx := context.Background()
	path := env.path("fs/partial")
	f, err := env.impl.Create(ctx, path)
	assert.NoError(t, err)
	w := f.Writer(ctx)
	_, err = w.Write([]byte("abcd"))
	assert.NoError(t, err)

	env.srv.AddFault(adlstest.Fault{Query: "action=append", Status: 400, Code: "InvalidFlushPosition", Times: 1})
	_, err = w.Write([]byte("efgh"))
	assert.True(t, errors.Is(errors.Incomplete, err), "err: %v", err)
	_, err = w.Write([]byte("ijkl"))
	assert.True(t, errors.Is(errors.Incomplete, err), "err: %v", err)
	err = f.Close(ctx)
	assert.True(t, errors.Is(errors.Incomplete, err), "err: %v", err)
	assert.EQ(t, 0, env.srv.Count(http.MethodPatch, "action=flush"))

	// The object exists but nothing was flushed.
	data, ok := env.srv.Data("fs/partial")
	assert.True(t, ok)
	assert.EQ(t, "", string(data))
}

func TestDiscardDeletesObject(t *testing.T) {
	env := newEnv(t, adlsfile.Options{ChunkSize: 4})
	ctx := context.Background()
	path := env.path("fs/d/discarded")
	f, err := env.impl.Create(ctx, path)
	assert.NoError(t, err)
	_, err = f.Writer(ctx).Write([]byte("0123456789"))
	assert.NoError(t, err)
	assert.EQ(t, 2, env.srv.Count(http.MethodPatch, "action=append"))

	assert.NoError(t, f.Discard(ctx))
	assert.False(t, env.srv.Exists("fs/d/discarded"))
	assert.EQ(t, 0, env.srv.Count(http.MethodPatch, "action=flush"))
	_, err = env.impl.Stat(ctx, path)
	assert.True(t, errors.Is(errors.NotExist, err), "err: %v", err)
	// A second Discard is a no-op.
	assert.NoError(t, f.Discard(ctx))

	writeFile(ctx, t, env.impl, path, "kept")
	env.srv.ResetRequests()
	f, err = env.impl.Open(ctx, path)
	assert.NoError(t, err)
	assert.NoError(t, f.Discard(ctx))
	assert.NoError(t, f.Close(ctx))
	assert.EQ(t, 0, env.srv.Count(http.MethodDelete, ""))
	assert.EQ(t, "kept", readFile(ctx, t, env.impl, path))
}

// zeroReader returns zeros forever, pausing between reads.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestStreamingCopy(t *testing.T) {
	env := newEnv(t, adlsfile.Options{ChunkSize: 10000})
	ctx := context.Background()
	data := bytes.Repeat([]byte("0123456789abcdef"), 6400)
	local := filepath.Join(t.TempDir(), "src")
	assert.NoError(t, os.WriteFile(local, data, 0600))

	in, err := file.Open(ctx, local)
	assert.NoError(t, err)
	out, err := file.Create(ctx, env.path("fs/copied/data"))
	assert.NoError(t, err)
	n, err := file.Copy(ctx, out.Writer(ctx), in.Reader(ctx))
	assert.NoError(t, err)
	assert.EQ(t, int64(len(data)), n)
	assert.NoError(t, in.Close(ctx))
	assert.NoError(t, out.Close(ctx))
	got, ok := env.srv.Data("fs/copied/data")
	assert.True(t, ok)
	assert.True(t, bytes.Equal(data, got))
	assert.EQ(t, (len(data)+9999)/10000, env.srv.Count(http.MethodPatch, "action=append"))

	// A canceled copy leaves the object to be discarded.
	out, err = file.Create(ctx, env.path("fs/copied/canceled"))
	assert.NoError(t, err)
	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = file.Copy(cctx, out.Writer(ctx), zeroReader{})
	assert.EQ(t, context.DeadlineExceeded, err)
	assert.NoError(t, out.Discard(ctx))
	assert.False(t, env.srv.Exists("fs/copied/canceled"))
}

func TestWriteFlushFailure(t *testing.T) {
	env := newEnv(t, adlsfile.Options{MaxRetries: -1})
	ctx := context.Background()
	f, err := env.impl.Create(ctx, env.path("fs/x"))
	assert.NoError(t, err)
	_, err = f.Writer(ctx).Write([]byte("data"))
	assert.NoError(t, err)
	env.srv.AddFault(adlstest.Fault{Query: "action=flush", Status: 500})
	err = f.Close(ctx)
	assert.True(t, errors.Is(errors.Incomplete, err), "err: %v", err)
}

func TestCreateErrors(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	ctx := context.Background()
	_, err := env.impl.Create(ctx, env.path("fs"))
	assert.True(t, errors.Is(errors.Invalid, err), "err: %v", err)
	_, err = env.impl.Create(ctx, env.path("nofs/x"))
	assert.True(t, errors.Is(errors.NotExist, err), "err: %v", err)
	_, err = adlsfile.NewImplementation(nil, adlsfile.Options{ChunkSize: adlsfile.MaxChunkSize + 1})
	assert.True(t, errors.Is(errors.Invalid, err), "err: %v", err)
}

func TestReadChangedObject(t *testing.T) {
	old := adlsfile.ReadBlockSize
	adlsfile.ReadBlockSize = 2
	defer func() { adlsfile.ReadBlockSize = old }()
	env := newEnv(t, adlsfile.Options{})
	ctx := context.Background()
	env.srv.PutFile("fs/a", []byte("0123456789"))
	f, err := env.impl.Open(ctx, env.path("fs/a"))
	assert.NoError(t, err)
	r := f.Reader(ctx)
	buf := make([]byte, 2)
	_, err = io.ReadFull(r, buf)
	assert.NoError(t, err)
	assert.EQ(t, "01", string(buf))

	env.srv.PutFile("fs/a", []byte("abcdefghij"))
	_, err = io.ReadFull(r, buf)
	assert.True(t, errors.Is(errors.Precondition, err), "err: %v", err)
	assert.NoError(t, f.Close(ctx))
}

func TestRenameSelf(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	ctx := context.Background()
	env.srv.PutFile("fs/a", []byte("a"))
	env.srv.ResetRequests()
	assert.NoError(t, env.impl.Rename(ctx, env.path("fs/a"), env.path("fs/a/")))
	assert.EQ(t, 0, env.srv.Count("", ""))
}

func TestRename(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	env.srv.OpsPageSize = 2
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		env.srv.PutFile(fmt.Sprintf("fs/src/f%d", i), []byte{byte('0' + i)})
	}
	// Populate the cache for both trees.
	_, err := env.impl.Stat(ctx, env.path("fs/src/f3"))
	assert.NoError(t, err)
	_, err = env.impl.Stat(ctx, env.path("fs/dst/f3"))
	assert.True(t, errors.Is(errors.NotExist, err))

	assert.NoError(t, env.impl.Rename(ctx, env.path("fs/src"), env.path("fs/dst")))
	assert.True(t, env.srv.Count(http.MethodPut, "continuation=") >= 1)
	_, err = env.impl.Stat(ctx, env.path("fs/src/f3"))
	assert.True(t, errors.Is(errors.NotExist, err), "err: %v", err)
	assert.EQ(t, "3", readFile(ctx, t, env.impl, env.path("fs/dst/f3")))
	assert.False(t, env.srv.Exists("fs/src"))

	err = env.impl.Rename(ctx, env.path("fs/nothere"), env.path("fs/x"))
	assert.True(t, errors.Is(errors.NotExist, err), "err: %v", err)
	err = env.impl.Rename(ctx, env.path("fs"), env.path("gs"))
	assert.True(t, errors.Is(errors.NotSupported, err), "err: %v", err)
}

func TestRmdir(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	ctx := context.Background()
	env.srv.PutFile("fs/dir/a", []byte("a"))
	env.srv.Mkdir("fs/empty")

	err := env.impl.Rmdir(ctx, env.path("fs/dir"))
	assert.True(t, errors.Is(errors.NotEmpty, err), "err: %v", err)
	err = env.impl.Rmdir(ctx, env.path("fs/dir/a"))
	assert.True(t, errors.Is(errors.NotDir, err), "err: %v", err)
	err = env.impl.Rmdir(ctx, env.path(""))
	assert.True(t, errors.Is(errors.NotAllowed, err), "err: %v", err)
	err = env.impl.Rmdir(ctx, env.path("fs"))
	assert.True(t, errors.Is(errors.NotEmpty, err), "err: %v", err)
	err = env.impl.Remove(ctx, env.path("fs"))
	assert.True(t, errors.Is(errors.Invalid, err), "err: %v", err)

	assert.NoError(t, env.impl.Rmdir(ctx, env.path("fs/empty")))
	assert.False(t, env.srv.Exists("fs/empty"))

	env.srv.CreateFilesystem("gs")
	assert.NoError(t, env.impl.Rmdir(ctx, env.path("gs")))
	assert.False(t, env.srv.Exists("gs"))
}

func TestRmdirRecursive(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	env.srv.OpsPageSize = 2
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		env.srv.PutFile(fmt.Sprintf("fs/dir/sub%d/f", i%2), []byte("x"))
		env.srv.PutFile(fmt.Sprintf("fs/dir/f%d", i), []byte("x"))
	}
	_, err := env.impl.Stat(ctx, env.path("fs/dir/sub1/f"))
	assert.NoError(t, err)

	assert.NoError(t, env.impl.RmdirRecursive(ctx, env.path("fs/dir")))
	assert.True(t, env.srv.Count(http.MethodDelete, "continuation=") >= 1)
	assert.False(t, env.srv.Exists("fs/dir"))
	_, err = env.impl.Stat(ctx, env.path("fs/dir/sub1/f"))
	assert.True(t, errors.Is(errors.NotExist, err), "err: %v", err)
}

func TestRmdirRecursivePartialFailure(t *testing.T) {
	env := newEnv(t, adlsfile.Options{MaxRetries: -1})
	env.srv.OpsPageSize = 2
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		env.srv.PutFile(fmt.Sprintf("fs/dir/f%d", i), []byte("x"))
	}
	env.srv.AddFault(adlstest.Fault{Method: http.MethodDelete, Query: "continuation=", Status: 500})
	err := env.impl.RmdirRecursive(ctx, env.path("fs/dir"))
	assert.NotNil(t, err)
	// The first page stays deleted.
	assert.True(t, env.srv.Exists("fs/dir/f0"))
	assert.False(t, env.srv.Exists("fs/dir/f4"))
}

func TestCopyObject(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	ctx := context.Background()
	env.srv.PutFile("fs/src", []byte("copy me"))
	_, err := env.impl.Stat(ctx, env.path("fs/dst/x"))
	assert.True(t, errors.Is(errors.NotExist, err))

	assert.NoError(t, file.CopyObject(ctx, env.path("fs/src"), env.path("fs/dst/x")))
	assert.EQ(t, 1, env.srv.Count(http.MethodPut, "/blob/fs/dst/x"))
	assert.EQ(t, "copy me", readFile(ctx, t, env.impl, env.path("fs/dst/x")))

	err = env.impl.CopyObject(ctx, env.path("fs/nothere"), env.path("fs/y"))
	assert.True(t, errors.Is(errors.NotExist, err), "err: %v", err)
	err = env.impl.CopyObject(ctx, env.path("fs"), env.path("fs/y"))
	assert.True(t, errors.Is(errors.Invalid, err), "err: %v", err)
}

func TestMetadata(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	ctx := context.Background()
	env.srv.PutFile("fs/dir/a", []byte("a"))
	path := env.path("fs/dir/a")

	assert.NoError(t, file.SetFileMetadata(ctx, path, "properties", map[string]string{
		"x-ms-properties":   "color=Ymx1ZQ==",
		"x-ms-content-type": "text/plain",
		"x-ms-unknown":      "dropped",
		"If-Match":          "*",
	}, file.MetadataOpts{}))
	for _, r := range env.srv.Requests() {
		if r.Query.Get("action") == "setProperties" {
			assert.EQ(t, "", r.Header.Get("x-ms-unknown"))
			assert.EQ(t, "*", r.Header.Get("If-Match"))
		}
	}
	md, err := file.GetFileMetadata(ctx, path, "STATUS")
	assert.NoError(t, err)
	assert.EQ(t, "color=Ymx1ZQ==", md["x-ms-properties"])
	assert.EQ(t, "file", md["x-ms-resource-type"])
	_, hasServer := md["server"]
	assert.False(t, hasServer)
	_, hasDate := md["date"]
	assert.False(t, hasDate)

	assert.NoError(t, env.impl.SetFileMetadata(ctx, path, "acl", map[string]string{
		"x-ms-acl":   "user::rwx,group::r-x,other::---",
		"x-ms-owner": "alice",
	}, file.MetadataOpts{}))
	md, err = env.impl.GetFileMetadata(ctx, path, "ACL")
	assert.NoError(t, err)
	assert.EQ(t, "user::rwx,group::r-x,other::---", md["x-ms-acl"])
	assert.EQ(t, "alice", md["x-ms-owner"])

	_, err = env.impl.GetFileMetadata(ctx, path, "PROPERTIES")
	assert.True(t, errors.Is(errors.Invalid, err), "err: %v", err)
	err = env.impl.SetFileMetadata(ctx, path, "STATUS", nil, file.MetadataOpts{})
	assert.True(t, errors.Is(errors.Invalid, err), "err: %v", err)
	_, err = env.impl.GetFileMetadata(ctx, env.path("fs/nothere"), "STATUS")
	assert.True(t, errors.Is(errors.NotExist, err), "err: %v", err)
}

func TestMetadataRecursiveACL(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	env.srv.OpsPageSize = 2
	ctx := context.Background()
	for _, p := range []string{"fs/dir/a", "fs/dir/b", "fs/dir/sub/c", "fs/dir/sub/d"} {
		env.srv.PutFile(p, []byte("x"))
	}
	env.srv.ResetRequests()
	err := env.impl.SetFileMetadata(ctx, env.path("fs/dir"), "ACL",
		map[string]string{"x-ms-acl": "user:bob:r-x"}, file.MetadataOpts{Recursive: true})
	assert.True(t, errors.Is(errors.Invalid, err), "err: %v", err)
	assert.EQ(t, 0, env.srv.Count("", ""))

	assert.NoError(t, env.impl.SetFileMetadata(ctx, env.path("fs/dir"), "ACL",
		map[string]string{"x-ms-acl": "user:bob:r-x", "x-ms-owner": "dropped"},
		file.MetadataOpts{Recursive: true, Mode: "Modify"}))
	assert.EQ(t, 3, env.srv.Count(http.MethodPatch, "mode=modify"))
	for _, p := range []string{"fs/dir", "fs/dir/a", "fs/dir/sub/d"} {
		assert.EQ(t, "user:bob:r-x", env.srv.ACL(p), "path %s", p)
	}

	env.srv.AddFault(adlstest.Fault{Query: "setAccessControlRecursive", Status: 200,
		Body: `{"directoriesSuccessful":0,"filesSuccessful":1,"failureCount":1,"failedEntries":[{"name":"dir/b","type":"FILE","errorMessage":"denied"}]}`})
	err = env.impl.SetFileMetadata(ctx, env.path("fs/dir"), "ACL",
		map[string]string{"x-ms-acl": "user:bob:r-x"}, file.MetadataOpts{Recursive: true, Mode: "remove"})
	assert.True(t, errors.Is(errors.Remote, err), "err: %v", err)
	assert.True(t, strings.Contains(err.Error(), "dir/b: denied"), "err: %v", err)
}

func TestPresign(t *testing.T) {
	srv := adlstest.NewServer()
	defer srv.Close()
	srv.RequireAuth = true
	srv.PutFile("fs/obj", []byte("signed"))
	helper, err := adlsfile.NewSharedKeyHelper(adlsfile.Endpoints{DFS: srv.DFS, Blob: srv.Blob}, "account", testKey)
	require.NoError(t, err)
	impl, err := adlsfile.NewImplementation(helper, adlsfile.Options{HTTPClient: srv.Client()})
	require.NoError(t, err)
	ctx := context.Background()

	url, err := impl.Presign(ctx, "adls://fs/obj", http.MethodGet, time.Hour)
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, srv.Blob+"/fs/obj?"), "url: %s", url)
	assert.True(t, strings.Contains(url, "sp=r&"), "url: %s", url)
	resp, err := srv.Client().Get(url)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	assert.NoError(t, resp.Body.Close())
	assert.EQ(t, "signed", string(data))

	url, err = impl.Presign(ctx, "adls://fs/obj", http.MethodPut, time.Hour)
	assert.NoError(t, err)
	assert.True(t, strings.Contains(url, "sp=cw"), "url: %s", url)
	url, err = impl.GetSignedURL(ctx, "adls://fs/obj", adlsfile.SignOpts{Permissions: "rd"})
	assert.NoError(t, err)
	assert.True(t, strings.Contains(url, "sp=rd"), "url: %s", url)

	_, err = impl.Presign(ctx, "adls://fs/obj", http.MethodPost, time.Hour)
	assert.True(t, errors.Is(errors.NotSupported, err), "err: %v", err)
	_, err = impl.GetSignedURL(ctx, "adls://fs/obj", adlsfile.SignOpts{Permissions: "x"})
	assert.True(t, errors.Is(errors.Invalid, err), "err: %v", err)

	// Shared key requests are authorized through the header.
	info, err := impl.Stat(ctx, "adls://fs/obj")
	assert.NoError(t, err)
	assert.EQ(t, int64(6), info.Size())
	reqs := srv.Requests()
	assert.True(t, strings.HasPrefix(reqs[len(reqs)-1].Header.Get("Authorization"), "SharedKey account:"))
}

func TestMetrics(t *testing.T) {
	env := newEnv(t, adlsfile.Options{})
	ctx := context.Background()
	writeFile(ctx, t, env.impl, env.path("fs/m"), "12345")
	assert.EQ(t, 1.0, env.counter(t, "adlsfs_ops_total", "create"))
	assert.EQ(t, 1.0, env.counter(t, "adlsfs_ops_total", "append"))
	assert.EQ(t, 1.0, env.counter(t, "adlsfs_ops_total", "flush"))
	assert.EQ(t, 5.0, env.counter(t, "adlsfs_bytes_written_total", ""))

	_, err := env.impl.Stat(ctx, env.path("fs/m"))
	assert.NoError(t, err)
	_, err = env.impl.Stat(ctx, env.path("fs/m"))
	assert.NoError(t, err)
	assert.EQ(t, 1.0, env.counter(t, "adlsfs_statcache_lookups_total", "miss"))
	assert.EQ(t, 1.0, env.counter(t, "adlsfs_statcache_lookups_total", "hit"))
}

func TestConcurrentWriters(t *testing.T) {
	env := newEnv(t, adlsfile.Options{ChunkSize: 3})
	ctx := context.Background()
	const n = 8
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() (err error) {
			f, err := env.impl.Create(ctx, env.path(fmt.Sprintf("fs/c/%d", i)))
			if err != nil {
				return err
			}
			defer file.CloseAndReport(ctx, f, &err)
			_, err = f.Writer(ctx).Write([]byte(strings.Repeat(fmt.Sprint(i), 10)))
			return err
		})
	}
	require.NoError(t, g.Wait())
	l := env.impl.List(ctx, env.path("fs/c"), false)
	var paths []string
	for l.Scan() {
		paths = append(paths, l.Path())
		assert.EQ(t, int64(10), l.Info().Size())
	}
	assert.NoError(t, l.Err())
	sort.Strings(paths)
	assert.EQ(t, n, len(paths))
	assert.EQ(t, env.path("fs/c/0"), paths[0])
}

func ExampleParseURL() {
	scheme, fs, key, err := adlsfile.ParseURL("adls://container/dir/file.txt")
	fmt.Printf("%s %s %s %v\n", scheme, fs, key, err)
	scheme, fs, key, err = adlsfile.ParseURL("adls://container/")
	fmt.Printf("%s %s %q %v\n", scheme, fs, key, err)
	// Output:
	// adls container dir/file.txt <nil>
	// adls container "" <nil>
}
