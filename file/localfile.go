// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package file

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/grailbio/adlsfs/errors"
	"github.com/grailbio/adlsfs/log"
)

// localImpl serves paths without a scheme. Besides the core operations it
// implements Directory, Renamer and Copier, so the command line tools can move
// data between the local disk and a remote store with the same calls.
type localImpl struct{}

type accessMode int

const (
	readonly      accessMode = iota // file opened by Open.
	writeonlyFile                   // regular file opened by Create.
	writeonlyDev                    // device or socket opened by Create.
)

type localInfo struct {
	size    int64
	modTime time.Time
	mode    os.FileMode
}

type localFile struct {
	f        *os.File
	mode     accessMode
	path     string // User-supplied path.
	realPath string // Path after symlink resolution.
	closed   bool
}

type localLister struct {
	prefix  string
	err     error
	path    string
	info    os.FileInfo
	todo    []string
	recurse bool
}

// localError attaches an error kind to an error from package os.
func localError(op, path string, err error) error {
	kind := errors.Other
	switch {
	case errors.Is(errors.NotExist, err) || os.IsNotExist(err):
		kind = errors.NotExist
	case os.IsExist(err):
		kind = errors.Exists
	case os.IsPermission(err):
		kind = errors.NotAllowed
	case isErrno(err, syscall.ENOTEMPTY):
		kind = errors.NotEmpty
	case isErrno(err, syscall.ENOTDIR):
		kind = errors.NotDir
	}
	return errors.E(kind, op, path, err)
}

func isErrno(err error, errno syscall.Errno) bool {
	var e syscall.Errno
	return errors.As(err, &e) && e == errno
}

func newLocalInfo(info os.FileInfo) *localInfo {
	li := &localInfo{modTime: info.ModTime(), mode: info.Mode()}
	if !info.IsDir() {
		li.size = info.Size()
	}
	return li
}

func (impl *localImpl) String() string {
	return "local"
}

// Open implements file.Implementation.
func (impl *localImpl) Open(ctx context.Context, path string, _ ...Opts) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, localError("open", path, err)
	}
	if info, err := f.Stat(); err == nil && info.IsDir() {
		_ = f.Close()
		return nil, errors.E(errors.Invalid, "open", path, "is a directory")
	}
	return &localFile{f: f, mode: readonly, path: path}, nil
}

// Create implements file.Implementation. To make writes appear linearizable,
// it creates a temporary file with name <path>.tmp, then renames the temp file
// to <path> on Close. Missing parent directories are created.
func (*localImpl) Create(ctx context.Context, path string, _ ...Opts) (File, error) {
	if path == "" { // Detect common errors quickly.
		return nil, fmt.Errorf("file.Create: empty pathname")
	}
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		// The file doesn't exist, or path is a symlink whose destination
		// doesn't exist.
		realPath = path
	}
	if stat, err := os.Stat(path); err == nil {
		if stat.IsDir() {
			return nil, fmt.Errorf("file.Create %s: is a directory", path)
		}
		if stat.Mode()&(os.ModeDevice|os.ModeNamedPipe|os.ModeSocket) != 0 {
			f, err := os.Create(path)
			if err != nil {
				return nil, localError("create", path, err)
			}
			return &localFile{f: f, mode: writeonlyDev, path: path, realPath: realPath}, nil
		}
	}

	// filepath.Dir just strips the last "/" if path ends with "/". Else, it
	// removes the last component of the path. That's what we want.
	dir := filepath.Dir(realPath)
	f, err := os.CreateTemp(dir, filepath.Base(realPath)+".tmp")
	if err != nil {
		if err = os.MkdirAll(dir, 0777); err != nil {
			log.Error.Printf("mkdir %v: error %v ", dir, err)
		}
		f, err = os.CreateTemp(dir, "localtmp")
		if err != nil {
			return nil, localError("create", path, err)
		}
	}
	return &localFile{f: f, mode: writeonlyFile, path: path, realPath: realPath}, nil
}

// Close implements file.File.
func (f *localFile) Close(ctx context.Context) error {
	if f.closed {
		return errors.E(errors.Invalid, "close", f.path, "file already closed")
	}
	f.closed = true
	switch f.mode {
	case readonly, writeonlyDev:
		return f.f.Close()
	}
	err := f.f.Sync()
	if e := f.f.Close(); e != nil && err == nil {
		err = e
	}
	if err != nil {
		_ = os.Remove(f.f.Name())
		return localError("close", f.path, err)
	}
	if err := os.Rename(f.f.Name(), f.realPath); err != nil {
		return localError("close", f.path, err)
	}
	return nil
}

// Discard implements file.File. Nothing written is left behind.
func (f *localFile) Discard(ctx context.Context) error {
	if f.closed {
		return errors.E(errors.Invalid, "discard", f.path, "file already closed")
	}
	f.closed = true
	switch f.mode {
	case readonly, writeonlyDev:
		return f.f.Close()
	}
	if err := f.f.Close(); err != nil {
		log.Printf("discard %s: close: %v", f.Name(), err)
	}
	if err := os.Remove(f.f.Name()); err != nil {
		return localError("discard", f.path, err)
	}
	return nil
}

// String implements file.File.
func (f *localFile) String() string {
	return f.path
}

// Name implements file.File.
func (f *localFile) Name() string {
	return f.path
}

// Reader implements file.File
func (f *localFile) Reader(context.Context) io.ReadSeeker {
	if f.mode != readonly {
		return NewErrorReader(errors.E(errors.Invalid, "reader", f.path, "file is not opened in read mode"))
	}
	return f.f
}

// Writer implements file.File
func (f *localFile) Writer(context.Context) io.Writer {
	if f.mode == readonly {
		return NewErrorWriter(errors.E(errors.Invalid, "writer", f.path, "file is not opened in write mode"))
	}
	return f.f
}

// Stat implements file.File
func (f *localFile) Stat(context.Context) (Info, error) {
	info, err := f.f.Stat()
	if err != nil {
		return nil, localError("stat", f.path, err)
	}
	return newLocalInfo(info), nil
}

// List implements file.Implementation
func (impl *localImpl) List(ctx context.Context, prefix string, recurse bool) Lister {
	return &localLister{prefix: prefix, todo: []string{prefix}, recurse: recurse}
}

// Remove implements file.Implementation. Directories are refused; use
// Rmdir or RmdirRecursive for those.
func (*localImpl) Remove(ctx context.Context, path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return localError("remove", path, err)
	}
	if info.IsDir() {
		return errors.E(errors.Invalid, "remove", path, "is a directory")
	}
	if err := os.Remove(path); err != nil {
		return localError("remove", path, err)
	}
	return nil
}

func (*localImpl) Presign(_ context.Context, path, _ string, _ time.Duration) (string, error) {
	return "", errors.E(errors.NotSupported,
		fmt.Sprintf("presign %v: local files not supported", path))
}

// Stat implements file.Implementation
func (impl *localImpl) Stat(ctx context.Context, path string, _ ...Opts) (Info, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, localError("stat", path, err)
	}
	return newLocalInfo(info), nil
}

// Mkdir implements file.Directory. Missing parent directories are created
// with the default permissions; only the leaf must not exist.
func (*localImpl) Mkdir(ctx context.Context, path string, mode os.FileMode, opts ...Opts) error {
	if err := os.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return localError("mkdir", path, err)
	}
	err := os.Mkdir(path, mode.Perm())
	if err == nil {
		return nil
	}
	if os.IsExist(err) && len(opts) > 0 && opts[0].NoStatCheck {
		if info, serr := os.Stat(path); serr == nil && info.IsDir() {
			return nil
		}
	}
	return localError("mkdir", path, err)
}

// Rmdir implements file.Directory.
func (*localImpl) Rmdir(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return localError("rmdir", path, err)
	}
	if !info.IsDir() {
		return errors.E(errors.NotDir, "rmdir", path)
	}
	if err := syscallRmdir(path); err != nil {
		return localError("rmdir", path, err)
	}
	return nil
}

// syscallRmdir removes an empty directory; os.Remove would fall back to
// unlink and lose the ENOTEMPTY from rmdir(2).
func syscallRmdir(path string) error {
	err := syscall.Rmdir(path)
	if err != nil {
		return &fs.PathError{Op: "rmdir", Path: path, Err: err}
	}
	return nil
}

// RmdirRecursive implements file.Directory.
func (*localImpl) RmdirRecursive(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return localError("rmdir", path, err)
	}
	if !info.IsDir() {
		return errors.E(errors.NotDir, "rmdir", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return localError("rmdir", path, err)
	}
	return nil
}

// Rename implements file.Renamer.
func (*localImpl) Rename(ctx context.Context, oldpath, newpath string) error {
	if err := os.Rename(oldpath, newpath); err != nil {
		return localError("rename", oldpath, err)
	}
	return nil
}

// CopyObject implements file.Copier. The destination is replaced
// atomically, like any other file written through Create.
func (impl *localImpl) CopyObject(ctx context.Context, srcpath, dstpath string) (err error) {
	src, err := impl.Open(ctx, srcpath)
	if err != nil {
		return err
	}
	defer CloseAndReport(ctx, src, &err)
	dst, err := impl.Create(ctx, dstpath)
	if err != nil {
		return err
	}
	if _, err = Copy(ctx, dst.Writer(ctx), src.Reader(ctx)); err != nil {
		_ = dst.Discard(ctx)
		return err
	}
	return dst.Close(ctx)
}

func (i *localInfo) Size() int64        { return i.size }
func (i *localInfo) ModTime() time.Time { return i.modTime }
func (i *localInfo) IsDir() bool        { return i.mode.IsDir() }
func (i *localInfo) Mode() os.FileMode  { return i.mode }
func (i *localInfo) ETag() string       { return "" }

// Scan implements Lister.Scan. A recursive scan reports directories as
// entries of their own, like the remote listers do.
func (l *localLister) Scan() bool {
	for {
		if len(l.todo) == 0 || l.err != nil {
			return false
		}
		l.path, l.todo = l.todo[0], l.todo[1:]
		l.info, l.err = os.Stat(l.path)
		if l.err != nil {
			if os.IsNotExist(l.err) && l.path != l.prefix {
				// Removed while we were scanning.
				l.err = nil
				continue
			}
			l.err = localError("list", l.path, l.err)
			return false
		}
		if !l.info.IsDir() {
			return true
		}
		if l.recurse || l.path == l.prefix {
			var paths []string
			paths, l.err = readDirNames(l.path)
			if l.err != nil {
				l.err = localError("list", l.path, l.err)
				return false
			}
			for i := range paths {
				paths[i] = filepath.Join(l.path, paths[i])
			}
			l.todo = append(paths, l.todo...)
		}
		if l.path != l.prefix {
			return true
		}
	}
}

// Path returns the most recent path that was scanned.
func (l *localLister) Path() string {
	return l.path
}

// Info returns the metadata for the most recent path scanned.
func (l *localLister) Info() Info {
	return newLocalInfo(l.info)
}

// IsDir tells whether the most recent path scanned is a directory.
func (l *localLister) IsDir() bool {
	return l.info.IsDir()
}

// Err returns the first error that occurred while scanning.
func (l *localLister) Err() error {
	return l.err
}

// readDirNames reads the directory named by dirname and returns
// a sorted list of directory entries.
func readDirNames(dirname string) ([]string, error) {
	f, err := os.Open(dirname)
	if err != nil {
		return nil, err
	}
	names, err := f.Readdirnames(-1)
	if e := f.Close(); e != nil && err == nil {
		err = e
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// NewLocalImplementation returns a new file.Implementation for the local file system
// that uses Go's native "os" module. This function is only for unittests.
// Applications should use functions such as file.Open, file.Create to access
// the local file system.
func NewLocalImplementation() Implementation { return &localImpl{} }
