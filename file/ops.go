// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package file

import (
	"context"
	"os"

	"github.com/grailbio/adlsfs/errors"
)

// The interfaces below are optional capabilities. An Implementation
// backed by a hierarchical store implements some or all of them; the
// package-level helpers return an error of kind errors.NotSupported when
// the implementation for a path does not.

// Directory is implemented by stores with real directories.
type Directory interface {
	// Mkdir creates a directory. Only the permission bits of mode are
	// used. Mkdir returns errors.Exists if the path already exists,
	// unless opts.NoStatCheck is set.
	Mkdir(ctx context.Context, path string, mode os.FileMode, opts ...Opts) error
	// Rmdir removes an empty directory. It returns errors.NotEmpty if the
	// directory has entries and errors.NotDir if path is not a directory.
	Rmdir(ctx context.Context, path string) error
	// RmdirRecursive removes a directory and everything below it.
	RmdirRecursive(ctx context.Context, path string) error
}

// Renamer is implemented by stores with an atomic (or server-side) rename.
type Renamer interface {
	Rename(ctx context.Context, oldpath, newpath string) error
}

// Copier is implemented by stores that can copy an object without
// moving its bytes through the client.
type Copier interface {
	CopyObject(ctx context.Context, srcpath, dstpath string) error
}

// MetadataOpts qualifies a SetFileMetadata call.
type MetadataOpts struct {
	// Recursive applies an access-control change to a whole tree.
	Recursive bool
	// Mode is the recursive access-control mode: "set", "modify" or
	// "remove". It is required when Recursive is set.
	Mode string
}

// Metadata is implemented by stores that expose per-object metadata
// domains (for example HTTP properties and access control lists).
type Metadata interface {
	GetFileMetadata(ctx context.Context, path, domain string) (map[string]string, error)
	SetFileMetadata(ctx context.Context, path, domain string, md map[string]string, opts MetadataOpts) error
}

// Mkdir is a shortcut for finding the implementation of path and
// calling its Mkdir method.
func Mkdir(ctx context.Context, path string, mode os.FileMode, opts ...Opts) error {
	impl, err := findImpl(path)
	if err != nil {
		return err
	}
	d, ok := impl.(Directory)
	if !ok {
		return notSupported(impl, "mkdir", path)
	}
	return d.Mkdir(ctx, path, mode, opts...)
}

// Rmdir removes the empty directory at path.
func Rmdir(ctx context.Context, path string) error {
	impl, err := findImpl(path)
	if err != nil {
		return err
	}
	d, ok := impl.(Directory)
	if !ok {
		return notSupported(impl, "rmdir", path)
	}
	return d.Rmdir(ctx, path)
}

// RmdirRecursive removes the directory at path and its contents.
func RmdirRecursive(ctx context.Context, path string) error {
	impl, err := findImpl(path)
	if err != nil {
		return err
	}
	d, ok := impl.(Directory)
	if !ok {
		return notSupported(impl, "rmdir", path)
	}
	return d.RmdirRecursive(ctx, path)
}

// Rename renames oldpath to newpath. Both paths must belong to the same
// implementation.
func Rename(ctx context.Context, oldpath, newpath string) error {
	impl, err := sameImpl(oldpath, newpath)
	if err != nil {
		return err
	}
	r, ok := impl.(Renamer)
	if !ok {
		return notSupported(impl, "rename", oldpath)
	}
	return r.Rename(ctx, oldpath, newpath)
}

// CopyObject copies srcpath to dstpath on the server side.
func CopyObject(ctx context.Context, srcpath, dstpath string) error {
	impl, err := sameImpl(srcpath, dstpath)
	if err != nil {
		return err
	}
	c, ok := impl.(Copier)
	if !ok {
		return notSupported(impl, "copy", srcpath)
	}
	return c.CopyObject(ctx, srcpath, dstpath)
}

// GetFileMetadata returns the metadata of path in the given domain.
func GetFileMetadata(ctx context.Context, path, domain string) (map[string]string, error) {
	impl, err := findImpl(path)
	if err != nil {
		return nil, err
	}
	m, ok := impl.(Metadata)
	if !ok {
		return nil, notSupported(impl, "getmetadata", path)
	}
	return m.GetFileMetadata(ctx, path, domain)
}

// SetFileMetadata updates the metadata of path in the given domain.
func SetFileMetadata(ctx context.Context, path, domain string, md map[string]string, opts MetadataOpts) error {
	impl, err := findImpl(path)
	if err != nil {
		return err
	}
	m, ok := impl.(Metadata)
	if !ok {
		return notSupported(impl, "setmetadata", path)
	}
	return m.SetFileMetadata(ctx, path, domain, md, opts)
}

func sameImpl(a, b string) (Implementation, error) {
	implA, err := findImpl(a)
	if err != nil {
		return nil, err
	}
	implB, err := findImpl(b)
	if err != nil {
		return nil, err
	}
	if implA != implB {
		return nil, errors.E(errors.NotSupported, "paths", a, "and", b, "belong to different filesystems")
	}
	return implA, nil
}

func notSupported(impl Implementation, op, path string) error {
	return errors.E(errors.NotSupported, op, path, "not implemented by", impl.String())
}
