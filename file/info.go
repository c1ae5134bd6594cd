// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package file

import (
	"os"
	"time"
)

// Info represents file metadata.
type Info interface {
	// Size returns the length of the file in bytes for regular files; zero
	// for directories.
	Size() int64
	// ModTime returns the modification time, or the zero time when the
	// store did not report one.
	ModTime() time.Time
	// IsDir tells whether the entry is a directory.
	IsDir() bool
	// Mode returns the type and permission bits. Stores that do not report
	// permissions return only os.ModeDir (or 0).
	Mode() os.FileMode
	// ETag returns the store's version identifier, or "".
	ETag() string
}
