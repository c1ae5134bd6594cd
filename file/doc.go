// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package file provides basic file operations across multiple file-system
// types. It is designed for use in applications that operate uniformly on
// local files and Azure Data Lake Storage Gen2 accounts.
//
// # Overview
//
// This package defines two key interfaces, Implementation and File.
//
// - Implementation provides filesystem operations, such as Open, Remove, and List
// (directory walking).
//
// - File implements operations on a file. It is created by
// Implementation.{Open,Create} calls. File is similar to go's os.File object
// but provides limited functionality.
//
// Stores with a hierarchical namespace additionally implement the optional
// interfaces Dir, Renamer, Copier and Metadata. The package-level helpers
// (Mkdir, Rmdir, RmdirRecursive, Rename, CopyObject, GetFileMetadata and
// SetFileMetadata) return an error of kind errors.NotSupported when the
// store behind a path lacks the capability.
//
// # Reading and writing files
//
// The following snippet registers the adls implementation, then writes and
// reads a file.
//
//	import (
//	 "context"
//	 "io"
//
//	 "github.com/grailbio/adlsfs/config"
//	 "github.com/grailbio/adlsfs/file"
//	 "github.com/grailbio/adlsfs/file/adlsfile"
//	)
//
//	func main() {
//	  ctx := context.Background()
//	  cfg, err := config.Load("")
//	  impl, err := cfg.Implementation(ctx, nil)
//	  file.RegisterImplementation(adlsfile.Scheme, func() file.Implementation { return impl })
//
//	  f, err := file.Create(ctx, "adls://myfs/tmp/test.txt")
//	  _, err = f.Writer(ctx).Write([]byte("Hello"))
//	  err = f.Close(ctx)
//
//	  f, err = file.Open(ctx, "adls://myfs/tmp/test.txt")
//	  data, err := io.ReadAll(f.Reader(ctx))
//	  err = f.Close(ctx)
//	}
//
// A File object does not implement an io.Reader or io.Writer directly.
// Instead, you must call File.Reader or File.Writer to start reading or
// writing. These methods are split from the File itself so that an
// application can pass different contexts to different I/O operations.
//
// # Pathname utility functions
//
// Functions file.Base, file.Dir, file.Join work just like
// filepath.{Base,Dir,Join}, except that they handle the URL pathnames
// properly. For example, file.Join("adls://fs", "bar") will return
// "adls://fs/bar", whereas filepath.Join("adls://fs", "bar") would return
// "adls:/fs/bar".
//
// # Registering a filesystem implementation
//
// Function RegisterImplementation associates an implementation to a scheme.
// A local file system implementation is automatically available for paths
// without a scheme. Once an implementation is registered, the files for that
// scheme can be opened or created using "scheme://name" pathnames.
//
// # Differences from the os package
//
// - Mutations to a File are restricted to whole-file writes. There is no option
// to overwrite a part of an existing file.
//
// - All the operations take a context parameter.
//
// - file.File does not implement io.Reader nor io.Writer directly. One must
// call File.Reader or File.Writer methods to obtains a reader or writer object.
//
// # Concurrency
//
// The Implementation and File provide an open-close consistency. Operations
// such as Implementation.{Stat,Remove,List} and Lister.Scan form a singleton
// fileop. Implementations may cache metadata; Stat with Opts.NoCache reads
// through the cache.
//
// Caution: a local file system on NFS (w/o cache leasing) doesn't provide this
// guarantee.  Use NFS at your own risk.
package file
