// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package errors

import "syscall"

// Errno returns the POSIX error number that best describes err. It
// returns 0 for a nil error and EIO for errors whose kind has no closer
// equivalent.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	if errno, ok := kindErrno[KindOf(err)]; ok {
		return errno
	}
	return errnoIO
}
