// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

//go:build !unix

package errors

import "syscall"

const errnoIO = syscall.EIO

var kindErrno = map[Kind]syscall.Errno{
	NotExist:     syscall.ENOENT,
	NotAllowed:   syscall.EACCES,
	Exists:       syscall.EEXIST,
	Invalid:      syscall.EINVAL,
	Precondition: syscall.EINVAL,
	NotEmpty:     syscall.ENOTEMPTY,
	NotDir:       syscall.ENOTDIR,
}
