// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

//go:build unix

package errors

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const errnoIO = unix.EIO

var kindErrno = map[Kind]syscall.Errno{
	Canceled:     unix.ECANCELED,
	Timeout:      unix.ETIMEDOUT,
	NotExist:     unix.ENOENT,
	NotAllowed:   unix.EACCES,
	NotSupported: unix.ENOTSUP,
	Exists:       unix.EEXIST,
	Invalid:      unix.EINVAL,
	Precondition: unix.EINVAL,
	NotEmpty:     unix.ENOTEMPTY,
	NotDir:       unix.ENOTDIR,
}
