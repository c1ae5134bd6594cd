// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package grail

import (
	"github.com/grailbio/adlsfs/log"
	"v.io/x/lib/vlog"
)

// VlogOutputter implements log.Outputter backed by vlog. It is installed
// when the log format is "vlog"; vlog's own flags (-v, -log_dir, ...)
// then control verbosity and destination.
type VlogOutputter struct{}

func (VlogOutputter) Level() log.Level {
	if vlog.V(1) {
		return log.Debug
	}
	return log.Info
}

func (VlogOutputter) Output(calldepth int, level log.Level, s string) error {
	// Notice that we do not add 1 to the call depth. In vlog, 0 depth means
	// that the caller's file/line will be used. This is different from the log
	// package, where that's the behavior you get with depth 1.
	switch level {
	case log.Off:
	case log.Error:
		vlog.ErrorDepth(calldepth, s)
	case log.Info:
		vlog.InfoDepth(calldepth, s)
	default:
		vlog.VI(vlog.Level(level)).InfoDepth(calldepth, s)
	}
	return nil
}
