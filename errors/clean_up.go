// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package errors

import (
	"context"
	"fmt"
)

// CleanUp is defer-able syntactic sugar that calls f and reports an error, if any,
// to *err. Pass the caller's named return error. Example usage:
//
//	func put(ctx context.Context, path string) (err error) {
//	  f, err := file.Create(ctx, path)
//	  if err != nil { ... }
//	  defer errors.CleanUpCtx(ctx, f.Close, &err)
//	  ...
//	}
//
// If the caller returns with its own error, any error from cleanUp is
// appended to its message rather than chained as its cause.
func CleanUp(cleanUp func() error, dst *error) {
	addErr(cleanUp(), dst)
}

// CleanUpCtx is CleanUp for a context-ful cleanUp.
func CleanUpCtx(ctx context.Context, cleanUp func(context.Context) error, dst *error) {
	addErr(cleanUp(ctx), dst)
}

func addErr(err2 error, dst *error) {
	if err2 == nil {
		return
	}
	if *dst == nil {
		*dst = err2
		return
	}
	*dst = E(*dst, fmt.Sprintf("second error in cleanup: %v", err2))
}
