// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package file_test

import (
	"context"
	"fmt"
	"os"

	"github.com/grailbio/adlsfs/file"
)

// Example_localfile is an example of basic read, write and directory
// operations on the local file system. The same calls work on adls://
// paths once the adls implementation is registered.
func Example_localfile() {
	ctx := context.Background()
	dir, err := os.MkdirTemp("", "example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	if err := file.Mkdir(ctx, file.Join(dir, "in"), 0755); err != nil {
		panic(err)
	}
	path := file.Join(dir, "in", "foohah.txt")
	if err := file.WriteFile(ctx, path, []byte("Blue box jumped over red bat")); err != nil {
		panic(err)
	}
	moved := file.Join(dir, "out.txt")
	if err := file.Rename(ctx, path, moved); err != nil {
		panic(err)
	}
	data, err := file.ReadFile(ctx, moved)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Got: %s\n", data)
	if err := file.Rmdir(ctx, file.Join(dir, "in")); err != nil {
		panic(err)
	}
	// Output:
	// Got: Blue box jumped over red bat
}
