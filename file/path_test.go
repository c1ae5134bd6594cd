// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package file_test

import (
	"fmt"
	"testing"

	"github.com/grailbio/adlsfs/file"
	"github.com/grailbio/testutil/expect"
)

func TestJoin(t *testing.T) {
	tests := []struct {
		elems []string
		want  string
	}{
		{
			[]string{"foo/"}, // trailing separator removed from first element.
			"foo",
		},
		{
			[]string{"foo", "bar"}, // join adds separator
			"foo/bar",
		},
		{
			[]string{"foo", "bar/"}, // trailing separator removed from second element.
			"foo/bar",
		},
		{
			[]string{"/foo", "bar"}, // leading separator is retained in first element.
			"/foo/bar",
		},
		{
			[]string{"foo/", "bar"}, // trailing separator removed before join.
			"foo/bar",
		},
		{
			[]string{"foo/", "/bar"}, // all separators removed before join.
			"foo/bar",
		},
		{
			[]string{"foo/", "/bar", "baz"}, // all separators removed before join.
			"foo/bar/baz",
		},
		{
			[]string{"foo/", "bar", "/baz"}, // all separators removed before join.
			"foo/bar/baz",
		},
		{
			[]string{"http://foo/", "/bar"}, // separators inside the element are retained.
			"http://foo/bar",
		},
		{
			[]string{"adls://", "fs"},
			"adls://fs",
		},
		{
			[]string{"adls://fs/", "/dir", "f.txt"},
			"adls://fs/dir/f.txt",
		},
	}
	for i, test := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			expect.EQ(t, file.Join(test.elems...), test.want)
		})
	}
}

func TestParsePath(t *testing.T) {
	scheme, suffix, err := file.ParsePath("adls://fs/dir/f.txt")
	expect.NoError(t, err)
	expect.EQ(t, scheme, "adls")
	expect.EQ(t, suffix, "fs/dir/f.txt")

	scheme, suffix, err = file.ParsePath("dir/f.txt")
	expect.NoError(t, err)
	expect.EQ(t, scheme, "")
	expect.EQ(t, suffix, "dir/f.txt")

	_, _, err = file.ParsePath("adls:/fs")
	expect.True(t, err != nil)
}

func TestDirBase(t *testing.T) {
	for _, test := range []struct {
		path, dir, base string
	}{
		{"adls://fs/dir/f.txt", "adls://fs/dir", "f.txt"},
		{"adls://fs/dir", "adls://fs", "dir"},
		{"adls://fs", "adls://", "fs"},
		{"adls://", "adls://", "adls://"},
	} {
		expect.EQ(t, file.Dir(test.path), test.dir)
		expect.EQ(t, file.Base(test.path), test.base)
	}
}

func TestIsRoot(t *testing.T) {
	expect.True(t, file.IsRoot("adls://"))
	expect.True(t, file.IsRoot("adls:///"))
	expect.False(t, file.IsRoot("adls://fs"))
	expect.False(t, file.IsRoot("/tmp"))
}
