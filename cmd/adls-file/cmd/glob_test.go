// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/grailbio/adlsfs/file"
	"github.com/grailbio/adlsfs/file/adlsfile"
	"github.com/grailbio/adlsfs/file/adlsfile/adlstest"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
)

// newADLS registers the "adls" scheme against a fake server and returns the
// root of an empty filesystem.
func newADLS(t *testing.T) string {
	srv := adlstest.NewServer()
	srv.CreateFilesystem("fs")
	helper, err := adlsfile.NewSASHelper(adlsfile.Endpoints{DFS: srv.DFS, Blob: srv.Blob}, "sv=1&sig=test")
	assert.NoError(t, err)
	impl, err := adlsfile.NewImplementation(helper, adlsfile.Options{HTTPClient: srv.Client()})
	assert.NoError(t, err)
	file.RegisterImplementation("adls", func() file.Implementation { return impl })
	t.Cleanup(func() {
		file.UnregisterImplementation("adls")
		srv.Close()
	})
	return "adls://fs"
}

func TestParseGlob(t *testing.T) {
	doParse := func(str string) string {
		prefix, hasGlob := parseGlob(str)
		if !hasGlob {
			return "none"
		}
		return prefix
	}
	assert.EQ(t, "none", doParse("adls://a/b/c"))
	assert.EQ(t, "none", doParse("adls://a/b\\*/c"))
	assert.EQ(t, "adls://a/", doParse("adls://a/b*/c"))
	assert.EQ(t, "adls://a/b/", doParse("adls://a/b/*"))
	assert.EQ(t, "adls://a/", doParse("adls://a/b?"))
	assert.EQ(t, "adls://a/", doParse("adls://a/**/b"))
	assert.EQ(t, "", doParse("**"))
}

func TestExpandGlob(t *testing.T) {
	ctx := context.Background()
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	for _, root := range []string{tmpDir, newADLS(t)} {
		src0Path := file.Join(root, "abc/def/tmp0")
		src1Path := file.Join(root, "abd/efg/hij/tmp1")
		src2Path := file.Join(root, "tmp0")
		assert.NoError(t, file.WriteFile(ctx, src0Path, []byte("a")))
		assert.NoError(t, file.WriteFile(ctx, src1Path, []byte("b")))
		assert.NoError(t, file.WriteFile(ctx, src2Path, []byte("c")))

		doExpand := func(str string) string {
			matches := expandGlob(ctx, root+"/"+str)
			for i := range matches {
				matches[i] = matches[i][len(root)+1:] // remove the root part.
			}
			return strings.Join(matches, ",")
		}

		assert.EQ(t, "abc/def/tmp0", doExpand("abc/*/tmp0"))
		assert.EQ(t, "xxx/yyy", doExpand("xxx/yyy"))
		assert.EQ(t, "xxx/*", doExpand("xxx/*"))
		assert.EQ(t, "abc/def/tmp0", doExpand("a*/*/tmp0"))
		assert.EQ(t, "tmp0", doExpand("tmp*"))
		assert.EQ(t, "abd/efg/hij/tmp1", doExpand("abd/**/tmp*"))
		assert.EQ(t, "abc/def/tmp0,abd/efg/hij/tmp1", doExpand("a*/**/tmp*"))
		assert.EQ(t, "abc/def/tmp0,abd/efg/hij/tmp1,tmp0", doExpand("**"))
	}
}
