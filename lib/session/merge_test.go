// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"testing"

	"github.com/bureau-foundation/treefs/lib/inode"
	"github.com/bureau-foundation/treefs/lib/objectstore"
	"github.com/bureau-foundation/treefs/lib/overlay"
)

func TestMerge(t *testing.T) {
	listing := inode.Listing{
		Backing: []objectstore.TreeEntry{
			{Name: "b", Type: objectstore.TypeFile},
			{Name: "d", Type: objectstore.TypeDirectory},
			{Name: "gone", Type: objectstore.TypeFile},
			{Name: "link", Type: objectstore.TypeSymlink},
			{Name: "run", Type: objectstore.TypeExecutable},
		},
		Overlay: []overlay.Record{
			{Path: "x/a", Kind: overlay.KindFile},
			// Shadows the backing directory with a file.
			{Path: "x/d", Kind: overlay.KindFile},
			{Path: "x/z", Kind: overlay.KindSymlink},
		},
		Tombstoned: map[string]bool{"gone": true},
	}

	want := []DirEntry{
		{"a", TypeRegular},
		{"b", TypeRegular},
		{"d", TypeRegular},
		{"link", TypeSymlink},
		{"run", TypeRegular},
		{"z", TypeSymlink},
	}
	got := merge(listing)
	if len(got) != len(want) {
		t.Fatalf("merge = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMergeEmpty(t *testing.T) {
	got := merge(inode.Listing{Tombstoned: map[string]bool{}})
	if got == nil || len(got) != 0 {
		t.Errorf("merge(empty) = %#v, want empty non-nil", got)
	}
}

func TestAttributesModes(t *testing.T) {
	tests := []struct {
		attributes Attributes
		statMode   uint32
		fileMode   string
	}{
		{Attributes{Type: TypeDirectory, Mode: 0o755}, 0o040755, "drwxr-xr-x"},
		{Attributes{Type: TypeRegular, Mode: 0o644}, 0o100644, "-rw-r--r--"},
		{Attributes{Type: TypeSymlink, Mode: 0o777}, 0o120777, "Lrwxrwxrwx"},
	}
	for _, test := range tests {
		if got := test.attributes.StatMode(); got != test.statMode {
			t.Errorf("%s StatMode = %o, want %o", test.attributes.Type, got, test.statMode)
		}
		if got := test.attributes.FileMode().String(); got != test.fileMode {
			t.Errorf("%s FileMode = %s, want %s", test.attributes.Type, got, test.fileMode)
		}
	}
}
