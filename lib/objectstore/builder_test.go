// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"testing"
)

// readPath walks a slash path from root and returns the final entry.
func readPath(t *testing.T, store *Store, root Hash, path ...string) TreeEntry {
	t.Helper()
	current := TreeEntry{Name: "", Type: TypeDirectory, Hash: root}
	for _, name := range path {
		if current.Type != TypeDirectory {
			t.Fatalf("%s: parent is a %s", name, current.Type)
		}
		entries, err := store.ReadTree(current.Hash)
		if err != nil {
			t.Fatalf("ReadTree(%s): %v", name, err)
		}
		entry, ok := FindEntry(entries, name)
		if !ok {
			t.Fatalf("%s not found", name)
		}
		current = entry
	}
	return current
}

func readBlobString(t *testing.T, store *Store, hash Hash) string {
	t.Helper()
	data, err := store.ReadBlob(hash)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	return string(data)
}

func TestTreeBuilder(t *testing.T) {
	store := newTestStore(t, Options{})
	builder := NewTreeBuilder(store)

	if err := builder.AddFile("adir/file", []byte("foo!\n"), false); err != nil {
		t.Fatal(err)
	}
	if err := builder.AddFile("hello", []byte("hola\n"), false); err != nil {
		t.Fatal(err)
	}
	if err := builder.AddFile("bin/tool", []byte("#!/bin/sh\n"), true); err != nil {
		t.Fatal(err)
	}
	if err := builder.AddSymlink("slink", "hello"); err != nil {
		t.Fatal(err)
	}
	if err := builder.AddDirectory("empty/nested"); err != nil {
		t.Fatal(err)
	}
	root, err := builder.Write()
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := store.ReadTree(root)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	want := []string{"adir", "bin", "empty", "hello", "slink"}
	if len(names) != len(want) {
		t.Fatalf("root entries = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("root entries = %v, want %v", names, want)
		}
	}

	if entry := readPath(t, store, root, "adir", "file"); entry.Type != TypeFile || readBlobString(t, store, entry.Hash) != "foo!\n" {
		t.Errorf("adir/file = %+v", entry)
	}
	if entry := readPath(t, store, root, "bin", "tool"); entry.Type != TypeExecutable {
		t.Errorf("bin/tool type = %s, want executable", entry.Type)
	}
	if entry := readPath(t, store, root, "slink"); entry.Type != TypeSymlink || readBlobString(t, store, entry.Hash) != "hello" {
		t.Errorf("slink = %+v", entry)
	}
	if entry := readPath(t, store, root, "empty", "nested"); entry.Type != TypeDirectory {
		t.Errorf("empty/nested type = %s", entry.Type)
	}
}

func TestTreeBuilderDeterministic(t *testing.T) {
	store := newTestStore(t, Options{})
	build := func(order []string) Hash {
		builder := NewTreeBuilder(store)
		for _, path := range order {
			if err := builder.AddFile(path, []byte(path), false); err != nil {
				t.Fatal(err)
			}
		}
		root, err := builder.Write()
		if err != nil {
			t.Fatal(err)
		}
		return root
	}
	first := build([]string{"a/b", "c", "a/d"})
	second := build([]string{"a/d", "c", "a/b"})
	if first != second {
		t.Error("insertion order changed the root hash")
	}
}

func TestTreeBuilderConflicts(t *testing.T) {
	store := newTestStore(t, Options{})
	builder := NewTreeBuilder(store)
	if err := builder.AddFile("a/file", []byte("x"), false); err != nil {
		t.Fatal(err)
	}

	if err := builder.AddFile("a/file", []byte("y"), false); err == nil {
		t.Error("adding the same path twice succeeded")
	}
	if err := builder.AddFile("a", []byte("y"), false); err == nil {
		t.Error("adding a file over a directory succeeded")
	}
	if err := builder.AddFile("a/file/under", []byte("y"), false); err == nil {
		t.Error("adding beneath a file succeeded")
	}
	if err := builder.AddDirectory("a/file"); err == nil {
		t.Error("adding a directory over a file succeeded")
	}
	if err := builder.AddDirectory("a"); err != nil {
		t.Errorf("re-adding an existing directory: %v", err)
	}
	for _, bad := range []string{"", "/", "a/../b", "a//b", "./a"} {
		if err := builder.AddFile(bad, nil, false); err == nil {
			t.Errorf("AddFile(%q) succeeded", bad)
		}
	}
	if err := builder.AddEntry("typed", 0, HashBlob(nil)); err == nil {
		t.Error("AddEntry with type 0 succeeded")
	}
}

func TestTreeBuilderSubtree(t *testing.T) {
	store := newTestStore(t, Options{})
	inner := NewTreeBuilder(store)
	if err := inner.AddFile("leaf", []byte("leaf"), false); err != nil {
		t.Fatal(err)
	}
	subtree, err := inner.Write()
	if err != nil {
		t.Fatal(err)
	}

	outer := NewTreeBuilder(store)
	if err := outer.AddEntry("vendor/sub", TypeDirectory, subtree); err != nil {
		t.Fatal(err)
	}
	root, err := outer.Write()
	if err != nil {
		t.Fatal(err)
	}
	if entry := readPath(t, store, root, "vendor", "sub", "leaf"); readBlobString(t, store, entry.Hash) != "leaf" {
		t.Error("subtree content not reachable")
	}
}
