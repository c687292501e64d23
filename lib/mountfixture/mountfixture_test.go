// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mountfixture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/treefs/lib/objectstore"
)

func TestNewSampleTree(t *testing.T) {
	fixture := New(t, SampleTree)

	entries, err := fixture.Session.Readdir("")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[0].Name != "adir" || entries[1].Name != "hello" || entries[2].Name != "slink" {
		t.Fatalf("Readdir = %+v", entries)
	}
	attributes, err := fixture.Session.Getattr("hello")
	if err != nil {
		t.Fatal(err)
	}
	if !attributes.ModTime.Equal(Epoch) {
		t.Errorf("mtime = %v, want %v", attributes.ModTime, Epoch)
	}
}

func TestNewEmptyTree(t *testing.T) {
	fixture := New(t, nil)
	entries, err := fixture.Session.Readdir("")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Readdir on empty tree = %+v", entries)
	}
}

func TestReopenKeepsOverlay(t *testing.T) {
	fixture := New(t, SampleTree)
	first := fixture.Session
	if err := first.WriteFile("notinrepo", []byte("created\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := first.Unlink("hello"); err != nil {
		t.Fatal(err)
	}

	second := fixture.Reopen(t)
	if second == first {
		t.Fatal("Reopen returned the same session")
	}
	content, err := second.ReadFile("notinrepo")
	if err != nil || string(content) != "created\n" {
		t.Errorf("notinrepo after reopen = %q, %v", content, err)
	}
	if _, err := second.Getattr("hello"); err == nil {
		t.Error("tombstoned hello visible after reopen")
	}
}

func TestWithClosesOnReturn(t *testing.T) {
	var captured *Fixture
	With(t, func(builder *objectstore.TreeBuilder) error {
		return builder.AddFile("only", []byte("x"), false)
	}, func(fixture *Fixture) {
		captured = fixture
		if _, err := fixture.Session.Getattr("only"); err != nil {
			t.Errorf("Getattr(only): %v", err)
		}
	})
	if !captured.closed {
		t.Error("With did not close the fixture")
	}
	if err := captured.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestMountServesSampleTree(t *testing.T) {
	fixture := New(t, SampleTree)
	mountpoint := fixture.Mount(t)
	if again := fixture.Mount(t); again != mountpoint {
		t.Errorf("second Mount = %q, want %q", again, mountpoint)
	}

	content, err := os.ReadFile(filepath.Join(mountpoint, "adir", "file"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "foo!\n" {
		t.Errorf("adir/file = %q", content)
	}

	if err := os.WriteFile(filepath.Join(mountpoint, "new"), []byte("n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fixture.Reopen(t)
	if fixture.Mountpoint != mountpoint {
		t.Fatalf("Reopen did not remount at %q", mountpoint)
	}
	content, err = os.ReadFile(filepath.Join(mountpoint, "new"))
	if err != nil || string(content) != "n" {
		t.Errorf("new after remount = %q, %v", content, err)
	}
}
