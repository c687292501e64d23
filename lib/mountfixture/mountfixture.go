// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mountfixture provides a scoped, composable test fixture for
// treefs: an object store holding a built tree, an overlay, a session
// over both, and optionally a live FUSE mount of that session.
//
// Teardown is registered with t.Cleanup when the fixture is created,
// so it runs on every exit path including t.Fatal. [With] gives the
// same guarantee for a scope narrower than the test.
//
//	fixture := mountfixture.New(t, mountfixture.SampleTree)
//	mountpoint := fixture.Mount(t)
//	content, err := os.ReadFile(filepath.Join(mountpoint, "hello"))
package mountfixture

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/treefs/lib/clock"
	"github.com/bureau-foundation/treefs/lib/fuse"
	"github.com/bureau-foundation/treefs/lib/objectstore"
	"github.com/bureau-foundation/treefs/lib/overlay"
	"github.com/bureau-foundation/treefs/lib/session"
	"github.com/bureau-foundation/treefs/lib/testutil"
)

// Epoch is the fixture clock's starting time and therefore the mount
// time reported for lazy inodes.
var Epoch = time.Unix(1_735_689_600, 0) // 2025-01-01T00:00:00Z

// BuildFunc populates the backing tree.
type BuildFunc func(builder *objectstore.TreeBuilder) error

// SampleTree builds adir/file = "foo!\n", hello = "hola\n" and the
// symlink slink -> hello.
func SampleTree(builder *objectstore.TreeBuilder) error {
	return errors.Join(
		builder.AddFile("adir/file", []byte("foo!\n"), false),
		builder.AddFile("hello", []byte("hola\n"), false),
		builder.AddSymlink("slink", "hello"),
	)
}

// Fixture is one store, overlay and session, plus an optional mount.
type Fixture struct {
	// Store holds the backing objects.
	Store *objectstore.Store

	// Root is the hash of the built tree.
	Root objectstore.Hash

	// Overlay is the current session's overlay.
	Overlay *overlay.Overlay

	// Session is the current session. Reopen replaces it.
	Session *session.Session

	// Clock drives overlay modification times.
	Clock *clock.FakeClock

	// Mountpoint is set while a mount is live.
	Mountpoint string

	overlayDir string
	mountDir   string

	mu     sync.Mutex
	server *gofuse.Server
	closed bool
}

// New builds a store from build, opens an overlay and session over
// it, and registers teardown with t.Cleanup.
func New(t testing.TB, build BuildFunc) *Fixture {
	t.Helper()
	base := t.TempDir()

	store, err := objectstore.NewStore(filepath.Join(base, "store"), objectstore.Options{})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	builder := objectstore.NewTreeBuilder(store)
	if build != nil {
		if err := build(builder); err != nil {
			t.Fatalf("building tree: %v", err)
		}
	}
	root, err := builder.Write()
	if err != nil {
		t.Fatalf("writing tree: %v", err)
	}

	fixture := &Fixture{
		Store:      store,
		Root:       root,
		Clock:      clock.Fake(Epoch),
		overlayDir: filepath.Join(base, "overlay"),
		mountDir:   filepath.Join(base, "mount"),
	}
	fixture.open(t)
	t.Cleanup(func() {
		if err := fixture.Close(); err != nil {
			t.Errorf("closing fixture: %v", err)
		}
	})
	return fixture
}

// With runs body against a fresh fixture and tears it down when body
// returns, fails or panics.
func With(t testing.TB, build BuildFunc, body func(fixture *Fixture)) {
	t.Helper()
	fixture := New(t, build)
	defer func() {
		if err := fixture.Close(); err != nil {
			t.Errorf("closing fixture: %v", err)
		}
	}()
	body(fixture)
}

func (f *Fixture) open(t testing.TB) {
	t.Helper()
	ov, err := overlay.Open(f.overlayDir, f.Clock)
	if err != nil {
		t.Fatalf("opening overlay: %v", err)
	}
	s, err := session.Open(session.Config{
		Store:   f.Store,
		Overlay: ov,
		Root:    f.Root,
		Clock:   f.Clock,
		Logger:  slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("opening session: %v", err)
	}
	f.Overlay = ov
	f.Session = s
}

// Mount mounts the current session and returns the mountpoint. The
// test is skipped when FUSE is unavailable. A second call returns the
// existing mountpoint.
func (f *Fixture) Mount(t testing.TB) string {
	t.Helper()
	testutil.RequireFUSE(t)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		t.Fatalf("Mount on a closed fixture")
	}
	if f.server != nil {
		return f.Mountpoint
	}
	server, err := fuse.Mount(fuse.Options{
		Mountpoint: f.mountDir,
		Session:    f.Session,
		Logger:     slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("mounting: %v", err)
	}
	f.server = server
	f.Mountpoint = f.mountDir
	return f.Mountpoint
}

// Reopen discards the current session and opens a new one over the
// same store and overlay directory. A live mount is unmounted first and
// remounted over the new session.
func (f *Fixture) Reopen(t testing.TB) *session.Session {
	t.Helper()
	f.mu.Lock()
	mounted := f.server != nil
	err := f.unmountLocked()
	f.mu.Unlock()
	if err != nil {
		t.Fatalf("unmounting before reopen: %v", err)
	}

	f.open(t)
	if mounted {
		f.Mount(t)
	}
	return f.Session
}

// Close unmounts a live mount. It is idempotent.
func (f *Fixture) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.unmountLocked()
}

func (f *Fixture) unmountLocked() error {
	if f.server == nil {
		return nil
	}
	server := f.server
	f.server = nil
	f.Mountpoint = ""
	return server.Unmount()
}
