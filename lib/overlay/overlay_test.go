// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/treefs/lib/clock"
	"github.com/bureau-foundation/treefs/lib/codec"
	"github.com/bureau-foundation/treefs/lib/vfserr"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestOverlay(t *testing.T) (*Overlay, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(epoch)
	overlay, err := Open(t.TempDir(), fake)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return overlay, fake
}

func TestCreateAndStat(t *testing.T) {
	overlay, _ := openTestOverlay(t)

	record, err := overlay.Create("notinrepo", KindFile, 0o644, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if record.Size != 0 || record.Kind != KindFile || record.Mode != 0o644 {
		t.Errorf("Create returned %+v", record)
	}
	if !record.ModTime.Equal(epoch) {
		t.Errorf("ModTime = %v, want %v", record.ModTime, epoch)
	}

	stat, err := overlay.Stat("notinrepo")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stat.Path != "notinrepo" || stat.Name() != "notinrepo" {
		t.Errorf("Stat = %+v", stat)
	}
	if !overlay.Exists("notinrepo") {
		t.Error("Exists = false")
	}
}

func TestCreateConflict(t *testing.T) {
	overlay, _ := openTestOverlay(t)
	if _, err := overlay.Create("a", KindFile, 0o644, ""); err != nil {
		t.Fatal(err)
	}
	_, err := overlay.Create("a", KindDirectory, 0o755, "")
	if !errors.Is(err, vfserr.ErrConflictingCreate) {
		t.Fatalf("second Create = %v, want ErrConflictingCreate", err)
	}
	record, err := overlay.Stat("a")
	if err != nil || record.Kind != KindFile {
		t.Errorf("conflicting create altered the record: %+v, %v", record, err)
	}
}

func TestConcurrentCreateHasOneWinner(t *testing.T) {
	overlay, _ := openTestOverlay(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for range 16 {
		wg.Go(func() {
			_, err := overlay.Create("race", KindFile, 0o644, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, vfserr.ErrConflictingCreate):
				conflicts++
			default:
				t.Errorf("Create: %v", err)
			}
		})
	}
	wg.Wait()
	if winners != 1 || conflicts != 15 {
		t.Errorf("winners = %d, conflicts = %d", winners, conflicts)
	}
}

func TestWriteReadTruncate(t *testing.T) {
	overlay, fake := openTestOverlay(t)
	if _, err := overlay.Create("f", KindFile, 0o644, ""); err != nil {
		t.Fatal(err)
	}

	fake.Advance(time.Minute)
	size, err := overlay.Write("f", 0, []byte("created\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if size != 8 {
		t.Errorf("Write size = %d, want 8", size)
	}
	record, _ := overlay.Stat("f")
	if !record.ModTime.Equal(epoch.Add(time.Minute)) {
		t.Errorf("Write did not advance mtime: %v", record.ModTime)
	}

	data, err := overlay.Read("f", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "created\n" {
		t.Errorf("Read = %q", data)
	}
	data, err = overlay.Read("f", 3, 2)
	if err != nil || string(data) != "at" {
		t.Errorf("Read(3, 2) = %q, %v", data, err)
	}
	data, err = overlay.Read("f", 100, 10)
	if err != nil || len(data) != 0 {
		t.Errorf("Read past end = %q, %v", data, err)
	}

	// Writing past the end leaves a zero-filled hole.
	size, err = overlay.Write("f", 10, []byte("!"))
	if err != nil || size != 11 {
		t.Fatalf("sparse Write = %d, %v", size, err)
	}
	data, _ = overlay.Read("f", 0, 11)
	if !bytes.Equal(data, []byte("created\n\x00\x00!")) {
		t.Errorf("after sparse write = %q", data)
	}

	// Overwriting inside the file keeps the size.
	size, err = overlay.Write("f", 0, []byte("C"))
	if err != nil || size != 11 {
		t.Errorf("inner Write = %d, %v", size, err)
	}

	if err := overlay.Truncate("f", 4); err != nil {
		t.Fatal(err)
	}
	record, _ = overlay.Stat("f")
	if record.Size != 4 {
		t.Errorf("size after truncate = %d", record.Size)
	}
	data, _ = overlay.Read("f", 0, 100)
	if string(data) != "Crea" {
		t.Errorf("after truncate = %q", data)
	}
	if err := overlay.Truncate("f", 6); err != nil {
		t.Fatal(err)
	}
	data, _ = overlay.Read("f", 0, 100)
	if !bytes.Equal(data, []byte("Crea\x00\x00")) {
		t.Errorf("after extending truncate = %q", data)
	}
	if err := overlay.Truncate("f", -1); err == nil {
		t.Error("negative truncate succeeded")
	}
}

func TestKindMismatch(t *testing.T) {
	overlay, _ := openTestOverlay(t)
	if _, err := overlay.Create("d", KindDirectory, 0o755, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := overlay.Create("l", KindSymlink, 0o777, "target"); err != nil {
		t.Fatal(err)
	}

	if _, err := overlay.Write("d", 0, []byte("x")); !errors.Is(err, vfserr.ErrIsDirectory) {
		t.Errorf("Write(dir) = %v, want ErrIsDirectory", err)
	}
	if _, err := overlay.Read("l", 0, 1); !errors.Is(err, vfserr.ErrNotAFile) {
		t.Errorf("Read(symlink) = %v, want ErrNotAFile", err)
	}
	record, err := overlay.Stat("l")
	if err != nil || record.Target != "target" || record.Size != 6 {
		t.Errorf("symlink record = %+v, %v", record, err)
	}
	if _, err := os.Stat(overlay.DataPath("l")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("symlink has a data file: %v", err)
	}
}

func TestMissingPath(t *testing.T) {
	overlay, _ := openTestOverlay(t)
	checks := map[string]error{}
	_, checks["Stat"] = overlay.Stat("nope")
	_, checks["Read"] = overlay.Read("nope", 0, 1)
	_, checks["Write"] = overlay.Write("nope", 0, nil)
	checks["Truncate"] = overlay.Truncate("nope", 0)
	checks["SetMode"] = overlay.SetMode("nope", 0o600)
	checks["Remove"] = overlay.Remove("nope")
	for name, err := range checks {
		if !errors.Is(err, vfserr.ErrNotFound) {
			t.Errorf("%s(missing) = %v, want ErrNotFound", name, err)
		}
	}
}

func TestPopulate(t *testing.T) {
	overlay, _ := openTestOverlay(t)
	record, err := overlay.Populate("hello", KindFile, 0o755, []byte("hola\n"))
	if err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if record.Size != 5 || record.Mode != 0o755 {
		t.Errorf("Populate returned %+v", record)
	}
	data, err := overlay.Read("hello", 0, 64)
	if err != nil || string(data) != "hola\n" {
		t.Errorf("Read = %q, %v", data, err)
	}
	if _, err := overlay.Populate("hello", KindFile, 0o644, nil); !errors.Is(err, vfserr.ErrConflictingCreate) {
		t.Errorf("second Populate = %v, want ErrConflictingCreate", err)
	}
}

func TestPopulateFailureLeavesNothing(t *testing.T) {
	overlay, _ := openTestOverlay(t)

	// A non-empty directory at the data path makes the final rename
	// fail.
	blocker := overlay.DataPath("blocked")
	if err := os.MkdirAll(filepath.Join(blocker, "occupied"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := overlay.Populate("blocked", KindFile, 0o644, []byte("content")); err == nil {
		t.Fatal("Populate succeeded over a blocked data path")
	}
	if overlay.Exists("blocked") {
		t.Error("failed Populate left an index entry")
	}
	if _, err := overlay.Stat("blocked"); !errors.Is(err, vfserr.ErrNotFound) {
		t.Errorf("Stat after failed Populate = %v", err)
	}
	if _, err := os.Stat(overlay.sidecarPath("blocked")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("failed Populate left a sidecar: %v", err)
	}
	staging, _ := os.ReadDir(filepath.Join(overlay.Root(), tmpDir))
	if len(staging) != 0 {
		t.Errorf("failed Populate left %d staging files", len(staging))
	}

	// Once the obstruction is gone the same path can be populated.
	if err := os.RemoveAll(blocker); err != nil {
		t.Fatal(err)
	}
	if _, err := overlay.Populate("blocked", KindFile, 0o644, []byte("content")); err != nil {
		t.Fatalf("retry Populate: %v", err)
	}
}

func TestChildrenSortedAndScoped(t *testing.T) {
	overlay, _ := openTestOverlay(t)
	for _, path := range []string{"zeta", "adir", "mid", "adir/inner", "adir/inner/deep"} {
		kind := KindFile
		if path == "adir" || path == "adir/inner" {
			kind = KindDirectory
		}
		if _, err := overlay.Create(path, kind, 0o644, ""); err != nil {
			t.Fatal(err)
		}
	}

	var names []string
	for _, record := range overlay.Children("") {
		names = append(names, record.Name())
	}
	if fmt.Sprint(names) != "[adir mid zeta]" {
		t.Errorf("Children(root) = %v", names)
	}
	if children := overlay.Children("adir"); len(children) != 1 || children[0].Path != "adir/inner" {
		t.Errorf("Children(adir) = %+v", children)
	}
	if children := overlay.Children("nothing"); len(children) != 0 {
		t.Errorf("Children(nothing) = %+v", children)
	}
	if !overlay.HasChildren("adir/inner") || overlay.HasChildren("mid") {
		t.Error("HasChildren wrong")
	}
}

func TestRemove(t *testing.T) {
	overlay, _ := openTestOverlay(t)
	if _, err := overlay.Create("d", KindDirectory, 0o755, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := overlay.Create("d/f", KindFile, 0o644, ""); err != nil {
		t.Fatal(err)
	}

	if err := overlay.Remove("d"); !errors.Is(err, vfserr.ErrNotEmpty) {
		t.Fatalf("Remove(non-empty dir) = %v, want ErrNotEmpty", err)
	}
	if err := overlay.Remove("d/f"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(overlay.DataPath("d/f")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("data file survived Remove: %v", err)
	}
	if err := overlay.Remove("d"); err != nil {
		t.Fatalf("Remove(empty dir): %v", err)
	}
	if overlay.Len() != 0 {
		t.Errorf("Len = %d after removing everything", overlay.Len())
	}
	if _, err := overlay.Create("d", KindFile, 0o644, ""); err != nil {
		t.Errorf("re-create after Remove: %v", err)
	}
}

func TestSetModeAndSync(t *testing.T) {
	overlay, _ := openTestOverlay(t)
	if _, err := overlay.Create("f", KindFile, 0o644, ""); err != nil {
		t.Fatal(err)
	}
	if err := overlay.SetMode("f", 0o100750); err != nil {
		t.Fatal(err)
	}
	record, _ := overlay.Stat("f")
	if record.Mode != 0o750 {
		t.Errorf("Mode = %o, want 750", record.Mode)
	}
	if err := overlay.Sync("f"); err != nil {
		t.Errorf("Sync: %v", err)
	}
}

func TestInvalidPaths(t *testing.T) {
	overlay, _ := openTestOverlay(t)
	for _, path := range []string{"", ".", "/abs", "a/../b", "a//b", "../up", "trailing/"} {
		if _, err := overlay.Create(path, KindFile, 0o644, ""); err == nil {
			t.Errorf("Create(%q) succeeded", path)
		}
	}
}

func TestReopenRestoresState(t *testing.T) {
	root := t.TempDir()
	fake := clock.Fake(epoch)
	overlay, err := Open(root, fake)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := overlay.Create("adir", KindDirectory, 0o755, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := overlay.Create("adir/new", KindFile, 0o600, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := overlay.Write("adir/new", 0, []byte("persisted")); err != nil {
		t.Fatal(err)
	}
	if _, err := overlay.Create("link", KindSymlink, 0o777, "adir/new"); err != nil {
		t.Fatal(err)
	}
	if err := overlay.AddTombstone("hello"); err != nil {
		t.Fatal(err)
	}
	if err := overlay.BindRoot("abc123"); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(root, fake)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Len() != 3 {
		t.Errorf("reopened Len = %d, want 3", reopened.Len())
	}
	record, err := reopened.Stat("adir/new")
	if err != nil {
		t.Fatal(err)
	}
	if record.Size != 9 || record.Mode != 0o600 || !record.ModTime.Equal(epoch) {
		t.Errorf("reopened record = %+v", record)
	}
	data, err := reopened.Read("adir/new", 0, 64)
	if err != nil || string(data) != "persisted" {
		t.Errorf("reopened content = %q, %v", data, err)
	}
	if link, err := reopened.Stat("link"); err != nil || link.Target != "adir/new" {
		t.Errorf("reopened symlink = %+v, %v", link, err)
	}
	if children := reopened.Children("adir"); len(children) != 1 {
		t.Errorf("reopened Children(adir) = %+v", children)
	}
	if !reopened.IsTombstoned("hello") {
		t.Error("tombstone lost on reopen")
	}
	if bound, ok, err := reopened.BoundRoot(); err != nil || !ok || bound != "abc123" {
		t.Errorf("BoundRoot = %q, %v, %v", bound, ok, err)
	}
}

func TestReopenReconcilesSize(t *testing.T) {
	root := t.TempDir()
	overlay, err := Open(root, clock.Fake(epoch))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := overlay.Populate("f", KindFile, 0o644, []byte("short")); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash between the data write and the sidecar update.
	if err := os.WriteFile(overlay.DataPath("f"), []byte("much longer content"), 0o644); err != nil {
		t.Fatal(err)
	}
	reopened, err := Open(root, clock.Fake(epoch))
	if err != nil {
		t.Fatal(err)
	}
	record, _ := reopened.Stat("f")
	if record.Size != int64(len("much longer content")) {
		t.Errorf("reconciled size = %d", record.Size)
	}
}

func TestOpenRejectsCorruptSidecar(t *testing.T) {
	root := t.TempDir()
	overlay, err := Open(root, clock.Fake(epoch))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := overlay.Create("f", KindFile, 0o644, ""); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(overlay.sidecarPath("f"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(root, clock.Fake(epoch)); !errors.Is(err, vfserr.ErrCorruptStore) {
		t.Fatalf("Open(corrupt sidecar) = %v, want ErrCorruptStore", err)
	}
}

func TestOpenClearsStaging(t *testing.T) {
	root := t.TempDir()
	if _, err := Open(root, nil); err != nil {
		t.Fatal(err)
	}
	leftover := filepath.Join(root, tmpDir, "data-123")
	if err := os.WriteFile(leftover, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(root, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(leftover); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("staging leftover survived Open: %v", err)
	}
}

func TestTombstones(t *testing.T) {
	overlay, _ := openTestOverlay(t)
	if overlay.IsTombstoned("hello") {
		t.Fatal("fresh overlay has a tombstone")
	}
	for _, path := range []string{"hello", "adir/file", "hello"} {
		if err := overlay.AddTombstone(path); err != nil {
			t.Fatal(err)
		}
	}
	if got := fmt.Sprint(overlay.Tombstones()); got != "[adir/file hello]" {
		t.Errorf("Tombstones = %s", got)
	}
	if err := overlay.ClearTombstone("hello"); err != nil {
		t.Fatal(err)
	}
	if overlay.IsTombstoned("hello") {
		t.Error("ClearTombstone did not clear")
	}
	if err := overlay.ClearTombstone("never"); err != nil {
		t.Errorf("ClearTombstone(absent): %v", err)
	}
	if err := overlay.AddTombstone(""); err == nil {
		t.Error("tombstoning the root succeeded")
	}
}

func TestBindRoot(t *testing.T) {
	overlay, _ := openTestOverlay(t)
	if _, ok, err := overlay.BoundRoot(); err != nil || ok {
		t.Fatalf("fresh overlay BoundRoot = %v, %v", ok, err)
	}
	if err := overlay.BindRoot("aaaa"); err != nil {
		t.Fatal(err)
	}
	if err := overlay.BindRoot("aaaa"); err != nil {
		t.Errorf("rebinding to the same root: %v", err)
	}
	if err := overlay.BindRoot("bbbb"); err == nil {
		t.Error("binding to a different root succeeded")
	}
	if err := overlay.BindRoot(""); err == nil {
		t.Error("binding to an empty root succeeded")
	}
}

func TestParentPath(t *testing.T) {
	tests := map[string]string{
		"a":     "",
		"a/b":   "a",
		"a/b/c": "a/b",
	}
	for input, want := range tests {
		if got := ParentPath(input); got != want {
			t.Errorf("ParentPath(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestWriteDefersSidecarUntilFlush(t *testing.T) {
	root := t.TempDir()
	fake := clock.Fake(epoch)
	overlay, err := Open(root, fake)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := overlay.Create("f", KindFile, 0o644, ""); err != nil {
		t.Fatal(err)
	}
	sidecar := func() Record {
		t.Helper()
		var record Record
		if err := codec.ReadFile(overlay.sidecarPath("f"), &record); err != nil {
			t.Fatal(err)
		}
		return record
	}

	fake.Advance(time.Minute)
	for i := range 4 {
		if _, err := overlay.Write("f", int64(i*3), []byte("abc")); err != nil {
			t.Fatal(err)
		}
	}
	if record, _ := overlay.Stat("f"); record.Size != 12 || !record.ModTime.Equal(epoch.Add(time.Minute)) {
		t.Errorf("in-memory record after writes = %+v", record)
	}
	if on := sidecar(); on.Size != 0 || !on.ModTime.Equal(epoch) {
		t.Errorf("sidecar rewritten by Write: %+v", on)
	}

	if err := overlay.Flush("f"); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if on := sidecar(); on.Size != 12 || !on.ModTime.Equal(epoch.Add(time.Minute)) {
		t.Errorf("sidecar after Flush = %+v", on)
	}

	fake.Advance(time.Minute)
	if _, err := overlay.Write("f", 12, []byte("d")); err != nil {
		t.Fatal(err)
	}
	if err := overlay.Sync("f"); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if on := sidecar(); on.Size != 13 || !on.ModTime.Equal(epoch.Add(2*time.Minute)) {
		t.Errorf("sidecar after Sync = %+v", on)
	}

	// An unflushed write survives a reopen through size reconciliation.
	if _, err := overlay.Write("f", 13, []byte("e")); err != nil {
		t.Fatal(err)
	}
	reopened, err := Open(root, fake)
	if err != nil {
		t.Fatal(err)
	}
	data, err := reopened.Read("f", 0, 64)
	if err != nil || string(data) != "abcabcabcabcde" {
		t.Errorf("reopened content = %q, %v", data, err)
	}
	if err := overlay.Flush("missing"); !errors.Is(err, vfserr.ErrNotFound) {
		t.Errorf("Flush(missing) = %v, want ErrNotFound", err)
	}
}
