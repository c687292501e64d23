// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inode

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/treefs/lib/objectstore"
	"github.com/bureau-foundation/treefs/lib/overlay"
	"github.com/bureau-foundation/treefs/lib/vfserr"
)

// Mode bits given to materialized files and new symlinks.
const (
	FileMode       = 0o644
	ExecutableMode = 0o755
	DirectoryMode  = 0o755
	SymlinkMode    = 0o777
)

func isNotFound(err error) bool {
	return errors.Is(err, vfserr.ErrNotFound)
}

// Materialize copies a lazy file or symlink into the overlay. It is a
// no-op for materialized inodes and for directories.
func (t *Table) Materialize(inode *Inode) error {
	inode.mu.Lock()
	defer inode.mu.Unlock()
	return t.materializeLocked(inode)
}

// materializeLocked runs the Lazy → Materializing → Materialized
// transition. The inode's write lock must be held.
func (t *Table) materializeLocked(inode *Inode) error {
	switch state := inode.state.(type) {
	case Materialized:
		return nil
	case Deleted:
		return fmt.Errorf("%q: %w", inode.path, vfserr.ErrNotFound)
	case Materializing:
		// The write lock is held for the whole copy, so no other
		// caller can observe this state.
		return invariant(inode, state)
	case Lazy:
		// Backed directories stay Lazy for life. Their tree hash feeds
		// the merger and overlay children sit alongside it.
		if inode.kind == KindDirectory {
			return nil
		}
		inode.state = Materializing{Object: state.Object}
		if err := t.copyToOverlay(inode, state.Object); err != nil {
			// Populate is all-or-nothing, so rolling the state back is
			// enough to leave no trace of the attempt.
			inode.state = state
			t.logger.Warn("materialization failed",
				"path", inode.path,
				"inode", inode.number,
				"object", state.Object.String(),
				"error", err,
			)
			return fmt.Errorf("materializing %q: %w: %w", inode.path, vfserr.ErrMaterialization, err)
		}
		inode.state = Materialized{}
		t.materializations.Add(1)
		t.logger.Debug("materialized",
			"path", inode.path,
			"inode", inode.number,
			"object", state.Object.String(),
		)
		return nil
	default:
		return invariant(inode, state)
	}
}

func (t *Table) copyToOverlay(inode *Inode, object objectstore.Hash) error {
	// ReadBlob verifies the content hash, so a damaged blob never
	// reaches the overlay.
	content, err := t.store.ReadBlob(object)
	if err != nil {
		return err
	}
	mode := uint32(FileMode)
	switch {
	case inode.kind == KindSymlink:
		mode = SymlinkMode
	case inode.executable:
		mode = ExecutableMode
	}
	_, err = t.overlay.Populate(inode.path, overlayKind(inode.kind), mode, content)
	return err
}

// Create adds a new file, directory or symlink named name under
// parent. The new inode starts Materialized. Fails with
// vfserr.ErrConflictingCreate when the name is already visible.
func (t *Table) Create(parent *Inode, name string, kind Kind, mode uint32, target string) (*Inode, error) {
	if err := objectstore.ValidateName(name); err != nil {
		return nil, err
	}
	parent.mu.Lock()
	defer parent.mu.Unlock()

	// The parent's write lock arbitrates racing creates of one name:
	// the loser sees the winner's inode here.
	if _, err := t.lookupLocked(parent, name); err == nil {
		return nil, fmt.Errorf("%q: %w", joinPath(parent.path, name), vfserr.ErrConflictingCreate)
	} else if !isNotFound(err) {
		return nil, err
	}

	childPath := joinPath(parent.path, name)
	if _, err := t.overlay.Create(childPath, overlayKind(kind), mode, target); err != nil {
		return nil, err
	}
	// A tombstone left by an earlier unlink would hide the backing
	// entry's replacement from the merger. Undo the record if it cannot
	// be cleared.
	if err := t.overlay.ClearTombstone(childPath); err != nil {
		if removeErr := t.overlay.Remove(childPath); removeErr != nil {
			return nil, errors.Join(err, removeErr)
		}
		return nil, err
	}

	created := t.register(&Inode{
		path:  childPath,
		kind:  kind,
		state: Materialized{},
	})
	t.logger.Debug("created", "path", childPath, "inode", created.number, "kind", kind.String())
	return created, nil
}

// Unlink removes a file or symlink.
func (t *Table) Unlink(parent *Inode, name string) error {
	return t.remove(parent, name, false)
}

// Rmdir removes an empty directory.
func (t *Table) Rmdir(parent *Inode, name string) error {
	return t.remove(parent, name, true)
}

func (t *Table) remove(parent *Inode, name string, directory bool) error {
	if err := objectstore.ValidateName(name); err != nil {
		return err
	}
	parent.mu.Lock()
	defer parent.mu.Unlock()

	child, err := t.lookupLocked(parent, name)
	if err != nil {
		return err
	}
	// Parent before child.
	child.mu.Lock()
	defer child.mu.Unlock()

	if _, deleted := child.state.(Deleted); deleted {
		return fmt.Errorf("%q: %w", child.path, vfserr.ErrNotFound)
	}
	switch {
	case directory && child.kind != KindDirectory:
		return fmt.Errorf("%q: %w", child.path, vfserr.ErrNotADirectory)
	case !directory && child.kind == KindDirectory:
		return fmt.Errorf("%q: %w", child.path, vfserr.ErrIsDirectory)
	}
	if directory {
		listing, err := t.listingLocked(child)
		if err != nil {
			return err
		}
		if !listing.Empty() {
			return fmt.Errorf("%q: %w", child.path, vfserr.ErrNotEmpty)
		}
	}

	// Only names present in the backing tree need a tombstone. Pure
	// overlay entries disappear with their record. The tombstone is
	// written first and withdrawn if the record cannot be removed.
	_, backed, err := t.backingEntry(parent, name)
	if err != nil {
		return err
	}
	if backed {
		if err := t.overlay.AddTombstone(child.path); err != nil {
			return err
		}
	}
	if t.overlay.Exists(child.path) {
		if err := t.overlay.Remove(child.path); err != nil {
			if backed {
				if clearErr := t.overlay.ClearTombstone(child.path); clearErr != nil {
					return errors.Join(err, clearErr)
				}
			}
			return err
		}
	}

	// The inode leaves the path index; a later create at this path
	// gets a fresh number.
	child.state = Deleted{}
	t.unregister(child)
	t.logger.Debug("removed", "path", child.path, "inode", child.number, "tombstoned", backed)
	return nil
}

// ReadAt reads file content into buffer at offset, from the backing
// blob or the overlay depending on state. Reaching the end of the
// content is not an error.
func (t *Table) ReadAt(inode *Inode, buffer []byte, offset int64) (int, error) {
	return t.ReadAtPinned(inode, nil, buffer, offset)
}

// ReadAtPinned is ReadAt with the backing blob held in pin between
// calls. A nil pin reads the blob from the store every time.
func (t *Table) ReadAtPinned(inode *Inode, pin *Pin, buffer []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%q: negative offset %d", inode.path, offset)
	}
	inode.mu.RLock()
	defer inode.mu.RUnlock()
	if err := checkFile(inode); err != nil {
		return 0, err
	}

	switch state := inode.state.(type) {
	case Lazy:
		// A pinned handle decodes the blob once. Materialization
		// needs the write lock, so the state cannot change under this
		// read.
		content, err := pin.blob(t.store, state.Object)
		if err != nil {
			return 0, fmt.Errorf("reading %q: %w", inode.path, err)
		}
		if offset >= int64(len(content)) {
			return 0, nil
		}
		return copy(buffer, content[offset:]), nil
	case Materialized:
		return t.overlay.ReadAt(inode.path, buffer, offset)
	case Deleted:
		return 0, fmt.Errorf("%q: %w", inode.path, vfserr.ErrNotFound)
	case Materializing:
		// Only observable while holding the write lock.
		return 0, invariant(inode, state)
	default:
		return 0, invariant(inode, state)
	}
}

// Write writes data at offset into a materialized file and returns the
// new size. Lazy inodes are rejected with ErrNotMaterialized.
func (t *Table) Write(inode *Inode, offset int64, data []byte) (int64, error) {
	inode.mu.Lock()
	defer inode.mu.Unlock()
	if err := checkFile(inode); err != nil {
		return 0, err
	}

	switch state := inode.state.(type) {
	case Materialized:
		return t.overlay.Write(inode.path, offset, data)
	case Lazy:
		return 0, fmt.Errorf("%q: %w", inode.path, ErrNotMaterialized)
	case Deleted:
		return 0, fmt.Errorf("%q: %w", inode.path, vfserr.ErrNotFound)
	case Materializing:
		return 0, invariant(inode, state)
	default:
		return 0, invariant(inode, state)
	}
}

// Truncate materializes a file if needed and sets its size.
func (t *Table) Truncate(inode *Inode, size int64) error {
	inode.mu.Lock()
	defer inode.mu.Unlock()
	if err := checkFile(inode); err != nil {
		return err
	}
	if err := t.materializeLocked(inode); err != nil {
		return err
	}
	return t.overlay.Truncate(inode.path, size)
}

// SetMode changes permission bits. Files are materialized first.
// Backed directories and symlinks have fixed modes.
func (t *Table) SetMode(inode *Inode, mode uint32) error {
	inode.mu.Lock()
	defer inode.mu.Unlock()

	switch state := inode.state.(type) {
	case Deleted:
		return fmt.Errorf("%q: %w", inode.path, vfserr.ErrNotFound)
	case Lazy:
		if inode.kind != KindFile {
			return fmt.Errorf("chmod %q (%s): %w", inode.path, inode.kind, vfserr.ErrNotSupported)
		}
		if err := t.materializeLocked(inode); err != nil {
			return err
		}
	case Materialized:
		if inode.kind == KindSymlink {
			return fmt.Errorf("chmod %q (symlink): %w", inode.path, vfserr.ErrNotSupported)
		}
	case Materializing:
		return invariant(inode, state)
	default:
		return invariant(inode, state)
	}
	return t.overlay.SetMode(inode.path, mode)
}

// Readlink returns a symlink's target.
func (t *Table) Readlink(inode *Inode) (string, error) {
	inode.mu.RLock()
	defer inode.mu.RUnlock()
	if _, deleted := inode.state.(Deleted); deleted {
		return "", fmt.Errorf("%q: %w", inode.path, vfserr.ErrNotFound)
	}
	if inode.kind != KindSymlink {
		return "", fmt.Errorf("%q: %w", inode.path, vfserr.ErrNotASymlink)
	}

	switch state := inode.state.(type) {
	case Lazy:
		target, err := t.store.ReadBlob(state.Object)
		if err != nil {
			return "", fmt.Errorf("reading link %q: %w", inode.path, err)
		}
		return string(target), nil
	case Materialized:
		record, err := t.overlay.Stat(inode.path)
		if err != nil {
			return "", err
		}
		return record.Target, nil
	case Materializing:
		return "", invariant(inode, state)
	default:
		return "", invariant(inode, state)
	}
}

// Sync flushes a materialized file's content to stable storage. Lazy
// inodes have nothing to flush.
func (t *Table) Sync(inode *Inode) error {
	inode.mu.RLock()
	defer inode.mu.RUnlock()

	switch state := inode.state.(type) {
	case Materialized:
		return t.overlay.Sync(inode.path)
	case Lazy:
		return nil
	case Deleted:
		return fmt.Errorf("%q: %w", inode.path, vfserr.ErrNotFound)
	case Materializing:
		return invariant(inode, state)
	default:
		return invariant(inode, state)
	}
}

// Flush persists pending metadata of a materialized file. Lazy and
// deleted inodes have nothing to persist.
func (t *Table) Flush(inode *Inode) error {
	inode.mu.RLock()
	defer inode.mu.RUnlock()

	switch state := inode.state.(type) {
	case Materialized:
		if inode.kind != KindFile {
			return nil
		}
		return t.overlay.Flush(inode.path)
	case Lazy, Deleted:
		return nil
	case Materializing:
		return invariant(inode, state)
	default:
		return invariant(inode, state)
	}
}

func checkFile(inode *Inode) error {
	switch inode.kind {
	case KindFile:
		return nil
	case KindDirectory:
		return fmt.Errorf("%q: %w", inode.path, vfserr.ErrIsDirectory)
	default:
		return fmt.Errorf("%q: %w", inode.path, vfserr.ErrNotAFile)
	}
}

// Description is a consistent snapshot of an inode's metadata, taken
// under its read lock.
type Description struct {
	Number     Number
	Path       string
	Kind       Kind
	Executable bool
	State      State

	// Size is the content length: blob size when lazy, record size
	// when materialized, target length for symlinks, 0 for
	// directories.
	Size int64

	// Record is the overlay record for materialized inodes.
	Record *overlay.Record
}

// Describe returns a snapshot of the inode's metadata.
func (t *Table) Describe(inode *Inode) (Description, error) {
	inode.mu.RLock()
	defer inode.mu.RUnlock()

	description := Description{
		Number:     inode.number,
		Path:       inode.path,
		Kind:       inode.kind,
		Executable: inode.executable,
		State:      inode.state,
	}
	switch state := inode.state.(type) {
	case Lazy:
		if inode.kind != KindDirectory {
			size, err := t.store.BlobSize(state.Object)
			if err != nil {
				return Description{}, fmt.Errorf("stat %q: %w", inode.path, err)
			}
			description.Size = size
		}
	case Materialized:
		record, err := t.overlay.Stat(inode.path)
		if err != nil {
			return Description{}, err
		}
		if inode.kind != KindDirectory {
			description.Size = record.Size
		}
		description.Record = &record
	case Deleted:
		return Description{}, fmt.Errorf("%q: %w", inode.path, vfserr.ErrNotFound)
	case Materializing:
		return Description{}, invariant(inode, state)
	default:
		return Description{}, invariant(inode, state)
	}
	return description, nil
}

// Listing is the raw material of a directory listing: backing entries,
// overlay children and the names tombstoned among the backing entries,
// captured under one read lock.
type Listing struct {
	Backing    []objectstore.TreeEntry
	Overlay    []overlay.Record
	Tombstoned map[string]bool
}

// Empty reports whether the listing has no visible entries.
func (l Listing) Empty() bool {
	if len(l.Overlay) > 0 {
		return false
	}
	for _, entry := range l.Backing {
		if !l.Tombstoned[entry.Name] {
			return false
		}
	}
	return true
}

// List captures a directory's listing.
func (t *Table) List(directory *Inode) (Listing, error) {
	directory.mu.RLock()
	defer directory.mu.RUnlock()
	return t.listingLocked(directory)
}

func (t *Table) listingLocked(directory *Inode) (Listing, error) {
	if err := checkDirectory(directory); err != nil {
		return Listing{}, err
	}
	backing, err := t.backingEntries(directory)
	if err != nil {
		return Listing{}, fmt.Errorf("listing %q: %w", directory.path, err)
	}
	listing := Listing{
		Backing:    backing,
		Overlay:    t.overlay.Children(directory.path),
		Tombstoned: make(map[string]bool),
	}
	for _, entry := range backing {
		if t.overlay.IsTombstoned(joinPath(directory.path, entry.Name)) {
			listing.Tombstoned[entry.Name] = true
		}
	}
	return listing, nil
}
