// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inode

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/treefs/lib/objectstore"
	"github.com/bureau-foundation/treefs/lib/overlay"
	"github.com/bureau-foundation/treefs/lib/vfserr"
)

// Number is a stable inode number. Numbers are never reused within a
// table.
type Number uint64

// RootNumber is the number of the mount root.
const RootNumber Number = 1

// Inode is the identity of one path. Number, path, kind and the
// executable bit never change; the state is guarded by the inode's
// lock.
type Inode struct {
	number     Number
	path       string
	kind       Kind
	executable bool

	mu    sync.RWMutex
	state State
}

// Number returns the inode number.
func (i *Inode) Number() Number { return i.number }

// Path returns the slash path relative to the mount root ("" for the
// root).
func (i *Inode) Path() string { return i.path }

// Kind returns the inode's file type.
func (i *Inode) Kind() Kind { return i.kind }

// Executable reports whether the backing entry was executable. Always
// false for inodes created in the overlay.
func (i *Inode) Executable() bool { return i.executable }

// State returns the current state.
func (i *Inode) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Table maps paths to inodes for one mount.
type Table struct {
	store   objectstore.Reader
	overlay *overlay.Overlay
	logger  *slog.Logger
	root    *Inode

	mu       sync.Mutex
	byPath   map[string]*Inode
	byNumber map[Number]*Inode
	next     Number

	materializations atomic.Int64
}

// NewTable returns a table whose root directory is backed by the tree
// rootTree in store, with mutations going to ov.
func NewTable(store objectstore.Reader, ov *overlay.Overlay, rootTree objectstore.Hash, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	root := &Inode{
		number: RootNumber,
		path:   "",
		kind:   KindDirectory,
		state:  Lazy{Object: rootTree},
	}
	return &Table{
		store:    store,
		overlay:  ov,
		logger:   logger,
		root:     root,
		byPath:   map[string]*Inode{"": root},
		byNumber: map[Number]*Inode{RootNumber: root},
		next:     RootNumber + 1,
	}
}

// Root returns the root directory inode.
func (t *Table) Root() *Inode {
	return t.root
}

// Get returns the live inode with the given number.
func (t *Table) Get(number Number) (*Inode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	inode, ok := t.byNumber[number]
	if !ok {
		return nil, fmt.Errorf("inode %d: %w", number, vfserr.ErrNotFound)
	}
	return inode, nil
}

// Len returns the number of live inodes in the index.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byPath)
}

// Materializations returns the number of completed materialization
// copies.
func (t *Table) Materializations() int64 {
	return t.materializations.Load()
}

// Lookup returns the child of parent named name.
func (t *Table) Lookup(parent *Inode, name string) (*Inode, error) {
	if err := objectstore.ValidateName(name); err != nil {
		return nil, err
	}
	parent.mu.RLock()
	defer parent.mu.RUnlock()
	return t.lookupLocked(parent, name)
}

// Resolve returns the inode at a slash path relative to the root. ""
// and "/" resolve to the root.
func (t *Table) Resolve(path string) (*Inode, error) {
	current := t.root
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return current, nil
	}
	for name := range strings.SplitSeq(trimmed, "/") {
		next, err := t.Lookup(current, name)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// lookupLocked resolves a child with the parent's lock held (shared or
// exclusive).
func (t *Table) lookupLocked(parent *Inode, name string) (*Inode, error) {
	if err := checkDirectory(parent); err != nil {
		return nil, err
	}
	childPath := joinPath(parent.path, name)

	t.mu.Lock()
	existing := t.byPath[childPath]
	t.mu.Unlock()
	if existing != nil {
		return existing, nil
	}

	var candidate *Inode
	if record, err := t.overlay.Stat(childPath); err == nil {
		candidate = &Inode{
			path:  childPath,
			kind:  kindFromOverlay(record.Kind),
			state: Materialized{},
		}
	} else if !isNotFound(err) {
		return nil, fmt.Errorf("looking up %q: %w", childPath, err)
	} else if t.overlay.IsTombstoned(childPath) {
		return nil, fmt.Errorf("%q: %w", childPath, vfserr.ErrNotFound)
	} else {
		entry, found, err := t.backingEntry(parent, name)
		if err != nil {
			return nil, fmt.Errorf("looking up %q: %w", childPath, err)
		}
		if !found {
			return nil, fmt.Errorf("%q: %w", childPath, vfserr.ErrNotFound)
		}
		candidate = &Inode{
			path:       childPath,
			kind:       kindFromEntry(entry.Type),
			executable: entry.Type == objectstore.TypeExecutable,
			state:      Lazy{Object: entry.Hash},
		}
	}
	return t.register(candidate), nil
}

// register indexes candidate unless a concurrent lookup got there
// first, in which case the existing inode wins.
func (t *Table) register(candidate *Inode) *Inode {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing := t.byPath[candidate.path]; existing != nil {
		return existing
	}
	candidate.number = t.next
	t.next++
	t.byPath[candidate.path] = candidate
	t.byNumber[candidate.number] = candidate
	return candidate
}

// unregister removes a deleted inode from both indexes.
func (t *Table) unregister(inode *Inode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byPath[inode.path] == inode {
		delete(t.byPath, inode.path)
	}
	delete(t.byNumber, inode.number)
}

// backingEntry returns the backing tree entry for name in directory,
// if the directory has a backing tree. The directory's lock must be
// held.
func (t *Table) backingEntry(directory *Inode, name string) (objectstore.TreeEntry, bool, error) {
	entries, err := t.backingEntries(directory)
	if err != nil {
		return objectstore.TreeEntry{}, false, err
	}
	entry, found := objectstore.FindEntry(entries, name)
	return entry, found, nil
}

// backingEntries returns a directory's backing tree listing; nil for
// directories created in the overlay. The directory's lock must be
// held.
func (t *Table) backingEntries(directory *Inode) ([]objectstore.TreeEntry, error) {
	switch state := directory.state.(type) {
	case Lazy:
		entries, err := t.store.ReadTree(state.Object)
		if err != nil {
			return nil, err
		}
		return entries, nil
	case Materialized:
		return nil, nil
	case Deleted:
		return nil, fmt.Errorf("%q: %w", directory.path, vfserr.ErrNotFound)
	case Materializing:
		return nil, invariant(directory, state)
	default:
		return nil, invariant(directory, state)
	}
}

func checkDirectory(inode *Inode) error {
	if _, deleted := inode.state.(Deleted); deleted {
		return fmt.Errorf("%q: %w", inode.path, vfserr.ErrNotFound)
	}
	if inode.kind != KindDirectory {
		return fmt.Errorf("%q: %w", inode.path, vfserr.ErrNotADirectory)
	}
	return nil
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func kindFromEntry(entryType objectstore.EntryType) Kind {
	switch entryType {
	case objectstore.TypeDirectory:
		return KindDirectory
	case objectstore.TypeSymlink:
		return KindSymlink
	default:
		return KindFile
	}
}

func kindFromOverlay(kind overlay.Kind) Kind {
	switch kind {
	case overlay.KindDirectory:
		return KindDirectory
	case overlay.KindSymlink:
		return KindSymlink
	default:
		return KindFile
	}
}

func overlayKind(kind Kind) overlay.Kind {
	switch kind {
	case KindDirectory:
		return overlay.KindDirectory
	case KindSymlink:
		return overlay.KindSymlink
	default:
		return overlay.KindFile
	}
}
