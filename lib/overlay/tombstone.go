// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/bureau-foundation/treefs/lib/codec"
	"github.com/bureau-foundation/treefs/lib/vfserr"
)

// tombstoneFile is the persisted form of the tombstone set.
type tombstoneFile struct {
	Paths []string `cbor:"paths"`
}

// rootBinding is the persisted form of root.cbor.
type rootBinding struct {
	Root string `cbor:"root"`
}

func (o *Overlay) loadTombstones() error {
	var stored tombstoneFile
	err := codec.ReadFile(filepath.Join(o.root, tombstonesFile), &stored)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading tombstones: %v: %w", err, vfserr.ErrCorruptStore)
	}
	for _, tombstoned := range stored.Paths {
		if err := checkPath(tombstoned); err != nil {
			return fmt.Errorf("loading tombstones: %v: %w", err, vfserr.ErrCorruptStore)
		}
		o.tombstones[tombstoned] = struct{}{}
	}
	return nil
}

// persistTombstones rewrites tombstones.cbor. The caller holds
// tombstoneMu.
func (o *Overlay) persistTombstones() error {
	stored := tombstoneFile{Paths: slices.Sorted(maps.Keys(o.tombstones))}
	if stored.Paths == nil {
		stored.Paths = []string{}
	}
	if err := codec.WriteFile(filepath.Join(o.root, tombstonesFile), stored); err != nil {
		return fmt.Errorf("persisting tombstones: %w", err)
	}
	return nil
}

// AddTombstone marks recordPath as deleted from the backing tree.
func (o *Overlay) AddTombstone(recordPath string) error {
	if err := checkPath(recordPath); err != nil {
		return err
	}
	o.tombstoneMu.Lock()
	defer o.tombstoneMu.Unlock()
	if _, ok := o.tombstones[recordPath]; ok {
		return nil
	}
	o.tombstones[recordPath] = struct{}{}
	if err := o.persistTombstones(); err != nil {
		delete(o.tombstones, recordPath)
		return err
	}
	return nil
}

// ClearTombstone removes the tombstone for recordPath, if any.
func (o *Overlay) ClearTombstone(recordPath string) error {
	o.tombstoneMu.Lock()
	defer o.tombstoneMu.Unlock()
	if _, ok := o.tombstones[recordPath]; !ok {
		return nil
	}
	delete(o.tombstones, recordPath)
	if err := o.persistTombstones(); err != nil {
		o.tombstones[recordPath] = struct{}{}
		return err
	}
	return nil
}

// IsTombstoned reports whether recordPath carries a tombstone.
func (o *Overlay) IsTombstoned(recordPath string) bool {
	o.tombstoneMu.Lock()
	defer o.tombstoneMu.Unlock()
	_, ok := o.tombstones[recordPath]
	return ok
}

// Tombstones returns every tombstoned path, sorted.
func (o *Overlay) Tombstones() []string {
	o.tombstoneMu.Lock()
	defer o.tombstoneMu.Unlock()
	return slices.Sorted(maps.Keys(o.tombstones))
}

// BindRoot records that the overlay belongs to the root tree with the
// given hex hash. Binding an unbound overlay writes root.cbor; binding
// again to the same root is a no-op; binding to a different root fails
// because the overlay's tombstones and records describe changes
// against its original tree.
func (o *Overlay) BindRoot(root string) error {
	if root == "" {
		return fmt.Errorf("binding overlay: empty root")
	}
	bindingPath := filepath.Join(o.root, rootFile)
	var existing rootBinding
	err := codec.ReadFile(bindingPath, &existing)
	switch {
	case err == nil:
		if existing.Root != root {
			return fmt.Errorf("overlay %s belongs to root %s, not %s", o.root, existing.Root, root)
		}
		return nil
	case errors.Is(err, os.ErrNotExist):
		if err := codec.WriteFile(bindingPath, rootBinding{Root: root}); err != nil {
			return fmt.Errorf("binding overlay: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("reading overlay root binding: %v: %w", err, vfserr.ErrCorruptStore)
	}
}

// BoundRoot returns the root the overlay is bound to, if any.
func (o *Overlay) BoundRoot() (string, bool, error) {
	var existing rootBinding
	err := codec.ReadFile(filepath.Join(o.root, rootFile), &existing)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading overlay root binding: %v: %w", err, vfserr.ErrCorruptStore)
	}
	return existing.Root, true, nil
}
