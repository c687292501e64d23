// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bureau-foundation/treefs/lib/vfserr"
)

// EntryType is the type of a tree entry. Values are part of the
// on-disk tree encoding.
type EntryType uint8

const (
	TypeFile       EntryType = 1
	TypeExecutable EntryType = 2
	TypeSymlink    EntryType = 3
	TypeDirectory  EntryType = 4
)

// String returns the lowercase name of the entry type.
func (t EntryType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeExecutable:
		return "executable"
	case TypeSymlink:
		return "symlink"
	case TypeDirectory:
		return "directory"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Valid reports whether t is one of the defined entry types.
func (t EntryType) Valid() bool {
	return t >= TypeFile && t <= TypeDirectory
}

// IsRegular reports whether t is a regular file, executable or not.
func (t EntryType) IsRegular() bool {
	return t == TypeFile || t == TypeExecutable
}

// TreeEntry is one named child in a tree object. Hash addresses a blob
// for files and symlinks, and a tree for directories.
type TreeEntry struct {
	Name string    `cbor:"name"`
	Type EntryType `cbor:"type"`
	Hash Hash      `cbor:"hash"`
}

// ValidateName checks that name is usable as a single path component:
// non-empty, not "." or "..", and free of '/' and NUL.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty name: %w", vfserr.ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("name %q: %w", name, vfserr.ErrInvalidName)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("name %q contains '/' or NUL: %w", name, vfserr.ErrInvalidName)
	}
	return nil
}

// normalizeEntries validates entries and returns a sorted copy.
// Duplicate names, invalid names, unknown types and zero hashes are
// rejected.
func normalizeEntries(entries []TreeEntry) ([]TreeEntry, error) {
	// A nil slice would encode as CBOR null; the empty tree must have
	// one hash.
	sorted := append(make([]TreeEntry, 0, len(entries)), entries...)
	slices.SortFunc(sorted, func(a, b TreeEntry) int {
		return strings.Compare(a.Name, b.Name)
	})
	for i, entry := range sorted {
		if err := ValidateName(entry.Name); err != nil {
			return nil, err
		}
		if !entry.Type.Valid() {
			return nil, fmt.Errorf("entry %q has unknown type %d", entry.Name, entry.Type)
		}
		if entry.Hash.IsZero() {
			return nil, fmt.Errorf("entry %q has a zero hash", entry.Name)
		}
		if i > 0 && sorted[i-1].Name == entry.Name {
			return nil, fmt.Errorf("duplicate tree entry %q", entry.Name)
		}
	}
	return sorted, nil
}

// checkDecodedEntries verifies that a decoded tree is already in
// canonical form. A tree that hashes correctly but is not canonical
// was written by something other than this package.
func checkDecodedEntries(entries []TreeEntry) error {
	for i, entry := range entries {
		if ValidateName(entry.Name) != nil || !entry.Type.Valid() || entry.Hash.IsZero() {
			return fmt.Errorf("malformed entry %q", entry.Name)
		}
		if i > 0 && entries[i-1].Name >= entry.Name {
			return fmt.Errorf("entries out of order at %q", entry.Name)
		}
	}
	return nil
}

// FindEntry returns the entry named name from a sorted tree listing.
func FindEntry(entries []TreeEntry, name string) (TreeEntry, bool) {
	index, found := slices.BinarySearchFunc(entries, name, func(entry TreeEntry, target string) int {
		return strings.Compare(entry.Name, target)
	})
	if !found {
		return TreeEntry{}, false
	}
	return entries[index], true
}
