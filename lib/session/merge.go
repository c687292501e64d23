// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"slices"
	"strings"

	"github.com/bureau-foundation/treefs/lib/inode"
	"github.com/bureau-foundation/treefs/lib/objectstore"
	"github.com/bureau-foundation/treefs/lib/overlay"
)

// DirEntry is one visible name in a directory listing.
type DirEntry struct {
	Name string
	Type FileType
}

// merge computes the visible entries of a directory: backing entries
// and overlay children, overlay shadowing backing of the same name,
// tombstoned backing names removed, sorted by name.
func merge(listing inode.Listing) []DirEntry {
	visible := make(map[string]FileType, len(listing.Backing)+len(listing.Overlay))
	for _, entry := range listing.Backing {
		if listing.Tombstoned[entry.Name] {
			continue
		}
		visible[entry.Name] = fileTypeOfEntry(entry.Type)
	}
	for _, record := range listing.Overlay {
		visible[record.Name()] = fileTypeOfRecord(record.Kind)
	}

	entries := make([]DirEntry, 0, len(visible))
	for name, fileType := range visible {
		entries = append(entries, DirEntry{Name: name, Type: fileType})
	}
	slices.SortFunc(entries, func(a, b DirEntry) int {
		return strings.Compare(a.Name, b.Name)
	})
	return entries
}

func fileTypeOfEntry(entryType objectstore.EntryType) FileType {
	switch entryType {
	case objectstore.TypeDirectory:
		return TypeDirectory
	case objectstore.TypeSymlink:
		return TypeSymlink
	default:
		return TypeRegular
	}
}

func fileTypeOfRecord(kind overlay.Kind) FileType {
	switch kind {
	case overlay.KindDirectory:
		return TypeDirectory
	case overlay.KindSymlink:
		return TypeSymlink
	default:
		return TypeRegular
	}
}
