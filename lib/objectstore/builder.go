// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"fmt"
	"strings"
)

// TreeBuilder assembles a nested tree from path-addressed entries and
// writes it bottom-up. Paths are slash-separated and relative to the
// tree root; missing parent directories are created implicitly.
//
// A TreeBuilder is not safe for concurrent use.
type TreeBuilder struct {
	writer Writer
	root   *pendingDirectory
}

type pendingDirectory struct {
	directories map[string]*pendingDirectory
	leaves      map[string]TreeEntry
}

func newPendingDirectory() *pendingDirectory {
	return &pendingDirectory{
		directories: make(map[string]*pendingDirectory),
		leaves:      make(map[string]TreeEntry),
	}
}

// NewTreeBuilder returns an empty builder that writes through writer.
func NewTreeBuilder(writer Writer) *TreeBuilder {
	return &TreeBuilder{writer: writer, root: newPendingDirectory()}
}

// AddFile writes data as a blob and adds it at path.
func (b *TreeBuilder) AddFile(path string, data []byte, executable bool) error {
	hash, err := b.writer.WriteBlob(data)
	if err != nil {
		return fmt.Errorf("adding %s: %w", path, err)
	}
	entryType := TypeFile
	if executable {
		entryType = TypeExecutable
	}
	return b.AddEntry(path, entryType, hash)
}

// AddSymlink writes target as a blob and adds a symlink at path.
func (b *TreeBuilder) AddSymlink(path, target string) error {
	hash, err := b.writer.WriteBlob([]byte(target))
	if err != nil {
		return fmt.Errorf("adding %s: %w", path, err)
	}
	return b.AddEntry(path, TypeSymlink, hash)
}

// AddDirectory adds an empty directory at path. Adding a directory
// that already exists is not an error.
func (b *TreeBuilder) AddDirectory(path string) error {
	components, err := splitTreePath(path)
	if err != nil {
		return err
	}
	_, err = b.directory(components, path)
	return err
}

// AddEntry adds an already-written object at path. For directories,
// hash must address a tree; the subtree is included as-is.
func (b *TreeBuilder) AddEntry(path string, entryType EntryType, hash Hash) error {
	if !entryType.Valid() {
		return fmt.Errorf("adding %s: unknown entry type %d", path, entryType)
	}
	components, err := splitTreePath(path)
	if err != nil {
		return err
	}
	parent, err := b.directory(components[:len(components)-1], path)
	if err != nil {
		return err
	}
	name := components[len(components)-1]
	if _, exists := parent.leaves[name]; exists {
		return fmt.Errorf("adding %s: path already added", path)
	}
	if _, exists := parent.directories[name]; exists {
		return fmt.Errorf("adding %s: path is already a directory", path)
	}
	parent.leaves[name] = TreeEntry{Name: name, Type: entryType, Hash: hash}
	return nil
}

// Write writes every pending tree and returns the root tree hash. The
// builder can keep accepting entries afterwards; a later Write
// produces a new root.
func (b *TreeBuilder) Write() (Hash, error) {
	return b.writeDirectory(b.root, "")
}

func (b *TreeBuilder) writeDirectory(directory *pendingDirectory, path string) (Hash, error) {
	entries := make([]TreeEntry, 0, len(directory.leaves)+len(directory.directories))
	for _, leaf := range directory.leaves {
		entries = append(entries, leaf)
	}
	for name, child := range directory.directories {
		hash, err := b.writeDirectory(child, joinTreePath(path, name))
		if err != nil {
			return Hash{}, err
		}
		entries = append(entries, TreeEntry{Name: name, Type: TypeDirectory, Hash: hash})
	}
	hash, err := b.writer.WriteTree(entries)
	if err != nil {
		if path == "" {
			return Hash{}, fmt.Errorf("writing root tree: %w", err)
		}
		return Hash{}, fmt.Errorf("writing tree %s: %w", path, err)
	}
	return hash, nil
}

// directory walks (creating as needed) the pending directory named by
// components. fullPath is only used in error messages.
func (b *TreeBuilder) directory(components []string, fullPath string) (*pendingDirectory, error) {
	current := b.root
	for _, name := range components {
		if _, isLeaf := current.leaves[name]; isLeaf {
			return nil, fmt.Errorf("adding %s: %s is not a directory", fullPath, name)
		}
		next, ok := current.directories[name]
		if !ok {
			next = newPendingDirectory()
			current.directories[name] = next
		}
		current = next
	}
	return current, nil
}

// splitTreePath splits a relative slash path into validated
// components.
func splitTreePath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("adding %q: empty path", path)
	}
	components := strings.Split(trimmed, "/")
	for _, component := range components {
		if err := ValidateName(component); err != nil {
			return nil, fmt.Errorf("adding %q: %w", path, err)
		}
	}
	return components, nil
}

func joinTreePath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
