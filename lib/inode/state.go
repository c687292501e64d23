// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inode

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/treefs/lib/objectstore"
)

// State is the materialization state of an inode. The concrete types
// are Lazy, Materializing, Materialized and Deleted; every switch over
// a State handles all four and treats anything else as an invariant
// violation.
type State interface {
	isState()
	String() string
}

// Lazy inodes read their content from the backing object.
type Lazy struct {
	Object objectstore.Hash
}

// Materializing inodes are being copied from Object into the overlay.
type Materializing struct {
	Object objectstore.Hash
}

// Materialized inodes are owned by the overlay record at their path.
type Materialized struct{}

// Deleted inodes have been unlinked.
type Deleted struct{}

func (Lazy) isState()          {}
func (Materializing) isState() {}
func (Materialized) isState()  {}
func (Deleted) isState()       {}

func (s Lazy) String() string          { return "lazy(" + s.Object.Short() + ")" }
func (s Materializing) String() string { return "materializing(" + s.Object.Short() + ")" }
func (Materialized) String() string    { return "materialized" }
func (Deleted) String() string         { return "deleted" }

// ErrInvariant reports an inode in a state that the operation can
// never legitimately observe.
var ErrInvariant = errors.New("inode state invariant violated")

// ErrNotMaterialized is returned for a write to a lazy inode. Writers
// must materialize first; the session does this when a file is opened
// for writing.
var ErrNotMaterialized = errors.New("write to an unmaterialized inode")

func invariant(inode *Inode, state State) error {
	return fmt.Errorf("inode %d (%q) in state %T: %w", inode.number, inode.path, state, ErrInvariant)
}

// Kind is the file type of an inode.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindDirectory
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}
