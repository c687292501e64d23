// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package inode is the authoritative map from mount paths to inode
// identity and materialization state.
//
// Every live path has exactly one [Inode], numbered monotonically from
// [RootNumber]. An inode's state is one of four variants:
//
//   - [Lazy]: content comes from the backing object store on demand.
//     Reads never allocate overlay storage.
//   - [Materializing]: transient, visible only to the goroutine doing
//     the copy.
//   - [Materialized]: content and metadata live in the overlay,
//     keyed by the inode's path.
//   - [Deleted]: terminal. The inode has left the path index.
//
// Materialization copies a file's blob byte-for-byte into a new
// overlay record. It runs with the inode's write lock held and
// re-checks the state after acquiring it, so racing callers cause
// exactly one copy and all observe the same result. If the copy
// fails the inode returns to Lazy and the error wraps
// vfserr.ErrMaterialization. Directories never materialize: a backed
// directory stays Lazy and overlay children are stored next to it.
//
// # Locking
//
// Each inode owns a sync.RWMutex guarding its state. A directory's
// lock also guards its namespace: creation and removal of children
// hold it exclusively, lookups and listings hold it shared. Locks are
// always taken parent before child. The table's own mutex guards only
// the path and number maps and is never held across I/O.
package inode
