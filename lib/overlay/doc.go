// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package overlay holds the mutable half of a treefs mount: one record
// per path that has diverged from (or has no counterpart in) the
// backing tree, and the set of tombstones marking backing paths that
// were deleted.
//
// On-disk layout under the overlay root:
//
//	records/<h[:2]>/<h[2:4]>/<h>.cbor   sidecar: path, kind, mode, mtime, size, target
//	data/<h[:2]>/<h[2:4]>/<h>           file content (regular files only)
//	tombstones.cbor                     sorted list of tombstoned paths
//	root.cbor                           root tree the overlay belongs to
//	tmp/                                staging for atomic writes
//
// where h is the hex BLAKE3 keyed hash of the record's path. Paths are
// slash-separated and relative to the mount root; the root itself is
// "" and never has a record.
//
// Sidecars and the tombstone file are always replaced atomically. The
// in-memory index is rebuilt from the sidecars by [Open], so records
// and tombstones survive process restarts. A record's Size always
// equals the byte length of its data file.
//
// [Overlay.Write] changes size and mtime in memory only; they reach the
// sidecar on [Overlay.Flush] or [Overlay.Sync], which the session calls
// on close and fsync. Creation, truncation and mode changes write the
// sidecar immediately. After a crash, sizes are reconciled from the
// data files and mtimes fall back to the last flushed value.
//
// The overlay does not know about the backing tree. Callers (the inode
// table) decide when a path needs a record and when a tombstone.
package overlay
