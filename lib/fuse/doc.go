// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuse exposes a [session.Session] as a FUSE filesystem.
//
// Every kernel inode maps to one inode of the session's table, and the
// FUSE inode number equals the table number so stat(2) and readdir(3)
// report stable identities. Nodes hold no state beyond that number:
// each callback is forwarded to the session's inode-addressed methods,
// and session errors are translated to errno values by [Errno].
//
// File handles carry a session handle. Writes go straight through to
// the overlay, so Flush has nothing to do and Fsync forwards to the
// overlay's data file. Rename is not supported and fails with ENOTSUP.
//
// Attribute and entry caching in the kernel is controlled by the
// timeouts in [Options]. All mutation passes through this mount, so the
// kernel's cache stays coherent without explicit invalidation.
package fuse
