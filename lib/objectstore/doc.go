// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package objectstore implements the immutable, content-addressed
// object store that backs a treefs mount.
//
// The store holds two kinds of objects:
//
//   - Blobs: raw file content, or the target string of a symlink.
//   - Trees: a directory listing, an ordered set of (name, type, hash)
//     entries where type is file, executable, symlink, or directory.
//
// Objects are addressed by BLAKE3 keyed hashes. Blobs and trees use
// separate domain keys, so a blob and a tree can never share an
// address even when their encoded bytes coincide. A tree's hash covers
// the deterministic CBOR encoding (lib/codec) of its sorted entries.
//
// # On-disk format
//
// Each object is one file at objects/<hex[:2]>/<hex[2:4]>/<hex>,
// holding a CBOR envelope: format version, object kind, compression
// tag, uncompressed size, and the (possibly compressed) payload.
// Payloads are compressed with zstd or LZ4 when that makes them
// smaller. Writes go through tmp/ and an atomic rename; identical
// content deduplicates to the same file.
//
// # Read path
//
// Reads verify everything: envelope decoding, kind, decompressed size,
// and the recomputed hash. Any mismatch is reported as
// vfserr.ErrCorruptStore. A missing object is vfserr.ErrNotFound. The
// store never substitutes empty content for a failed read.
//
// Objects are immutable for the life of the store, so decoded trees
// and blob bytes are cached in a bounded LRU without any invalidation.
// The store is safe for unbounded concurrent reads and for concurrent
// writes.
//
// # Populating a store
//
// [TreeBuilder] assembles nested trees from path-addressed entries.
// [ImportDirectory] imports a local directory; [ImportGit] imports a
// git revision through lib/git.
package objectstore
