// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides treefs's standard CBOR encoding configuration
// and the atomic file helpers every on-disk structure goes through.
//
// Everything treefs persists is CBOR: content-store object envelopes
// and tree listings, overlay sidecars, the tombstone set, and the root
// binding. Tree hashes are computed over encoded tree listings, so the
// encoder must be deterministic. It uses Core Deterministic Encoding
// (RFC 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For files that must never be observed half-written:
//
//	err := codec.WriteFile(path, value)
//	err = codec.ReadFile(path, &value)
//
// WriteFile writes to a temporary file in the destination directory,
// syncs it, and renames it over the destination, so readers see either
// the old content or the new content.
//
// # Struct Tag Rules
//
// On-disk types use `cbor` struct tags with short, stable key names.
// Renaming a key is a format change.
package codec
