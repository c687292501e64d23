// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package vfserr defines the error taxonomy shared by every treefs
// layer. Layers wrap these sentinels with context using %w; callers
// classify with errors.Is. The mount transport maps each sentinel to
// an errno in exactly one place (lib/fuse).
package vfserr

import "errors"

var (
	// ErrNotFound: the path is absent from both layers or carries a
	// tombstone, or a content object is missing from the store.
	ErrNotFound = errors.New("not found")

	// ErrNotADirectory: a directory operation targeted a file or
	// symlink.
	ErrNotADirectory = errors.New("not a directory")

	// ErrNotAFile: a content operation targeted something that has
	// no byte content of its own.
	ErrNotAFile = errors.New("not a regular file")

	// ErrIsDirectory: a file operation (open, unlink, truncate)
	// targeted a directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotASymlink: readlink on a non-symlink.
	ErrNotASymlink = errors.New("not a symlink")

	// ErrCorruptStore: a content object exists but cannot be decoded,
	// decompressed, or fails hash verification.
	ErrCorruptStore = errors.New("content store object is corrupt")

	// ErrConflictingCreate: create against a path that already has a
	// live inode.
	ErrConflictingCreate = errors.New("path already exists")

	// ErrMaterialization: copying backing content into the overlay
	// failed. The inode stays lazy.
	ErrMaterialization = errors.New("materialization failed")

	// ErrNotEmpty: rmdir on a directory whose merged listing is not
	// empty.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrBadHandle: read through a write-only handle, write through a
	// read-only handle, or use after release.
	ErrBadHandle = errors.New("bad file handle")

	// ErrInvalidName: an entry name is empty, "." or "..", or
	// contains a slash or NUL byte.
	ErrInvalidName = errors.New("invalid entry name")

	// ErrNotSupported: the operation is outside what treefs models.
	ErrNotSupported = errors.New("operation not supported")
)
