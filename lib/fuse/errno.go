// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"errors"
	"syscall"

	"github.com/bureau-foundation/treefs/lib/vfserr"
)

// errnoTable is checked in order after the I/O failure classes; the
// first matching sentinel wins.
var errnoTable = []struct {
	sentinel error
	errno    syscall.Errno
}{
	{vfserr.ErrNotFound, syscall.ENOENT},
	{vfserr.ErrNotADirectory, syscall.ENOTDIR},
	{vfserr.ErrIsDirectory, syscall.EISDIR},
	{vfserr.ErrNotASymlink, syscall.EINVAL},
	{vfserr.ErrInvalidName, syscall.EINVAL},
	{vfserr.ErrNotAFile, syscall.EINVAL},
	{vfserr.ErrConflictingCreate, syscall.EEXIST},
	{vfserr.ErrNotEmpty, syscall.ENOTEMPTY},
	{vfserr.ErrBadHandle, syscall.EBADF},
	{vfserr.ErrNotSupported, syscall.ENOTSUP},
}

// Errno translates a session error to the errno returned to the
// kernel. A nil error is 0. Store corruption, failed materialization
// and anything unrecognized become EIO, except that an ENOSPC anywhere
// in the chain is reported as ENOSPC.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	// Failed copies and bad objects carry their cause, which may itself
	// be a sentinel such as ErrNotFound for a missing blob. The path the
	// kernel asked about exists, so the cause must not leak as ENOENT.
	if errors.Is(err, vfserr.ErrMaterialization) || errors.Is(err, vfserr.ErrCorruptStore) {
		if errors.Is(err, syscall.ENOSPC) {
			return syscall.ENOSPC
		}
		return syscall.EIO
	}
	for _, mapping := range errnoTable {
		if errors.Is(err, mapping.sentinel) {
			return mapping.errno
		}
	}
	if errors.Is(err, syscall.ENOSPC) {
		return syscall.ENOSPC
	}
	return syscall.EIO
}
