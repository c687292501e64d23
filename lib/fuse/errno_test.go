// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"testing"

	"github.com/bureau-foundation/treefs/lib/vfserr"
)

func TestErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"nil", nil, 0},
		{"not found", fmt.Errorf("lookup %q: %w", "x", vfserr.ErrNotFound), syscall.ENOENT},
		{"not a directory", vfserr.ErrNotADirectory, syscall.ENOTDIR},
		{"is a directory", vfserr.ErrIsDirectory, syscall.EISDIR},
		{"not a symlink", vfserr.ErrNotASymlink, syscall.EINVAL},
		{"invalid name", vfserr.ErrInvalidName, syscall.EINVAL},
		{"conflicting create", vfserr.ErrConflictingCreate, syscall.EEXIST},
		{"not empty", vfserr.ErrNotEmpty, syscall.ENOTEMPTY},
		{"bad handle", vfserr.ErrBadHandle, syscall.EBADF},
		{"not supported", vfserr.ErrNotSupported, syscall.ENOTSUP},
		{"corrupt", vfserr.ErrCorruptStore, syscall.EIO},
		{"materialization", fmt.Errorf("%w: %w", vfserr.ErrMaterialization, vfserr.ErrCorruptStore), syscall.EIO},
		{"materialization of missing blob", fmt.Errorf("materializing %q: %w: %w", "hello",
			vfserr.ErrMaterialization, fmt.Errorf("object abc: %w", vfserr.ErrNotFound)), syscall.EIO},
		{"corrupt wrapping invalid name", fmt.Errorf("tree abc: %w: %w", vfserr.ErrCorruptStore, vfserr.ErrInvalidName), syscall.EIO},
		{"disk full", fmt.Errorf("%w: %w", vfserr.ErrMaterialization,
			&fs.PathError{Op: "write", Path: "/overlay/data/x", Err: syscall.ENOSPC}), syscall.ENOSPC},
		{"unknown", errors.New("something else"), syscall.EIO},
		{"permission", os.ErrPermission, syscall.EIO},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Errno(test.err); got != test.want {
				t.Errorf("Errno(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}
