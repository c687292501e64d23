// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"io/fs"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/treefs/lib/inode"
)

// FileType is the POSIX type of an entry.
type FileType uint8

const (
	TypeRegular FileType = iota + 1
	TypeDirectory
	TypeSymlink
)

func (t FileType) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// TypeBits returns the S_IF* bits for t.
func (t FileType) TypeBits() uint32 {
	switch t {
	case TypeDirectory:
		return syscall.S_IFDIR
	case TypeSymlink:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}

func fileTypeOf(kind inode.Kind) FileType {
	switch kind {
	case inode.KindDirectory:
		return TypeDirectory
	case inode.KindSymlink:
		return TypeSymlink
	default:
		return TypeRegular
	}
}

// Identity is the owner attributed to every inode of a mount.
type Identity struct {
	UID uint32
	GID uint32
}

// CurrentIdentity returns the real uid and gid of the process.
func CurrentIdentity() Identity {
	return Identity{UID: uint32(unix.Getuid()), GID: uint32(unix.Getgid())}
}

// Attributes are the POSIX attributes of one inode. They are produced
// only by the session's projector, independent of which layer backs
// the inode.
type Attributes struct {
	Inode   inode.Number
	Type    FileType
	Mode    uint32 // permission bits only
	UID     uint32
	GID     uint32
	Size    int64
	Nlink   uint32
	ModTime time.Time
}

// StatMode returns type and permission bits combined, as st_mode.
func (a Attributes) StatMode() uint32 {
	return a.Type.TypeBits() | a.Mode
}

// FileMode returns the attributes as an fs.FileMode.
func (a Attributes) FileMode() fs.FileMode {
	mode := fs.FileMode(a.Mode) & fs.ModePerm
	switch a.Type {
	case TypeDirectory:
		mode |= fs.ModeDir
	case TypeSymlink:
		mode |= fs.ModeSymlink
	}
	return mode
}

// project derives attributes from an inode description. Ownership
// always comes from the mount identity; lazy inodes report the mount
// time as their modification time.
func (s *Session) project(description inode.Description) Attributes {
	attributes := Attributes{
		Inode:   description.Number,
		Type:    fileTypeOf(description.Kind),
		UID:     s.identity.UID,
		GID:     s.identity.GID,
		Size:    description.Size,
		Nlink:   1,
		ModTime: s.mountTime,
	}
	if description.Record != nil {
		attributes.ModTime = description.Record.ModTime
	}

	switch description.Kind {
	case inode.KindDirectory:
		attributes.Nlink = 2
		attributes.Size = 0
		attributes.Mode = inode.DirectoryMode
		if description.Record != nil {
			attributes.Mode = description.Record.Mode
		}
	case inode.KindSymlink:
		attributes.Mode = inode.SymlinkMode
	default:
		switch {
		case description.Record != nil:
			attributes.Mode = description.Record.Mode
		case description.Executable:
			attributes.Mode = inode.ExecutableMode
		default:
			attributes.Mode = inode.FileMode
		}
	}
	return attributes
}
