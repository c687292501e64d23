// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/treefs/lib/inode"
	"github.com/bureau-foundation/treefs/lib/session"
)

// Default kernel cache timeouts.
const (
	DefaultEntryTimeout    = time.Second
	DefaultAttrTimeout     = time.Second
	DefaultNegativeTimeout = 100 * time.Millisecond
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// It is created if it does not exist.
	Mountpoint string

	// Session serves every filesystem call.
	Session *session.Session

	// AllowOther permits other users (including root) to access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// EntryTimeout, AttrTimeout and NegativeTimeout bound the
	// kernel's caching of lookups, attributes and failed lookups.
	// Zero uses the defaults; negative disables caching.
	EntryTimeout    time.Duration
	AttrTimeout     time.Duration
	NegativeTimeout time.Duration

	// Logger receives diagnostic messages. If nil, errors go to
	// stderr.
	Logger *slog.Logger
}

func timeout(configured, fallback time.Duration) *time.Duration {
	switch {
	case configured == 0:
		return &fallback
	case configured < 0:
		var none time.Duration
		return &none
	default:
		return &configured
	}
}

// Mount mounts the session at the configured mountpoint. The caller
// must call Unmount on the returned Server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	fs := &filesystem{session: options.Session, logger: options.Logger}
	root := fs.newNode(inode.RootNumber)
	identity := options.Session.Identity()

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    timeout(options.EntryTimeout, DefaultEntryTimeout),
		AttrTimeout:     timeout(options.AttrTimeout, DefaultAttrTimeout),
		NegativeTimeout: timeout(options.NegativeTimeout, DefaultNegativeTimeout),
		RootStableAttr: &gofuse.StableAttr{
			Mode: syscall.S_IFDIR,
			Ino:  uint64(inode.RootNumber),
		},
		UID: identity.UID,
		GID: identity.GID,
		MountOptions: fuse.MountOptions{
			FsName:     "treefs",
			Name:       "treefs",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("treefs mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// filesystem is shared by every node of one mount.
type filesystem struct {
	session *session.Session
	logger  *slog.Logger
}

func (fs *filesystem) newNode(number inode.Number) *node {
	return &node{fs: fs, number: number}
}

// errno translates err and logs anything that surfaces as EIO.
func (fs *filesystem) errno(operation string, number inode.Number, err error) syscall.Errno {
	errno := Errno(err)
	if errno == syscall.EIO {
		fs.logger.Error("filesystem call failed", "op", operation, "inode", number, "error", err)
	}
	return errno
}

// fillAttr copies session attributes into a kernel attribute record.
func fillAttr(out *fuse.Attr, attributes session.Attributes) {
	out.Ino = uint64(attributes.Inode)
	out.Mode = attributes.StatMode()
	out.Size = uint64(attributes.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = 4096
	out.Nlink = attributes.Nlink
	out.Owner = fuse.Owner{Uid: attributes.UID, Gid: attributes.GID}
	modTime := attributes.ModTime
	out.SetTimes(&modTime, &modTime, &modTime)
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
