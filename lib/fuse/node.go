// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"context"
	"errors"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/treefs/lib/inode"
	"github.com/bureau-foundation/treefs/lib/session"
	"github.com/bureau-foundation/treefs/lib/vfserr"
)

// node is one kernel inode, addressed by its table number.
type node struct {
	gofuse.Inode
	fs     *filesystem
	number inode.Number
}

var _ gofuse.InodeEmbedder = (*node)(nil)
var _ gofuse.NodeLookuper = (*node)(nil)
var _ gofuse.NodeGetattrer = (*node)(nil)
var _ gofuse.NodeSetattrer = (*node)(nil)
var _ gofuse.NodeReaddirer = (*node)(nil)
var _ gofuse.NodeOpener = (*node)(nil)
var _ gofuse.NodeCreater = (*node)(nil)
var _ gofuse.NodeReader = (*node)(nil)
var _ gofuse.NodeWriter = (*node)(nil)
var _ gofuse.NodeFlusher = (*node)(nil)
var _ gofuse.NodeFsyncer = (*node)(nil)
var _ gofuse.NodeReleaser = (*node)(nil)
var _ gofuse.NodeUnlinker = (*node)(nil)
var _ gofuse.NodeRmdirer = (*node)(nil)
var _ gofuse.NodeMkdirer = (*node)(nil)
var _ gofuse.NodeSymlinker = (*node)(nil)
var _ gofuse.NodeReadlinker = (*node)(nil)
var _ gofuse.NodeRenamer = (*node)(nil)

// fileHandle carries the session handle of one open(2).
type fileHandle struct {
	handle session.Handle
}

func sessionHandle(f gofuse.FileHandle) (session.Handle, syscall.Errno) {
	handle, ok := f.(*fileHandle)
	if !ok || handle == nil {
		return 0, syscall.EBADF
	}
	return handle.handle, 0
}

// child returns the kernel inode for attributes, reusing the existing
// one when the number is already known.
func (n *node) child(ctx context.Context, attributes session.Attributes, out *fuse.EntryOut) *gofuse.Inode {
	fillAttr(&out.Attr, attributes)
	return n.NewInode(ctx, n.fs.newNode(attributes.Inode), gofuse.StableAttr{
		Mode: attributes.Type.TypeBits(),
		Ino:  uint64(attributes.Inode),
	})
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	attributes, err := n.fs.session.LookupChild(n.number, name)
	if err != nil {
		return nil, n.fs.errno("lookup", n.number, err)
	}
	return n.child(ctx, attributes, out), 0
}

func (n *node) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attributes, err := n.fs.session.Attr(n.number)
	if err != nil {
		return n.fs.errno("getattr", n.number, err)
	}
	fillAttr(&out.Attr, attributes)
	return 0
}

// Setattr applies size and mode changes. Ownership and timestamps are
// projected from the mount, so requests to change them are accepted
// and have no effect.
func (n *node) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := n.fs.session.TruncateInode(n.number, int64(size)); err != nil {
			return n.fs.errno("setattr", n.number, err)
		}
	}
	if mode, ok := in.GetMode(); ok {
		if err := n.fs.session.ChmodInode(n.number, mode&0o7777); err != nil {
			return n.fs.errno("setattr", n.number, err)
		}
	}
	return n.Getattr(ctx, f, out)
}

func (n *node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	listing, err := n.fs.session.ReadDirectory(n.number)
	if err != nil {
		return nil, n.fs.errno("readdir", n.number, err)
	}
	entries := make([]fuse.DirEntry, 0, len(listing))
	for _, entry := range listing {
		attributes, err := n.fs.session.LookupChild(n.number, entry.Name)
		if errors.Is(err, vfserr.ErrNotFound) {
			// Removed since the listing was taken.
			continue
		}
		if err != nil {
			return nil, n.fs.errno("readdir", n.number, err)
		}
		entries = append(entries, fuse.DirEntry{
			Name: entry.Name,
			Mode: entry.Type.TypeBits(),
			Ino:  uint64(attributes.Inode),
		})
	}
	return &sliceDirStream{entries: entries}, 0
}

func intentOf(flags uint32) session.Intent {
	switch flags & syscall.O_ACCMODE {
	case syscall.O_WRONLY:
		return session.IntentWrite
	case syscall.O_RDWR:
		return session.IntentReadWrite
	default:
		return session.IntentRead
	}
}

func (n *node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	handle, err := n.fs.session.OpenInode(n.number, intentOf(flags), flags&syscall.O_TRUNC != 0)
	if err != nil {
		return nil, 0, n.fs.errno("open", n.number, err)
	}
	return &fileHandle{handle: handle}, 0, 0
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	attributes, handle, err := n.fs.session.CreateChild(n.number, name, mode&0o7777, intentOf(flags))
	if err != nil {
		return nil, nil, 0, n.fs.errno("create", n.number, err)
	}
	return n.child(ctx, attributes, out), &fileHandle{handle: handle}, 0, 0
}

func (n *node) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	handle, errno := sessionHandle(f)
	if errno != 0 {
		return nil, errno
	}
	content, err := n.fs.session.Read(handle, off, len(dest))
	if err != nil {
		return nil, n.fs.errno("read", n.number, err)
	}
	return fuse.ReadResultData(content), 0
}

func (n *node) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	handle, errno := sessionHandle(f)
	if errno != 0 {
		return 0, errno
	}
	written, err := n.fs.session.Write(handle, off, data)
	if err != nil {
		return 0, n.fs.errno("write", n.number, err)
	}
	return uint32(written), 0
}

// Flush runs on every close(2) of a descriptor, so size and mtime are
// persisted here rather than on each write.
func (n *node) Flush(ctx context.Context, f gofuse.FileHandle) syscall.Errno {
	handle, errno := sessionHandle(f)
	if errno != 0 {
		return errno
	}
	return n.fs.errno("flush", n.number, n.fs.session.Flush(handle))
}

func (n *node) Fsync(ctx context.Context, f gofuse.FileHandle, flags uint32) syscall.Errno {
	handle, errno := sessionHandle(f)
	if errno != 0 {
		return errno
	}
	return n.fs.errno("fsync", n.number, n.fs.session.Sync(handle))
}

func (n *node) Release(ctx context.Context, f gofuse.FileHandle) syscall.Errno {
	handle, errno := sessionHandle(f)
	if errno != 0 {
		return errno
	}
	return n.fs.errno("release", n.number, n.fs.session.Release(handle))
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.fs.errno("unlink", n.number, n.fs.session.UnlinkChild(n.number, name))
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.fs.errno("rmdir", n.number, n.fs.session.RmdirChild(n.number, name))
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	attributes, err := n.fs.session.MkdirChild(n.number, name, mode&0o7777)
	if err != nil {
		return nil, n.fs.errno("mkdir", n.number, err)
	}
	return n.child(ctx, attributes, out), 0
}

func (n *node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	attributes, err := n.fs.session.SymlinkChild(n.number, name, target)
	if err != nil {
		return nil, n.fs.errno("symlink", n.number, err)
	}
	return n.child(ctx, attributes, out), 0
}

func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.fs.session.ReadlinkInode(n.number)
	if err != nil {
		return nil, n.fs.errno("readlink", n.number, err)
	}
	return []byte(target), 0
}

func (n *node) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return syscall.ENOTSUP
}
