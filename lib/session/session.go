// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session dispatches filesystem calls against one mount: it
// resolves paths and inode numbers through the inode table, routes
// reads and writes to the object store or the overlay, ensures
// materialization before writes, and shapes replies through the
// directory merger and the attribute projector.
//
// Path-addressed methods (Getattr, Readdir, Open, ...) serve the CLI
// and tests. Inode-addressed methods (Attr, ReadDirectory, OpenInode,
// ...) serve the mount transport, which tracks kernel inode numbers.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/treefs/lib/clock"
	"github.com/bureau-foundation/treefs/lib/inode"
	"github.com/bureau-foundation/treefs/lib/objectstore"
	"github.com/bureau-foundation/treefs/lib/overlay"
	"github.com/bureau-foundation/treefs/lib/vfserr"
)

// Config configures a Session.
type Config struct {
	// Store supplies the immutable backing objects.
	Store objectstore.Reader

	// Overlay receives all mutations.
	Overlay *overlay.Overlay

	// Root is the tree hash mounted at the root directory.
	Root objectstore.Hash

	// Identity owns every inode. Nil uses CurrentIdentity.
	Identity *Identity

	// Clock supplies the mount time. Nil uses the real clock.
	Clock clock.Clock

	// Logger receives call failures at debug level. Nil discards.
	Logger *slog.Logger
}

// Intent is the access mode of an open handle.
type Intent uint8

const (
	IntentRead Intent = iota + 1
	IntentWrite
	IntentReadWrite
)

func (i Intent) String() string {
	switch i {
	case IntentRead:
		return "read"
	case IntentWrite:
		return "write"
	case IntentReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("unknown(%d)", i)
	}
}

// Readable reports whether the intent permits reads.
func (i Intent) Readable() bool { return i == IntentRead || i == IntentReadWrite }

// Writable reports whether the intent permits writes.
func (i Intent) Writable() bool { return i == IntentWrite || i == IntentReadWrite }

func (i Intent) valid() bool { return i >= IntentRead && i <= IntentReadWrite }

// Handle identifies an open file within a session.
type Handle uint64

type openFile struct {
	inode  *inode.Inode
	intent Intent
	// pin keeps a lazy file's backing blob decoded between reads.
	pin *inode.Pin
}

// Session is one mounted view over a backing tree and an overlay. It
// is safe for concurrent use.
type Session struct {
	table     *inode.Table
	identity  Identity
	mountTime time.Time
	logger    *slog.Logger

	handleMu   sync.Mutex
	handles    map[Handle]openFile
	nextHandle Handle
}

// Open starts a session. The overlay is bound to config.Root; an
// overlay created for a different root is rejected.
func Open(config Config) (*Session, error) {
	if config.Store == nil {
		return nil, errors.New("session: no object store")
	}
	if config.Overlay == nil {
		return nil, errors.New("session: no overlay")
	}
	if config.Root.IsZero() {
		return nil, errors.New("session: no root tree")
	}
	if _, err := config.Store.ReadTree(config.Root); err != nil {
		return nil, fmt.Errorf("session: reading root tree %s: %w", config.Root.Short(), err)
	}
	if err := config.Overlay.BindRoot(config.Root.String()); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	identity := CurrentIdentity()
	if config.Identity != nil {
		identity = *config.Identity
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Session{
		table:      inode.NewTable(config.Store, config.Overlay, config.Root, logger),
		identity:   identity,
		mountTime:  clk.Now(),
		logger:     logger,
		handles:    make(map[Handle]openFile),
		nextHandle: 1,
	}, nil
}

// Table returns the session's inode table.
func (s *Session) Table() *inode.Table { return s.table }

// Identity returns the mount identity.
func (s *Session) Identity() Identity { return s.identity }

// MountTime returns the time the session was opened.
func (s *Session) MountTime() time.Time { return s.mountTime }

// Materializations returns the number of materialization copies made.
func (s *Session) Materializations() int64 { return s.table.Materializations() }

// fail logs err at debug level unless it is NotFound, and returns it.
func (s *Session) fail(operation, target string, err error) error {
	if err != nil && !errors.Is(err, vfserr.ErrNotFound) {
		s.logger.Debug("call failed", "op", operation, "path", target, "error", err)
	}
	return err
}

// splitPath returns the parent directory and final name of a path.
func splitPath(p string) (string, string, error) {
	cleaned := strings.Trim(path.Clean("/"+p), "/")
	if cleaned == "" {
		return "", "", fmt.Errorf("%q has no parent: %w", p, vfserr.ErrInvalidName)
	}
	parent, name := path.Split(cleaned)
	return strings.TrimSuffix(parent, "/"), name, nil
}

func (s *Session) resolve(p string) (*inode.Inode, error) {
	return s.table.Resolve(p)
}

func (s *Session) attributes(target *inode.Inode) (Attributes, error) {
	description, err := s.table.Describe(target)
	if err != nil {
		return Attributes{}, err
	}
	return s.project(description), nil
}

// Lookup resolves name within the directory at parentPath.
func (s *Session) Lookup(parentPath, name string) (Attributes, error) {
	parent, err := s.resolve(parentPath)
	if err != nil {
		return Attributes{}, s.fail("lookup", parentPath, err)
	}
	child, err := s.table.Lookup(parent, name)
	if err != nil {
		return Attributes{}, s.fail("lookup", path.Join(parentPath, name), err)
	}
	attributes, err := s.attributes(child)
	return attributes, s.fail("lookup", child.Path(), err)
}

// LookupChild resolves name within the directory inode parent.
func (s *Session) LookupChild(parent inode.Number, name string) (Attributes, error) {
	directory, err := s.table.Get(parent)
	if err != nil {
		return Attributes{}, s.fail("lookup", name, err)
	}
	child, err := s.table.Lookup(directory, name)
	if err != nil {
		return Attributes{}, s.fail("lookup", joinPath(directory.Path(), name), err)
	}
	attributes, err := s.attributes(child)
	return attributes, s.fail("lookup", child.Path(), err)
}

// Getattr returns the attributes of the inode at path.
func (s *Session) Getattr(p string) (Attributes, error) {
	target, err := s.resolve(p)
	if err != nil {
		return Attributes{}, s.fail("getattr", p, err)
	}
	attributes, err := s.attributes(target)
	return attributes, s.fail("getattr", p, err)
}

// Attr returns the attributes of the inode with the given number.
func (s *Session) Attr(number inode.Number) (Attributes, error) {
	target, err := s.table.Get(number)
	if err != nil {
		return Attributes{}, s.fail("getattr", fmt.Sprint(number), err)
	}
	attributes, err := s.attributes(target)
	return attributes, s.fail("getattr", target.Path(), err)
}

// Readdir lists the directory at path.
func (s *Session) Readdir(p string) ([]DirEntry, error) {
	directory, err := s.resolve(p)
	if err != nil {
		return nil, s.fail("readdir", p, err)
	}
	entries, err := s.readDirectory(directory)
	return entries, s.fail("readdir", p, err)
}

// ReadDirectory lists the directory inode with the given number.
func (s *Session) ReadDirectory(number inode.Number) ([]DirEntry, error) {
	directory, err := s.table.Get(number)
	if err != nil {
		return nil, s.fail("readdir", fmt.Sprint(number), err)
	}
	entries, err := s.readDirectory(directory)
	return entries, s.fail("readdir", directory.Path(), err)
}

func (s *Session) readDirectory(directory *inode.Inode) ([]DirEntry, error) {
	listing, err := s.table.List(directory)
	if err != nil {
		return nil, err
	}
	return merge(listing), nil
}

// Open opens the file at path. Write intent materializes it.
func (s *Session) Open(p string, intent Intent) (Handle, error) {
	target, err := s.resolve(p)
	if err != nil {
		return 0, s.fail("open", p, err)
	}
	handle, err := s.open(target, intent, false)
	return handle, s.fail("open", p, err)
}

// OpenInode opens the file inode with the given number. When truncate
// is set and the intent is writable the file is truncated to zero.
func (s *Session) OpenInode(number inode.Number, intent Intent, truncate bool) (Handle, error) {
	target, err := s.table.Get(number)
	if err != nil {
		return 0, s.fail("open", fmt.Sprint(number), err)
	}
	handle, err := s.open(target, intent, truncate)
	return handle, s.fail("open", target.Path(), err)
}

func (s *Session) open(target *inode.Inode, intent Intent, truncate bool) (Handle, error) {
	if !intent.valid() {
		return 0, fmt.Errorf("open %q: intent %d: %w", target.Path(), intent, vfserr.ErrBadHandle)
	}
	switch target.Kind() {
	case inode.KindDirectory:
		return 0, fmt.Errorf("open %q: %w", target.Path(), vfserr.ErrIsDirectory)
	case inode.KindSymlink:
		return 0, fmt.Errorf("open %q: %w", target.Path(), vfserr.ErrNotAFile)
	}

	if intent.Writable() {
		if err := s.table.Materialize(target); err != nil {
			return 0, err
		}
		if truncate {
			if err := s.table.Truncate(target, 0); err != nil {
				return 0, err
			}
		}
	} else if _, err := s.table.Describe(target); err != nil {
		// Read-only opens still fail for deleted inodes.
		return 0, err
	}
	return s.register(target, intent), nil
}

func (s *Session) register(target *inode.Inode, intent Intent) Handle {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	handle := s.nextHandle
	s.nextHandle++
	s.handles[handle] = openFile{inode: target, intent: intent, pin: &inode.Pin{}}
	return handle
}

func (s *Session) lookupHandle(handle Handle) (openFile, error) {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	file, ok := s.handles[handle]
	if !ok {
		return openFile{}, fmt.Errorf("handle %d: %w", handle, vfserr.ErrBadHandle)
	}
	return file, nil
}

// Read returns up to length bytes at offset from an open handle.
func (s *Session) Read(handle Handle, offset int64, length int) ([]byte, error) {
	file, err := s.lookupHandle(handle)
	if err != nil {
		return nil, s.fail("read", "", err)
	}
	if !file.intent.Readable() {
		return nil, s.fail("read", file.inode.Path(), fmt.Errorf("handle %d is %s-only: %w", handle, file.intent, vfserr.ErrBadHandle))
	}
	if length < 0 {
		return nil, s.fail("read", file.inode.Path(), fmt.Errorf("negative read length %d", length))
	}
	buffer := make([]byte, length)
	n, err := s.table.ReadAtPinned(file.inode, file.pin, buffer, offset)
	if err != nil {
		return nil, s.fail("read", file.inode.Path(), err)
	}
	return buffer[:n], nil
}

// Write writes data at offset through an open handle and returns the
// number of bytes written.
func (s *Session) Write(handle Handle, offset int64, data []byte) (int, error) {
	file, err := s.lookupHandle(handle)
	if err != nil {
		return 0, s.fail("write", "", err)
	}
	if !file.intent.Writable() {
		return 0, s.fail("write", file.inode.Path(), fmt.Errorf("handle %d is read-only: %w", handle, vfserr.ErrBadHandle))
	}
	if _, err := s.table.Write(file.inode, offset, data); err != nil {
		return 0, s.fail("write", file.inode.Path(), err)
	}
	return len(data), nil
}

// Sync flushes an open handle's file to stable storage.
func (s *Session) Sync(handle Handle) error {
	file, err := s.lookupHandle(handle)
	if err != nil {
		return s.fail("fsync", "", err)
	}
	return s.fail("fsync", file.inode.Path(), s.table.Sync(file.inode))
}

// Flush persists the size and mtime of writes made through a handle.
// Read-only handles have nothing to flush.
func (s *Session) Flush(handle Handle) error {
	file, err := s.lookupHandle(handle)
	if err != nil {
		return s.fail("flush", "", err)
	}
	if !file.intent.Writable() {
		return nil
	}
	return s.fail("flush", file.inode.Path(), s.table.Flush(file.inode))
}

// Release closes a handle, flushing it first if it was writable. The
// handle is gone even when the flush fails.
func (s *Session) Release(handle Handle) error {
	s.handleMu.Lock()
	file, ok := s.handles[handle]
	delete(s.handles, handle)
	s.handleMu.Unlock()
	if !ok {
		return fmt.Errorf("handle %d: %w", handle, vfserr.ErrBadHandle)
	}
	file.pin.Release()
	if !file.intent.Writable() {
		return nil
	}
	return s.fail("release", file.inode.Path(), s.table.Flush(file.inode))
}

// OpenHandles returns the number of unreleased handles.
func (s *Session) OpenHandles() int {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	return len(s.handles)
}

// Create makes an empty regular file name in the directory at
// parentPath.
func (s *Session) Create(parentPath, name string, mode uint32) (Attributes, error) {
	attributes, err := s.makeAt(parentPath, name, inode.KindFile, mode, "")
	return attributes, s.fail("create", path.Join(parentPath, name), err)
}

// Mkdir makes an empty directory name in the directory at parentPath.
func (s *Session) Mkdir(parentPath, name string, mode uint32) (Attributes, error) {
	attributes, err := s.makeAt(parentPath, name, inode.KindDirectory, mode, "")
	return attributes, s.fail("mkdir", path.Join(parentPath, name), err)
}

// Symlink makes a symlink name pointing at target in the directory at
// parentPath.
func (s *Session) Symlink(parentPath, name, target string) (Attributes, error) {
	attributes, err := s.makeAt(parentPath, name, inode.KindSymlink, inode.SymlinkMode, target)
	return attributes, s.fail("symlink", path.Join(parentPath, name), err)
}

func (s *Session) makeAt(parentPath, name string, kind inode.Kind, mode uint32, target string) (Attributes, error) {
	parent, err := s.resolve(parentPath)
	if err != nil {
		return Attributes{}, err
	}
	return s.make(parent, name, kind, mode, target)
}

func (s *Session) make(parent *inode.Inode, name string, kind inode.Kind, mode uint32, target string) (Attributes, error) {
	created, err := s.table.Create(parent, name, kind, mode&0o7777, target)
	if err != nil {
		return Attributes{}, err
	}
	return s.attributes(created)
}

// CreateChild makes an empty regular file in the directory inode
// parent and opens it with intent.
func (s *Session) CreateChild(parent inode.Number, name string, mode uint32, intent Intent) (Attributes, Handle, error) {
	directory, err := s.table.Get(parent)
	if err != nil {
		return Attributes{}, 0, s.fail("create", name, err)
	}
	attributes, err := s.make(directory, name, inode.KindFile, mode, "")
	if err != nil {
		return Attributes{}, 0, s.fail("create", joinPath(directory.Path(), name), err)
	}
	handle, err := s.OpenInode(attributes.Inode, intent, false)
	if err != nil {
		return Attributes{}, 0, err
	}
	return attributes, handle, nil
}

// MkdirChild makes a directory in the directory inode parent.
func (s *Session) MkdirChild(parent inode.Number, name string, mode uint32) (Attributes, error) {
	directory, err := s.table.Get(parent)
	if err != nil {
		return Attributes{}, s.fail("mkdir", name, err)
	}
	attributes, err := s.make(directory, name, inode.KindDirectory, mode, "")
	return attributes, s.fail("mkdir", joinPath(directory.Path(), name), err)
}

// SymlinkChild makes a symlink in the directory inode parent.
func (s *Session) SymlinkChild(parent inode.Number, name, target string) (Attributes, error) {
	directory, err := s.table.Get(parent)
	if err != nil {
		return Attributes{}, s.fail("symlink", name, err)
	}
	attributes, err := s.make(directory, name, inode.KindSymlink, inode.SymlinkMode, target)
	return attributes, s.fail("symlink", joinPath(directory.Path(), name), err)
}

// Readlink returns the target of the symlink at path.
func (s *Session) Readlink(p string) (string, error) {
	target, err := s.resolve(p)
	if err != nil {
		return "", s.fail("readlink", p, err)
	}
	link, err := s.table.Readlink(target)
	return link, s.fail("readlink", p, err)
}

// ReadlinkInode returns the target of the symlink inode number.
func (s *Session) ReadlinkInode(number inode.Number) (string, error) {
	target, err := s.table.Get(number)
	if err != nil {
		return "", s.fail("readlink", fmt.Sprint(number), err)
	}
	link, err := s.table.Readlink(target)
	return link, s.fail("readlink", target.Path(), err)
}

// Unlink removes the file or symlink at path.
func (s *Session) Unlink(p string) error {
	return s.fail("unlink", p, s.removeAt(p, false))
}

// Rmdir removes the empty directory at path.
func (s *Session) Rmdir(p string) error {
	return s.fail("rmdir", p, s.removeAt(p, true))
}

func (s *Session) removeAt(p string, directory bool) error {
	parentPath, name, err := splitPath(p)
	if err != nil {
		return err
	}
	parent, err := s.resolve(parentPath)
	if err != nil {
		return err
	}
	if directory {
		return s.table.Rmdir(parent, name)
	}
	return s.table.Unlink(parent, name)
}

// UnlinkChild removes name from the directory inode parent.
func (s *Session) UnlinkChild(parent inode.Number, name string) error {
	directory, err := s.table.Get(parent)
	if err != nil {
		return s.fail("unlink", name, err)
	}
	return s.fail("unlink", joinPath(directory.Path(), name), s.table.Unlink(directory, name))
}

// RmdirChild removes the empty directory name from the directory inode
// parent.
func (s *Session) RmdirChild(parent inode.Number, name string) error {
	directory, err := s.table.Get(parent)
	if err != nil {
		return s.fail("rmdir", name, err)
	}
	return s.fail("rmdir", joinPath(directory.Path(), name), s.table.Rmdir(directory, name))
}

// Truncate sets the size of the file at path, materializing it.
func (s *Session) Truncate(p string, size int64) error {
	target, err := s.resolve(p)
	if err != nil {
		return s.fail("truncate", p, err)
	}
	return s.fail("truncate", p, s.table.Truncate(target, size))
}

// TruncateInode sets the size of the file inode number.
func (s *Session) TruncateInode(number inode.Number, size int64) error {
	target, err := s.table.Get(number)
	if err != nil {
		return s.fail("truncate", fmt.Sprint(number), err)
	}
	return s.fail("truncate", target.Path(), s.table.Truncate(target, size))
}

// Chmod sets the permission bits of the inode at path.
func (s *Session) Chmod(p string, mode uint32) error {
	target, err := s.resolve(p)
	if err != nil {
		return s.fail("chmod", p, err)
	}
	return s.fail("chmod", p, s.table.SetMode(target, mode&0o7777))
}

// ChmodInode sets the permission bits of inode number.
func (s *Session) ChmodInode(number inode.Number, mode uint32) error {
	target, err := s.table.Get(number)
	if err != nil {
		return s.fail("chmod", fmt.Sprint(number), err)
	}
	return s.fail("chmod", target.Path(), s.table.SetMode(target, mode&0o7777))
}

// Materialize copies the lazy file at path into the overlay.
func (s *Session) Materialize(p string) error {
	target, err := s.resolve(p)
	if err != nil {
		return s.fail("materialize", p, err)
	}
	return s.fail("materialize", p, s.table.Materialize(target))
}

// readChunk is the read size used by ReadFile.
const readChunk = 64 << 10

// ReadFile returns the whole content of the file at path.
func (s *Session) ReadFile(p string) ([]byte, error) {
	handle, err := s.Open(p, IntentRead)
	if err != nil {
		return nil, err
	}
	defer s.Release(handle)

	var content []byte
	for {
		chunk, err := s.Read(handle, int64(len(content)), readChunk)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return content, nil
		}
		content = append(content, chunk...)
	}
}

// WriteFile replaces the content of the file at path, creating it with
// mode if it does not exist.
func (s *Session) WriteFile(p string, data []byte, mode uint32) error {
	var handle Handle
	target, err := s.resolve(p)
	switch {
	case err == nil:
		handle, err = s.open(target, IntentWrite, true)
		if err != nil {
			return s.fail("write", p, err)
		}
	case errors.Is(err, vfserr.ErrNotFound):
		parentPath, name, splitErr := splitPath(p)
		if splitErr != nil {
			return splitErr
		}
		attributes, err := s.Create(parentPath, name, mode)
		if err != nil {
			return err
		}
		handle, err = s.OpenInode(attributes.Inode, IntentWrite, false)
		if err != nil {
			return err
		}
	default:
		return s.fail("write", p, err)
	}
	if _, err := s.Write(handle, 0, data); err != nil {
		s.Release(handle)
		return err
	}
	return s.Release(handle)
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
