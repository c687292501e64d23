// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/treefs/lib/clock"
	"github.com/bureau-foundation/treefs/lib/codec"
	"github.com/bureau-foundation/treefs/lib/vfserr"
)

// Directory and file names within the overlay root.
const (
	recordsDir     = "records"
	dataDir        = "data"
	tmpDir         = "tmp"
	tombstonesFile = "tombstones.cbor"
	rootFile       = "root.cbor"
)

// Overlay is the mutable per-path store of a mount. It is safe for
// concurrent use; operations on one path are serialized, operations on
// distinct paths proceed independently.
type Overlay struct {
	root  string
	clock clock.Clock

	// mu guards the records and children maps and is never held
	// across file I/O. It may be acquired while holding an entry's
	// mutex, never the other way around.
	mu       sync.RWMutex
	records  map[string]*entry
	children map[string]map[string]*entry

	tombstoneMu sync.Mutex
	tombstones  map[string]struct{}
}

// entry is the in-memory state of one record. The mutex serializes
// all I/O on the record's files.
type entry struct {
	mu      sync.Mutex
	record  Record
	removed bool
	// dirty is set when record holds a size or mtime from Write that
	// the sidecar does not have yet.
	dirty bool
}

// Open opens (creating if needed) the overlay rooted at root, loading
// every sidecar and the tombstone set. Leftover staging files from an
// interrupted write are removed.
func Open(root string, clk clock.Clock) (*Overlay, error) {
	for _, dir := range []string{
		root,
		filepath.Join(root, recordsDir),
		filepath.Join(root, dataDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating overlay directory %s: %w", dir, err)
		}
	}
	if clk == nil {
		clk = clock.Real()
	}

	overlay := &Overlay{
		root:       root,
		clock:      clk,
		records:    make(map[string]*entry),
		children:   make(map[string]map[string]*entry),
		tombstones: make(map[string]struct{}),
	}
	if err := overlay.clearStaging(); err != nil {
		return nil, err
	}
	if err := overlay.scanRecords(); err != nil {
		return nil, err
	}
	if err := overlay.loadTombstones(); err != nil {
		return nil, err
	}
	return overlay, nil
}

// Root returns the overlay's root directory.
func (o *Overlay) Root() string {
	return o.root
}

func (o *Overlay) clearStaging() error {
	staging := filepath.Join(o.root, tmpDir)
	leftovers, err := os.ReadDir(staging)
	if err != nil {
		return fmt.Errorf("reading %s: %w", staging, err)
	}
	for _, leftover := range leftovers {
		if err := os.RemoveAll(filepath.Join(staging, leftover.Name())); err != nil {
			return fmt.Errorf("removing staging file: %w", err)
		}
	}
	return nil
}

// scanRecords rebuilds the index from sidecars. Each file record's
// size is reconciled against its data file.
func (o *Overlay) scanRecords() error {
	recordsRoot := filepath.Join(o.root, recordsDir)
	return filepath.WalkDir(recordsRoot, func(sidecarPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".cbor") {
			return nil
		}

		var record Record
		if err := codec.ReadFile(sidecarPath, &record); err != nil {
			return fmt.Errorf("loading overlay record %s: %v: %w", sidecarPath, err, vfserr.ErrCorruptStore)
		}
		if err := checkPath(record.Path); err != nil || !record.Kind.Valid() {
			return fmt.Errorf("overlay record %s is malformed: %w", sidecarPath, vfserr.ErrCorruptStore)
		}
		// A sidecar must live at the hash of the path it claims, or two
		// files could both describe one path.
		if filepath.Base(sidecarPath) != pathHash(record.Path)+".cbor" {
			return fmt.Errorf("overlay record %s does not belong to %q: %w", sidecarPath, record.Path, vfserr.ErrCorruptStore)
		}

		// The data file is authoritative for size. Writes since the
		// last flush may have grown it past what the sidecar says.
		if record.Kind == KindFile {
			info, err := os.Stat(o.dataPath(record.Path))
			if err != nil {
				return fmt.Errorf("overlay record %q has no data file: %v: %w", record.Path, err, vfserr.ErrCorruptStore)
			}
			record.Size = info.Size()
		}
		o.insert(&entry{record: record})
		return nil
	})
}

// insert adds e to both indexes. The caller must not hold o.mu.
func (o *Overlay) insert(e *entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records[e.record.Path] = e
	parent := ParentPath(e.record.Path)
	siblings, ok := o.children[parent]
	if !ok {
		siblings = make(map[string]*entry)
		o.children[parent] = siblings
	}
	siblings[e.record.Name()] = e
}

// drop removes e from both indexes if it is still the indexed entry
// for its path. The caller must not hold o.mu.
func (o *Overlay) drop(e *entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	recordPath := e.record.Path
	if o.records[recordPath] != e {
		return
	}
	delete(o.records, recordPath)
	parent := ParentPath(recordPath)
	if siblings, ok := o.children[parent]; ok {
		delete(siblings, e.record.Name())
		if len(siblings) == 0 {
			delete(o.children, parent)
		}
	}
}

// acquire returns the locked entry for recordPath, or ErrNotFound. The
// caller must unlock the entry's mutex.
func (o *Overlay) acquire(recordPath string) (*entry, error) {
	o.mu.RLock()
	e := o.records[recordPath]
	o.mu.RUnlock()
	if e == nil {
		return nil, fmt.Errorf("overlay %q: %w", recordPath, vfserr.ErrNotFound)
	}
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil, fmt.Errorf("overlay %q: %w", recordPath, vfserr.ErrNotFound)
	}
	return e, nil
}

// reserve claims recordPath for a new record. The returned entry is
// locked and indexed; if the caller fails to populate it, it must call
// abandon. Fails with ErrConflictingCreate when a record exists.
func (o *Overlay) reserve(record Record) (*entry, error) {
	if err := checkPath(record.Path); err != nil {
		return nil, err
	}
	if !record.Kind.Valid() {
		return nil, fmt.Errorf("overlay %q: unknown kind %d", record.Path, record.Kind)
	}

	// Lock the entry before it becomes visible so no other caller can
	// read it half populated.
	e := &entry{record: record}
	e.mu.Lock()

	o.mu.Lock()
	if _, exists := o.records[record.Path]; exists {
		o.mu.Unlock()
		e.mu.Unlock()
		return nil, fmt.Errorf("overlay %q: %w", record.Path, vfserr.ErrConflictingCreate)
	}
	o.records[record.Path] = e
	parent := ParentPath(record.Path)
	siblings, ok := o.children[parent]
	if !ok {
		siblings = make(map[string]*entry)
		o.children[parent] = siblings
	}
	siblings[record.Name()] = e
	o.mu.Unlock()

	return e, nil
}

// abandon undoes a failed reserve. The entry must be locked by the
// caller; abandon unlocks it.
func (o *Overlay) abandon(e *entry) {
	e.removed = true
	o.drop(e)
	e.mu.Unlock()
}

// Create adds an empty record. Files get an empty data file;
// directories and symlinks have none. Fails with
// vfserr.ErrConflictingCreate when recordPath already has a record.
func (o *Overlay) Create(recordPath string, kind Kind, mode uint32, target string) (Record, error) {
	if kind == KindSymlink {
		return o.Populate(recordPath, kind, mode, []byte(target))
	}
	return o.Populate(recordPath, kind, mode, nil)
}

// Populate adds a record holding content. For files, content becomes
// the data file; for symlinks, content is the link target; directories
// take no content. The data file is written to staging, synced and
// renamed into place before the sidecar is written. On any failure
// nothing remains: no record, no data file, no index entry.
func (o *Overlay) Populate(recordPath string, kind Kind, mode uint32, content []byte) (Record, error) {
	record := Record{
		Path:    recordPath,
		Kind:    kind,
		Mode:    mode & 0o7777,
		ModTime: o.clock.Now(),
	}
	switch kind {
	case KindFile:
		record.Size = int64(len(content))
	case KindSymlink:
		record.Target = string(content)
		record.Size = int64(len(content))
	case KindDirectory:
		if len(content) != 0 {
			return Record{}, fmt.Errorf("overlay %q: directories take no content", recordPath)
		}
	}

	e, err := o.reserve(record)
	if err != nil {
		return Record{}, err
	}

	// Data before sidecar: a sidecar on disk always has its content.
	if kind == KindFile {
		if err := o.stageData(recordPath, content); err != nil {
			o.abandon(e)
			return Record{}, fmt.Errorf("overlay %q: %w", recordPath, err)
		}
	}
	if err := o.writeSidecar(record); err != nil {
		if kind == KindFile {
			os.Remove(o.dataPath(recordPath))
		}
		o.abandon(e)
		return Record{}, fmt.Errorf("overlay %q: %w", recordPath, err)
	}

	e.mu.Unlock()
	return record, nil
}

// stageData writes content to a staging file, syncs it, and renames it
// to the data path of recordPath.
func (o *Overlay) stageData(recordPath string, content []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Join(o.root, tmpDir), "data-*")
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing staging file: %w", err)
	}
	// Synced before the rename, or a crash could leave a zero-length
	// file under the final name.
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing staging file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing staging file: %w", err)
	}

	finalPath := o.dataPath(recordPath)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating data shard directory: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming staging file to %s: %w", finalPath, err)
	}
	success = true
	return nil
}

func (o *Overlay) writeSidecar(record Record) error {
	if err := codec.WriteFile(o.sidecarPath(record.Path), record); err != nil {
		return fmt.Errorf("writing sidecar: %w", err)
	}
	return nil
}

// Stat returns the record for recordPath.
func (o *Overlay) Stat(recordPath string) (Record, error) {
	e, err := o.acquire(recordPath)
	if err != nil {
		return Record{}, err
	}
	defer e.mu.Unlock()
	return e.record, nil
}

// Exists reports whether recordPath has a record.
func (o *Overlay) Exists(recordPath string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.records[recordPath]
	return ok
}

// Read returns up to length bytes of a file record starting at offset.
// Reads past the end return fewer bytes (possibly none).
func (o *Overlay) Read(recordPath string, offset int64, length int) ([]byte, error) {
	buffer := make([]byte, length)
	n, err := o.ReadAt(recordPath, buffer, offset)
	if err != nil {
		return nil, err
	}
	return buffer[:n], nil
}

// ReadAt reads into buffer from a file record at offset and returns
// the number of bytes read. Reaching the end of the content is not an
// error.
func (o *Overlay) ReadAt(recordPath string, buffer []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("overlay %q: negative offset %d", recordPath, offset)
	}
	e, err := o.acquire(recordPath)
	if err != nil {
		return 0, err
	}
	defer e.mu.Unlock()
	if err := requireFile(e.record); err != nil {
		return 0, err
	}

	file, err := os.Open(o.dataPath(recordPath))
	if err != nil {
		return 0, fmt.Errorf("overlay %q: opening data: %w", recordPath, err)
	}
	defer file.Close()
	n, err := file.ReadAt(buffer, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("overlay %q: reading data: %w", recordPath, err)
	}
	return n, nil
}

// Write writes data to a file record at offset, extending it as
// needed, and returns the new size. The new size and mtime are visible
// immediately but reach the sidecar only on Flush or Sync; a record
// that was never flushed has its size reconciled from the data file on
// the next Open.
func (o *Overlay) Write(recordPath string, offset int64, data []byte) (int64, error) {
	if offset < 0 {
		return 0, fmt.Errorf("overlay %q: negative offset %d", recordPath, offset)
	}
	e, err := o.acquire(recordPath)
	if err != nil {
		return 0, err
	}
	defer e.mu.Unlock()
	if err := requireFile(e.record); err != nil {
		return 0, err
	}

	file, err := os.OpenFile(o.dataPath(recordPath), os.O_WRONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("overlay %q: opening data: %w", recordPath, err)
	}
	_, writeErr := file.WriteAt(data, offset)
	closeErr := file.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		// A partial write may have extended the file.
		o.reconcileSize(e)
		return 0, fmt.Errorf("overlay %q: writing data: %w", recordPath, err)
	}

	e.record.Size = max(e.record.Size, offset+int64(len(data)))
	e.record.ModTime = o.clock.Now()
	e.dirty = true
	return e.record.Size, nil
}

// reconcileSize resets the in-memory size from the data file. Called
// with the entry locked after a failed write.
func (o *Overlay) reconcileSize(e *entry) {
	if info, err := os.Stat(o.dataPath(e.record.Path)); err == nil {
		e.record.Size = info.Size()
	}
}

// Truncate sets the size of a file record, zero-extending or cutting
// its content.
func (o *Overlay) Truncate(recordPath string, size int64) error {
	if size < 0 {
		return fmt.Errorf("overlay %q: negative size %d", recordPath, size)
	}
	e, err := o.acquire(recordPath)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	if err := requireFile(e.record); err != nil {
		return err
	}

	if err := os.Truncate(o.dataPath(recordPath), size); err != nil {
		return fmt.Errorf("overlay %q: truncating data: %w", recordPath, err)
	}
	// The sidecar write also carries any size or mtime pending from
	// earlier writes, so the entry is clean afterwards.
	updated := e.record
	updated.Size = size
	updated.ModTime = o.clock.Now()
	if err := o.writeSidecar(updated); err != nil {
		return fmt.Errorf("overlay %q: %w", recordPath, err)
	}
	e.record = updated
	e.dirty = false
	return nil
}

// SetMode replaces the permission bits of a record.
func (o *Overlay) SetMode(recordPath string, mode uint32) error {
	e, err := o.acquire(recordPath)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	updated := e.record
	updated.Mode = mode & 0o7777
	updated.ModTime = o.clock.Now()
	if err := o.writeSidecar(updated); err != nil {
		return fmt.Errorf("overlay %q: %w", recordPath, err)
	}
	e.record = updated
	e.dirty = false
	return nil
}

// Flush persists a record's pending size and mtime to its sidecar.
// Records with nothing pending are left alone.
func (o *Overlay) Flush(recordPath string) error {
	e, err := o.acquire(recordPath)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	return o.flushLocked(e)
}

func (o *Overlay) flushLocked(e *entry) error {
	if !e.dirty {
		return nil
	}
	if err := o.writeSidecar(e.record); err != nil {
		return fmt.Errorf("overlay %q: %w", e.record.Path, err)
	}
	e.dirty = false
	return nil
}

// Sync flushes a file record's data to stable storage, then persists
// its pending sidecar update. The data goes first so a synced sidecar
// never describes bytes that could still be lost.
func (o *Overlay) Sync(recordPath string) error {
	e, err := o.acquire(recordPath)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	if e.record.Kind != KindFile {
		return nil
	}
	file, err := os.OpenFile(o.dataPath(recordPath), os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("overlay %q: opening data: %w", recordPath, err)
	}
	defer file.Close()
	if err := file.Sync(); err != nil {
		return fmt.Errorf("overlay %q: syncing data: %w", recordPath, err)
	}
	return o.flushLocked(e)
}

// Remove deletes a record and its files. A directory record with
// children fails with vfserr.ErrNotEmpty.
func (o *Overlay) Remove(recordPath string) error {
	e, err := o.acquire(recordPath)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if e.record.Kind == KindDirectory {
		o.mu.RLock()
		occupied := len(o.children[recordPath]) > 0
		o.mu.RUnlock()
		if occupied {
			return fmt.Errorf("overlay %q: %w", recordPath, vfserr.ErrNotEmpty)
		}
	}

	// The sidecar goes first: a crash after this point leaves at most
	// an orphaned data file, never a record without content.
	if err := os.Remove(o.sidecarPath(recordPath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("overlay %q: removing sidecar: %w", recordPath, err)
	}
	if e.record.Kind == KindFile {
		if err := os.Remove(o.dataPath(recordPath)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("overlay %q: removing data: %w", recordPath, err)
		}
	}
	e.removed = true
	o.drop(e)
	return nil
}

// Children returns the records directly beneath directory, sorted by
// name. The root directory is "".
func (o *Overlay) Children(directory string) []Record {
	o.mu.RLock()
	entries := make([]*entry, 0, len(o.children[directory]))
	for _, e := range o.children[directory] {
		entries = append(entries, e)
	}
	o.mu.RUnlock()

	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			records = append(records, e.record)
		}
		e.mu.Unlock()
	}
	slices.SortFunc(records, func(a, b Record) int {
		return strings.Compare(a.Path, b.Path)
	})
	return records
}

// HasChildren reports whether directory has any child records.
func (o *Overlay) HasChildren(directory string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.children[directory]) > 0
}

// Len returns the number of records.
func (o *Overlay) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.records)
}

// DataPath returns the data file location for recordPath.
func (o *Overlay) DataPath(recordPath string) string {
	return o.dataPath(recordPath)
}

func (o *Overlay) dataPath(recordPath string) string {
	h := pathHash(recordPath)
	return filepath.Join(o.root, dataDir, h[:2], h[2:4], h)
}

func (o *Overlay) sidecarPath(recordPath string) string {
	h := pathHash(recordPath)
	return filepath.Join(o.root, recordsDir, h[:2], h[2:4], h+".cbor")
}

func requireFile(record Record) error {
	switch record.Kind {
	case KindFile:
		return nil
	case KindDirectory:
		return fmt.Errorf("overlay %q: %w", record.Path, vfserr.ErrIsDirectory)
	default:
		return fmt.Errorf("overlay %q: %w", record.Path, vfserr.ErrNotAFile)
	}
}
