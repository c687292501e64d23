// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/bureau-foundation/treefs/lib/codec"
	"github.com/bureau-foundation/treefs/lib/vfserr"
)

// Directory names within the store root.
const (
	objectsDir = "objects"
	tmpDir     = "tmp"
)

// envelopeVersion is the current on-disk envelope format version.
const envelopeVersion = 1

// Kind distinguishes blob objects from tree objects in the envelope.
type Kind uint8

const (
	KindBlob Kind = 1
	KindTree Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTree:
		return "tree"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// envelope is the CBOR structure of every object file.
type envelope struct {
	Version     int            `cbor:"version"`
	Kind        Kind           `cbor:"kind"`
	Compression CompressionTag `cbor:"compression"`
	Size        int64          `cbor:"size"`
	Data        []byte         `cbor:"data"`
}

// envelopeHeader decodes everything but the payload. BlobSize uses it
// to answer without decompressing.
type envelopeHeader struct {
	Version int   `cbor:"version"`
	Kind    Kind  `cbor:"kind"`
	Size    int64 `cbor:"size"`
}

// Reader is the read side of a content store. The inode table depends
// on this interface rather than on *Store so that tests can observe
// and fault-inject store reads.
type Reader interface {
	// ReadBlob returns the content of a blob object. The returned
	// slice must not be modified.
	ReadBlob(hash Hash) ([]byte, error)

	// ReadTree returns the sorted entries of a tree object.
	ReadTree(hash Hash) ([]TreeEntry, error)

	// BlobSize returns the uncompressed length of a blob.
	BlobSize(hash Hash) (int64, error)
}

// Writer is the write side of a content store, consumed by
// TreeBuilder.
type Writer interface {
	WriteBlob(data []byte) (Hash, error)
	WriteTree(entries []TreeEntry) (Hash, error)
}

// Options configures a Store.
type Options struct {
	// Compression is applied to new object payloads. Payloads that do
	// not compress are stored uncompressed regardless.
	Compression CompressionTag

	// CacheBytes bounds the in-memory cache of decoded objects. Zero
	// selects DefaultCacheBytes; a negative value disables caching.
	CacheBytes int64

	// Logger receives store diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Store is an on-disk content-addressed object store. It is safe for
// concurrent use.
type Store struct {
	root        string
	compression CompressionTag
	cache       *objectCache
	logger      *slog.Logger
}

var (
	_ Reader = (*Store)(nil)
	_ Writer = (*Store)(nil)
)

// NewStore opens the store rooted at root, creating its directory
// structure if needed.
func NewStore(root string, options Options) (*Store, error) {
	for _, dir := range []string{
		root,
		filepath.Join(root, objectsDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}

	switch options.Compression {
	case CompressionNone, CompressionLZ4, CompressionZstd:
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", options.Compression)
	}

	cacheBytes := options.CacheBytes
	if cacheBytes == 0 {
		cacheBytes = DefaultCacheBytes
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Store{
		root:        root,
		compression: options.Compression,
		cache:       newObjectCache(cacheBytes),
		logger:      logger,
	}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// ObjectPath returns the sharded filesystem path for an object:
// objects/a3/f9/a3f9b2c1e7d4...
func (s *Store) ObjectPath(hash Hash) string {
	hex := hash.String()
	return filepath.Join(s.root, objectsDir, hex[:2], hex[2:4], hex)
}

// Exists reports whether an object file exists for hash. It does not
// verify the object.
func (s *Store) Exists(hash Hash) bool {
	_, err := os.Stat(s.ObjectPath(hash))
	return err == nil
}

// WriteBlob stores data as a blob and returns its hash.
func (s *Store) WriteBlob(data []byte) (Hash, error) {
	hash := HashBlob(data)
	if err := s.writeObject(hash, KindBlob, data); err != nil {
		return Hash{}, fmt.Errorf("writing blob %s: %w", hash.Short(), err)
	}
	return hash, nil
}

// WriteTree validates and sorts entries, stores them as a tree, and
// returns the tree hash.
func (s *Store) WriteTree(entries []TreeEntry) (Hash, error) {
	sorted, err := normalizeEntries(entries)
	if err != nil {
		return Hash{}, fmt.Errorf("writing tree: %w", err)
	}
	encoded, err := codec.Marshal(sorted)
	if err != nil {
		return Hash{}, fmt.Errorf("encoding tree: %w", err)
	}
	hash := hashTree(encoded)
	if err := s.writeObject(hash, KindTree, encoded); err != nil {
		return Hash{}, fmt.Errorf("writing tree %s: %w", hash.Short(), err)
	}
	return hash, nil
}

// ReadBlob returns the verified content of the blob at hash.
func (s *Store) ReadBlob(hash Hash) ([]byte, error) {
	key := cacheKey{hash: hash, kind: cacheBlob}
	if cached, ok := s.cache.get(key); ok {
		return cached.([]byte), nil
	}
	data, err := s.readObject(hash, KindBlob)
	if err != nil {
		return nil, err
	}
	s.cache.put(key, data, int64(len(data)))
	return data, nil
}

// ReadTree returns the verified, sorted entries of the tree at hash.
// The returned slice belongs to the caller.
func (s *Store) ReadTree(hash Hash) ([]TreeEntry, error) {
	key := cacheKey{hash: hash, kind: cacheTree}
	if cached, ok := s.cache.get(key); ok {
		return slices.Clone(cached.([]TreeEntry)), nil
	}
	payload, err := s.readObject(hash, KindTree)
	if err != nil {
		return nil, err
	}
	var entries []TreeEntry
	if err := codec.Unmarshal(payload, &entries); err != nil {
		return nil, fmt.Errorf("tree %s: decoding entries: %v: %w", hash.Short(), err, vfserr.ErrCorruptStore)
	}
	if err := checkDecodedEntries(entries); err != nil {
		return nil, fmt.Errorf("tree %s: %v: %w", hash.Short(), err, vfserr.ErrCorruptStore)
	}
	var cost int64
	for _, entry := range entries {
		cost += treeEntryOverhead + int64(len(entry.Name))
	}
	s.cache.put(key, entries, cost)
	return slices.Clone(entries), nil
}

// BlobSize returns the uncompressed size of the blob at hash without
// decompressing or verifying its payload.
func (s *Store) BlobSize(hash Hash) (int64, error) {
	if cached, ok := s.cache.get(cacheKey{hash: hash, kind: cacheBlob}); ok {
		return int64(len(cached.([]byte))), nil
	}
	sizeKey := cacheKey{hash: hash, kind: cacheSize}
	if cached, ok := s.cache.get(sizeKey); ok {
		return cached.(int64), nil
	}

	raw, err := s.readObjectFile(hash)
	if err != nil {
		return 0, err
	}
	var header envelopeHeader
	if err := codec.Unmarshal(raw, &header); err != nil {
		return 0, fmt.Errorf("object %s: decoding envelope: %v: %w", hash.Short(), err, vfserr.ErrCorruptStore)
	}
	if header.Version != envelopeVersion || header.Kind != KindBlob || header.Size < 0 {
		return 0, fmt.Errorf("object %s: bad blob envelope (version %d, kind %s, size %d): %w",
			hash.Short(), header.Version, header.Kind, header.Size, vfserr.ErrCorruptStore)
	}
	s.cache.put(sizeKey, header.Size, 8)
	return header.Size, nil
}

// readObjectFile reads an object file, mapping absence to
// vfserr.ErrNotFound.
func (s *Store) readObjectFile(hash Hash) ([]byte, error) {
	raw, err := os.ReadFile(s.ObjectPath(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("object %s: %w", hash.Short(), vfserr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", hash.Short(), err)
	}
	return raw, nil
}

// readObject reads, decodes, decompresses and verifies the object at
// hash, returning its payload.
func (s *Store) readObject(hash Hash, kind Kind) ([]byte, error) {
	raw, err := s.readObjectFile(hash)
	if err != nil {
		return nil, err
	}

	// Every decode failure below is store damage, not absence: the
	// file is there but does not hold the object its name promises.
	corrupt := func(format string, args ...any) error {
		s.logger.Warn("corrupt object",
			"hash", hash.String(),
			"kind", kind.String(),
			"problem", fmt.Sprintf(format, args...),
		)
		return fmt.Errorf("object %s: %s: %w", hash.Short(), fmt.Sprintf(format, args...), vfserr.ErrCorruptStore)
	}

	var object envelope
	if err := codec.Unmarshal(raw, &object); err != nil {
		return nil, corrupt("decoding envelope: %v", err)
	}
	if object.Version != envelopeVersion {
		return nil, corrupt("unsupported envelope version %d", object.Version)
	}
	if object.Kind != kind {
		return nil, corrupt("expected %s, found %s", kind, object.Kind)
	}
	if object.Size < 0 {
		return nil, corrupt("negative size %d", object.Size)
	}
	// Decompression must yield exactly the declared size.
	payload, err := decompress(object.Data, object.Compression, object.Size)
	if err != nil {
		return nil, corrupt("%v", err)
	}

	// Verify against the name. Trees hash their encoded payload under
	// their own key, so a blob can never pass as a tree.
	var actual Hash
	switch kind {
	case KindBlob:
		actual = HashBlob(payload)
	case KindTree:
		actual = hashTree(payload)
	default:
		return nil, fmt.Errorf("reading object %s: unknown kind %d", hash.Short(), kind)
	}
	if actual != hash {
		return nil, corrupt("content hashes to %s", actual.Short())
	}
	return payload, nil
}

// writeObject compresses payload into an envelope and writes it to
// the object path for hash via atomic rename through tmp/. An existing
// object is left untouched.
func (s *Store) writeObject(hash Hash, kind Kind, payload []byte) error {
	finalPath := s.ObjectPath(hash)
	// Same hash, same content: a present object needs no rewrite.
	if _, err := os.Stat(finalPath); err == nil {
		return nil
	}

	data, tag, err := compressWithFallback(payload, s.compression)
	if err != nil {
		return err
	}
	encoded, err := codec.Marshal(envelope{
		Version:     envelopeVersion,
		Kind:        kind,
		Compression: tag,
		Size:        int64(len(payload)),
		Data:        data,
	})
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	// Write to tmp/ and rename so readers only ever see whole objects.
	// Concurrent writers of one hash race benignly: the last rename
	// installs identical bytes.
	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), kind.String()+"-*.obj")
	if err != nil {
		return fmt.Errorf("creating temp object file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(encoded); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing object data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp object file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating object shard directory: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming object to %s: %w", finalPath, err)
	}
	success = true

	s.logger.Debug("object written",
		"hash", hash.String(),
		"kind", kind.String(),
		"size", len(payload),
		"compression", tag.String(),
		"stored", len(encoded),
	)
	return nil
}

// DescribeObject writes a summary of the envelope header of the object
// at hash to w. Tree objects are followed by the CBOR diagnostic
// notation of their verified payload; blob payloads are not read.
func (s *Store) DescribeObject(hash Hash, w io.Writer) error {
	raw, err := s.readObjectFile(hash)
	if err != nil {
		return err
	}
	var object envelope
	if err := codec.Unmarshal(raw, &object); err != nil {
		return fmt.Errorf("object %s: decoding envelope: %v: %w", hash.Short(), err, vfserr.ErrCorruptStore)
	}
	if _, err := fmt.Fprintf(w, "hash %s\nversion %d\nkind %s\ncompression %s\nsize %d\nstored %d\n",
		hash, object.Version, object.Kind, object.Compression, object.Size, len(object.Data)); err != nil {
		return err
	}
	if object.Kind != KindTree {
		return nil
	}

	payload, err := s.readObject(hash, KindTree)
	if err != nil {
		return err
	}
	diagnostic, err := codec.Diagnose(payload)
	if err != nil {
		return fmt.Errorf("tree %s: %v: %w", hash.Short(), err, vfserr.ErrCorruptStore)
	}
	_, err = fmt.Fprintf(w, "entries %s\n", diagnostic)
	return err
}
