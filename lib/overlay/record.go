// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// Kind is the type of an overlay record.
type Kind uint8

const (
	KindFile      Kind = 1
	KindDirectory Kind = 2
	KindSymlink   Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Valid reports whether k is a defined kind.
func (k Kind) Valid() bool {
	return k >= KindFile && k <= KindSymlink
}

// Record is the metadata of one overlay path, persisted as its
// sidecar.
type Record struct {
	Path    string    `cbor:"path"`
	Kind    Kind      `cbor:"kind"`
	Mode    uint32    `cbor:"mode"`
	ModTime time.Time `cbor:"mtime"`
	Size    int64     `cbor:"size"`
	Target  string    `cbor:"target,omitempty"`
}

// Name returns the final path component.
func (r Record) Name() string {
	return path.Base(r.Path)
}

// pathKey is the BLAKE3 key used to name files after record paths.
var pathKey = [32]byte{
	't', 'r', 'e', 'e', 'f', 's', '.', 'o', 'v', 'e', 'r', 'l', 'a', 'y',
	'.', 'p', 'a', 't', 'h', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// pathHash returns the hex keyed hash of a record path.
func pathHash(recordPath string) string {
	hasher, err := blake3.NewKeyed(pathKey[:])
	if err != nil {
		panic("overlay: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(recordPath))
	return hex.EncodeToString(hasher.Sum(nil))
}

// ParentPath returns the parent of a record path; "" for top-level
// paths.
func ParentPath(recordPath string) string {
	index := strings.LastIndexByte(recordPath, '/')
	if index < 0 {
		return ""
	}
	return recordPath[:index]
}

// checkPath rejects paths that are not in canonical relative form.
func checkPath(recordPath string) error {
	if recordPath == "" {
		return fmt.Errorf("the root directory has no overlay record")
	}
	if path.Clean(recordPath) != recordPath || strings.HasPrefix(recordPath, "/") ||
		recordPath == "." || recordPath == ".." || strings.HasPrefix(recordPath, "../") {
		return fmt.Errorf("non-canonical overlay path %q", recordPath)
	}
	return nil
}
