// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// sampleRecord mirrors the shape of an overlay sidecar.
type sampleRecord struct {
	Path    string    `cbor:"path"`
	Mode    uint32    `cbor:"mode"`
	Size    int64     `cbor:"size"`
	ModTime time.Time `cbor:"mtime"`
	Target  string    `cbor:"target,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleRecord{
		Path:    "adir/file",
		Mode:    0o644,
		Size:    5,
		ModTime: time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Path != original.Path || decoded.Mode != original.Mode || decoded.Size != original.Size {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
	if !decoded.ModTime.Equal(original.ModTime) {
		t.Errorf("ModTime = %v, want %v (nanoseconds must survive)", decoded.ModTime, original.ModTime)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	// Map key order must not leak into the encoding: tree hashes
	// depend on identical bytes for identical data.
	first, err := Marshal(map[string]int{"zeta": 1, "alpha": 2, "mid": 3})
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(map[string]int{"mid": 3, "alpha": 2, "zeta": 1})
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(sampleRecord{Path: "hello"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diagnostic, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(diagnostic, `"hello"`) {
		t.Errorf("diagnostic %q does not mention the path", diagnostic)
	}
}

func TestWriteFileReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "record.cbor")

	if err := WriteFile(path, sampleRecord{Path: "first"}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := WriteFile(path, sampleRecord{Path: "second"}); err != nil {
		t.Fatalf("WriteFile overwrite: %v", err)
	}

	var decoded sampleRecord
	if err := ReadFile(path, &decoded); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if decoded.Path != "second" {
		t.Errorf("Path = %q, want %q", decoded.Path, "second")
	}

	// No temporary files may remain next to the destination.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		t.Errorf("directory contains %v, want only record.cbor", names)
	}
}

func TestReadFileMissing(t *testing.T) {
	var decoded sampleRecord
	err := ReadFile(filepath.Join(t.TempDir(), "absent.cbor"), &decoded)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ReadFile on missing file: got %v, want os.ErrNotExist", err)
	}
}

func TestReadFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.cbor")
	if err := os.WriteFile(path, []byte{0xff, 0xff, 0xff}, 0o644); err != nil {
		t.Fatal(err)
	}
	var decoded sampleRecord
	if err := ReadFile(path, &decoded); err == nil {
		t.Fatal("ReadFile on corrupt data succeeded")
	}
}
