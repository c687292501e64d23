// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func compressibleData() []byte {
	return bytes.Repeat([]byte("package main\n\nfunc main() {}\n"), 200)
}

func TestCompressRoundTrip(t *testing.T) {
	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			data := compressibleData()
			compressed, used, err := compressWithFallback(data, tag)
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			if used != tag {
				t.Errorf("compression used = %s, want %s", used, tag)
			}
			if tag != CompressionNone && len(compressed) >= len(data) {
				t.Errorf("compressed %d bytes to %d", len(data), len(compressed))
			}
			restored, err := decompress(compressed, used, int64(len(data)))
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(restored, data) {
				t.Error("round trip altered data")
			}
		})
	}
}

func TestCompressFallback(t *testing.T) {
	random := make([]byte, 4096)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"small", []byte("tiny")},
		{"incompressible", random},
	}
	for _, test := range tests {
		for _, tag := range []CompressionTag{CompressionLZ4, CompressionZstd} {
			t.Run(test.name+"/"+tag.String(), func(t *testing.T) {
				compressed, used, err := compressWithFallback(test.data, tag)
				if err != nil {
					t.Fatalf("compress: %v", err)
				}
				if used != CompressionNone {
					t.Errorf("compression used = %s, want none", used)
				}
				if !bytes.Equal(compressed, test.data) {
					t.Error("fallback altered data")
				}
			})
		}
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	data := compressibleData()
	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			compressed, used, err := compressWithFallback(data, tag)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := decompress(compressed, used, int64(len(data))+1); err == nil {
				t.Error("decompress accepted a wrong size")
			}
		})
	}
}

func TestParseCompressionTag(t *testing.T) {
	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		parsed, err := ParseCompressionTag(tag.String())
		if err != nil {
			t.Errorf("ParseCompressionTag(%q): %v", tag.String(), err)
		}
		if parsed != tag {
			t.Errorf("ParseCompressionTag(%q) = %s", tag.String(), parsed)
		}
	}
	if _, err := ParseCompressionTag("brotli"); err == nil {
		t.Error("ParseCompressionTag accepted brotli")
	}
}
