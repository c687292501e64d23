// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies how an object payload is compressed. Tags
// are stored in object envelopes; changing the values breaks the
// on-disk format.
type CompressionTag uint8

const (
	// CompressionNone stores the payload as-is. Used for small
	// payloads and for data that does not compress.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 block compression: fast, modest ratio.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level. Source trees are
	// mostly text, where zstd wins comfortably.
	CompressionZstd CompressionTag = 2
)

// minCompressSize is the payload size below which compression is not
// attempted. Envelope overhead dominates for tiny objects.
const minCompressSize = 64

// String returns the name used in configuration files.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a compression name as produced by String.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4 or zstd)", name)
	}
}

// zstdEncoder and zstdDecoder are shared; both are safe for concurrent
// use through EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("objectstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("objectstore: zstd decoder initialization failed: " + err.Error())
	}
}

// errIncompressible is returned when compressed output would not be
// smaller than the input.
var errIncompressible = errors.New("data is incompressible")

// compressWithFallback compresses data with tag, falling back to
// CompressionNone for small or incompressible payloads.
func compressWithFallback(data []byte, tag CompressionTag) ([]byte, CompressionTag, error) {
	if tag == CompressionNone || len(data) < minCompressSize {
		return data, CompressionNone, nil
	}

	var (
		compressed []byte
		err        error
	)
	switch tag {
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed, err = compressZstd(data)
	default:
		return nil, 0, fmt.Errorf("unsupported compression tag: %d", tag)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return compressed, tag, nil
}

// decompress reverses compressWithFallback. The output length must
// equal uncompressedSize exactly.
func decompress(payload []byte, tag CompressionTag, uncompressedSize int64) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if int64(len(payload)) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed payload is %d bytes, envelope says %d", len(payload), uncompressedSize)
		}
		return payload, nil
	case CompressionLZ4:
		return decompressLZ4(payload, uncompressedSize)
	case CompressionZstd:
		return decompressZstd(payload, uncompressedSize)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int64) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if int64(read) != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int64) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if int64(len(result)) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}
