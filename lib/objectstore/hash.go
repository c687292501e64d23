// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest identifying a content object.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Each object
// kind hashes under its own key.
type domainKey [32]byte

// Domain separation keys. The byte values are the ASCII encoding of
// the domain name, zero-padded to 32 bytes. Changing them invalidates
// every stored object.
var (
	blobDomainKey = domainKey{
		't', 'r', 'e', 'e', 'f', 's', '.', 'o', 'b', 'j', 'e', 'c', 't', '.',
		'b', 'l', 'o', 'b', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	treeDomainKey = domainKey{
		't', 'r', 'e', 'e', 'f', 's', '.', 'o', 'b', 'j', 'e', 'c', 't', '.',
		't', 'r', 'e', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// HashBlob computes the blob-domain hash of data.
func HashBlob(data []byte) Hash {
	return keyedHash(blobDomainKey, data)
}

// hashTree computes the tree-domain hash of an encoded tree listing.
func hashTree(encoded []byte) Hash {
	return keyedHash(treeDomainKey, encoded)
}

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero hash, which no object has.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Short returns the first 12 hex characters, for log lines.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:6])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing object hash: %w", err)
	}
	if len(decoded) != len(hash) {
		return hash, fmt.Errorf("object hash is %d bytes, want %d", len(decoded), len(hash))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// keyedHash computes the BLAKE3 keyed hash of data under key.
func keyedHash(key domainKey, data []byte) Hash {
	// NewKeyed only fails for keys that are not 32 bytes, which
	// domainKey rules out.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("objectstore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}
