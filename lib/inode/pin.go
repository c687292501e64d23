// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inode

import (
	"sync"

	"github.com/bureau-foundation/treefs/lib/objectstore"
)

// Pin holds one verified backing blob for the life of an open handle.
// The store only caches blobs that fit its byte budget, so without a
// pin every chunked read of a larger file would decode the whole object
// again.
//
// The zero value is ready to use. A Pin is safe for concurrent use;
// concurrent reads through one pin decode the blob once.
type Pin struct {
	mu      sync.Mutex
	loaded  bool
	object  objectstore.Hash
	content []byte
}

// blob returns the content of object, reading it from store unless the
// pin already holds it. A nil pin always reads from store.
func (p *Pin) blob(store objectstore.Reader, object objectstore.Hash) ([]byte, error) {
	if p == nil {
		return store.ReadBlob(object)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded && p.object == object {
		return p.content, nil
	}
	content, err := store.ReadBlob(object)
	if err != nil {
		// Nothing is retained on failure, so a retry goes back to
		// the store.
		return nil, err
	}
	p.loaded, p.object, p.content = true, object, content
	return content, nil
}

// Release drops the held content.
func (p *Pin) Release() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded, p.object, p.content = false, objectstore.Hash{}, nil
}
