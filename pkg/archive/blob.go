// Package archive exports expired trends to a blob store before deletion.
// Objects are keyed by content hash, so re-running a sweep over the same
// records re-uploads nothing.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// BlobStore persists immutable content-addressed objects.
type BlobStore interface {
	// Store writes data and returns its content hash ("sha256:<hex>").
	// Storing the same bytes twice is a no-op.
	Store(ctx context.Context, data []byte) (string, error)

	// Get retrieves data by content hash.
	Get(ctx context.Context, hash string) ([]byte, error)

	// Exists reports whether the hash is already stored.
	Exists(ctx context.Context, hash string) (bool, error)
}

// ContentHash computes the store's address for data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// MemoryBlobStore is an in-process BlobStore for tests and single-node runs.
type MemoryBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryBlobStore creates an empty store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Store(_ context.Context, data []byte) (string, error) {
	hash := ContentHash(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[hash]; !ok {
		s.objects[hash] = append([]byte(nil), data...)
	}
	return hash, nil
}

func (s *MemoryBlobStore) Get(_ context.Context, hash string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[hash]
	if !ok {
		return nil, errNotStored(hash)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryBlobStore) Exists(_ context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[hash]
	return ok, nil
}

// Len returns the stored object count.
func (s *MemoryBlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
