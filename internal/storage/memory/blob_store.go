// Package memory keeps archived cards in process memory for dry runs.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// BlobStore stores objects in-memory and returns memory:// URIs.
type BlobStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	order []string
	limit int
}

// NewBlobStore creates an unbounded in-memory blob store.
func NewBlobStore() *BlobStore {
	return NewBoundedBlobStore(0)
}

// NewBoundedBlobStore keeps at most limit objects, evicting the oldest
// write first. A non-positive limit means unbounded.
func NewBoundedBlobStore(limit int) *BlobStore {
	return &BlobStore{data: make(map[string][]byte), limit: limit}
}

// PutObject stores a copy of the reader content under path.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[path]; !ok {
		s.order = append(s.order, path)
	}
	s.data[path] = data
	for s.limit > 0 && len(s.order) > s.limit {
		delete(s.data, s.order[0])
		s.order = s.order[1:]
	}
	return "memory://" + path, nil
}

// Object returns the stored bytes for path.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	return data, ok
}

// Len reports how many objects are stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
