package memory

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/shruggr/chainstore/kvstore"
)

// Store is an in-memory implementation of kvstore.KVStore
// Suitable for testing and development
type Store struct {
	mu   sync.RWMutex
	cols [kvstore.Columns]map[string][]byte
}

// New creates a new in-memory KVStore
func New() *Store {
	s := &Store{}
	for i := range s.cols {
		s.cols[i] = make(map[string][]byte)
	}
	return s
}

// Get retrieves the full value stored under (col, key)
func (s *Store) Get(ctx context.Context, col kvstore.Column, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.cols[col][hex.EncodeToString(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, val...), nil
}

// PartialGet retrieves value[from:to] for the value stored under (col, key)
func (s *Store) PartialGet(ctx context.Context, col kvstore.Column, key []byte, from, to int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.cols[col][hex.EncodeToString(key)]
	if !ok {
		return nil, nil
	}
	if from < 0 || to < from || to > len(val) {
		return nil, fmt.Errorf("range [%d, %d) out of bounds for value of %d bytes", from, to, len(val))
	}
	return append([]byte{}, val[from:to]...), nil
}

// Write applies the batch under a single lock acquisition, so all entries
// become visible atomically.
func (s *Store) Write(ctx context.Context, batch *kvstore.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range batch.Ops() {
		s.cols[op.Col][hex.EncodeToString(op.Key)] = append([]byte{}, op.Value...)
	}
	return nil
}

// Close releases any resources
func (s *Store) Close() error {
	return nil
}
