package badger

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
	"github.com/shruggr/chainstore/kvstore"
)

// Store is a BadgerDB-backed implementation of kvstore.KVStore.
// Columns are mapped to a one-byte key prefix, so each column behaves as an
// independent ordered key space inside the single badger instance.
type Store struct {
	db *badger.DB
}

// Config holds configuration for BadgerDB
type Config struct {
	DataDir string // Directory for data storage
}

// New creates a new BadgerDB-backed KVStore
func New(config *Config) (*Store, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("DataDir is required")
	}

	opts := badger.DefaultOptions(config.DataDir)
	opts = opts.WithLogger(nil) // Disable badger's verbose logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	log.Debug().Str("dir", config.DataDir).Msg("badger store opened")

	return &Store{db: db}, nil
}

// columnKey prepends the column prefix to a key
func columnKey(col kvstore.Column, key []byte) []byte {
	ck := make([]byte, 1+len(key))
	ck[0] = byte(col)
	copy(ck[1:], key)
	return ck
}

// Get retrieves the full value stored under (col, key)
func (s *Store) Get(ctx context.Context, col kvstore.Column, key []byte) ([]byte, error) {
	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(columnKey(col, key))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			value = append([]byte{}, val...)
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return value, nil
}

// PartialGet retrieves value[from:to] for the value stored under (col, key).
// Only the requested range is copied out of badger's value buffer.
func (s *Store) PartialGet(ctx context.Context, col kvstore.Column, key []byte, from, to int) ([]byte, error) {
	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(columnKey(col, key))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if from < 0 || to < from || to > len(val) {
				return fmt.Errorf("range [%d, %d) out of bounds for value of %d bytes", from, to, len(val))
			}
			value = append([]byte{}, val[from:to]...)
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Write applies the batch in a single badger transaction, so all entries
// become visible atomically.
func (s *Store) Write(ctx context.Context, batch *kvstore.Batch) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, op := range batch.Ops() {
			if err := txn.Set(columnKey(op.Col, op.Key), op.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases all BadgerDB resources
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RunGC runs BadgerDB garbage collection
// Call this periodically to reclaim space from deleted/updated entries
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err == badger.ErrNoRewrite {
		return nil // Not an error - just means no rewrite was needed
	}
	if err != nil {
		return err
	}
	log.Debug().Msg("badger value log GC rewrote a file")
	return nil
}
