package kvstore

import (
	"context"

	"github.com/bsv-blockchain/go-sdk/chainhash"
)

// Hash is a 32-byte hash.
// BLAKE3 over the canonical encoding for blocks, transactions and index nodes.
// Aliased to chainhash.Hash from go-sdk for compatibility with hash utilities.
type Hash = chainhash.Hash

// Column identifies one of the store's key spaces. Column values are part of
// the on-disk format and must never be renumbered.
type Column byte

const (
	ColumnBlockHeader Column = iota
	ColumnBlockBody
	ColumnBlockUncle
	ColumnBlockProposalIDs
	ColumnBlockTransactionIDs
	ColumnBlockTransactionAddresses
	ColumnExt
	ColumnOutputRoot
	ColumnTransactionMeta
)

// Columns is the total number of columns.
const Columns = int(ColumnTransactionMeta) + 1

// KVStore defines a columnar key-value store with atomic batch writes.
// Keys are arbitrary byte strings scoped to a column; in practice they are
// 32-byte hashes. A missing key reads as (nil, nil).
type KVStore interface {
	// Get retrieves the full value stored under (col, key).
	Get(ctx context.Context, col Column, key []byte) ([]byte, error)

	// PartialGet retrieves value[from:to] of the value stored under
	// (col, key) without handing the full value to the caller.
	// The range must satisfy 0 <= from <= to <= len(value).
	PartialGet(ctx context.Context, col Column, key []byte, from, to int) ([]byte, error)

	// Write applies all insertions in the batch atomically: either every
	// entry becomes visible or none does.
	Write(ctx context.Context, batch *Batch) error

	// Close releases any resources
	Close() error
}

// Batch collects column-scoped insertions to be committed atomically.
// A batch has a single owner until it is passed to Write.
type Batch struct {
	ops []BatchOp
}

// BatchOp is a single pending insertion.
type BatchOp struct {
	Col   Column
	Key   []byte
	Value []byte
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Put appends an insertion to the batch. Key and value are retained until
// the batch is written.
func (b *Batch) Put(col Column, key, value []byte) {
	b.ops = append(b.ops, BatchOp{Col: col, Key: key, Value: value})
}

// Ops returns the pending insertions in insertion order.
func (b *Batch) Ops() []BatchOp {
	return b.ops
}

// Len returns the number of pending insertions.
func (b *Batch) Len() int {
	return len(b.ops)
}
