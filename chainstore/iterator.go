package chainstore

import (
	"context"

	"github.com/shruggr/chainstore/models"
)

// HeaderIterator walks block headers backward to genesis: head,
// parent(head), ..., the height-0 header, inclusive.
type HeaderIterator struct {
	ctx   context.Context
	store *Store
	head  *models.Header
	err   error
}

// HeadersIter starts a backward walk at head
func (s *Store) HeadersIter(ctx context.Context, head *models.Header) *HeaderIterator {
	return &HeaderIterator{ctx: ctx, store: s, head: head}
}

// Next returns the next header, or nil once the walk passed genesis, a
// parent turned out to be unknown, or a read failed (see Err).
func (it *HeaderIterator) Next() *models.Header {
	current := it.head
	if current == nil {
		return nil
	}

	if current.Number > 0 {
		parent, err := it.store.GetHeader(it.ctx, current.ParentHash)
		if err != nil {
			it.err = err
			it.head = nil
			return current
		}
		it.head = parent
	} else {
		it.head = nil
	}

	return current
}

// Err reports the first read failure encountered by Next
func (it *HeaderIterator) Err() error {
	return it.err
}

// SizeHint bounds the number of headers still to come: at least one and at
// most head.Number+1 while the iterator is not exhausted.
func (it *HeaderIterator) SizeHint() (int, int) {
	if it.head == nil {
		return 0, 0
	}
	return 1, int(it.head.Number) + 1
}
