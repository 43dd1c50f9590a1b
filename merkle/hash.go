package merkle

import (
	"github.com/shruggr/chainstore/kvstore"
	"lukechampine.com/blake3"
)

// HashMerge is the production merge: BLAKE3 over left || right.
type HashMerge struct{}

// Merge hashes the concatenation of the two child hashes
func (HashMerge) Merge(left, right kvstore.Hash) kvstore.Hash {
	var combined [64]byte
	copy(combined[0:32], left[:])
	copy(combined[32:64], right[:])
	return blake3.Sum256(combined[:])
}

// ComputeRoot computes the transaction commitment root for an ordered list
// of transaction ids. Returns false for an empty list.
func ComputeRoot(hashes []kvstore.Hash) (kvstore.Hash, bool) {
	return BuildRoot[kvstore.Hash](HashMerge{}, hashes)
}
