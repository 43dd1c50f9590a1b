package avl

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/shruggr/chainstore/kvstore"
	"github.com/shruggr/chainstore/models"
	"github.com/shruggr/chainstore/multihash"
	"lukechampine.com/blake3"
)

// node is one tree node. Nodes are immutable once hashed: every mutation
// copies the node and resets its hash, leaving the persisted bytes of the
// old version in place so earlier roots keep resolving.
type node struct {
	key  kvstore.Hash
	meta *models.TransactionMeta

	// children: the hash is authoritative on disk, the pointer is the
	// in-memory cache of the loaded (or freshly created) child. A zero
	// hash with a nil pointer means no child; a dirty child has a live
	// pointer and a zero hash until commit.
	left      *node
	right     *node
	leftHash  kvstore.Hash
	rightHash kvstore.Hash

	height uint32

	hash kvstore.Hash // zero while the node is dirty; set once persisted or loaded
}

var zeroHash kvstore.Hash

func height(n *node) uint32 {
	if n == nil {
		return 0
	}
	return n.height
}

// mutate returns a dirty copy sharing the children of the original
func (n *node) mutate() *node {
	copied := *n
	copied.hash = zeroHash
	return &copied
}

// marshal encodes the node in its canonical form:
// height, key, length-prefixed meta, left child hash, right child hash.
func (n *node) marshal() []byte {
	metaBytes := n.meta.Marshal()
	buf := make([]byte, 0, 4+32+4+len(metaBytes)+64)
	buf = binary.BigEndian.AppendUint32(buf, n.height)
	buf = append(buf, n.key[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(metaBytes)))
	buf = append(buf, metaBytes...)
	buf = append(buf, n.leftHash[:]...)
	buf = append(buf, n.rightHash[:]...)
	return buf
}

func decodeNode(data []byte) (*node, error) {
	if len(data) < 4+32+4+64 {
		return nil, fmt.Errorf("node too short: %d bytes", len(data))
	}

	n := &node{}
	off := 0

	n.height = binary.BigEndian.Uint32(data[off : off+4])
	off += 4

	copy(n.key[:], data[off:off+32])
	off += 32

	metaLen := int(binary.BigEndian.Uint32(data[off : off+4]))
	off += 4
	if off+metaLen+64 != len(data) {
		return nil, fmt.Errorf("node size mismatch: meta %d bytes in node of %d bytes", metaLen, len(data))
	}

	meta, err := models.UnmarshalTransactionMeta(data[off : off+metaLen])
	if err != nil {
		return nil, fmt.Errorf("node meta: %w", err)
	}
	n.meta = meta
	off += metaLen

	copy(n.leftHash[:], data[off:off+32])
	off += 32
	copy(n.rightHash[:], data[off:off+32])

	return n, nil
}

// loadNode reads and decodes the node stored under hash, verifying that the
// bytes still match their content address.
func loadNode(ctx context.Context, store kvstore.KVStore, col kvstore.Column, hash kvstore.Hash) (*node, error) {
	data, err := store.Get(ctx, col, hash[:])
	if err != nil {
		return nil, fmt.Errorf("read node %s: %w", hash.String(), err)
	}
	if data == nil {
		return nil, fmt.Errorf("node %s missing from column", hash.String())
	}
	if err := multihash.VerifyNode(hash, data); err != nil {
		return nil, fmt.Errorf("node %s: %w", hash.String(), err)
	}

	n, err := decodeNode(data)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", hash.String(), err)
	}
	n.hash = hash
	return n, nil
}

func hashNode(data []byte) kvstore.Hash {
	return blake3.Sum256(data)
}

// Search looks a key up at an arbitrary committed root, reading nodes
// straight from the column without touching any in-memory tree.
func Search(ctx context.Context, store kvstore.KVStore, col kvstore.Column, root, key kvstore.Hash) (*models.TransactionMeta, error) {
	next := root
	for next != zeroHash {
		n, err := loadNode(ctx, store, col, next)
		if err != nil {
			return nil, err
		}

		switch cmp := bytes.Compare(key[:], n.key[:]); {
		case cmp == 0:
			return n.meta, nil
		case cmp < 0:
			next = n.leftHash
		default:
			next = n.rightHash
		}
	}
	return nil, nil
}
