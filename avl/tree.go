package avl

import (
	"bytes"
	"context"

	"github.com/shruggr/chainstore/kvstore"
	"github.com/shruggr/chainstore/models"
)

// Tree is a persistent AVL map from transaction id to TransactionMeta with
// a cryptographic root. Nodes are stored content-addressed in one KV
// column, so equal subtrees share bytes across roots and any committed
// root is reconstructible from the column alone.
//
// A Tree is not safe for concurrent use; even lookups populate the node
// cache. Callers serialize access (ChainStore holds one behind a RWMutex).
type Tree struct {
	store kvstore.KVStore
	col   kvstore.Column

	root     *node
	rootHash kvstore.Hash // as of the last open/commit/reconstruct
	dirty    bool         // uncommitted mutations exist
}

// New opens a tree rooted at rootHash. The zero hash is the empty tree.
// No disk access happens until the first operation.
func New(store kvstore.KVStore, col kvstore.Column, rootHash kvstore.Hash) *Tree {
	return &Tree{store: store, col: col, rootHash: rootHash}
}

// RootHash returns the current logical root. ok is false while uncommitted
// mutations exist, in which case the tree has no root hash yet.
func (t *Tree) RootHash() (kvstore.Hash, bool) {
	if t.dirty {
		return zeroHash, false
	}
	return t.rootHash, true
}

// Reconstruct drops all in-memory state so the next operation starts from
// root on disk.
func (t *Tree) Reconstruct(root kvstore.Hash) {
	t.root = nil
	t.rootHash = root
	t.dirty = false
}

func (t *Tree) loadRoot(ctx context.Context) error {
	if t.root != nil || t.rootHash == zeroHash {
		return nil
	}
	root, err := loadNode(ctx, t.store, t.col, t.rootHash)
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

// leftOf returns n's left child, loading and caching it on first use
func (t *Tree) leftOf(ctx context.Context, n *node) (*node, error) {
	if n.left == nil && n.leftHash != zeroHash {
		child, err := loadNode(ctx, t.store, t.col, n.leftHash)
		if err != nil {
			return nil, err
		}
		n.left = child
	}
	return n.left, nil
}

func (t *Tree) rightOf(ctx context.Context, n *node) (*node, error) {
	if n.right == nil && n.rightHash != zeroHash {
		child, err := loadNode(ctx, t.store, t.col, n.rightHash)
		if err != nil {
			return nil, err
		}
		n.right = child
	}
	return n.right, nil
}

// Get returns the meta bound to key at the current root, or nil if absent.
// The returned meta is a copy; mutating it does not affect the tree.
func (t *Tree) Get(ctx context.Context, key kvstore.Hash) (*models.TransactionMeta, error) {
	if err := t.loadRoot(ctx); err != nil {
		return nil, err
	}

	n := t.root
	for n != nil {
		cmp := bytes.Compare(key[:], n.key[:])
		if cmp == 0 {
			return n.meta.Copy(), nil
		}

		var err error
		if cmp < 0 {
			n, err = t.leftOf(ctx, n)
		} else {
			n, err = t.rightOf(ctx, n)
		}
		if err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// Insert binds key to meta, rebalancing as needed, and returns the previous
// binding if one existed.
func (t *Tree) Insert(ctx context.Context, key kvstore.Hash, meta *models.TransactionMeta) (*models.TransactionMeta, error) {
	if err := t.loadRoot(ctx); err != nil {
		return nil, err
	}

	newRoot, prev, err := t.insert(ctx, t.root, key, meta)
	if err != nil {
		return nil, err
	}
	t.root = newRoot
	t.dirty = true
	return prev, nil
}

func (t *Tree) insert(ctx context.Context, n *node, key kvstore.Hash, meta *models.TransactionMeta) (*node, *models.TransactionMeta, error) {
	if n == nil {
		return &node{key: key, meta: meta, height: 1}, nil, nil
	}

	cmp := bytes.Compare(key[:], n.key[:])
	if cmp == 0 {
		prev := n.meta
		replaced := n.mutate()
		replaced.meta = meta
		return replaced, prev, nil
	}

	fresh := n.mutate()
	var prev *models.TransactionMeta

	if cmp < 0 {
		left, err := t.leftOf(ctx, n)
		if err != nil {
			return nil, nil, err
		}
		newLeft, p, err := t.insert(ctx, left, key, meta)
		if err != nil {
			return nil, nil, err
		}
		prev = p
		fresh.left = newLeft
		fresh.leftHash = zeroHash
	} else {
		right, err := t.rightOf(ctx, n)
		if err != nil {
			return nil, nil, err
		}
		newRight, p, err := t.insert(ctx, right, key, meta)
		if err != nil {
			return nil, nil, err
		}
		prev = p
		fresh.right = newRight
		fresh.rightHash = zeroHash
	}

	if prev != nil {
		// value replacement: shape and heights are unchanged
		return fresh, prev, nil
	}

	balanced, err := t.balance(ctx, fresh)
	if err != nil {
		return nil, nil, err
	}
	return balanced, nil, nil
}

// Update clears bit index of the meta bound to key, path-copying down to
// the binding. Returns false when key is absent or the bit is already
// clear, so a spend can never be applied twice.
func (t *Tree) Update(ctx context.Context, key kvstore.Hash, index int) (bool, error) {
	if err := t.loadRoot(ctx); err != nil {
		return false, err
	}

	newRoot, ok, err := t.update(ctx, t.root, key, index)
	if err != nil || !ok {
		return false, err
	}
	t.root = newRoot
	t.dirty = true
	return true, nil
}

func (t *Tree) update(ctx context.Context, n *node, key kvstore.Hash, index int) (*node, bool, error) {
	if n == nil {
		return nil, false, nil
	}

	cmp := bytes.Compare(key[:], n.key[:])
	if cmp == 0 {
		meta := n.meta.Copy()
		if !meta.Spend(index) {
			return nil, false, nil
		}
		fresh := n.mutate()
		fresh.meta = meta
		return fresh, true, nil
	}

	if cmp < 0 {
		left, err := t.leftOf(ctx, n)
		if err != nil {
			return nil, false, err
		}
		newLeft, ok, err := t.update(ctx, left, key, index)
		if err != nil || !ok {
			return nil, false, err
		}
		fresh := n.mutate()
		fresh.left = newLeft
		fresh.leftHash = zeroHash
		return fresh, true, nil
	}

	right, err := t.rightOf(ctx, n)
	if err != nil {
		return nil, false, err
	}
	newRight, ok, err := t.update(ctx, right, key, index)
	if err != nil || !ok {
		return nil, false, err
	}
	fresh := n.mutate()
	fresh.right = newRight
	fresh.rightHash = zeroHash
	return fresh, true, nil
}

func (t *Tree) fixHeight(ctx context.Context, n *node) error {
	left, err := t.leftOf(ctx, n)
	if err != nil {
		return err
	}
	right, err := t.rightOf(ctx, n)
	if err != nil {
		return err
	}
	n.height = 1 + max(height(left), height(right))
	return nil
}

// balance restores the AVL invariant |h(left) - h(right)| <= 1 at n.
// n must already be a dirty copy.
func (t *Tree) balance(ctx context.Context, n *node) (*node, error) {
	left, err := t.leftOf(ctx, n)
	if err != nil {
		return nil, err
	}
	right, err := t.rightOf(ctx, n)
	if err != nil {
		return nil, err
	}
	n.height = 1 + max(height(left), height(right))

	factor := int(height(left)) - int(height(right))
	switch {
	case factor > 1:
		ll, err := t.leftOf(ctx, left)
		if err != nil {
			return nil, err
		}
		lr, err := t.rightOf(ctx, left)
		if err != nil {
			return nil, err
		}
		if height(lr) > height(ll) {
			rotated, err := t.rotateLeft(ctx, left.mutate())
			if err != nil {
				return nil, err
			}
			n.left = rotated
			n.leftHash = zeroHash
		}
		return t.rotateRight(ctx, n)

	case factor < -1:
		rl, err := t.leftOf(ctx, right)
		if err != nil {
			return nil, err
		}
		rr, err := t.rightOf(ctx, right)
		if err != nil {
			return nil, err
		}
		if height(rl) > height(rr) {
			rotated, err := t.rotateRight(ctx, right.mutate())
			if err != nil {
				return nil, err
			}
			n.right = rotated
			n.rightHash = zeroHash
		}
		return t.rotateLeft(ctx, n)
	}

	return n, nil
}

// rotateRight lifts n's left child over n. n must be dirty.
func (t *Tree) rotateRight(ctx context.Context, n *node) (*node, error) {
	left, err := t.leftOf(ctx, n)
	if err != nil {
		return nil, err
	}
	pivot := left.mutate()

	n.left = pivot.right
	n.leftHash = pivot.rightHash
	if err := t.fixHeight(ctx, n); err != nil {
		return nil, err
	}

	pivot.right = n
	pivot.rightHash = zeroHash
	if err := t.fixHeight(ctx, pivot); err != nil {
		return nil, err
	}
	return pivot, nil
}

// rotateLeft lifts n's right child over n. n must be dirty.
func (t *Tree) rotateLeft(ctx context.Context, n *node) (*node, error) {
	right, err := t.rightOf(ctx, n)
	if err != nil {
		return nil, err
	}
	pivot := right.mutate()

	n.right = pivot.left
	n.rightHash = pivot.leftHash
	if err := t.fixHeight(ctx, n); err != nil {
		return nil, err
	}

	pivot.left = n
	pivot.leftHash = zeroHash
	if err := t.fixHeight(ctx, pivot); err != nil {
		return nil, err
	}
	return pivot, nil
}

// Commit serializes every node created since the last commit into the
// batch, keyed by node hash, and returns the new root hash. Nodes already
// on disk are untouched, so committed roots share structure.
func (t *Tree) Commit(batch *kvstore.Batch) kvstore.Hash {
	if !t.dirty {
		// nothing new to persist; the opened root stands
		return t.rootHash
	}

	root := t.commitNode(t.root, batch)
	t.rootHash = root
	t.dirty = false
	return root
}

func (t *Tree) commitNode(n *node, batch *kvstore.Batch) kvstore.Hash {
	if n.hash != zeroHash {
		return n.hash
	}

	if n.left != nil {
		n.leftHash = t.commitNode(n.left, batch)
	}
	if n.right != nil {
		n.rightHash = t.commitNode(n.right, batch)
	}

	data := n.marshal()
	n.hash = hashNode(data)
	batch.Put(t.col, n.hash[:], data)
	return n.hash
}
