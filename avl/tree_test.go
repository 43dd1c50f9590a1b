package avl

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/shruggr/chainstore/kvstore"
	"github.com/shruggr/chainstore/kvstore/memory"
	"github.com/shruggr/chainstore/models"
	"lukechampine.com/blake3"
)

func testKey(seed string) kvstore.Hash {
	return blake3.Sum256([]byte(seed))
}

// commit flushes the tree and writes the batch, returning the new root
func commit(t *testing.T, store kvstore.KVStore, tree *Tree) kvstore.Hash {
	t.Helper()
	batch := kvstore.NewBatch()
	root := tree.Commit(batch)
	if err := store.Write(context.Background(), batch); err != nil {
		t.Fatalf("batch write failed: %v", err)
	}
	return root
}

func TestInsertGetCommit(t *testing.T) {
	store := memory.New()
	tree := New(store, kvstore.ColumnTransactionMeta, kvstore.Hash{})
	ctx := context.Background()

	key := testKey("tx1")
	prev, err := tree.Insert(ctx, key, models.NewTransactionMeta(3))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if prev != nil {
		t.Error("insert into an empty tree should have no previous binding")
	}

	if _, ok := tree.RootHash(); ok {
		t.Error("a dirty tree should report no root hash")
	}

	root := commit(t, store, tree)
	if h, ok := tree.RootHash(); !ok || h != root {
		t.Error("RootHash should report the committed root")
	}

	meta, err := tree.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if meta == nil || meta.OutputCount() != 3 {
		t.Fatalf("Get returned %v, want a 3-output meta", meta)
	}

	if missing, err := tree.Get(ctx, testKey("absent")); err != nil || missing != nil {
		t.Errorf("Get of an absent key = %v, %v, want nil, nil", missing, err)
	}
}

func TestInsertReturnsPrevious(t *testing.T) {
	store := memory.New()
	tree := New(store, kvstore.ColumnTransactionMeta, kvstore.Hash{})
	ctx := context.Background()

	key := testKey("tx1")
	if _, err := tree.Insert(ctx, key, models.NewTransactionMeta(1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	prev, err := tree.Insert(ctx, key, models.NewTransactionMeta(2))
	if err != nil {
		t.Fatalf("re-insert failed: %v", err)
	}
	if prev == nil || prev.OutputCount() != 1 {
		t.Errorf("previous binding = %v, want the 1-output meta", prev)
	}

	commit(t, store, tree)
	meta, err := tree.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if meta.OutputCount() != 2 {
		t.Errorf("binding after replacement has %d outputs, want 2", meta.OutputCount())
	}
}

func TestUpdateSpendsOnce(t *testing.T) {
	store := memory.New()
	tree := New(store, kvstore.ColumnTransactionMeta, kvstore.Hash{})
	ctx := context.Background()

	key := testKey("tx1")
	if _, err := tree.Insert(ctx, key, models.NewTransactionMeta(2)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	commit(t, store, tree)

	ok, err := tree.Update(ctx, key, 1)
	if err != nil || !ok {
		t.Fatalf("Update = %v, %v, want true, nil", ok, err)
	}
	commit(t, store, tree)

	meta, err := tree.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if meta.IsUnspent(1) {
		t.Error("output 1 should be spent after Update")
	}
	if !meta.IsUnspent(0) {
		t.Error("output 0 should still be unspent")
	}

	// a spend must be unique
	if ok, err := tree.Update(ctx, key, 1); err != nil || ok {
		t.Errorf("second Update = %v, %v, want false, nil", ok, err)
	}
	if ok, err := tree.Update(ctx, testKey("absent"), 0); err != nil || ok {
		t.Errorf("Update of an absent key = %v, %v, want false, nil", ok, err)
	}
}

func TestReconstructAndHistoricalRoots(t *testing.T) {
	store := memory.New()
	tree := New(store, kvstore.ColumnTransactionMeta, kvstore.Hash{})
	ctx := context.Background()

	key := testKey("tx1")
	if _, err := tree.Insert(ctx, key, models.NewTransactionMeta(2)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	rootBefore := commit(t, store, tree)

	if ok, err := tree.Update(ctx, key, 0); err != nil || !ok {
		t.Fatalf("Update = %v, %v, want true, nil", ok, err)
	}
	rootAfter := commit(t, store, tree)

	if rootBefore == rootAfter {
		t.Fatal("spending an output must change the root")
	}

	// the old root still resolves to the old state from disk alone
	metaBefore, err := Search(ctx, store, kvstore.ColumnTransactionMeta, rootBefore, key)
	if err != nil {
		t.Fatalf("Search at old root failed: %v", err)
	}
	if !metaBefore.IsUnspent(0) {
		t.Error("old root should still show output 0 unspent")
	}

	metaAfter, err := Search(ctx, store, kvstore.ColumnTransactionMeta, rootAfter, key)
	if err != nil {
		t.Fatalf("Search at new root failed: %v", err)
	}
	if metaAfter.IsUnspent(0) {
		t.Error("new root should show output 0 spent")
	}

	// a reconstructed tree starts from the given root on disk
	tree.Reconstruct(rootBefore)
	meta, err := tree.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after Reconstruct failed: %v", err)
	}
	if !meta.IsUnspent(0) {
		t.Error("reconstructed tree should serve the old state")
	}
}

func TestCommitSharesUnchangedNodes(t *testing.T) {
	store := memory.New()
	tree := New(store, kvstore.ColumnTransactionMeta, kvstore.Hash{})
	ctx := context.Background()

	for i := 0; i < 32; i++ {
		key := testKey(string(rune('a' + i)))
		if _, err := tree.Insert(ctx, key, models.NewTransactionMeta(1)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	commit(t, store, tree)

	// one more insert rewrites only the path to the new leaf
	batch := kvstore.NewBatch()
	if _, err := tree.Insert(ctx, testKey("one more"), models.NewTransactionMeta(1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	tree.Commit(batch)

	if n := batch.Len(); n >= 32 {
		t.Errorf("incremental commit wrote %d nodes, expected only the touched path", n)
	}
}

func TestTreeStaysOrderedAndBalanced(t *testing.T) {
	store := memory.New()
	tree := New(store, kvstore.ColumnTransactionMeta, kvstore.Hash{})
	ctx := context.Background()

	rng := rand.New(rand.NewSource(991))
	keys := make([]kvstore.Hash, 500)
	for i := range keys {
		var key kvstore.Hash
		rng.Read(key[:])
		keys[i] = key
		if _, err := tree.Insert(ctx, key, models.NewTransactionMeta(1)); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
		if i%50 == 0 {
			commit(t, store, tree)
		}
	}
	root := commit(t, store, tree)

	// walk the committed tree from disk, checking order and balance
	var prev *kvstore.Hash
	depthStats := checkSubtree(t, store, root, func(key kvstore.Hash) {
		if prev != nil && bytes.Compare(prev[:], key[:]) >= 0 {
			t.Fatalf("in-order traversal not strictly ascending at %s", key.String())
		}
		k := key
		prev = &k
	})
	if depthStats.count != len(keys) {
		t.Errorf("committed tree holds %d keys, want %d", depthStats.count, len(keys))
	}

	// every key resolves at the committed root
	for _, key := range keys {
		meta, err := Search(ctx, store, kvstore.ColumnTransactionMeta, root, key)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if meta == nil {
			t.Fatalf("key %s missing at committed root", key.String())
		}
	}
}

type subtreeStats struct {
	height uint32
	count  int
}

// checkSubtree verifies AVL height bookkeeping and balance for the subtree
// stored under root, calling visit for each key in order.
func checkSubtree(t *testing.T, store kvstore.KVStore, root kvstore.Hash, visit func(kvstore.Hash)) subtreeStats {
	t.Helper()
	if root == (kvstore.Hash{}) {
		return subtreeStats{}
	}

	n, err := loadNode(context.Background(), store, kvstore.ColumnTransactionMeta, root)
	if err != nil {
		t.Fatalf("load node: %v", err)
	}

	left := checkSubtree(t, store, n.leftHash, visit)
	visit(n.key)
	right := checkSubtree(t, store, n.rightHash, visit)

	factor := int(left.height) - int(right.height)
	if factor < -1 || factor > 1 {
		t.Fatalf("node %s violates the AVL invariant: balance factor %d", root.String(), factor)
	}
	wantHeight := 1 + max(left.height, right.height)
	if n.height != wantHeight {
		t.Fatalf("node %s records height %d, want %d", root.String(), n.height, wantHeight)
	}

	return subtreeStats{height: n.height, count: left.count + right.count + 1}
}

func TestCommitWithoutMutations(t *testing.T) {
	store := memory.New()
	tree := New(store, kvstore.ColumnTransactionMeta, kvstore.Hash{})
	ctx := context.Background()

	if _, err := tree.Insert(ctx, testKey("tx1"), models.NewTransactionMeta(1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	root := commit(t, store, tree)

	// a tree opened at a root and never mutated commits to the same root
	reopened := New(store, kvstore.ColumnTransactionMeta, root)
	batch := kvstore.NewBatch()
	if got := reopened.Commit(batch); got != root {
		t.Errorf("Commit of an untouched tree = %s, want %s", got.String(), root.String())
	}
	if batch.Len() != 0 {
		t.Errorf("untouched commit wrote %d nodes, want 0", batch.Len())
	}
}

func TestSearchEmptyRoot(t *testing.T) {
	store := memory.New()

	meta, err := Search(context.Background(), store, kvstore.ColumnTransactionMeta, kvstore.Hash{}, testKey("any"))
	if err != nil || meta != nil {
		t.Errorf("Search at the zero root = %v, %v, want nil, nil", meta, err)
	}
}

func TestLoadNodeRejectsTamperedBytes(t *testing.T) {
	store := memory.New()
	tree := New(store, kvstore.ColumnTransactionMeta, kvstore.Hash{})
	ctx := context.Background()

	if _, err := tree.Insert(ctx, testKey("tx1"), models.NewTransactionMeta(1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	root := commit(t, store, tree)

	// overwrite the node with bytes that no longer match the address
	raw, err := store.Get(ctx, kvstore.ColumnTransactionMeta, root[:])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	raw[0] ^= 0xff
	batch := kvstore.NewBatch()
	batch.Put(kvstore.ColumnTransactionMeta, root[:], raw)
	if err := store.Write(ctx, batch); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if _, err := loadNode(ctx, store, kvstore.ColumnTransactionMeta, root); err == nil {
		t.Error("a node that fails content verification should not load")
	}
}
