package chainstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/shruggr/chainstore/avl"
	"github.com/shruggr/chainstore/flatser"
	"github.com/shruggr/chainstore/kvstore"
	"github.com/shruggr/chainstore/models"
)

// ErrCorrupt marks unrecoverable on-disk corruption: persisted bytes that
// no longer decode, or a block whose companion columns are missing. The
// store never attempts recovery from this state.
var ErrCorrupt = errors.New("chainstore: corrupted storage")

// Delta is the unspent-output change one transaction contributes to a
// block: the outputs it spends and the outputs it creates. Every created
// OutPoint carries the producing transaction's id.
type Delta struct {
	Inputs  []models.OutPoint
	Outputs []models.OutPoint
}

// Config holds configuration for the store
type Config struct {
	HeaderCacheSize int // Decoded-header LRU size; 0 selects the default
}

const defaultHeaderCacheSize = 4096

// Store persists blocks, per-block metadata and the authenticated
// unspent-output index over a columnar KV engine. It is safe for
// concurrent use.
type Store struct {
	db kvstore.KVStore

	// tree caches the unspent-output index at the tip root. Lookups take
	// the writer lock too: tree descent populates the node cache.
	treeMu sync.RWMutex
	tree   *avl.Tree

	headerCache *lru.Cache[kvstore.Hash, *models.Header]
}

// New creates a store over the given KV engine
func New(db kvstore.KVStore, config *Config) (*Store, error) {
	size := defaultHeaderCacheSize
	if config != nil && config.HeaderCacheSize > 0 {
		size = config.HeaderCacheSize
	}

	headerCache, err := lru.New[kvstore.Hash, *models.Header](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create header cache: %w", err)
	}

	return &Store{
		db:          db,
		tree:        avl.New(db, kvstore.ColumnTransactionMeta, kvstore.Hash{}),
		headerCache: headerCache,
	}, nil
}

// get reads a full value. Engine failure means the installation is corrupt
// beyond what the core can handle, so it terminates the process.
func (s *Store) get(ctx context.Context, col kvstore.Column, key []byte) []byte {
	val, err := s.db.Get(ctx, col, key)
	if err != nil {
		log.Fatal().Err(err).Uint8("column", uint8(col)).Msg("db operation should be ok")
	}
	return val
}

func (s *Store) partialGet(ctx context.Context, col kvstore.Column, key []byte, from, to int) []byte {
	val, err := s.db.PartialGet(ctx, col, key, from, to)
	if err != nil {
		log.Fatal().Err(err).Uint8("column", uint8(col)).Msg("db operation should be ok")
	}
	return val
}

func corrupt(err error, format string, args ...any) error {
	return fmt.Errorf(format+": %w: %w", append(args, ErrCorrupt, err)...)
}

// GetHeader returns the header stored under the block hash, or nil if the
// block is unknown.
func (s *Store) GetHeader(ctx context.Context, hash kvstore.Hash) (*models.Header, error) {
	if header, ok := s.headerCache.Get(hash); ok {
		return header, nil
	}

	raw := s.get(ctx, kvstore.ColumnBlockHeader, hash[:])
	if raw == nil {
		return nil, nil
	}

	header, err := models.UnmarshalHeader(raw)
	if err != nil {
		return nil, corrupt(err, "header %s", hash.String())
	}

	s.headerCache.Add(hash, header)
	return header, nil
}

// GetBlockUncles returns the uncle list of a stored block
func (s *Store) GetBlockUncles(ctx context.Context, hash kvstore.Hash) ([]models.UncleBlock, error) {
	raw := s.get(ctx, kvstore.ColumnBlockUncle, hash[:])
	if raw == nil {
		return nil, nil
	}

	uncles, err := models.UnmarshalUncles(raw)
	if err != nil {
		return nil, corrupt(err, "uncles of %s", hash.String())
	}
	return uncles, nil
}

// GetBlockProposalIDs returns the proposal short-ids of a stored block
func (s *Store) GetBlockProposalIDs(ctx context.Context, hash kvstore.Hash) ([]models.ProposalShortId, error) {
	raw := s.get(ctx, kvstore.ColumnBlockProposalIDs, hash[:])
	if raw == nil {
		return nil, nil
	}

	ids, err := models.UnmarshalProposalIDs(raw)
	if err != nil {
		return nil, corrupt(err, "proposal ids of %s", hash.String())
	}
	return ids, nil
}

// GetBlockBody returns the committed transactions of a stored block in
// block order, with their precomputed ids attached.
func (s *Store) GetBlockBody(ctx context.Context, hash kvstore.Hash) ([]*models.IndexedTransaction, error) {
	addrRaw := s.get(ctx, kvstore.ColumnBlockTransactionAddresses, hash[:])
	if addrRaw == nil {
		return nil, nil
	}

	addresses, err := flatser.UnmarshalAddresses(addrRaw)
	if err != nil {
		return nil, corrupt(err, "transaction addresses of %s", hash.String())
	}

	blob := s.get(ctx, kvstore.ColumnBlockBody, hash[:])
	if blob == nil {
		return nil, corrupt(errors.New("body column empty"), "body of %s", hash.String())
	}

	txs, err := flatser.Deserialize(blob, addresses)
	if err != nil {
		return nil, corrupt(err, "body of %s", hash.String())
	}

	idsRaw := s.get(ctx, kvstore.ColumnBlockTransactionIDs, hash[:])
	if idsRaw == nil {
		return nil, corrupt(errors.New("transaction ids column empty"), "transaction ids of %s", hash.String())
	}

	ids, err := models.UnmarshalHashes(idsRaw)
	if err != nil {
		return nil, corrupt(err, "transaction ids of %s", hash.String())
	}
	if len(ids) != len(txs) {
		return nil, corrupt(fmt.Errorf("%d ids for %d transactions", len(ids), len(txs)), "transaction ids of %s", hash.String())
	}

	indexed := make([]*models.IndexedTransaction, len(txs))
	for i, tx := range txs {
		indexed[i] = &models.IndexedTransaction{Transaction: tx, Hash: ids[i]}
	}
	return indexed, nil
}

// GetBlockTransaction fetches the index-th transaction of a block through a
// partial read: only the record's byte range leaves the body column.
func (s *Store) GetBlockTransaction(ctx context.Context, hash kvstore.Hash, index int) (*models.IndexedTransaction, error) {
	addrRaw := s.get(ctx, kvstore.ColumnBlockTransactionAddresses, hash[:])
	if addrRaw == nil {
		return nil, nil
	}

	addresses, err := flatser.UnmarshalAddresses(addrRaw)
	if err != nil {
		return nil, corrupt(err, "transaction addresses of %s", hash.String())
	}
	if index < 0 || index >= len(addresses) {
		return nil, nil
	}

	addr := addresses[index]
	slice := s.partialGet(ctx, kvstore.ColumnBlockBody, hash[:], int(addr.Offset), int(addr.End()))
	if slice == nil {
		return nil, corrupt(errors.New("body column empty"), "body of %s", hash.String())
	}

	tx, err := models.UnmarshalTransaction(slice)
	if err != nil {
		return nil, corrupt(err, "transaction %d of %s", index, hash.String())
	}

	// the id list has a fixed layout, so the one id is read the same way
	idSlice := s.partialGet(ctx, kvstore.ColumnBlockTransactionIDs, hash[:], 4+index*32, 4+(index+1)*32)
	if idSlice == nil {
		return nil, corrupt(errors.New("transaction ids column empty"), "transaction ids of %s", hash.String())
	}

	var id kvstore.Hash
	copy(id[:], idSlice)
	return &models.IndexedTransaction{Transaction: tx, Hash: id}, nil
}

// GetBlock reassembles a full block. A missing header reads as nil; a
// header whose companion columns are missing is corruption.
func (s *Store) GetBlock(ctx context.Context, hash kvstore.Hash) (*models.Block, error) {
	header, err := s.GetHeader(ctx, hash)
	if err != nil || header == nil {
		return nil, err
	}

	body, err := s.GetBlockBody(ctx, hash)
	if err != nil {
		return nil, err
	}
	uncles, err := s.GetBlockUncles(ctx, hash)
	if err != nil {
		return nil, err
	}
	proposals, err := s.GetBlockProposalIDs(ctx, hash)
	if err != nil {
		return nil, err
	}
	if body == nil || uncles == nil || proposals == nil {
		return nil, corrupt(errors.New("companion column missing"), "block %s", hash.String())
	}

	return &models.Block{
		Header:       *header,
		Transactions: body,
		Uncles:       uncles,
		Proposals:    proposals,
	}, nil
}

// GetBlockExt returns the derived metadata of a stored block
func (s *Store) GetBlockExt(ctx context.Context, hash kvstore.Hash) (*models.BlockExt, error) {
	raw := s.get(ctx, kvstore.ColumnExt, hash[:])
	if raw == nil {
		return nil, nil
	}

	ext, err := models.UnmarshalBlockExt(raw)
	if err != nil {
		return nil, corrupt(err, "ext of %s", hash.String())
	}
	return ext, nil
}

// GetOutputRoot returns the unspent-output index root recorded for a block
func (s *Store) GetOutputRoot(ctx context.Context, blockHash kvstore.Hash) (*kvstore.Hash, error) {
	raw := s.get(ctx, kvstore.ColumnOutputRoot, blockHash[:])
	if raw == nil {
		return nil, nil
	}
	if len(raw) < 32 {
		return nil, corrupt(fmt.Errorf("%d bytes", len(raw)), "output root of %s", blockHash.String())
	}

	var root kvstore.Hash
	copy(root[:], raw[:32])
	return &root, nil
}

// GetTransactionMeta looks a transaction's unspent-output bitmap up at the
// given index root. The cached tree serves the lookup when its root
// matches; any other root is searched straight from disk without touching
// the cache.
func (s *Store) GetTransactionMeta(ctx context.Context, root, key kvstore.Hash) (*models.TransactionMeta, error) {
	s.treeMu.Lock()
	if cached, ok := s.tree.RootHash(); ok && cached == root {
		meta, err := s.tree.Get(ctx, key)
		s.treeMu.Unlock()
		if err != nil {
			return nil, corrupt(err, "transaction meta %s", key.String())
		}
		return meta, nil
	}
	s.treeMu.Unlock()

	meta, err := avl.Search(ctx, s.db, kvstore.ColumnTransactionMeta, root, key)
	if err != nil {
		return nil, corrupt(err, "transaction meta %s at root %s", key.String(), root.String())
	}
	return meta, nil
}

// UpdateTransactionMeta applies per-transaction deltas to the
// unspent-output index rooted at parentRoot, appends the new nodes to the
// batch, and returns the new root. It returns nil when any input is
// missing or already spent, or a created transaction id collides with an
// existing one; the batch is left without the tree's nodes in that case.
func (s *Store) UpdateTransactionMeta(ctx context.Context, batch *kvstore.Batch, parentRoot kvstore.Hash, deltas []Delta) (*kvstore.Hash, error) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()

	tree := s.tree
	if cached, ok := tree.RootHash(); !ok || cached != parentRoot {
		tree = avl.New(s.db, kvstore.ColumnTransactionMeta, parentRoot)
	}

	for _, delta := range deltas {
		for _, input := range delta.Inputs {
			ok, err := tree.Update(ctx, input.Hash, int(input.Index))
			if err != nil {
				return nil, corrupt(err, "spend %s:%d", input.Hash.String(), input.Index)
			}
			if !ok {
				return nil, nil
			}
		}

		if len(delta.Outputs) == 0 {
			continue
		}

		txid := delta.Outputs[0].Hash
		meta := models.NewTransactionMeta(len(delta.Outputs))
		prev, err := tree.Insert(ctx, txid, meta)
		if err != nil {
			return nil, corrupt(err, "insert meta %s", txid.String())
		}
		if prev != nil {
			// txid must be unique in chain
			return nil, nil
		}
	}

	root := tree.Commit(batch)
	return &root, nil
}

// RebuildTree resets the cached unspent-output index to an arbitrary
// committed root, dropping any in-memory state.
func (s *Store) RebuildTree(root kvstore.Hash) {
	s.treeMu.Lock()
	defer s.treeMu.Unlock()
	s.tree.Reconstruct(root)
}

// InsertBlock appends every column write for a block to the batch: header,
// flat-serialized body with its address table, transaction ids, uncles and
// proposal short-ids.
func (s *Store) InsertBlock(batch *kvstore.Batch, b *models.Block) error {
	hash := b.Hash()

	txs := make([]*models.Transaction, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = tx.Transaction
	}

	blob, addresses, err := flatser.Serialize(txs)
	if err != nil {
		return fmt.Errorf("serialize body of %s: %w", hash.String(), err)
	}

	batch.Put(kvstore.ColumnBlockHeader, hash[:], b.Header.Marshal())
	batch.Put(kvstore.ColumnBlockTransactionIDs, hash[:], models.MarshalHashes(b.TxHashes()))
	batch.Put(kvstore.ColumnBlockUncle, hash[:], models.MarshalUncles(b.Uncles))
	batch.Put(kvstore.ColumnBlockBody, hash[:], blob)
	batch.Put(kvstore.ColumnBlockProposalIDs, hash[:], models.MarshalProposalIDs(b.Proposals))
	batch.Put(kvstore.ColumnBlockTransactionAddresses, hash[:], flatser.MarshalAddresses(addresses))
	return nil
}

// InsertBlockExt appends the derived metadata write for a block
func (s *Store) InsertBlockExt(batch *kvstore.Batch, hash kvstore.Hash, ext *models.BlockExt) {
	batch.Put(kvstore.ColumnExt, hash[:], ext.Marshal())
}

// InsertOutputRoot records the unspent-output index root for a block. The
// root is stored as its raw 32 bytes.
func (s *Store) InsertOutputRoot(batch *kvstore.Batch, blockHash, root kvstore.Hash) {
	batch.Put(kvstore.ColumnOutputRoot, blockHash[:], root[:])
}

// SaveWithBatch creates a fresh batch, hands it to fn, and writes it
// atomically. Any error from fn aborts before anything is written.
func (s *Store) SaveWithBatch(ctx context.Context, fn func(batch *kvstore.Batch) error) error {
	batch := kvstore.NewBatch()
	if err := fn(batch); err != nil {
		return err
	}
	return s.db.Write(ctx, batch)
}
