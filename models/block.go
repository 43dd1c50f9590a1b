package models

import (
	"encoding/binary"
	"math/big"

	"github.com/shruggr/chainstore/kvstore"
	"lukechampine.com/blake3"
)

// ProposalShortIDSize is the length of a proposal short-id
const ProposalShortIDSize = 10

// ProposalShortId is the truncated transaction id a block proposes for
// commitment in a later block.
type ProposalShortId [ProposalShortIDSize]byte

// ProposalShortIDFromHash truncates a transaction id to its short form
func ProposalShortIDFromHash(h kvstore.Hash) ProposalShortId {
	var id ProposalShortId
	copy(id[:], h[:ProposalShortIDSize])
	return id
}

// Header is a block header. The block's identity is the BLAKE3 hash of the
// canonical header encoding.
type Header struct {
	Version     uint32
	ParentHash  kvstore.Hash
	Timestamp   uint64
	Number      uint64
	TxsCommit   kvstore.Hash
	Difficulty  *big.Int
	Nonce       uint64
	UnclesHash  kvstore.Hash
	UnclesCount uint32
}

// Hash computes the block hash
func (h *Header) Hash() kvstore.Hash {
	return blake3.Sum256(h.Marshal())
}

// Marshal encodes the header in its canonical form
func (h *Header) Marshal() []byte {
	buf := binary.BigEndian.AppendUint32(nil, h.Version)
	buf = append(buf, h.ParentHash[:]...)
	buf = binary.BigEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.BigEndian.AppendUint64(buf, h.Number)
	buf = append(buf, h.TxsCommit[:]...)
	buf = appendBigInt(buf, h.Difficulty)
	buf = binary.BigEndian.AppendUint64(buf, h.Nonce)
	buf = append(buf, h.UnclesHash[:]...)
	buf = binary.BigEndian.AppendUint32(buf, h.UnclesCount)
	return buf
}

// UnmarshalHeader decodes a header from its canonical form
func UnmarshalHeader(data []byte) (*Header, error) {
	r := newReader(data)
	h := decodeHeader(r)
	if err := r.done(); err != nil {
		return nil, err
	}
	return h, nil
}

func decodeHeader(r *reader) *Header {
	h := &Header{}
	h.Version = r.u32()
	h.ParentHash = r.hash()
	h.Timestamp = r.u64()
	h.Number = r.u64()
	h.TxsCommit = r.hash()
	h.Difficulty = r.bigInt()
	h.Nonce = r.u64()
	h.UnclesHash = r.hash()
	h.UnclesCount = r.u32()
	return h
}

// UncleBlock is an uncle embedded in a block: the header plus the proposal
// short-ids the uncle carried. Uncle bodies are not stored.
type UncleBlock struct {
	Header    Header
	Proposals []ProposalShortId
}

func appendUncle(buf []byte, u *UncleBlock) []byte {
	buf = appendVarBytes(buf, u.Header.Marshal())
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(u.Proposals)))
	for _, id := range u.Proposals {
		buf = append(buf, id[:]...)
	}
	return buf
}

func decodeUncle(r *reader) UncleBlock {
	var u UncleBlock
	hdrBytes := r.varBytes()
	if r.err() == nil {
		h, err := UnmarshalHeader(hdrBytes)
		if err != nil {
			r.fail("uncle header: %v", err)
			return u
		}
		u.Header = *h
	}
	if n := r.count(); n > 0 {
		u.Proposals = make([]ProposalShortId, n)
		for i := range u.Proposals {
			b := r.take(ProposalShortIDSize)
			if b != nil {
				copy(u.Proposals[i][:], b)
			}
		}
	}
	return u
}

// MarshalUncles encodes an uncle list in its canonical form
func MarshalUncles(uncles []UncleBlock) []byte {
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(uncles)))
	for i := range uncles {
		buf = appendUncle(buf, &uncles[i])
	}
	return buf
}

// UnmarshalUncles decodes an uncle list from its canonical form
func UnmarshalUncles(data []byte) ([]UncleBlock, error) {
	r := newReader(data)
	n := r.count()
	uncles := make([]UncleBlock, 0, n)
	for i := 0; i < n; i++ {
		uncles = append(uncles, decodeUncle(r))
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return uncles, nil
}

// MarshalProposalIDs encodes a proposal short-id list
func MarshalProposalIDs(ids []ProposalShortId) []byte {
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(ids)))
	for _, id := range ids {
		buf = append(buf, id[:]...)
	}
	return buf
}

// UnmarshalProposalIDs decodes a proposal short-id list
func UnmarshalProposalIDs(data []byte) ([]ProposalShortId, error) {
	r := newReader(data)
	n := r.count()
	ids := make([]ProposalShortId, n)
	for i := range ids {
		b := r.take(ProposalShortIDSize)
		if b != nil {
			copy(ids[i][:], b)
		}
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return ids, nil
}

// MarshalHashes encodes a hash list
func MarshalHashes(hashes []kvstore.Hash) []byte {
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(hashes)))
	for i := range hashes {
		buf = append(buf, hashes[i][:]...)
	}
	return buf
}

// UnmarshalHashes decodes a hash list
func UnmarshalHashes(data []byte) ([]kvstore.Hash, error) {
	r := newReader(data)
	n := r.count()
	hashes := make([]kvstore.Hash, n)
	for i := range hashes {
		hashes[i] = r.hash()
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return hashes, nil
}

// Block is a full block: header, committed transactions in order, uncles,
// and the proposal short-ids for future commitment.
type Block struct {
	Header       Header
	Transactions []*IndexedTransaction
	Uncles       []UncleBlock
	Proposals    []ProposalShortId
}

// Hash returns the block hash (the header hash)
func (b *Block) Hash() kvstore.Hash {
	return b.Header.Hash()
}

// TxHashes returns the ids of the committed transactions in block order
func (b *Block) TxHashes() []kvstore.Hash {
	hashes := make([]kvstore.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.Hash
	}
	return hashes
}
