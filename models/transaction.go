package models

import (
	"encoding/binary"

	"github.com/shruggr/chainstore/kvstore"
	"lukechampine.com/blake3"
)

// OutPoint addresses a single transaction output: the producing transaction
// id plus the output's position in it.
type OutPoint struct {
	Hash  kvstore.Hash
	Index uint32
}

// outPointSize is the fixed encoded size of an OutPoint
const outPointSize = 32 + 4

func appendOutPoint(buf []byte, o OutPoint) []byte {
	buf = append(buf, o.Hash[:]...)
	return binary.BigEndian.AppendUint32(buf, o.Index)
}

func (r *reader) outPoint() OutPoint {
	var o OutPoint
	o.Hash = r.hash()
	o.Index = r.u32()
	return o
}

// Input spends a previous output. Unlock carries the witness bytes that
// satisfy the spent output's lock.
type Input struct {
	PreviousOutput OutPoint
	Unlock         []byte
}

// Output is a spendable transaction output.
type Output struct {
	Capacity uint64
	Data     []byte
	Lock     kvstore.Hash
}

// Transaction is the opaque payload persisted in a block body. Its identity
// is the BLAKE3 hash of the canonical encoding.
type Transaction struct {
	Version uint32
	Deps    []OutPoint
	Inputs  []Input
	Outputs []Output
}

// Hash computes the transaction id
func (tx *Transaction) Hash() kvstore.Hash {
	return blake3.Sum256(tx.Marshal())
}

// Marshal encodes the transaction in its canonical form
func (tx *Transaction) Marshal() []byte {
	buf := binary.BigEndian.AppendUint32(nil, tx.Version)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(tx.Deps)))
	for _, dep := range tx.Deps {
		buf = appendOutPoint(buf, dep)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = appendOutPoint(buf, in.PreviousOutput)
		buf = appendVarBytes(buf, in.Unlock)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = binary.BigEndian.AppendUint64(buf, out.Capacity)
		buf = appendVarBytes(buf, out.Data)
		buf = append(buf, out.Lock[:]...)
	}

	return buf
}

// UnmarshalTransaction decodes a transaction from its canonical form
func UnmarshalTransaction(data []byte) (*Transaction, error) {
	r := newReader(data)
	tx := decodeTransaction(r)
	if err := r.done(); err != nil {
		return nil, err
	}
	return tx, nil
}

func decodeTransaction(r *reader) *Transaction {
	tx := &Transaction{}
	tx.Version = r.u32()

	if n := r.count(); n > 0 {
		tx.Deps = make([]OutPoint, n)
		for i := range tx.Deps {
			tx.Deps[i] = r.outPoint()
		}
	}

	if n := r.count(); n > 0 {
		tx.Inputs = make([]Input, n)
		for i := range tx.Inputs {
			tx.Inputs[i].PreviousOutput = r.outPoint()
			tx.Inputs[i].Unlock = r.varBytes()
		}
	}

	if n := r.count(); n > 0 {
		tx.Outputs = make([]Output, n)
		for i := range tx.Outputs {
			tx.Outputs[i].Capacity = r.u64()
			tx.Outputs[i].Data = r.varBytes()
			tx.Outputs[i].Lock = r.hash()
		}
	}

	return tx
}

// OutPoints enumerates the outputs this transaction creates, addressed by
// its own id.
func (tx *Transaction) OutPoints() []OutPoint {
	id := tx.Hash()
	points := make([]OutPoint, len(tx.Outputs))
	for i := range tx.Outputs {
		points[i] = OutPoint{Hash: id, Index: uint32(i)}
	}
	return points
}

// InputPoints enumerates the previous outputs this transaction spends.
func (tx *Transaction) InputPoints() []OutPoint {
	points := make([]OutPoint, len(tx.Inputs))
	for i := range tx.Inputs {
		points[i] = tx.Inputs[i].PreviousOutput
	}
	return points
}

// IndexedTransaction pairs a transaction with its precomputed id so that
// consumers never rehash the payload.
type IndexedTransaction struct {
	Transaction *Transaction
	Hash        kvstore.Hash
}

// NewIndexedTransaction computes and caches the transaction id
func NewIndexedTransaction(tx *Transaction) *IndexedTransaction {
	return &IndexedTransaction{Transaction: tx, Hash: tx.Hash()}
}
