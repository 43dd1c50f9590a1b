package models

import (
	"encoding/binary"
	"math/big"
)

// BlockExt is derived per-block metadata. Unlike blocks it may be rewritten
// when a reorg revises the running totals.
type BlockExt struct {
	ReceivedAt       uint64
	TotalDifficulty  *big.Int
	TotalUnclesCount uint64
}

// Marshal encodes the block ext in its canonical form
func (e *BlockExt) Marshal() []byte {
	buf := binary.BigEndian.AppendUint64(nil, e.ReceivedAt)
	buf = appendBigInt(buf, e.TotalDifficulty)
	buf = binary.BigEndian.AppendUint64(buf, e.TotalUnclesCount)
	return buf
}

// UnmarshalBlockExt decodes a block ext from its canonical form
func UnmarshalBlockExt(data []byte) (*BlockExt, error) {
	r := newReader(data)
	e := &BlockExt{}
	e.ReceivedAt = r.u64()
	e.TotalDifficulty = r.bigInt()
	e.TotalUnclesCount = r.u64()
	if err := r.done(); err != nil {
		return nil, err
	}
	return e, nil
}
