package models

import (
	"encoding/binary"
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// TransactionMeta tracks which outputs of a transaction are still unspent.
// Bit i set means output i is live. A meta is born with every bit set and
// bits are only ever cleared; once all outputs are spent the entry may be
// pruned by a higher layer.
type TransactionMeta struct {
	bits *bitset.BitSet
}

// NewTransactionMeta creates a meta for a transaction with outputs outputs,
// all marked unspent.
func NewTransactionMeta(outputs int) *TransactionMeta {
	bits := bitset.New(uint(outputs))
	for i := 0; i < outputs; i++ {
		bits.Set(uint(i))
	}
	return &TransactionMeta{bits: bits}
}

// OutputCount returns the number of outputs the meta tracks
func (m *TransactionMeta) OutputCount() int {
	return int(m.bits.Len())
}

// IsUnspent reports whether output index is still live. Out-of-range
// indexes read as spent.
func (m *TransactionMeta) IsUnspent(index int) bool {
	if index < 0 || index >= m.OutputCount() {
		return false
	}
	return m.bits.Test(uint(index))
}

// Spend clears the bit for output index. It returns false when the index is
// out of range or the output was already spent, so a spend can never be
// applied twice.
func (m *TransactionMeta) Spend(index int) bool {
	if !m.IsUnspent(index) {
		return false
	}
	m.bits.Clear(uint(index))
	return true
}

// AllSpent reports whether every output has been spent
func (m *TransactionMeta) AllSpent() bool {
	return m.bits.None()
}

// Copy returns an independent meta with the same bits
func (m *TransactionMeta) Copy() *TransactionMeta {
	return &TransactionMeta{bits: m.bits.Clone()}
}

// Equal reports whether two metas track the same outputs with the same
// spent state.
func (m *TransactionMeta) Equal(other *TransactionMeta) bool {
	if m.OutputCount() != other.OutputCount() {
		return false
	}
	return m.bits.Equal(other.bits)
}

// Marshal encodes the meta in its canonical form: the output count followed
// by the bitmap packed LSB-first into ceil(n/8) bytes.
func (m *TransactionMeta) Marshal() []byte {
	n := m.OutputCount()
	buf := binary.BigEndian.AppendUint32(nil, uint32(n))
	packed := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		if m.bits.Test(uint(i)) {
			packed[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return append(buf, packed...)
}

// UnmarshalTransactionMeta decodes a meta from its canonical form
func UnmarshalTransactionMeta(data []byte) (*TransactionMeta, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("meta too short: %d bytes", len(data))
	}
	n := int(binary.BigEndian.Uint32(data[:4]))
	if n > maxListLen {
		return nil, fmt.Errorf("output count %d exceeds limit", n)
	}
	packed := data[4:]
	if len(packed) != (n+7)/8 {
		return nil, fmt.Errorf("meta bitmap size mismatch: %d outputs, %d bytes", n, len(packed))
	}
	bits := bitset.New(uint(n))
	for i := 0; i < n; i++ {
		if packed[i/8]&(1<<(uint(i)%8)) != 0 {
			bits.Set(uint(i))
		}
	}
	return &TransactionMeta{bits: bits}, nil
}
