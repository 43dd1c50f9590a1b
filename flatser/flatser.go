package flatser

import (
	"encoding/binary"
	"fmt"

	"github.com/shruggr/chainstore/models"
)

// Address locates one record inside a packed blob. The i-th address of a
// table locates the i-th record serialized into that blob.
type Address struct {
	Offset uint64
	Length uint64
}

// addressSize is the fixed encoded size of an Address
const addressSize = 8 + 8

// End returns the exclusive end offset of the addressed record
func (a Address) End() uint64 {
	return a.Offset + a.Length
}

// Serialize packs the transactions into a single blob and emits one address
// per record in input order. The blob is opaque; only the address table
// reveals its structure, and the k-th record is recoverable in O(1) by
// slicing blob[offset : offset+length].
func Serialize(txs []*models.Transaction) ([]byte, []Address, error) {
	var blob []byte
	addresses := make([]Address, 0, len(txs))

	for i, tx := range txs {
		if tx == nil {
			return nil, nil, fmt.Errorf("nil transaction at index %d", i)
		}
		encoded := tx.Marshal()
		addresses = append(addresses, Address{
			Offset: uint64(len(blob)),
			Length: uint64(len(encoded)),
		})
		blob = append(blob, encoded...)
	}

	return blob, addresses, nil
}

// Deserialize recovers the record sequence from a blob and its address
// table. Records decode independently, so order and count always match the
// table.
func Deserialize(blob []byte, addresses []Address) ([]*models.Transaction, error) {
	txs := make([]*models.Transaction, 0, len(addresses))

	for i, addr := range addresses {
		slice, err := Slice(blob, addr)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		tx, err := models.UnmarshalTransaction(slice)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		txs = append(txs, tx)
	}

	return txs, nil
}

// Slice extracts the bytes a single address covers, bounds-checked against
// the blob.
func Slice(blob []byte, addr Address) ([]byte, error) {
	if addr.End() < addr.Offset || addr.End() > uint64(len(blob)) {
		return nil, fmt.Errorf("address [%d, %d) out of bounds for blob of %d bytes",
			addr.Offset, addr.End(), len(blob))
	}
	return blob[addr.Offset:addr.End()], nil
}

// MarshalAddresses encodes an address table: a uint32 count followed by
// fixed-width (offset, length) pairs.
func MarshalAddresses(addresses []Address) []byte {
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(addresses)))
	for _, addr := range addresses {
		buf = binary.BigEndian.AppendUint64(buf, addr.Offset)
		buf = binary.BigEndian.AppendUint64(buf, addr.Length)
	}
	return buf
}

// UnmarshalAddresses decodes an address table
func UnmarshalAddresses(data []byte) ([]Address, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("address table too short: %d bytes", len(data))
	}
	n := int(binary.BigEndian.Uint32(data[:4]))
	if len(data) != 4+n*addressSize {
		return nil, fmt.Errorf("address table size mismatch: %d entries, %d bytes", n, len(data))
	}

	addresses := make([]Address, n)
	off := 4
	for i := range addresses {
		addresses[i].Offset = binary.BigEndian.Uint64(data[off : off+8])
		addresses[i].Length = binary.BigEndian.Uint64(data[off+8 : off+16])
		off += addressSize
	}
	return addresses, nil
}
