package models

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/shruggr/chainstore/kvstore"
)

// Canonical encoding rules shared by every model codec:
// - integers are big-endian, fixed width
// - variable-length byte strings carry a uint32 length prefix
// - big integers are encoded as their minimal big-endian magnitude
//   behind a length prefix (zero encodes as an empty magnitude)
// - list counts are uint32

const maxListLen = 1 << 24 // sanity bound when decoding untrusted counts

func appendVarBytes(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func appendBigInt(buf []byte, v *big.Int) []byte {
	if v == nil {
		return appendVarBytes(buf, nil)
	}
	return appendVarBytes(buf, v.Bytes())
}

// reader is a cursor over an encoded value. The first decode failure sticks:
// every subsequent read returns the zero value and the error is reported once
// via err().
type reader struct {
	data []byte
	off  int
	rerr error
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) fail(format string, args ...any) {
	if r.rerr == nil {
		r.rerr = fmt.Errorf(format, args...)
	}
}

func (r *reader) err() error {
	return r.rerr
}

// done reports an error if any input is left unconsumed.
func (r *reader) done() error {
	if r.rerr == nil && r.off != len(r.data) {
		r.fail("trailing %d bytes after decode", len(r.data)-r.off)
	}
	return r.rerr
}

func (r *reader) take(n int) []byte {
	if r.rerr != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.fail("data too short: need %d bytes at offset %d of %d", n, r.off, len(r.data))
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) count() int {
	n := r.u32()
	if n > maxListLen {
		r.fail("list length %d exceeds limit", n)
		return 0
	}
	return int(n)
}

func (r *reader) hash() kvstore.Hash {
	var h kvstore.Hash
	b := r.take(len(h))
	if b != nil {
		copy(h[:], b)
	}
	return h
}

func (r *reader) varBytes() []byte {
	n := r.count()
	if n == 0 {
		return nil
	}
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

func (r *reader) bigInt() *big.Int {
	return new(big.Int).SetBytes(r.varBytes())
}
