package multihash

import (
	"bytes"
	"encoding/hex"
	"fmt"

	mh "github.com/multiformats/go-multihash"
	_ "github.com/multiformats/go-multihash/register/blake3"
	"github.com/shruggr/chainstore/kvstore"
)

// NodeHash wraps a BLAKE3 multihash for content-addressed index nodes
// Format: <0x1e><0x20><32 bytes> = 34 bytes total
type NodeHash []byte

// NewNodeHash creates a BLAKE3 multihash from node data
func NewNodeHash(data []byte) (NodeHash, error) {
	h, err := mh.Sum(data, mh.BLAKE3, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to hash data: %w", err)
	}
	return NodeHash(h), nil
}

// WrapNodeHash wraps an existing 32-byte digest as a BLAKE3 multihash
func WrapNodeHash(hash kvstore.Hash) (NodeHash, error) {
	h, err := mh.Encode(hash[:], mh.BLAKE3)
	if err != nil {
		return nil, fmt.Errorf("failed to encode hash: %w", err)
	}
	return NodeHash(h), nil
}

// Verify checks that the hash matches the provided data
func (h NodeHash) Verify(data []byte) error {
	decoded, err := mh.Decode(mh.Multihash(h))
	if err != nil {
		return fmt.Errorf("invalid multihash: %w", err)
	}

	if decoded.Code != mh.BLAKE3 {
		return fmt.Errorf("expected BLAKE3 hash, got 0x%x", decoded.Code)
	}

	computed, err := mh.Sum(data, decoded.Code, decoded.Length)
	if err != nil {
		return fmt.Errorf("hash computation failed: %w", err)
	}

	if !bytes.Equal(computed, h) {
		return fmt.Errorf("hash verification failed")
	}

	return nil
}

// VerifyNode checks that node bytes hash to the 32-byte key they were
// stored under.
func VerifyNode(key kvstore.Hash, data []byte) error {
	wrapped, err := WrapNodeHash(key)
	if err != nil {
		return err
	}
	return wrapped.Verify(data)
}

// Raw extracts the 32-byte digest from the multihash
func (h NodeHash) Raw() (kvstore.Hash, error) {
	decoded, err := mh.Decode(mh.Multihash(h))
	if err != nil {
		return kvstore.Hash{}, fmt.Errorf("invalid multihash: %w", err)
	}

	if len(decoded.Digest) != 32 {
		return kvstore.Hash{}, fmt.Errorf("expected 32-byte digest, got %d bytes", len(decoded.Digest))
	}

	var raw kvstore.Hash
	copy(raw[:], decoded.Digest)
	return raw, nil
}

// Bytes returns the raw multihash bytes
func (h NodeHash) Bytes() []byte {
	return []byte(h)
}

// Hex returns the hex-encoded multihash
func (h NodeHash) Hex() string {
	return hex.EncodeToString(h)
}
