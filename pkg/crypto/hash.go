// Package crypto provides cryptographic primitives for the Meridian core.
package crypto

import (
	"github.com/zeebo/blake3"

	"github.com/meridian-network/meridian-chain/pkg/types"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// HashConcat hashes the concatenation of two hashes.
// Used for chunk-root and receipt-root accumulation.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}

// HashAll folds a list of hashes into a single root. An empty list hashes to
// the hash of the empty string so that the root is never the zero value.
func HashAll(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return Hash(nil)
	}
	root := hashes[0]
	for _, h := range hashes[1:] {
		root = HashConcat(root, h)
	}
	return root
}
