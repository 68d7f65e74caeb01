// Package block defines block, chunk, and approval types and their
// structural validation.
package block

import (
	"github.com/meridian-network/meridian-chain/pkg/crypto"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// Block represents a block in the chain: a header plus one chunk header per
// shard and the validator approvals collected for it. The block content is
// immutable after creation; approvals accumulate separately in the store.
type Block struct {
	Header       *Header        `json:"header"`
	ChunkHeaders []*ChunkHeader `json:"chunk_headers"`
	Approvals    []*Approval    `json:"approvals,omitempty"`
}

// NewBlock creates a block with the given header and chunk headers.
func NewBlock(header *Header, chunks []*ChunkHeader) *Block {
	return &Block{
		Header:       header,
		ChunkHeaders: chunks,
	}
}

// Hash returns the block's header hash.
func (b *Block) Hash() types.Hash {
	if b.Header == nil {
		return types.Hash{}
	}
	return b.Header.Hash()
}

// Height returns the block's height.
func (b *Block) Height() uint64 {
	return b.Header.Height
}

// ChunkHeader returns the chunk header for the given shard, or nil.
func (b *Block) ChunkHeader(shard types.ShardID) *ChunkHeader {
	for _, ch := range b.ChunkHeaders {
		if ch.ShardID == shard {
			return ch
		}
	}
	return nil
}

// ComputeChunkRoot folds the chunk header hashes, in shard order, into the
// root the block header commits to.
func ComputeChunkRoot(chunks []*ChunkHeader) types.Hash {
	hashes := make([]types.Hash, len(chunks))
	for i, ch := range chunks {
		hashes[i] = ch.Hash()
	}
	return crypto.HashAll(hashes)
}
