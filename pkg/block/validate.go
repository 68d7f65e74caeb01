package block

import (
	"errors"
	"fmt"

	"github.com/meridian-network/meridian-chain/pkg/types"
)

// Validation errors.
var (
	ErrNilHeader         = errors.New("block has nil header")
	ErrBadVersion        = errors.New("unsupported block version")
	ErrZeroTimestamp     = errors.New("block timestamp is zero")
	ErrNoProposer        = errors.New("missing proposer id")
	ErrChunkCount        = errors.New("chunk header count does not match shard count")
	ErrChunkShardOrder   = errors.New("chunk headers not in ascending shard order")
	ErrChunkHeightMismatch = errors.New("chunk height does not match block height")
	ErrBadChunkRoot      = errors.New("chunk root mismatch")
	ErrGasOverLimit      = errors.New("chunk gas limit exceeds protocol bound")
	ErrBlockTooLarge     = errors.New("block too large")
	ErrChunkTxRoot       = errors.New("chunk tx root mismatch")
	ErrChunkReceiptRoot  = errors.New("chunk receipt root mismatch")
	ErrChunkShardMismatch = errors.New("chunk shard does not match requested shard")
)

// Block version constants.
const (
	CurrentVersion = 1 // The current block version produced by this software.
	MaxVersion     = 1 // Bump when a fork introduces a new block version.
)

// ValidateStructure checks block structure and internal consistency against
// protocol-wide bounds. This does NOT verify signatures or epoch placement
// (the consensus validator does that with the epoch's validator set).
func (b *Block) ValidateStructure(numShards uint32, maxGasPerChunk uint64, maxBlockSize int) error {
	if b.Header == nil {
		return ErrNilHeader
	}

	if b.Header.Version < 1 || b.Header.Version > MaxVersion {
		return fmt.Errorf("%w: got %d, want 1..%d", ErrBadVersion, b.Header.Version, MaxVersion)
	}

	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}

	if len(b.Header.ProposerID) == 0 {
		return ErrNoProposer
	}

	// A block is structurally valid only with exactly one chunk header per shard.
	if uint32(len(b.ChunkHeaders)) != numShards {
		return fmt.Errorf("%w: got %d, want %d", ErrChunkCount, len(b.ChunkHeaders), numShards)
	}

	for i, ch := range b.ChunkHeaders {
		if uint32(ch.ShardID) != uint32(i) {
			return fmt.Errorf("%w: position %d holds shard %d", ErrChunkShardOrder, i, ch.ShardID)
		}
		if ch.Height != b.Header.Height {
			return fmt.Errorf("%w: shard %d declares height %d, block height %d",
				ErrChunkHeightMismatch, ch.ShardID, ch.Height, b.Header.Height)
		}
		if maxGasPerChunk > 0 && ch.GasLimit > maxGasPerChunk {
			return fmt.Errorf("%w: shard %d declares %d, max %d",
				ErrGasOverLimit, ch.ShardID, ch.GasLimit, maxGasPerChunk)
		}
	}

	// The header must commit to exactly these chunk headers.
	expectedRoot := ComputeChunkRoot(b.ChunkHeaders)
	if b.Header.ChunkRoot != expectedRoot {
		return fmt.Errorf("%w: header=%s computed=%s", ErrBadChunkRoot, b.Header.ChunkRoot, expectedRoot)
	}

	// Check total block size (header signing bytes + all chunk header signing bytes).
	blockSize := len(b.Header.SigningBytes())
	for _, ch := range b.ChunkHeaders {
		blockSize += len(ch.SigningBytes())
	}
	if maxBlockSize > 0 && blockSize > maxBlockSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrBlockTooLarge, blockSize, maxBlockSize)
	}

	return nil
}

// ValidateAgainstHeader checks that a chunk body matches the chunk header a
// block committed to: same shard, and tx/receipt roots recomputed from the
// body equal the declared roots.
func (c *Chunk) ValidateAgainstHeader(want *ChunkHeader) error {
	if c.Header == nil || want == nil {
		return ErrNilHeader
	}
	if c.Header.ShardID != want.ShardID {
		return fmt.Errorf("%w: body shard %d, header shard %d",
			ErrChunkShardMismatch, c.Header.ShardID, want.ShardID)
	}
	if c.Header.Hash() != want.Hash() {
		return fmt.Errorf("chunk header hash mismatch for shard %d", want.ShardID)
	}
	if root := ComputeTxRoot(c.Transactions); root != want.TxRoot {
		return fmt.Errorf("%w: computed=%s declared=%s", ErrChunkTxRoot, root, want.TxRoot)
	}
	if root := ComputeReceiptRoot(c.InReceipts); root != want.ReceiptRoot {
		return fmt.Errorf("%w: computed=%s declared=%s", ErrChunkReceiptRoot, root, want.ReceiptRoot)
	}
	return nil
}

// SortReceipts orders receipts canonically by ID. Receipt application order
// within a chunk is the recorded order; this helper is for producers that
// gather receipts from an unordered set.
func SortReceipts(receipts []*Receipt) {
	for i := 1; i < len(receipts); i++ {
		for j := i; j > 0 && receipts[j].ID.Less(receipts[j-1].ID); j-- {
			receipts[j], receipts[j-1] = receipts[j-1], receipts[j]
		}
	}
}

// DedupeApprovals returns approvals with at most one entry per validator,
// keeping the first occurrence.
func DedupeApprovals(approvals []*Approval) []*Approval {
	seen := make(map[string]bool, len(approvals))
	out := make([]*Approval, 0, len(approvals))
	for _, a := range approvals {
		key := string(a.ValidatorID)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

// zeroHash is the canonical missing-parent marker for genesis.
var zeroHash types.Hash

// IsGenesis reports whether the block claims to be a genesis block.
func (b *Block) IsGenesis() bool {
	return b.Header != nil && b.Header.Height == 0 && b.Header.PrevHash == zeroHash
}
