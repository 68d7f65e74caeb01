// Package execution defines the contract between the chain core and the
// transaction execution engine, which lives outside this repository.
package execution

import (
	"context"
	"fmt"

	"github.com/meridian-network/meridian-chain/pkg/block"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// ApplyResult is the outcome of applying one chunk to one shard's state.
type ApplyResult struct {
	NewStateRoot types.Hash
	OutReceipts  []*block.Receipt
	GasUsed      uint64
}

// Fault is a non-retryable execution failure for one chunk. Identical inputs
// must fault identically on every node, so a Fault is protocol-significant,
// never transient.
type Fault struct {
	Shard  types.ShardID
	Height uint64
	Reason string
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("execution fault on shard %d at height %d: %s", f.Shard, f.Height, f.Reason)
}

// Engine applies a chunk's transactions and incoming receipts to a shard
// state. Implementations MUST be deterministic for identical inputs: no
// wall-clock reads, no map-order iteration leaking into results, no
// randomness. The chain compares the resulting roots across nodes.
type Engine interface {
	// ApplyChunk replays transactions and incoming receipts, in the exact
	// recorded order, against the prior state root. It returns the new
	// state root, outgoing receipts in deterministic order, and gas used.
	// A *Fault return means the chunk can never be applied; transient
	// errors (storage unavailable) are returned as ordinary errors and may
	// be retried by the caller.
	ApplyChunk(ctx context.Context, shard types.ShardID, height uint64,
		priorStateRoot types.Hash, txs []*block.Transaction,
		inReceipts []*block.Receipt, gasLimit uint64) (*ApplyResult, error)
}
