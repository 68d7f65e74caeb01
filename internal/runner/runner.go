// Package runner applies one block's chunks to shard states in parallel.
// This is the correctness-critical path: every node must compute
// bit-identical state roots and receipts from identical inputs.
package runner

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-network/meridian-chain/internal/execution"
	"github.com/meridian-network/meridian-chain/internal/log"
	"github.com/meridian-network/meridian-chain/pkg/block"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// ShardResult is one shard's outcome for one block.
type ShardResult struct {
	Shard        types.ShardID
	NewStateRoot types.Hash
	OutReceipts  []*block.Receipt
	GasUsed      uint64
}

// StateTransitionFault is fatal for the whole block: the protocol defines
// no partial application, so one faulting shard aborts everything. It
// carries the full inputs for forensic replay, because a fault may indicate
// a determinism bug rather than a bad block.
type StateTransitionFault struct {
	Block          types.Hash
	Height         uint64
	Shard          types.ShardID
	PriorStateRoot types.Hash
	Chunk          *block.Chunk
	Err            error
}

// Error implements the error interface.
func (f *StateTransitionFault) Error() string {
	return fmt.Sprintf("state transition fault: block %s height %d shard %d: %v",
		f.Block.Short(), f.Height, f.Shard, f.Err)
}

// Unwrap returns the underlying cause.
func (f *StateTransitionFault) Unwrap() error {
	return f.Err
}

// Runner drives the execution engine for every shard of a block through a
// bounded worker pool. Shards are mutually independent within one block
// (cross-shard effects travel as receipts into later blocks), so intra-block
// parallelism is safe.
type Runner struct {
	engine  execution.Engine
	workers int
}

// New creates a runner with the given worker-pool bound.
func New(engine execution.Engine, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{engine: engine, workers: workers}
}

// ApplyBlock applies every chunk to its shard's prior state. chunks must be
// in shard order and priorRoots indexed by shard. Results come back in
// shard order regardless of completion order, so downstream hashing never
// observes scheduling nondeterminism. Any shard fault aborts the block with
// a *StateTransitionFault.
func (r *Runner) ApplyBlock(ctx context.Context, blockHash types.Hash, height uint64,
	priorRoots []types.Hash, chunks []*block.Chunk) ([]ShardResult, error) {

	if len(chunks) != len(priorRoots) {
		return nil, fmt.Errorf("have %d chunks but %d prior roots", len(chunks), len(priorRoots))
	}

	results := make([]ShardResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for i := range chunks {
		chunk := chunks[i]
		shard := chunk.Header.ShardID
		if int(shard) != i {
			return nil, fmt.Errorf("chunk at position %d belongs to shard %d", i, shard)
		}
		prior := priorRoots[i]
		slot := &results[i]

		g.Go(func() error {
			// The chunk header pins the root it was built on. A mismatch is
			// a protocol fault, not a retryable error.
			if chunk.Header.PrevStateRoot != prior {
				return &StateTransitionFault{
					Block: blockHash, Height: height, Shard: shard,
					PriorStateRoot: prior, Chunk: chunk,
					Err: fmt.Errorf("declared prev root %s, local root %s",
						chunk.Header.PrevStateRoot.Short(), prior.Short()),
				}
			}

			res, err := r.engine.ApplyChunk(gctx, shard, height, prior,
				chunk.Transactions, chunk.InReceipts, chunk.Header.GasLimit)
			if err != nil {
				return &StateTransitionFault{
					Block: blockHash, Height: height, Shard: shard,
					PriorStateRoot: prior, Chunk: chunk, Err: err,
				}
			}

			// Replaying must land exactly on the declared root and gas.
			if res.NewStateRoot != chunk.Header.PostStateRoot {
				return &StateTransitionFault{
					Block: blockHash, Height: height, Shard: shard,
					PriorStateRoot: prior, Chunk: chunk,
					Err: fmt.Errorf("replay root %s, declared post root %s",
						res.NewStateRoot.Short(), chunk.Header.PostStateRoot.Short()),
				}
			}
			if res.GasUsed != chunk.Header.GasUsed {
				return &StateTransitionFault{
					Block: blockHash, Height: height, Shard: shard,
					PriorStateRoot: prior, Chunk: chunk,
					Err: fmt.Errorf("replay used %d gas, declared %d", res.GasUsed, chunk.Header.GasUsed),
				}
			}

			slot.Shard = shard
			slot.NewStateRoot = res.NewStateRoot
			slot.OutReceipts = res.OutReceipts
			slot.GasUsed = res.GasUsed
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logFault(err)
		return nil, err
	}
	return results, nil
}

// logFault records full fault inputs so a disagreement can be replayed
// offline. Silent retries would mask determinism bugs.
func logFault(err error) {
	fault, ok := err.(*StateTransitionFault)
	if !ok {
		return
	}
	ev := log.Runner.Error().
		Str("block", fault.Block.Short()).
		Uint64("height", fault.Height).
		Uint32("shard", uint32(fault.Shard)).
		Str("prior_root", fault.PriorStateRoot.String()).
		Err(fault.Err)
	if fault.Chunk != nil && fault.Chunk.Header != nil {
		ev = ev.
			Str("declared_post_root", fault.Chunk.Header.PostStateRoot.String()).
			Int("txs", len(fault.Chunk.Transactions)).
			Int("in_receipts", len(fault.Chunk.InReceipts))
	}
	ev.Msg("state transition fault")
}

// RouteReceipts groups the block's outgoing receipts by destination shard,
// preserving production order (shard order, then within-chunk order). The
// result feeds the next block's chunk production.
func RouteReceipts(results []ShardResult, numShards uint32) [][]*block.Receipt {
	routed := make([][]*block.Receipt, numShards)
	for _, res := range results {
		for _, r := range res.OutReceipts {
			if uint32(r.ToShard) >= numShards {
				// Malformed destination; engine contract violation.
				log.Runner.Warn().
					Str("receipt", r.ID.Short()).
					Uint32("to_shard", uint32(r.ToShard)).
					Msg("receipt routed to nonexistent shard, dropped")
				continue
			}
			routed[r.ToShard] = append(routed[r.ToShard], r)
		}
	}
	return routed
}
