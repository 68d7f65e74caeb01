package chain

import (
	"context"
	"sync"

	"github.com/meridian-network/meridian-chain/internal/log"
	"github.com/meridian-network/meridian-chain/pkg/block"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// ActorStats counts inbox traffic.
type ActorStats struct {
	Processed uint64
	Dropped   uint64
}

type message struct {
	blk      *block.Block
	sender   string
	chunks   []*block.Chunk
	chunkFor types.Hash
	chunk    *block.Chunk
	approval *block.Approval
}

// Actor pumps block, chunk, and approval submissions through one goroutine,
// so callers on network threads never block on chain processing. The inbox
// is bounded; submissions are dropped (and counted) when it is full, which
// is safe: blocks are re-gossiped and chunks re-requested.
type Actor struct {
	chain *Chain
	inbox chan message

	mu        sync.Mutex
	processed uint64
	dropped   uint64

	done chan struct{}
}

// NewActor creates an actor over the chain with the given inbox capacity.
func NewActor(c *Chain, capacity int) *Actor {
	if capacity < 1 {
		capacity = 1
	}
	return &Actor{
		chain: c,
		inbox: make(chan message, capacity),
		done:  make(chan struct{}),
	}
}

// Run drains the inbox until the context is canceled. Call from its own
// goroutine; returns after the final message in flight is handled.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.inbox:
			a.handle(msg)
		}
	}
}

// Done is closed once Run returns.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

func (a *Actor) handle(msg message) {
	switch {
	case msg.blk != nil:
		if err := a.chain.ProcessBlock(msg.blk, msg.sender, msg.chunks); err != nil {
			log.Chain.Debug().
				Str("block", msg.blk.Hash().Short()).
				Err(err).
				Msg("block submission not accepted")
		}
	case msg.chunk != nil:
		if err := a.chain.DeliverChunk(msg.chunkFor, msg.chunk); err != nil {
			log.Fetch.Debug().
				Str("block", msg.chunkFor.Short()).
				Err(err).
				Msg("chunk submission dropped")
		}
	case msg.approval != nil:
		if err := a.chain.ProcessApproval(msg.approval); err != nil {
			log.Chain.Debug().
				Str("block", msg.approval.BlockHash.Short()).
				Err(err).
				Msg("approval not applied")
		}
	}
	a.mu.Lock()
	a.processed++
	a.mu.Unlock()
}

// SubmitBlock enqueues a block with any chunk bodies that arrived with it.
// Returns false if the inbox is full or the chain is halted.
func (a *Actor) SubmitBlock(blk *block.Block, sender string, chunks []*block.Chunk) bool {
	return a.submit(message{blk: blk, sender: sender, chunks: chunks})
}

// SubmitChunk enqueues a chunk body for a block awaiting fetches.
func (a *Actor) SubmitChunk(blockHash types.Hash, chunk *block.Chunk) bool {
	return a.submit(message{chunkFor: blockHash, chunk: chunk})
}

// SubmitApproval enqueues a standalone approval.
func (a *Actor) SubmitApproval(approval *block.Approval) bool {
	return a.submit(message{approval: approval})
}

func (a *Actor) submit(msg message) bool {
	if a.chain.Halted() {
		return false
	}
	select {
	case a.inbox <- msg:
		return true
	default:
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
		log.Chain.Warn().Msg("chain inbox full, submission dropped")
		return false
	}
}

// Stats returns a snapshot of the inbox counters.
func (a *Actor) Stats() ActorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ActorStats{Processed: a.processed, Dropped: a.dropped}
}
