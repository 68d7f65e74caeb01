// Package fetch tracks the chunks a pending block still needs and drives
// requests to the network until they arrive or the block stalls.
package fetch

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/meridian-network/meridian-chain/internal/log"
	"github.com/meridian-network/meridian-chain/internal/network"
	"github.com/meridian-network/meridian-chain/pkg/block"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// ErrUnknownChunk is returned when a delivered chunk matches no outstanding
// request.
var ErrUnknownChunk = errors.New("no outstanding request for chunk")

// StalledError marks a block whose chunks did not arrive within the retry
// budget. This is a liveness fault, not a correctness fault: the block stays
// pending and completes if the chunks show up later.
type StalledError struct {
	Block types.Hash
	Shard types.ShardID
}

// Error implements the error interface.
func (e *StalledError) Error() string {
	return fmt.Sprintf("chunk fetch stalled for block %s shard %d", e.Block.Short(), e.Shard)
}

type requestKey struct {
	block types.Hash
	shard types.ShardID
}

type request struct {
	key      requestKey
	producer string // Preferred peer: the chunk's producer.
	attempts int
	stalled  bool
	timer    *time.Timer
}

type blockState struct {
	missing map[types.ShardID]*request
	got     map[types.ShardID]*block.Chunk
	stalled bool
}

// Stats exposes coordinator counters.
type Stats struct {
	PendingBlocks int
	Retries       uint64
	Stalled       uint64
}

// Coordinator issues one outstanding request per missing chunk, re-issuing
// to a different peer on timeout, bounded by a retry budget. Completion and
// stall decisions are delivered through callbacks so the chain actor stays
// non-blocking.
type Coordinator struct {
	mu         sync.Mutex
	net        network.Sender
	timeout    time.Duration
	maxRetries int

	blocks map[types.Hash]*blockState

	onComplete func(blockHash types.Hash, chunks []*block.Chunk)
	onStalled  func(err *StalledError)

	retries      uint64
	stalledCount uint64
	closed       bool
}

// NewCoordinator creates a coordinator. onComplete fires once per block,
// with chunks in shard order, when the last missing chunk arrives.
// onStalled fires once per block when the retry budget runs out.
func NewCoordinator(net network.Sender, timeout time.Duration, maxRetries int,
	onComplete func(types.Hash, []*block.Chunk), onStalled func(*StalledError)) *Coordinator {
	return &Coordinator{
		net:        net,
		timeout:    timeout,
		maxRetries: maxRetries,
		blocks:     make(map[types.Hash]*blockState),
		onComplete: onComplete,
		onStalled:  onStalled,
	}
}

// Want registers a block with missing chunks and issues the first round of
// requests. producers maps each missing shard to the hex-encoded producer
// key used as the preferred peer. Calling Want again for the same block is
// a no-op.
func (c *Coordinator) Want(blockHash types.Hash, missing []types.ShardID, producers map[types.ShardID]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if _, exists := c.blocks[blockHash]; exists {
		return
	}

	bs := &blockState{
		missing: make(map[types.ShardID]*request, len(missing)),
		got:     make(map[types.ShardID]*block.Chunk),
	}
	c.blocks[blockHash] = bs

	for _, shard := range missing {
		req := &request{
			key:      requestKey{block: blockHash, shard: shard},
			producer: producers[shard],
		}
		bs.missing[shard] = req
		c.issueLocked(req)
	}

	log.Fetch.Debug().
		Str("block", blockHash.Short()).
		Int("missing", len(missing)).
		Msg("tracking chunk fetches")
}

// issueLocked sends the request to the preferred peer for this attempt and
// arms the timeout. Callers hold c.mu.
func (c *Coordinator) issueLocked(req *request) {
	peer := c.pickPeerLocked(req)
	if err := c.net.RequestChunk(peer, req.key.block, req.key.shard); err != nil {
		log.Fetch.Warn().
			Err(err).
			Str("peer", peer).
			Str("block", req.key.block.Short()).
			Uint32("shard", uint32(req.key.shard)).
			Msg("chunk request failed to send")
	}
	key := req.key
	req.timer = time.AfterFunc(c.timeout, func() { c.onTimeout(key) })
}

// pickPeerLocked prefers the chunk producer on the first attempt, then
// rotates through peers announcing possession of the block.
func (c *Coordinator) pickPeerLocked(req *request) string {
	if req.attempts == 0 && req.producer != "" {
		return req.producer
	}
	peers := c.net.PeersWithBlock(req.key.block)
	if len(peers) == 0 {
		return req.producer
	}
	idx := req.attempts
	if req.producer == "" {
		idx = req.attempts - 1
		if idx < 0 {
			idx = 0
		}
	}
	return peers[idx%len(peers)]
}

// onTimeout re-issues an unanswered request or stalls the block once the
// retry budget is spent.
func (c *Coordinator) onTimeout(key requestKey) {
	c.mu.Lock()

	bs, ok := c.blocks[key.block]
	if !ok || c.closed {
		c.mu.Unlock()
		return
	}
	req, ok := bs.missing[key.shard]
	if !ok {
		c.mu.Unlock()
		return
	}

	req.attempts++
	if req.attempts >= c.maxRetries {
		req.stalled = true
		firstStall := !bs.stalled
		bs.stalled = true
		if firstStall {
			c.stalledCount++
		}
		c.mu.Unlock()
		if firstStall && c.onStalled != nil {
			// The block stays tracked: a late delivery still completes it.
			c.onStalled(&StalledError{Block: key.block, Shard: key.shard})
		}
		return
	}

	c.retries++
	log.Fetch.Debug().
		Str("block", key.block.Short()).
		Uint32("shard", uint32(key.shard)).
		Int("attempt", req.attempts).
		Msg("chunk request timed out, retrying")
	c.issueLocked(req)
	c.mu.Unlock()
}

// Deliver hands the coordinator a received chunk. When the block's last
// missing chunk arrives the onComplete callback fires with all chunks in
// shard order. Chunks for untracked blocks return ErrUnknownChunk.
func (c *Coordinator) Deliver(blockHash types.Hash, chunk *block.Chunk) error {
	c.mu.Lock()

	bs, ok := c.blocks[blockHash]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: block %s", ErrUnknownChunk, blockHash.Short())
	}
	shard := chunk.Header.ShardID
	req, outstanding := bs.missing[shard]
	if !outstanding {
		c.mu.Unlock()
		return fmt.Errorf("%w: block %s shard %d", ErrUnknownChunk, blockHash.Short(), shard)
	}

	if req.timer != nil {
		req.timer.Stop()
	}
	delete(bs.missing, shard)
	bs.got[shard] = chunk

	if len(bs.missing) > 0 {
		c.mu.Unlock()
		return nil
	}

	// Complete: hand chunks over in shard order and forget the block.
	delete(c.blocks, blockHash)
	shards := make([]types.ShardID, 0, len(bs.got))
	for s := range bs.got {
		shards = append(shards, s)
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i] < shards[j] })
	chunks := make([]*block.Chunk, 0, len(shards))
	for _, s := range shards {
		chunks = append(chunks, bs.got[s])
	}
	c.mu.Unlock()

	log.Fetch.Debug().
		Str("block", blockHash.Short()).
		Int("chunks", len(chunks)).
		Msg("all chunks fetched")
	if c.onComplete != nil {
		c.onComplete(blockHash, chunks)
	}
	return nil
}

// Pending reports whether the block still has outstanding chunk fetches.
func (c *Coordinator) Pending(blockHash types.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.blocks[blockHash]
	return ok
}

// Stalled reports whether the block hit its retry budget.
func (c *Coordinator) Stalled(blockHash types.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	bs, ok := c.blocks[blockHash]
	return ok && bs.stalled
}

// Forget drops a tracked block and stops its timers. Used when the block is
// rejected for other reasons while fetches are in flight.
func (c *Coordinator) Forget(blockHash types.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bs, ok := c.blocks[blockHash]
	if !ok {
		return
	}
	for _, req := range bs.missing {
		if req.timer != nil {
			req.timer.Stop()
		}
	}
	delete(c.blocks, blockHash)
}

// Stats returns a snapshot of the coordinator counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{PendingBlocks: len(c.blocks), Retries: c.retries, Stalled: c.stalledCount}
}

// Close stops all timers. Late Deliver calls after Close return
// ErrUnknownChunk.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, bs := range c.blocks {
		for _, req := range bs.missing {
			if req.timer != nil {
				req.timer.Stop()
			}
		}
	}
	c.blocks = make(map[types.Hash]*blockState)
}
