// Package orphan holds blocks that arrived before their parent.
package orphan

import (
	"errors"
	"sync"

	"github.com/meridian-network/meridian-chain/internal/log"
	"github.com/meridian-network/meridian-chain/pkg/block"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// Pool errors.
var (
	ErrPoolFull    = errors.New("orphan pool full")
	ErrSenderQuota = errors.New("orphan quota exceeded for sender")
	ErrDuplicate   = errors.New("block already in orphan pool")
)

// Entry is a parked block together with whatever chunk bodies arrived
// alongside it. Chunks are kept so resolution does not re-fetch bodies the
// network already delivered.
type Entry struct {
	Block  *block.Block
	Sender string
	Chunks []*block.Chunk
}

// Stats exposes pool counters for observability and adversarial-traffic
// tests. Expired counts orphans evicted by age without ever being resolved.
type Stats struct {
	Held    int
	Expired uint64
	Dropped uint64 // Rejected on Add because of pool or sender bounds.
}

// Pool maps missing-parent-hash to the blocks waiting on it. Bounded in
// total count and per-sender count so spam cannot exhaust memory.
type Pool struct {
	mu            sync.Mutex
	byParent      map[types.Hash][]*Entry
	byHash        map[types.Hash]*Entry
	senderCount   map[string]int
	maxBlocks     int
	maxPerSender  int
	expiryHeights uint64
	expired       uint64
	dropped       uint64
}

// NewPool creates a pool bounded to maxBlocks total and maxPerSender per
// submitting peer. Orphans more than expiryHeights behind the tip are
// evicted.
func NewPool(maxBlocks, maxPerSender int, expiryHeights uint64) *Pool {
	return &Pool{
		byParent:      make(map[types.Hash][]*Entry),
		byHash:        make(map[types.Hash]*Entry),
		senderCount:   make(map[string]int),
		maxBlocks:     maxBlocks,
		maxPerSender:  maxPerSender,
		expiryHeights: expiryHeights,
	}
}

// Add parks a block until its parent arrives, holding on to any chunk
// bodies delivered with it. Rejections increment the dropped counter; they
// are bounds enforcement, not protocol violations.
func (p *Pool) Add(blk *block.Block, sender string, chunks []*block.Chunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash := blk.Hash()
	if _, dup := p.byHash[hash]; dup {
		return ErrDuplicate
	}
	if len(p.byHash) >= p.maxBlocks {
		p.dropped++
		return ErrPoolFull
	}
	if p.senderCount[sender] >= p.maxPerSender {
		p.dropped++
		return ErrSenderQuota
	}

	e := &Entry{Block: blk, Sender: sender, Chunks: chunks}
	parent := blk.Header.PrevHash
	p.byParent[parent] = append(p.byParent[parent], e)
	p.byHash[hash] = e
	p.senderCount[sender]++

	log.Orphans.Debug().
		Str("block", hash.Short()).
		Str("parent", parent.Short()).
		Uint64("height", blk.Height()).
		Msg("block parked as orphan")
	return nil
}

// Has reports whether the block is parked.
func (p *Pool) Has(hash types.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byHash[hash]
	return ok
}

// ChildrenOf removes and returns the entries waiting on the given parent,
// chunk bodies included. Acceptance of one block can cascade: callers
// resubmit the returned blocks to validation, which may release their
// children in turn.
func (p *Pool) ChildrenOf(parent types.Hash) []*Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.byParent[parent]
	if len(entries) == 0 {
		return nil
	}
	delete(p.byParent, parent)

	for _, e := range entries {
		delete(p.byHash, e.Block.Hash())
		p.decSender(e.Sender)
	}
	return entries
}

// EvictBelow removes orphans whose height is more than the expiry window
// behind the given tip height. Every eviction increments the expired
// counter and is logged: expired orphans are reported, never silently
// dropped.
func (p *Pool) EvictBelow(tipHeight uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tipHeight < p.expiryHeights {
		return 0
	}
	cutoff := tipHeight - p.expiryHeights

	evicted := 0
	for parent, entries := range p.byParent {
		kept := entries[:0]
		for _, e := range entries {
			if e.Block.Height() < cutoff {
				delete(p.byHash, e.Block.Hash())
				p.decSender(e.Sender)
				p.expired++
				evicted++
				log.Orphans.Info().
					Str("block", e.Block.Hash().Short()).
					Uint64("height", e.Block.Height()).
					Uint64("cutoff", cutoff).
					Msg("orphan expired")
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(p.byParent, parent)
		} else {
			p.byParent[parent] = kept
		}
	}
	return evicted
}

// Len returns the number of parked blocks.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byHash)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Held: len(p.byHash), Expired: p.expired, Dropped: p.dropped}
}

func (p *Pool) decSender(sender string) {
	if p.senderCount[sender] <= 1 {
		delete(p.senderCount, sender)
	} else {
		p.senderCount[sender]--
	}
}
