package orphan

import (
	"errors"
	"fmt"
	"testing"

	"github.com/meridian-network/meridian-chain/pkg/block"
	"github.com/meridian-network/meridian-chain/pkg/crypto"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

func orphanBlock(parent types.Hash, height uint64, salt string) *block.Block {
	return block.NewBlock(&block.Header{
		Version:    1,
		PrevHash:   parent,
		Height:     height,
		Timestamp:  1700000000,
		ProposerID: []byte(salt),
	}, nil)
}

func TestAddAndChildrenOf(t *testing.T) {
	p := NewPool(10, 5, 100)
	parent := crypto.Hash([]byte("parent"))

	a := orphanBlock(parent, 5, "a")
	b := orphanBlock(parent, 5, "b")
	if err := p.Add(a, "peer1", nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Add(b, "peer2", nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !p.Has(a.Hash()) {
		t.Error("Has: parked block not found")
	}
	if p.Len() != 2 {
		t.Errorf("Len: got %d", p.Len())
	}

	children := p.ChildrenOf(parent)
	if len(children) != 2 {
		t.Fatalf("ChildrenOf: got %d blocks", len(children))
	}
	// Children are removed on retrieval.
	if p.Len() != 0 || p.Has(a.Hash()) {
		t.Error("ChildrenOf must remove returned blocks")
	}
	if len(p.ChildrenOf(parent)) != 0 {
		t.Error("second retrieval should be empty")
	}
}

func TestChildrenOfKeepsDeliveredChunks(t *testing.T) {
	p := NewPool(10, 5, 100)
	parent := crypto.Hash([]byte("parent"))

	blk := orphanBlock(parent, 5, "a")
	chunks := []*block.Chunk{
		{Header: &block.ChunkHeader{ShardID: 0, Height: 5}},
		{Header: &block.ChunkHeader{ShardID: 1, Height: 5}},
	}
	if err := p.Add(blk, "peer1", chunks); err != nil {
		t.Fatalf("Add: %v", err)
	}

	children := p.ChildrenOf(parent)
	if len(children) != 1 {
		t.Fatalf("ChildrenOf: got %d entries", len(children))
	}
	e := children[0]
	if e.Block.Hash() != blk.Hash() || e.Sender != "peer1" {
		t.Errorf("entry %s from %s", e.Block.Hash().Short(), e.Sender)
	}
	if len(e.Chunks) != 2 {
		t.Fatalf("chunk bodies lost: got %d, want 2", len(e.Chunks))
	}
	for i, ch := range e.Chunks {
		if ch.Header.ShardID != types.ShardID(i) {
			t.Errorf("chunk %d shard %d", i, ch.Header.ShardID)
		}
	}
}

func TestAddDuplicate(t *testing.T) {
	p := NewPool(10, 5, 100)
	blk := orphanBlock(crypto.Hash([]byte("p")), 3, "x")
	if err := p.Add(blk, "peer1", nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Add(blk, "peer1", nil); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestPoolBounds(t *testing.T) {
	p := NewPool(2, 5, 100)
	parent := crypto.Hash([]byte("p"))
	p.Add(orphanBlock(parent, 1, "a"), "peer1", nil)
	p.Add(orphanBlock(parent, 1, "b"), "peer2", nil)
	if err := p.Add(orphanBlock(parent, 1, "c"), "peer3", nil); !errors.Is(err, ErrPoolFull) {
		t.Errorf("expected ErrPoolFull, got %v", err)
	}
	if p.Stats().Dropped == 0 {
		t.Error("bound rejection must count as dropped")
	}
}

func TestSenderQuota(t *testing.T) {
	p := NewPool(10, 2, 100)
	parent := crypto.Hash([]byte("p"))
	p.Add(orphanBlock(parent, 1, "a"), "spammer", nil)
	p.Add(orphanBlock(parent, 1, "b"), "spammer", nil)
	if err := p.Add(orphanBlock(parent, 1, "c"), "spammer", nil); !errors.Is(err, ErrSenderQuota) {
		t.Errorf("expected ErrSenderQuota, got %v", err)
	}
	// Quota is per sender, not global.
	if err := p.Add(orphanBlock(parent, 1, "d"), "honest", nil); err != nil {
		t.Errorf("other senders should still be admitted: %v", err)
	}
}

func TestSenderQuotaReleasedOnRetrieval(t *testing.T) {
	p := NewPool(10, 1, 100)
	parent := crypto.Hash([]byte("p"))
	p.Add(orphanBlock(parent, 1, "a"), "peer1", nil)
	p.ChildrenOf(parent)
	if err := p.Add(orphanBlock(parent, 1, "b"), "peer1", nil); err != nil {
		t.Errorf("quota should free up after retrieval: %v", err)
	}
}

func TestEvictBelow(t *testing.T) {
	p := NewPool(10, 5, 10)
	parent := crypto.Hash([]byte("p"))

	old := orphanBlock(parent, 5, "old")
	fresh := orphanBlock(parent, 95, "fresh")
	p.Add(old, "peer1", nil)
	p.Add(fresh, "peer1", nil)

	evicted := p.EvictBelow(100)
	if evicted != 1 {
		t.Fatalf("EvictBelow: got %d evictions", evicted)
	}
	if p.Has(old.Hash()) {
		t.Error("stale orphan should be gone")
	}
	if !p.Has(fresh.Hash()) {
		t.Error("recent orphan should survive")
	}
	if p.Stats().Expired != 1 {
		t.Errorf("Stats.Expired: got %d", p.Stats().Expired)
	}
}

func TestEvictBelowLowTip(t *testing.T) {
	p := NewPool(10, 5, 100)
	p.Add(orphanBlock(crypto.Hash([]byte("p")), 1, "a"), "peer1", nil)
	if evicted := p.EvictBelow(50); evicted != 0 {
		t.Errorf("tip below window must evict nothing, got %d", evicted)
	}
}

func TestStatsSnapshot(t *testing.T) {
	p := NewPool(1, 1, 100)
	parent := crypto.Hash([]byte("p"))
	p.Add(orphanBlock(parent, 1, "a"), "peer1", nil)
	p.Add(orphanBlock(parent, 1, "b"), "peer2", nil) // Dropped: pool full.

	s := p.Stats()
	if s.Held != 1 || s.Dropped != 1 {
		t.Errorf("Stats: %+v", s)
	}
}

func TestManySendersIndependent(t *testing.T) {
	p := NewPool(100, 1, 100)
	parent := crypto.Hash([]byte("p"))
	for i := 0; i < 20; i++ {
		blk := orphanBlock(parent, 1, fmt.Sprintf("blk-%d", i))
		if err := p.Add(blk, fmt.Sprintf("peer-%d", i), nil); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	if p.Len() != 20 {
		t.Errorf("Len: got %d", p.Len())
	}
}
