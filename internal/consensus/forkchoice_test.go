package consensus

import (
	"errors"
	"testing"

	"github.com/meridian-network/meridian-chain/pkg/crypto"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

func h(s string) types.Hash {
	return crypto.Hash([]byte(s))
}

func TestForkChoiceLinearChain(t *testing.T) {
	fc := NewForkChoice()
	fc.AddRoot(h("g"), 0, 0, 0)

	if err := fc.AddBlock(h("b1"), h("g"), 1, 0); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if err := fc.AddBlock(h("b2"), h("b1"), 2, 0); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	tip, ok := fc.Head()
	if !ok {
		t.Fatal("expected a head")
	}
	if tip.Hash != h("b2") || tip.Height != 2 {
		t.Errorf("head: got %s at %d", tip.Hash.Short(), tip.Height)
	}
	if len(fc.Tips()) != 1 {
		t.Errorf("linear chain should have one tip, got %d", len(fc.Tips()))
	}
}

func TestForkChoiceParentChecks(t *testing.T) {
	fc := NewForkChoice()
	fc.AddRoot(h("g"), 0, 0, 0)

	if err := fc.AddBlock(h("b1"), h("unknown"), 1, 0); !errors.Is(err, ErrParentNotTracked) {
		t.Errorf("expected ErrParentNotTracked, got %v", err)
	}
	if err := fc.AddBlock(h("b1"), h("g"), 1, 0); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if err := fc.AddBlock(h("b1"), h("g"), 1, 0); !errors.Is(err, ErrDuplicateBlock) {
		t.Errorf("expected ErrDuplicateBlock, got %v", err)
	}
	if err := fc.AddWeight(h("nope"), 5); !errors.Is(err, ErrBlockNotTracked) {
		t.Errorf("expected ErrBlockNotTracked, got %v", err)
	}
}

func TestForkChoiceWeightWins(t *testing.T) {
	fc := NewForkChoice()
	fc.AddRoot(h("g"), 0, 0, 0)
	fc.AddBlock(h("a1"), h("g"), 1, 0)
	fc.AddBlock(h("b1"), h("g"), 1, 0)
	fc.AddBlock(h("b2"), h("b1"), 2, 0)

	// Taller fork wins while weights are equal.
	tip, _ := fc.Head()
	if tip.Hash != h("b2") {
		t.Fatalf("taller fork should lead, got %s", tip.Hash.Short())
	}

	// Enough weight on the shorter fork overturns height.
	if err := fc.AddWeight(h("a1"), 30); err != nil {
		t.Fatalf("AddWeight: %v", err)
	}
	tip, _ = fc.Head()
	if tip.Hash != h("a1") {
		t.Errorf("heavier fork should lead, got %s", tip.Hash.Short())
	}
	if tip.Score != 30 {
		t.Errorf("score: got %d, want 30", tip.Score)
	}
}

func TestForkChoiceOrderIndependence(t *testing.T) {
	build := func(order [][4]interface{}) *ForkChoice {
		fc := NewForkChoice()
		fc.AddRoot(h("g"), 0, 0, 0)
		for _, step := range order {
			fc.AddBlock(step[0].(types.Hash), step[1].(types.Hash), uint64(step[2].(int)), uint64(step[3].(int)))
		}
		return fc
	}

	// Two sibling subtrees inserted in opposite orders.
	forward := build([][4]interface{}{
		{h("a1"), h("g"), 1, 2},
		{h("a2"), h("a1"), 2, 0},
		{h("b1"), h("g"), 1, 1},
		{h("b2"), h("b1"), 2, 5},
	})
	backward := build([][4]interface{}{
		{h("b1"), h("g"), 1, 1},
		{h("b2"), h("b1"), 2, 5},
		{h("a1"), h("g"), 1, 2},
		{h("a2"), h("a1"), 2, 0},
	})

	tipF, _ := forward.Head()
	tipB, _ := backward.Head()
	if tipF != tipB {
		t.Errorf("head depends on insertion order: %s vs %s", tipF.Hash.Short(), tipB.Hash.Short())
	}
	if tipF.Hash != h("b2") {
		t.Errorf("heavier subtree should lead, got %s", tipF.Hash.Short())
	}
}

func TestForkChoiceLowestHashTiebreak(t *testing.T) {
	fc := NewForkChoice()
	fc.AddRoot(h("g"), 0, 0, 0)
	fc.AddBlock(h("x"), h("g"), 1, 0)
	fc.AddBlock(h("y"), h("g"), 1, 0)

	want := h("x")
	if h("y").Less(h("x")) {
		want = h("y")
	}
	tip, _ := fc.Head()
	if tip.Hash != want {
		t.Errorf("tiebreak should pick the lowest hash: got %s, want %s", tip.Hash.Short(), want.Short())
	}
}

func TestAncestorAt(t *testing.T) {
	fc := NewForkChoice()
	fc.AddRoot(h("g"), 0, 0, 0)
	fc.AddBlock(h("b1"), h("g"), 1, 0)
	fc.AddBlock(h("b2"), h("b1"), 2, 0)
	fc.AddBlock(h("b3"), h("b2"), 3, 0)

	anc, ok := fc.AncestorAt(h("b3"), 1)
	if !ok || anc != h("b1") {
		t.Errorf("AncestorAt(b3, 1): got %s, %v", anc.Short(), ok)
	}
	if _, ok := fc.AncestorAt(h("b3"), 4); ok {
		t.Error("no ancestor above a block's own height")
	}
	if _, ok := fc.AncestorAt(h("missing"), 1); ok {
		t.Error("untracked block has no ancestors")
	}
}

func TestPruneBelowPreservesScores(t *testing.T) {
	fc := NewForkChoice()
	fc.AddRoot(h("g"), 0, 0, 0)
	fc.AddBlock(h("b1"), h("g"), 1, 10)
	fc.AddBlock(h("b2"), h("b1"), 2, 5)
	fc.AddBlock(h("b3"), h("b2"), 3, 1)

	before, _ := fc.Head()
	fc.PruneBelow(2)
	after, _ := fc.Head()

	if before != after {
		t.Errorf("pruning must not change the head: %+v vs %+v", before, after)
	}
	if fc.Has(h("g")) || fc.Has(h("b1")) {
		t.Error("pruned nodes should be gone")
	}
	if min, ok := fc.MinTrackedHeight(); !ok || min != 2 {
		t.Errorf("MinTrackedHeight: got %d, %v", min, ok)
	}

	// The re-rooted subtree still accepts children and scores them fully.
	if err := fc.AddBlock(h("b4"), h("b3"), 4, 0); err != nil {
		t.Fatalf("AddBlock after prune: %v", err)
	}
	tip, _ := fc.Head()
	if tip.Hash != h("b4") || tip.Score != 16 {
		t.Errorf("tip after prune: got %s score %d, want b4 score 16", tip.Hash.Short(), tip.Score)
	}
}
