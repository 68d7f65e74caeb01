package consensus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/meridian-network/meridian-chain/pkg/types"
)

// ChainTip is one leaf of the locally known block DAG with its fork-choice
// score.
type ChainTip struct {
	Hash   types.Hash
	Height uint64
	Score  uint64
}

// Fork choice errors.
var (
	ErrParentNotTracked = errors.New("parent not tracked by fork choice")
	ErrBlockNotTracked  = errors.New("block not tracked by fork choice")
	ErrDuplicateBlock   = errors.New("block already tracked by fork choice")
)

// blockNode is one entry of the block arena. Blocks reference their parent
// by hash, never by pointer, so pruned subtrees are simply dropped from the
// map.
type blockNode struct {
	hash   types.Hash
	parent types.Hash
	height uint64
	weight uint64 // Approval weight endorsed directly on this block.
	base   uint64 // For roots only: cumulative weight of pruned ancestors.
	isRoot bool
}

// ForkChoice maintains the set of known chain tips and selects the
// canonical head. Score is cumulative endorsement weight along the chain;
// ties break by height, then by lowest hash so every node picks the same
// head.
type ForkChoice struct {
	mu    sync.Mutex
	nodes map[types.Hash]*blockNode
	tips  map[types.Hash]*blockNode
}

// NewForkChoice creates an empty fork choice.
func NewForkChoice() *ForkChoice {
	return &ForkChoice{
		nodes: make(map[types.Hash]*blockNode),
		tips:  make(map[types.Hash]*blockNode),
	}
}

// AddRoot seeds the arena with a block whose ancestors are not tracked
// (genesis, or the recovery point after a restart). base carries the
// cumulative weight of everything before it.
func (fc *ForkChoice) AddRoot(hash types.Hash, height, weight, base uint64) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	n := &blockNode{hash: hash, height: height, weight: weight, base: base, isRoot: true}
	fc.nodes[hash] = n
	fc.tips[hash] = n
}

// AddBlock inserts an accepted block under its tracked parent. The parent
// stops being a tip; the block becomes one.
func (fc *ForkChoice) AddBlock(hash, parent types.Hash, height, weight uint64) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if _, dup := fc.nodes[hash]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateBlock, hash.Short())
	}
	if _, ok := fc.nodes[parent]; !ok {
		return fmt.Errorf("%w: parent %s of %s", ErrParentNotTracked, parent.Short(), hash.Short())
	}

	n := &blockNode{hash: hash, parent: parent, height: height, weight: weight}
	fc.nodes[hash] = n
	fc.tips[hash] = n
	delete(fc.tips, parent)
	return nil
}

// AddWeight records additional approval weight observed for an already
// tracked block (approvals arrive after the block itself).
func (fc *ForkChoice) AddWeight(hash types.Hash, weight uint64) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	n, ok := fc.nodes[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBlockNotTracked, hash.Short())
	}
	n.weight += weight
	return nil
}

// Has reports whether the block is tracked.
func (fc *ForkChoice) Has(hash types.Hash) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	_, ok := fc.nodes[hash]
	return ok
}

// score walks from the node to its root, summing endorsement weight.
// Callers hold fc.mu.
func (fc *ForkChoice) score(n *blockNode) uint64 {
	total := uint64(0)
	for {
		total += n.weight
		if n.isRoot {
			return total + n.base
		}
		parent, ok := fc.nodes[n.parent]
		if !ok {
			// Parent pruned without re-rooting; treat as root.
			return total
		}
		n = parent
	}
}

// Head returns the canonical tip: highest score, then greatest height, then
// lowest hash. ok is false when nothing is tracked.
func (fc *ForkChoice) Head() (ChainTip, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	var best *blockNode
	var bestScore uint64
	for _, n := range fc.tips {
		s := fc.score(n)
		if best == nil || betterTip(s, n, bestScore, best) {
			best, bestScore = n, s
		}
	}
	if best == nil {
		return ChainTip{}, false
	}
	return ChainTip{Hash: best.hash, Height: best.height, Score: bestScore}, true
}

// betterTip reports whether (s, n) beats the current best.
func betterTip(s uint64, n *blockNode, bestScore uint64, best *blockNode) bool {
	if s != bestScore {
		return s > bestScore
	}
	if n.height != best.height {
		return n.height > best.height
	}
	return n.hash.Less(best.hash)
}

// Tips returns all known chain tips with their scores.
func (fc *ForkChoice) Tips() []ChainTip {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	out := make([]ChainTip, 0, len(fc.tips))
	for _, n := range fc.tips {
		out = append(out, ChainTip{Hash: n.hash, Height: n.height, Score: fc.score(n)})
	}
	return out
}

// AncestorAt walks from the given block toward the root and returns the
// ancestor hash at the target height. Returns false if the block is not
// tracked or the walk leaves the arena before reaching the height.
func (fc *ForkChoice) AncestorAt(hash types.Hash, height uint64) (types.Hash, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	n, ok := fc.nodes[hash]
	if !ok {
		return types.Hash{}, false
	}
	for n.height > height {
		if n.isRoot {
			return types.Hash{}, false
		}
		n, ok = fc.nodes[n.parent]
		if !ok {
			return types.Hash{}, false
		}
	}
	if n.height != height {
		return types.Hash{}, false
	}
	return n.hash, true
}

// MinTrackedHeight returns the smallest height still referenced by any
// tracked node. The garbage collector never prunes at or above this while a
// fork-choice walk may still need it.
func (fc *ForkChoice) MinTrackedHeight() (uint64, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	var min uint64
	found := false
	for _, n := range fc.nodes {
		if !found || n.height < min {
			min, found = n.height, true
		}
	}
	return min, found
}

// PruneBelow drops all nodes strictly below the given height. Nodes at the
// height whose parent was pruned become roots carrying their pruned
// ancestors' cumulative weight, so scores are preserved.
func (fc *ForkChoice) PruneBelow(height uint64) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	// First pass: compute scores-below-cut for surviving nodes whose parent
	// will disappear.
	for _, n := range fc.nodes {
		if n.height >= height && !n.isRoot {
			if parent, ok := fc.nodes[n.parent]; ok && parent.height < height {
				n.base = fc.score(parent)
				n.isRoot = true
			}
		}
	}
	// Second pass: drop pruned nodes.
	for h, n := range fc.nodes {
		if n.height < height {
			delete(fc.nodes, h)
			delete(fc.tips, h)
		}
	}
}
