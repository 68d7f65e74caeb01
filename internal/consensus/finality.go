package consensus

import (
	"encoding/json"
	"sync"

	"github.com/meridian-network/meridian-chain/pkg/types"
)

// FinalityState is the persisted outcome of the two-phase rule: the last
// finalized block plus the current candidate (a block that reached quorum
// and is waiting for its child to reach quorum too). Advances monotonically,
// never rolls back.
type FinalityState struct {
	FinalizedHash   types.Hash `json:"finalized_hash"`
	FinalizedHeight uint64     `json:"finalized_height"`
	CandidateHash   types.Hash `json:"candidate_hash,omitempty"`
	CandidateHeight uint64     `json:"candidate_height,omitempty"`
	HasCandidate    bool       `json:"has_candidate"`
	HasFinalized    bool       `json:"has_finalized"`
}

// Encode serializes the finality state for storage.
func (s *FinalityState) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeFinalityState parses a stored finality state.
func DecodeFinalityState(data []byte) (FinalityState, error) {
	var s FinalityState
	err := json.Unmarshal(data, &s)
	return s, err
}

// Finalizer runs the two-phase finality rule: a block finalizes once it and
// its immediate child both carry supermajority approval weight at
// consecutive heights. The lock phase is "candidate", the commit phase is
// the child's quorum.
type Finalizer struct {
	mu     sync.Mutex
	state  FinalityState
	num    uint64
	den    uint64
	halted bool
}

// NewFinalizer creates a finalizer with the given supermajority threshold
// (strictly more than num/den of total weight) and recovered state.
func NewFinalizer(num, den uint64, initial FinalityState) *Finalizer {
	return &Finalizer{state: initial, num: num, den: den}
}

// HasQuorum reports whether weight is a supermajority of total.
func (f *Finalizer) HasQuorum(weight, total uint64) bool {
	// weight/total > num/den without division.
	return weight*f.den > total*f.num
}

// State returns a copy of the current finality state.
func (f *Finalizer) State() FinalityState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Halted reports whether a safety violation stopped the finalizer.
func (f *Finalizer) Halted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.halted
}

// Halt latches the halted flag. Called when a safety violation is detected;
// only operator intervention (a restart after investigation) clears it.
func (f *Finalizer) Halt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.halted = true
}

// RecordQuorum records that a block reached supermajority endorsement.
// parent is the block's parent hash. Returns the newly finalized block hash
// and true when the two-phase rule fired: the previous candidate finalizes
// exactly when its immediate child reaches quorum.
func (f *Finalizer) RecordQuorum(hash types.Hash, height uint64, parent types.Hash) (types.Hash, uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	finalizedNow := false
	var finalizedHash types.Hash
	var finalizedHeight uint64

	if f.state.HasCandidate &&
		height == f.state.CandidateHeight+1 &&
		parent == f.state.CandidateHash {
		// Commit phase: candidate and child hold quorum at consecutive heights.
		if !f.state.HasFinalized || f.state.CandidateHeight > f.state.FinalizedHeight {
			f.state.FinalizedHash = f.state.CandidateHash
			f.state.FinalizedHeight = f.state.CandidateHeight
			f.state.HasFinalized = true
			finalizedNow = true
			finalizedHash = f.state.FinalizedHash
			finalizedHeight = f.state.FinalizedHeight
		}
	}

	// Lock phase: this block becomes the candidate if it extends past the
	// current one. A quorum on a stale height never regresses the candidate.
	if !f.state.HasCandidate || height > f.state.CandidateHeight {
		f.state.CandidateHash = hash
		f.state.CandidateHeight = height
		f.state.HasCandidate = true
	}

	return finalizedHash, finalizedHeight, finalizedNow
}

// CheckSafety verifies that a block does not conflict with the finalized
// chain. ancestorAt resolves the block's ancestor hash at a given height
// (typically ForkChoice.AncestorAt). A block at or below the finalized
// height, or one whose ancestor at the finalized height differs from the
// finalized hash, is a safety violation.
func (f *Finalizer) CheckSafety(hash types.Hash, height uint64, parent types.Hash,
	ancestorAt func(types.Hash, uint64) (types.Hash, bool)) error {

	f.mu.Lock()
	state := f.state
	f.mu.Unlock()

	if !state.HasFinalized {
		return nil
	}
	if height <= state.FinalizedHeight {
		return &SafetyViolationError{
			Finalized:       state.FinalizedHash,
			FinalizedHeight: state.FinalizedHeight,
			Conflicting:     hash,
		}
	}
	anc, ok := ancestorAt(parent, state.FinalizedHeight)
	if ok && anc != state.FinalizedHash {
		return &SafetyViolationError{
			Finalized:       state.FinalizedHash,
			FinalizedHeight: state.FinalizedHeight,
			Conflicting:     hash,
		}
	}
	// An unresolvable ancestor means the parent chain was pruned below the
	// finalized height, which can only happen for descendants of the
	// finalized block. Not a violation.
	return nil
}
