package epoch

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/meridian-network/meridian-chain/internal/log"
	"github.com/meridian-network/meridian-chain/pkg/crypto"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// BlockSummary is the compressed per-block record fed to the next-epoch
// computation: who proposed, which shards delivered chunks, how much
// approval weight the block gathered.
type BlockSummary struct {
	Hash           types.Hash `json:"hash"`
	Height         uint64     `json:"height"`
	Proposer       []byte     `json:"proposer"`
	ChunkMask      []bool     `json:"chunk_mask"` // Per shard: chunk present and applied.
	ApprovedWeight uint64     `json:"approved_weight"`
}

// History is the outgoing epoch's block history, in height order.
type History struct {
	EpochID       types.EpochID  `json:"epoch_id"`
	LastBlockHash types.Hash     `json:"last_block_hash"`
	Blocks        []BlockSummary `json:"blocks"`
}

// Manager computes the next epoch's Info from the outgoing epoch and its
// finalized history. Implementations must be pure functions of their inputs:
// the chain recomputes the transition after a crash and the result must be
// byte-identical.
type Manager interface {
	ComputeNextEpoch(prev *Info, history *History) (*Info, error)
}

// Computation errors.
var (
	ErrEmptyValidatorSet = errors.New("next epoch would have no validators")
	ErrHistoryMismatch   = errors.New("history does not belong to the outgoing epoch")
)

// RotatingManager is the production Manager: it carries the validator set
// forward, drops validators that missed every one of their production slots,
// and reassigns shards from the new seed.
type RotatingManager struct {
	NumShards uint32
}

// NewRotatingManager creates a manager for the given shard count.
func NewRotatingManager(numShards uint32) *RotatingManager {
	return &RotatingManager{NumShards: numShards}
}

// ComputeNextEpoch derives the next epoch deterministically.
func (m *RotatingManager) ComputeNextEpoch(prev *Info, history *History) (*Info, error) {
	if history.EpochID != prev.ID {
		return nil, fmt.Errorf("%w: history epoch %s, outgoing epoch %s",
			ErrHistoryMismatch, history.EpochID, prev.ID)
	}

	produced := make(map[string]uint64, len(prev.Validators))
	for _, b := range history.Blocks {
		produced[string(b.Proposer)]++
	}

	// Drop validators that were scheduled but produced nothing. Keeping the
	// set non-empty takes priority over the kick-out rule.
	expected := expectedSlots(prev, uint64(len(history.Blocks)))
	next := make([]Validator, 0, len(prev.Validators))
	for i, v := range prev.Validators {
		if expected[uint32(i)] > 0 && produced[string(v.PubKey)] == 0 {
			log.Epoch.Info().
				Str("validator", hex.EncodeToString(v.PubKey)).
				Uint64("expected", expected[uint32(i)]).
				Msg("validator kicked out for missing all slots")
			continue
		}
		next = append(next, v)
	}
	if len(next) == 0 {
		// A fully silent epoch keeps the old set rather than halting the chain.
		if len(prev.Validators) == 0 {
			return nil, ErrEmptyValidatorSet
		}
		next = append(next, prev.Validators...)
	}

	seed := NextSeed(prev.Seed, history.LastBlockHash)
	info := &Info{
		ID:          ComputeID(prev.ID, history.LastBlockHash),
		Index:       prev.Index + 1,
		FirstHeight: prev.FirstHeight + prev.Length,
		Length:      prev.Length,
		Seed:        seed,
		Validators:  next,
	}
	info.ProducerOrder = shuffledIndices(len(next), seed, 0)
	info.ShardAssignment = assignShards(len(next), m.NumShards, seed)
	return info, nil
}

// expectedSlots counts block-production slots per validator index for an
// epoch that ran for the given number of heights.
func expectedSlots(in *Info, heights uint64) map[uint32]uint64 {
	out := make(map[uint32]uint64)
	if len(in.ProducerOrder) == 0 {
		return out
	}
	for h := uint64(0); h < heights; h++ {
		idx := in.ProducerOrder[h%uint64(len(in.ProducerOrder))]
		out[idx]++
	}
	return out
}

// shuffledIndices returns 0..n-1 in an order drawn deterministically from
// the seed. The domain byte separates independent shuffles from one seed.
func shuffledIndices(n int, seed types.Hash, domain byte) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(i)
	}
	// Fisher-Yates driven by a BLAKE3 stream over (seed || domain || counter).
	var counter uint64
	for i := n - 1; i > 0; i-- {
		buf := make([]byte, 0, types.HashSize+9)
		buf = append(buf, seed[:]...)
		buf = append(buf, domain)
		buf = binary.LittleEndian.AppendUint64(buf, counter)
		counter++
		h := crypto.Hash(buf)
		j := binary.LittleEndian.Uint64(h[:8]) % uint64(i+1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// assignShards distributes validator indices across shards round-robin over
// a seeded shuffle, so every shard gets a non-empty rotation.
func assignShards(numValidators int, numShards uint32, seed types.Hash) [][]uint32 {
	order := shuffledIndices(numValidators, seed, 1)
	assignment := make([][]uint32, numShards)
	for i := range assignment {
		assignment[i] = []uint32{}
	}
	for i, idx := range order {
		shard := uint32(i) % numShards
		assignment[shard] = append(assignment[shard], idx)
	}
	// Fewer validators than shards: wrap the rotation so no shard is empty.
	for shard := uint32(0); shard < numShards; shard++ {
		if len(assignment[shard]) == 0 {
			assignment[shard] = append(assignment[shard], order[int(shard)%len(order)])
		}
	}
	return assignment
}

// GenesisInfo builds the epoch-0 Info from the genesis validator set.
func GenesisInfo(validators []Validator, numShards uint32, epochLength uint64, chainID string) (*Info, error) {
	if len(validators) == 0 {
		return nil, ErrEmptyValidatorSet
	}
	seed := crypto.Hash([]byte(chainID))
	info := &Info{
		ID:          types.EpochID(crypto.HashConcat(seed, types.Hash{})),
		Index:       0,
		FirstHeight: 0,
		Length:      epochLength,
		Seed:        seed,
		Validators:  validators,
	}
	info.ProducerOrder = shuffledIndices(len(validators), seed, 0)
	info.ShardAssignment = assignShards(len(validators), numShards, seed)
	return info, nil
}
