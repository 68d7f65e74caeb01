// Package epoch defines validator epochs: fixed-height intervals with a
// stable validator set and shard assignment.
package epoch

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/meridian-network/meridian-chain/pkg/crypto"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// Validator is one member of an epoch's validator set.
type Validator struct {
	PubKey []byte `json:"pubkey"`
	Weight uint64 `json:"weight"`
}

type validatorJSON struct {
	PubKey string `json:"pubkey"`
	Weight uint64 `json:"weight"`
}

// MarshalJSON encodes the validator with a hex pubkey.
func (v *Validator) MarshalJSON() ([]byte, error) {
	return json.Marshal(validatorJSON{PubKey: hex.EncodeToString(v.PubKey), Weight: v.Weight})
}

// UnmarshalJSON decodes a validator with a hex pubkey.
func (v *Validator) UnmarshalJSON(data []byte) error {
	var j validatorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	b, err := hex.DecodeString(j.PubKey)
	if err != nil {
		return fmt.Errorf("validator pubkey hex: %w", err)
	}
	v.PubKey = b
	v.Weight = j.Weight
	return nil
}

// Info holds everything consensus needs to know about one epoch: the
// validator set, the per-shard producer assignment, and the seed the
// assignment was drawn from. Computed once at the boundary, immutable after.
type Info struct {
	ID          types.EpochID `json:"id"`
	Index       uint64        `json:"index"`        // 0 for the genesis epoch.
	FirstHeight uint64        `json:"first_height"` // First height governed by this epoch.
	Length      uint64        `json:"length"`       // Heights per epoch.
	Seed        types.Hash    `json:"seed"`
	Validators  []Validator   `json:"validators"`

	// ShardAssignment[shard] lists validator indices responsible for that
	// shard's chunks, in rotation order.
	ShardAssignment [][]uint32 `json:"shard_assignment"`

	// ProducerOrder lists validator indices in block-production rotation order.
	ProducerOrder []uint32 `json:"producer_order"`
}

// LastHeight returns the last height governed by this epoch.
func (in *Info) LastHeight() uint64 {
	return in.FirstHeight + in.Length - 1
}

// Covers reports whether the given height falls inside this epoch.
func (in *Info) Covers(height uint64) bool {
	return height >= in.FirstHeight && height <= in.LastHeight()
}

// TotalWeight returns the summed voting weight of the validator set.
func (in *Info) TotalWeight() uint64 {
	var total uint64
	for _, v := range in.Validators {
		total += v.Weight
	}
	return total
}

// ValidatorByKey returns the validator with the given compressed pubkey.
func (in *Info) ValidatorByKey(pubKey []byte) (*Validator, bool) {
	for i := range in.Validators {
		if bytes.Equal(in.Validators[i].PubKey, pubKey) {
			return &in.Validators[i], true
		}
	}
	return nil, false
}

// ValidatorIndex returns the position in the validator set of the validator
// with the given compressed pubkey. Indices are stable for the life of the
// epoch, so they key per-epoch bitmasks.
func (in *Info) ValidatorIndex(pubKey []byte) (int, bool) {
	for i := range in.Validators {
		if bytes.Equal(in.Validators[i].PubKey, pubKey) {
			return i, true
		}
	}
	return -1, false
}

// BlockProducer returns the pubkey of the validator expected to propose the
// block at the given height. Rotation is round-robin over ProducerOrder.
func (in *Info) BlockProducer(height uint64) []byte {
	if len(in.ProducerOrder) == 0 {
		return nil
	}
	slot := (height - in.FirstHeight) % uint64(len(in.ProducerOrder))
	return in.Validators[in.ProducerOrder[slot]].PubKey
}

// ChunkProducer returns the pubkey of the validator expected to produce the
// chunk for the given shard at the given height.
func (in *Info) ChunkProducer(shard types.ShardID, height uint64) []byte {
	if int(shard) >= len(in.ShardAssignment) {
		return nil
	}
	slots := in.ShardAssignment[shard]
	if len(slots) == 0 {
		return nil
	}
	slot := (height - in.FirstHeight) % uint64(len(slots))
	return in.Validators[slots[slot]].PubKey
}

// ComputeID derives the epoch id from the previous epoch's id and the hash
// of the last block of the previous epoch. Pure function of its inputs, so a
// crashed node recomputes the identical id on restart.
func ComputeID(prevID types.EpochID, lastBlock types.Hash) types.EpochID {
	return types.EpochID(crypto.HashConcat(types.Hash(prevID), lastBlock))
}

// NextSeed derives the next epoch's randomness seed.
func NextSeed(prevSeed types.Hash, lastBlock types.Hash) types.Hash {
	return crypto.HashConcat(prevSeed, lastBlock)
}

// IsBoundary reports whether accepting a block at the given height completes
// the epoch covering it, i.e. the next height belongs to the next epoch.
func (in *Info) IsBoundary(height uint64) bool {
	return height == in.LastHeight()
}
