package epoch

import (
	"bytes"
	"errors"
	"testing"

	"github.com/meridian-network/meridian-chain/pkg/crypto"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

func testValidators(t *testing.T, n int) []Validator {
	t.Helper()
	out := make([]Validator, n)
	for i := range out {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		out[i] = Validator{PubKey: key.PublicKey(), Weight: 10}
	}
	return out
}

func TestGenesisInfoDeterministic(t *testing.T) {
	vals := testValidators(t, 4)
	a, err := GenesisInfo(vals, 2, 100, "test-chain")
	if err != nil {
		t.Fatalf("GenesisInfo: %v", err)
	}
	b, err := GenesisInfo(vals, 2, 100, "test-chain")
	if err != nil {
		t.Fatalf("GenesisInfo: %v", err)
	}

	if a.ID != b.ID {
		t.Error("same inputs must produce the same epoch id")
	}
	for i := range a.ProducerOrder {
		if a.ProducerOrder[i] != b.ProducerOrder[i] {
			t.Fatal("producer order must be deterministic")
		}
	}

	c, err := GenesisInfo(vals, 2, 100, "other-chain")
	if err != nil {
		t.Fatalf("GenesisInfo: %v", err)
	}
	if c.ID == a.ID {
		t.Error("different chain ids must produce different epoch ids")
	}
}

func TestGenesisInfoEmptySet(t *testing.T) {
	if _, err := GenesisInfo(nil, 2, 100, "x"); !errors.Is(err, ErrEmptyValidatorSet) {
		t.Errorf("expected ErrEmptyValidatorSet, got %v", err)
	}
}

func TestCoversAndLastHeight(t *testing.T) {
	in := &Info{FirstHeight: 100, Length: 50}
	if in.LastHeight() != 149 {
		t.Errorf("LastHeight: got %d", in.LastHeight())
	}
	for _, h := range []uint64{100, 125, 149} {
		if !in.Covers(h) {
			t.Errorf("epoch should cover height %d", h)
		}
	}
	for _, h := range []uint64{99, 150} {
		if in.Covers(h) {
			t.Errorf("epoch should not cover height %d", h)
		}
	}
	if !in.IsBoundary(149) || in.IsBoundary(148) {
		t.Error("boundary is exactly the last height")
	}
}

func TestBlockProducerRotation(t *testing.T) {
	vals := testValidators(t, 3)
	in, err := GenesisInfo(vals, 1, 12, "rot")
	if err != nil {
		t.Fatalf("GenesisInfo: %v", err)
	}

	// Every height gets exactly one producer, drawn from the set.
	for h := uint64(0); h < 12; h++ {
		p := in.BlockProducer(h)
		if p == nil {
			t.Fatalf("no producer at height %d", h)
		}
		if _, ok := in.ValidatorByKey(p); !ok {
			t.Fatalf("producer at height %d not in validator set", h)
		}
	}
	// The schedule repeats with the producer order period.
	period := uint64(len(in.ProducerOrder))
	if !bytes.Equal(in.BlockProducer(0), in.BlockProducer(period)) {
		t.Error("producer schedule should be periodic")
	}
}

func TestChunkProducerNonEmptyEveryShard(t *testing.T) {
	vals := testValidators(t, 2)
	in, err := GenesisInfo(vals, 5, 10, "shards")
	if err != nil {
		t.Fatalf("GenesisInfo: %v", err)
	}
	// More shards than validators: wrap-around keeps every shard staffed.
	for s := types.ShardID(0); s < 5; s++ {
		if in.ChunkProducer(s, 3) == nil {
			t.Errorf("shard %d has no chunk producer", s)
		}
	}
}

func TestValidatorIndex(t *testing.T) {
	vals := testValidators(t, 3)
	in := &Info{Validators: vals}
	for i, v := range vals {
		idx, ok := in.ValidatorIndex(v.PubKey)
		if !ok || idx != i {
			t.Errorf("validator %d: got index %d ok=%v", i, idx, ok)
		}
	}
	if _, ok := in.ValidatorIndex([]byte("stranger")); ok {
		t.Error("unknown pubkey resolved to an index")
	}
}

func TestTotalWeight(t *testing.T) {
	vals := testValidators(t, 4)
	in := &Info{Validators: vals}
	if in.TotalWeight() != 40 {
		t.Errorf("TotalWeight: got %d, want 40", in.TotalWeight())
	}
}

func TestComputeNextEpochDeterministic(t *testing.T) {
	vals := testValidators(t, 3)
	prev, err := GenesisInfo(vals, 2, 3, "next")
	if err != nil {
		t.Fatalf("GenesisInfo: %v", err)
	}

	history := historyAllProduced(prev, 3)
	m := NewRotatingManager(2)

	a, err := m.ComputeNextEpoch(prev, history)
	if err != nil {
		t.Fatalf("ComputeNextEpoch: %v", err)
	}
	b, err := m.ComputeNextEpoch(prev, history)
	if err != nil {
		t.Fatalf("ComputeNextEpoch: %v", err)
	}

	if a.ID != b.ID || a.Seed != b.Seed {
		t.Error("epoch transition must be a pure function of its inputs")
	}
	if a.Index != prev.Index+1 {
		t.Errorf("Index: got %d, want %d", a.Index, prev.Index+1)
	}
	if a.FirstHeight != prev.FirstHeight+prev.Length {
		t.Errorf("FirstHeight: got %d", a.FirstHeight)
	}
	if len(a.Validators) != len(prev.Validators) {
		t.Errorf("all validators produced, none should be dropped: %d -> %d",
			len(prev.Validators), len(a.Validators))
	}
}

func TestComputeNextEpochKickout(t *testing.T) {
	vals := testValidators(t, 3)
	prev, err := GenesisInfo(vals, 1, 6, "kick")
	if err != nil {
		t.Fatalf("GenesisInfo: %v", err)
	}

	// Every scheduled height is produced by the producer of height 0: all
	// other scheduled validators miss every slot.
	silent := make(map[string]bool)
	for h := uint64(0); h < 6; h++ {
		silent[string(prev.BlockProducer(h))] = true
	}
	producer := prev.BlockProducer(0)
	delete(silent, string(producer))
	if len(silent) == 0 {
		t.Skip("schedule assigned every slot to one validator")
	}

	history := &History{EpochID: prev.ID, LastBlockHash: crypto.Hash([]byte("last"))}
	for h := uint64(0); h < 6; h++ {
		history.Blocks = append(history.Blocks, BlockSummary{
			Height:   h,
			Proposer: producer,
		})
	}

	next, err := NewRotatingManager(1).ComputeNextEpoch(prev, history)
	if err != nil {
		t.Fatalf("ComputeNextEpoch: %v", err)
	}
	for _, v := range next.Validators {
		if silent[string(v.PubKey)] {
			t.Errorf("validator that missed all slots survived the transition")
		}
	}
	if len(next.Validators) == 0 {
		t.Error("next epoch must keep at least one validator")
	}
}

func TestComputeNextEpochEmptyPrevSet(t *testing.T) {
	prev := &Info{
		ID:     types.EpochID(crypto.Hash([]byte("hollow"))),
		Length: 4,
	}
	history := &History{EpochID: prev.ID, LastBlockHash: crypto.Hash([]byte("last"))}
	if _, err := NewRotatingManager(1).ComputeNextEpoch(prev, history); !errors.Is(err, ErrEmptyValidatorSet) {
		t.Errorf("expected ErrEmptyValidatorSet, got %v", err)
	}
}

func TestComputeNextEpochHistoryMismatch(t *testing.T) {
	vals := testValidators(t, 2)
	prev, _ := GenesisInfo(vals, 1, 4, "mismatch")
	history := &History{EpochID: types.EpochID(crypto.Hash([]byte("wrong")))}
	if _, err := NewRotatingManager(1).ComputeNextEpoch(prev, history); !errors.Is(err, ErrHistoryMismatch) {
		t.Errorf("expected ErrHistoryMismatch, got %v", err)
	}
}

func TestComputeIDChainsOnLastBlock(t *testing.T) {
	prev := types.EpochID(crypto.Hash([]byte("epoch")))
	a := ComputeID(prev, crypto.Hash([]byte("block-a")))
	b := ComputeID(prev, crypto.Hash([]byte("block-b")))
	if a == b {
		t.Error("different fork last-blocks must derive different epoch ids")
	}
	if a != ComputeID(prev, crypto.Hash([]byte("block-a"))) {
		t.Error("epoch id derivation must be deterministic")
	}
}

// historyAllProduced builds a history where the scheduled producer made
// every block.
func historyAllProduced(in *Info, heights uint64) *History {
	h := &History{EpochID: in.ID, LastBlockHash: crypto.Hash([]byte("tail"))}
	for i := uint64(0); i < heights; i++ {
		h.Blocks = append(h.Blocks, BlockSummary{
			Height:   in.FirstHeight + i,
			Proposer: in.BlockProducer(in.FirstHeight + i),
		})
	}
	return h
}
