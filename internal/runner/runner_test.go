package runner

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/meridian-network/meridian-chain/internal/execution"
	"github.com/meridian-network/meridian-chain/pkg/block"
	"github.com/meridian-network/meridian-chain/pkg/crypto"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

const testGasLimit = 1_000_000

func tx(payload string) *block.Transaction {
	return &block.Transaction{Signer: []byte("signer"), Nonce: 1, GasLimit: 500, Payload: []byte(payload)}
}

func crossShardTx(dest types.ShardID, body string) *block.Transaction {
	payload := []byte{execution.CrossShardMarker}
	payload = binary.LittleEndian.AppendUint32(payload, uint32(dest))
	payload = append(payload, body...)
	return &block.Transaction{Signer: []byte("signer"), Nonce: 2, GasLimit: 500, Payload: payload}
}

// buildChunk runs the engine once to produce a chunk whose declared roots and
// gas match what replay will compute.
func buildChunk(t *testing.T, shard types.ShardID, height uint64, prior types.Hash,
	txs []*block.Transaction, inReceipts []*block.Receipt) *block.Chunk {
	t.Helper()
	res, err := execution.NewHashEngine().ApplyChunk(context.Background(), shard, height,
		prior, txs, inReceipts, testGasLimit)
	if err != nil {
		t.Fatalf("building chunk for shard %d: %v", shard, err)
	}
	return &block.Chunk{
		Header: &block.ChunkHeader{
			ShardID:       shard,
			Height:        height,
			PrevStateRoot: prior,
			PostStateRoot: res.NewStateRoot,
			TxRoot:        block.ComputeTxRoot(txs),
			GasUsed:       res.GasUsed,
			GasLimit:      testGasLimit,
			ProducerID:    []byte("producer"),
		},
		Transactions: txs,
		InReceipts:   inReceipts,
	}
}

func priorRoots(n int) []types.Hash {
	roots := make([]types.Hash, n)
	for i := range roots {
		roots[i] = crypto.Hash([]byte{byte(i)})
	}
	return roots
}

func TestApplyBlockDeterministic(t *testing.T) {
	r := New(execution.NewHashEngine(), 4)
	priors := priorRoots(3)
	chunks := []*block.Chunk{
		buildChunk(t, 0, 5, priors[0], []*block.Transaction{tx("a"), tx("b")}, nil),
		buildChunk(t, 1, 5, priors[1], []*block.Transaction{tx("c")}, nil),
		buildChunk(t, 2, 5, priors[2], nil, nil),
	}
	blockHash := crypto.Hash([]byte("blk"))

	first, err := r.ApplyBlock(context.Background(), blockHash, 5, priors, chunks)
	if err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}
	second, err := r.ApplyBlock(context.Background(), blockHash, 5, priors, chunks)
	if err != nil {
		t.Fatalf("ApplyBlock replay: %v", err)
	}

	if len(first) != 3 {
		t.Fatalf("got %d results", len(first))
	}
	for i := range first {
		if first[i].Shard != types.ShardID(i) {
			t.Errorf("result %d for shard %d", i, first[i].Shard)
		}
		if first[i].NewStateRoot != second[i].NewStateRoot {
			t.Errorf("shard %d roots diverged across runs", i)
		}
	}
	if first[0].NewStateRoot == priors[0] || first[1].NewStateRoot == priors[1] {
		t.Error("non-empty chunks must advance the state root")
	}
	// An empty chunk applies nothing and charges nothing.
	if first[2].GasUsed != 0 || first[2].NewStateRoot != priors[2] {
		t.Errorf("empty chunk: gas %d", first[2].GasUsed)
	}
}

func TestApplyBlockPrevRootMismatch(t *testing.T) {
	r := New(execution.NewHashEngine(), 2)
	priors := priorRoots(1)
	chunk := buildChunk(t, 0, 5, crypto.Hash([]byte("other root")), []*block.Transaction{tx("a")}, nil)

	_, err := r.ApplyBlock(context.Background(), crypto.Hash([]byte("blk")), 5, priors, []*block.Chunk{chunk})
	var fault *StateTransitionFault
	if !errors.As(err, &fault) {
		t.Fatalf("want StateTransitionFault, got %v", err)
	}
	if fault.Shard != 0 || fault.Height != 5 {
		t.Errorf("fault identifies shard %d height %d", fault.Shard, fault.Height)
	}
}

func TestApplyBlockPostRootMismatch(t *testing.T) {
	r := New(execution.NewHashEngine(), 2)
	priors := priorRoots(1)
	chunk := buildChunk(t, 0, 5, priors[0], []*block.Transaction{tx("a")}, nil)
	chunk.Header.PostStateRoot = crypto.Hash([]byte("forged"))

	_, err := r.ApplyBlock(context.Background(), crypto.Hash([]byte("blk")), 5, priors, []*block.Chunk{chunk})
	var fault *StateTransitionFault
	if !errors.As(err, &fault) {
		t.Fatalf("want StateTransitionFault, got %v", err)
	}
}

func TestApplyBlockGasMismatch(t *testing.T) {
	r := New(execution.NewHashEngine(), 2)
	priors := priorRoots(1)
	chunk := buildChunk(t, 0, 5, priors[0], []*block.Transaction{tx("a")}, nil)
	chunk.Header.GasUsed++

	_, err := r.ApplyBlock(context.Background(), crypto.Hash([]byte("blk")), 5, priors, []*block.Chunk{chunk})
	var fault *StateTransitionFault
	if !errors.As(err, &fault) {
		t.Fatalf("want StateTransitionFault, got %v", err)
	}
}

func TestApplyBlockChunkPositionChecked(t *testing.T) {
	r := New(execution.NewHashEngine(), 2)
	priors := priorRoots(2)
	c0 := buildChunk(t, 0, 5, priors[0], nil, nil)
	c1 := buildChunk(t, 1, 5, priors[1], nil, nil)

	_, err := r.ApplyBlock(context.Background(), crypto.Hash([]byte("blk")), 5, priors, []*block.Chunk{c1, c0})
	if err == nil {
		t.Error("out-of-order chunks must be rejected")
	}
}

func TestApplyBlockLengthMismatch(t *testing.T) {
	r := New(execution.NewHashEngine(), 2)
	_, err := r.ApplyBlock(context.Background(), crypto.Hash([]byte("blk")), 5, priorRoots(2), nil)
	if err == nil {
		t.Error("chunk/root count mismatch must be rejected")
	}
}

func TestRouteReceipts(t *testing.T) {
	ra := block.NewReceipt(crypto.Hash([]byte("s0")), 0, 0, 1, 500, []byte("a"))
	rb := block.NewReceipt(crypto.Hash([]byte("s0")), 1, 0, 2, 500, []byte("b"))
	rc := block.NewReceipt(crypto.Hash([]byte("s1")), 0, 1, 1, 500, []byte("c"))
	bad := block.NewReceipt(crypto.Hash([]byte("s1")), 1, 1, 9, 500, []byte("d"))

	results := []ShardResult{
		{Shard: 0, OutReceipts: []*block.Receipt{ra, rb}},
		{Shard: 1, OutReceipts: []*block.Receipt{rc, bad}},
		{Shard: 2},
	}
	routed := RouteReceipts(results, 3)

	if len(routed) != 3 {
		t.Fatalf("routed for %d shards", len(routed))
	}
	if len(routed[0]) != 0 {
		t.Errorf("shard 0 got %d receipts", len(routed[0]))
	}
	// Production order: shard order first, then within-chunk order.
	if len(routed[1]) != 2 || routed[1][0].ID != ra.ID || routed[1][1].ID != rc.ID {
		t.Errorf("shard 1 routing wrong: %d receipts", len(routed[1]))
	}
	if len(routed[2]) != 1 || routed[2][0].ID != rb.ID {
		t.Errorf("shard 2 routing wrong: %d receipts", len(routed[2]))
	}
	// The receipt addressed past the shard count is dropped.
	total := len(routed[0]) + len(routed[1]) + len(routed[2])
	if total != 3 {
		t.Errorf("%d receipts routed, want 3", total)
	}
}

func TestApplyBlockCrossShardReceipts(t *testing.T) {
	r := New(execution.NewHashEngine(), 2)
	priors := priorRoots(2)
	chunks := []*block.Chunk{
		buildChunk(t, 0, 7, priors[0], []*block.Transaction{crossShardTx(1, "payload")}, nil),
		buildChunk(t, 1, 7, priors[1], nil, nil),
	}

	results, err := r.ApplyBlock(context.Background(), crypto.Hash([]byte("blk")), 7, priors, chunks)
	if err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}
	if len(results[0].OutReceipts) != 1 {
		t.Fatalf("shard 0 emitted %d receipts", len(results[0].OutReceipts))
	}
	rcpt := results[0].OutReceipts[0]
	if rcpt.FromShard != 0 || rcpt.ToShard != 1 || string(rcpt.Payload) != "payload" {
		t.Errorf("receipt %+v", rcpt)
	}

	routed := RouteReceipts(results, 2)
	if len(routed[1]) != 1 || routed[1][0].ID != rcpt.ID {
		t.Error("cross-shard receipt did not route to destination shard")
	}
}

func TestApplyBlockCanceledContext(t *testing.T) {
	r := New(execution.NewHashEngine(), 2)
	priors := priorRoots(1)
	chunk := buildChunk(t, 0, 5, priors[0], []*block.Transaction{tx("a")}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.ApplyBlock(ctx, crypto.Hash([]byte("blk")), 5, priors, []*block.Chunk{chunk}); err == nil {
		t.Error("canceled context must abort the block")
	}
}
