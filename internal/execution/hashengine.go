package execution

import (
	"context"
	"encoding/binary"

	"github.com/meridian-network/meridian-chain/pkg/block"
	"github.com/meridian-network/meridian-chain/pkg/crypto"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// Gas costs for the reference engine.
const (
	GasPerTx          = 100
	GasPerReceipt     = 50
	GasPerPayloadByte = 1
)

// CrossShardMarker prefixes a transaction payload that requests delivery of
// the remaining payload to another shard: marker(1) | dest_shard(4) | body.
const CrossShardMarker = 0xCB

// HashEngine is a deterministic reference implementation of Engine. The
// shard state is a single hash folded over everything ever applied, which is
// enough for the core's correctness properties: identical inputs yield
// identical roots, different inputs diverge. It stands in for the external
// WASM engine in tests and local development.
type HashEngine struct{}

// NewHashEngine creates the reference engine.
func NewHashEngine() *HashEngine {
	return &HashEngine{}
}

// ApplyChunk folds transactions and receipts into the state root in recorded
// order, producing outgoing receipts for cross-shard payloads.
func (e *HashEngine) ApplyChunk(ctx context.Context, shard types.ShardID, height uint64,
	priorStateRoot types.Hash, txs []*block.Transaction,
	inReceipts []*block.Receipt, gasLimit uint64) (*ApplyResult, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := priorStateRoot
	var gasUsed uint64
	var out []*block.Receipt
	var outIndex uint32

	charge := func(cost uint64) bool {
		if gasUsed+cost > gasLimit {
			return false
		}
		gasUsed += cost
		return true
	}

	// Incoming receipts are consumed first, in recorded order.
	for _, r := range inReceipts {
		cost := uint64(GasPerReceipt) + uint64(len(r.Payload))*GasPerPayloadByte
		if !charge(cost) {
			return nil, &Fault{Shard: shard, Height: height, Reason: "gas limit exceeded consuming receipts"}
		}
		root = crypto.HashConcat(root, r.ID)
	}

	for _, t := range txs {
		cost := uint64(GasPerTx) + uint64(len(t.Payload))*GasPerPayloadByte
		if !charge(cost) {
			return nil, &Fault{Shard: shard, Height: height, Reason: "gas limit exceeded"}
		}
		txHash := t.Hash()
		root = crypto.HashConcat(root, txHash)

		// Cross-shard send: emit a receipt owned by the destination shard.
		if len(t.Payload) >= 5 && t.Payload[0] == CrossShardMarker {
			dest := types.ShardID(binary.LittleEndian.Uint32(t.Payload[1:5]))
			body := t.Payload[5:]
			r := block.NewReceipt(txHash, outIndex, shard, dest, t.GasLimit, body)
			outIndex++
			out = append(out, r)
			root = crypto.HashConcat(root, r.ID)
		}
	}

	return &ApplyResult{NewStateRoot: root, OutReceipts: out, GasUsed: gasUsed}, nil
}
