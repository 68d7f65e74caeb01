package block

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/meridian-network/meridian-chain/pkg/crypto"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// ChunkHeader is one shard's commitment inside a block: the state roots
// before and after applying the chunk, plus roots over its transactions and
// the receipts it consumed.
type ChunkHeader struct {
	ShardID       types.ShardID `json:"shard_id"`
	Height        uint64        `json:"height"`
	PrevStateRoot types.Hash    `json:"prev_state_root"`
	PostStateRoot types.Hash    `json:"post_state_root"`
	TxRoot        types.Hash    `json:"tx_root"`
	ReceiptRoot   types.Hash    `json:"receipt_root"`
	GasUsed       uint64        `json:"gas_used"`
	GasLimit      uint64        `json:"gas_limit"`
	ProducerID    []byte        `json:"producer_id"`
	ProducerSig   []byte        `json:"producer_sig,omitempty"`
}

type chunkHeaderJSON struct {
	ShardID       types.ShardID `json:"shard_id"`
	Height        uint64        `json:"height"`
	PrevStateRoot types.Hash    `json:"prev_state_root"`
	PostStateRoot types.Hash    `json:"post_state_root"`
	TxRoot        types.Hash    `json:"tx_root"`
	ReceiptRoot   types.Hash    `json:"receipt_root"`
	GasUsed       uint64        `json:"gas_used"`
	GasLimit      uint64        `json:"gas_limit"`
	ProducerID    string        `json:"producer_id"`
	ProducerSig   string        `json:"producer_sig,omitempty"`
}

// MarshalJSON encodes the chunk header with hex-encoded key material.
func (c *ChunkHeader) MarshalJSON() ([]byte, error) {
	j := chunkHeaderJSON{
		ShardID:       c.ShardID,
		Height:        c.Height,
		PrevStateRoot: c.PrevStateRoot,
		PostStateRoot: c.PostStateRoot,
		TxRoot:        c.TxRoot,
		ReceiptRoot:   c.ReceiptRoot,
		GasUsed:       c.GasUsed,
		GasLimit:      c.GasLimit,
		ProducerID:    hex.EncodeToString(c.ProducerID),
	}
	if c.ProducerSig != nil {
		j.ProducerSig = hex.EncodeToString(c.ProducerSig)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a chunk header with hex-encoded key material.
func (c *ChunkHeader) UnmarshalJSON(data []byte) error {
	var j chunkHeaderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	c.ShardID = j.ShardID
	c.Height = j.Height
	c.PrevStateRoot = j.PrevStateRoot
	c.PostStateRoot = j.PostStateRoot
	c.TxRoot = j.TxRoot
	c.ReceiptRoot = j.ReceiptRoot
	c.GasUsed = j.GasUsed
	c.GasLimit = j.GasLimit
	if j.ProducerID != "" {
		b, err := hex.DecodeString(j.ProducerID)
		if err != nil {
			return err
		}
		c.ProducerID = b
	}
	if j.ProducerSig != "" {
		b, err := hex.DecodeString(j.ProducerSig)
		if err != nil {
			return err
		}
		c.ProducerSig = b
	}
	return nil
}

// SigningBytes returns the canonical bytes for hashing/signing.
// Format: shard(4) | height(8) | prev_root(32) | post_root(32) | tx_root(32) |
// receipt_root(32) | gas_used(8) | gas_limit(8) | producer_id(33)
func (c *ChunkHeader) SigningBytes() []byte {
	buf := make([]byte, 0, 200)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(c.ShardID))
	buf = binary.LittleEndian.AppendUint64(buf, c.Height)
	buf = append(buf, c.PrevStateRoot[:]...)
	buf = append(buf, c.PostStateRoot[:]...)
	buf = append(buf, c.TxRoot[:]...)
	buf = append(buf, c.ReceiptRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, c.GasUsed)
	buf = binary.LittleEndian.AppendUint64(buf, c.GasLimit)
	buf = append(buf, c.ProducerID...)
	return buf
}

// Hash computes the chunk header hash, excluding the producer signature.
func (c *ChunkHeader) Hash() types.Hash {
	return crypto.Hash(c.SigningBytes())
}

// Sign fills in ProducerSig over the chunk header's signing bytes.
func (c *ChunkHeader) Sign(signer crypto.Signer) error {
	hash := c.Hash()
	sig, err := signer.Sign(hash[:])
	if err != nil {
		return err
	}
	c.ProducerSig = sig
	return nil
}

// Transaction is an opaque unit of work addressed to one shard. The core
// never interprets Payload; the execution engine does.
type Transaction struct {
	Signer   []byte `json:"signer"`
	Nonce    uint64 `json:"nonce"`
	GasLimit uint64 `json:"gas_limit"`
	Payload  []byte `json:"payload"`
}

// Hash computes the transaction hash.
func (t *Transaction) Hash() types.Hash {
	buf := make([]byte, 0, 64+len(t.Signer)+len(t.Payload))
	buf = append(buf, t.Signer...)
	buf = binary.LittleEndian.AppendUint64(buf, t.Nonce)
	buf = binary.LittleEndian.AppendUint64(buf, t.GasLimit)
	buf = append(buf, t.Payload...)
	return crypto.Hash(buf)
}

// Receipt is a deferred unit of cross-shard (or delayed same-shard) work
// produced by applying a chunk. It is owned by the destination shard until a
// later chunk on that shard consumes it.
type Receipt struct {
	ID        types.Hash    `json:"id"`
	FromShard types.ShardID `json:"from_shard"`
	ToShard   types.ShardID `json:"to_shard"`
	GasLimit  uint64        `json:"gas_limit"`
	Payload   []byte        `json:"payload"`
}

// NewReceipt builds a receipt with a deterministic content-derived ID.
// source is the hash of the chunk (or transaction) that produced it and index
// its position among that source's outgoing receipts.
func NewReceipt(source types.Hash, index uint32, from, to types.ShardID, gasLimit uint64, payload []byte) *Receipt {
	r := &Receipt{FromShard: from, ToShard: to, GasLimit: gasLimit, Payload: payload}
	buf := make([]byte, 0, 64+len(payload))
	buf = append(buf, source[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, index)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(from))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(to))
	buf = binary.LittleEndian.AppendUint64(buf, gasLimit)
	buf = append(buf, payload...)
	r.ID = crypto.Hash(buf)
	return r
}

// Hash returns the receipt ID.
func (r *Receipt) Hash() types.Hash {
	return r.ID
}

// Chunk carries one shard's transactions for a block, together with the
// incoming receipts it must consume, in the exact order they were produced.
type Chunk struct {
	Header       *ChunkHeader   `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	InReceipts   []*Receipt     `json:"in_receipts"`
}

// Hash returns the chunk header hash.
func (c *Chunk) Hash() types.Hash {
	return c.Header.Hash()
}

// ComputeTxRoot folds the chunk's transaction hashes into a single root.
func ComputeTxRoot(txs []*Transaction) types.Hash {
	hashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash()
	}
	return crypto.HashAll(hashes)
}

// ComputeReceiptRoot folds receipt IDs into a single root.
func ComputeReceiptRoot(receipts []*Receipt) types.Hash {
	hashes := make([]types.Hash, len(receipts))
	for i, r := range receipts {
		hashes[i] = r.ID
	}
	return crypto.HashAll(hashes)
}
