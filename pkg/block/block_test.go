package block

import (
	"errors"
	"testing"

	"github.com/meridian-network/meridian-chain/pkg/crypto"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

func testKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

// testBlock builds a structurally valid signed block for numShards shards.
func testBlock(t *testing.T, key *crypto.PrivateKey, numShards uint32, height uint64) *Block {
	t.Helper()

	chunks := make([]*ChunkHeader, numShards)
	for i := range chunks {
		ch := &ChunkHeader{
			ShardID:     types.ShardID(i),
			Height:      height,
			TxRoot:      ComputeTxRoot(nil),
			ReceiptRoot: ComputeReceiptRoot(nil),
			GasLimit:    1000,
			ProducerID:  key.PublicKey(),
		}
		if err := ch.Sign(key); err != nil {
			t.Fatalf("sign chunk header: %v", err)
		}
		chunks[i] = ch
	}

	hdr := &Header{
		Version:    CurrentVersion,
		PrevHash:   crypto.Hash([]byte("parent")),
		Height:     height,
		ChunkRoot:  ComputeChunkRoot(chunks),
		Timestamp:  1700000000,
		ProposerID: key.PublicKey(),
	}
	if err := hdr.Sign(key); err != nil {
		t.Fatalf("sign header: %v", err)
	}
	return NewBlock(hdr, chunks)
}

func TestHeaderHashExcludesSignature(t *testing.T) {
	key := testKey(t)
	blk := testBlock(t, key, 1, 5)

	before := blk.Header.Hash()
	blk.Header.ProposerSig = []byte("different")
	if blk.Header.Hash() != before {
		t.Error("header hash must not depend on the signature")
	}

	blk.Header.Height = 6
	if blk.Header.Hash() == before {
		t.Error("header hash must change with header content")
	}
}

func TestHeaderSignAndVerify(t *testing.T) {
	key := testKey(t)
	blk := testBlock(t, key, 1, 1)
	hash := blk.Header.Hash()
	if !crypto.VerifySignature(hash[:], blk.Header.ProposerSig, blk.Header.ProposerID) {
		t.Error("proposer signature should verify")
	}
	if crypto.VerifySignature(hash[:], blk.Header.ProposerSig, testKey(t).PublicKey()) {
		t.Error("signature should not verify under a different key")
	}
}

func TestValidateStructure(t *testing.T) {
	key := testKey(t)
	blk := testBlock(t, key, 2, 3)
	if err := blk.ValidateStructure(2, 10000, 0); err != nil {
		t.Fatalf("valid block rejected: %v", err)
	}
}

func TestValidateStructureChunkCount(t *testing.T) {
	key := testKey(t)
	blk := testBlock(t, key, 2, 3)
	if err := blk.ValidateStructure(3, 10000, 0); !errors.Is(err, ErrChunkCount) {
		t.Errorf("expected ErrChunkCount, got %v", err)
	}
}

func TestValidateStructureShardOrder(t *testing.T) {
	key := testKey(t)
	blk := testBlock(t, key, 2, 3)
	blk.ChunkHeaders[0], blk.ChunkHeaders[1] = blk.ChunkHeaders[1], blk.ChunkHeaders[0]
	blk.Header.ChunkRoot = ComputeChunkRoot(blk.ChunkHeaders)
	if err := blk.ValidateStructure(2, 10000, 0); !errors.Is(err, ErrChunkShardOrder) {
		t.Errorf("expected ErrChunkShardOrder, got %v", err)
	}
}

func TestValidateStructureChunkRoot(t *testing.T) {
	key := testKey(t)
	blk := testBlock(t, key, 2, 3)
	blk.Header.ChunkRoot = crypto.Hash([]byte("wrong"))
	if err := blk.ValidateStructure(2, 10000, 0); !errors.Is(err, ErrBadChunkRoot) {
		t.Errorf("expected ErrBadChunkRoot, got %v", err)
	}
}

func TestValidateStructureGasBound(t *testing.T) {
	key := testKey(t)
	blk := testBlock(t, key, 1, 3)
	if err := blk.ValidateStructure(1, 999, 0); !errors.Is(err, ErrGasOverLimit) {
		t.Errorf("expected ErrGasOverLimit, got %v", err)
	}
}

func TestValidateStructureHeightMismatch(t *testing.T) {
	key := testKey(t)
	blk := testBlock(t, key, 1, 3)
	blk.ChunkHeaders[0].Height = 4
	blk.Header.ChunkRoot = ComputeChunkRoot(blk.ChunkHeaders)
	if err := blk.ValidateStructure(1, 10000, 0); !errors.Is(err, ErrChunkHeightMismatch) {
		t.Errorf("expected ErrChunkHeightMismatch, got %v", err)
	}
}

func TestValidateAgainstHeader(t *testing.T) {
	key := testKey(t)
	blk := testBlock(t, key, 1, 2)
	body := &Chunk{Header: blk.ChunkHeaders[0]}
	if err := body.ValidateAgainstHeader(blk.ChunkHeaders[0]); err != nil {
		t.Fatalf("matching body rejected: %v", err)
	}

	withTx := &Chunk{
		Header:       blk.ChunkHeaders[0],
		Transactions: []*Transaction{{Signer: key.PublicKey(), Nonce: 1}},
	}
	if err := withTx.ValidateAgainstHeader(blk.ChunkHeaders[0]); !errors.Is(err, ErrChunkTxRoot) {
		t.Errorf("expected ErrChunkTxRoot, got %v", err)
	}
}

func TestComputeChunkRootDeterministic(t *testing.T) {
	key := testKey(t)
	a := testBlock(t, key, 4, 7)
	if ComputeChunkRoot(a.ChunkHeaders) != ComputeChunkRoot(a.ChunkHeaders) {
		t.Error("chunk root must be deterministic")
	}
	if ComputeChunkRoot(a.ChunkHeaders[:3]) == ComputeChunkRoot(a.ChunkHeaders) {
		t.Error("chunk root must depend on every header")
	}
}

func TestDedupeApprovals(t *testing.T) {
	key1 := testKey(t)
	key2 := testKey(t)
	a1 := &Approval{ValidatorID: key1.PublicKey(), Height: 1}
	a2 := &Approval{ValidatorID: key2.PublicKey(), Height: 1}
	dup := &Approval{ValidatorID: key1.PublicKey(), Height: 1}

	in := []*Approval{a1, a2, dup}
	out := DedupeApprovals(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 approvals, got %d", len(out))
	}
	if out[0] != a1 || out[1] != a2 {
		t.Error("dedupe must keep first occurrence in order")
	}
	if len(in) != 3 {
		t.Error("dedupe must not mutate its input")
	}
}

func TestApprovalSignVerify(t *testing.T) {
	key := testKey(t)
	a := &Approval{
		ValidatorID: key.PublicKey(),
		BlockHash:   crypto.Hash([]byte("block")),
		Height:      9,
	}
	if err := a.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !a.VerifySig(crypto.SchnorrVerifier{}) {
		t.Error("approval signature should verify")
	}
	a.Height = 10
	if a.VerifySig(crypto.SchnorrVerifier{}) {
		t.Error("tampered approval must not verify")
	}
}

func TestReceiptIDContentDerived(t *testing.T) {
	src := crypto.Hash([]byte("chunk"))
	r1 := NewReceipt(src, 0, 0, 1, 100, []byte("pay"))
	r2 := NewReceipt(src, 0, 0, 1, 100, []byte("pay"))
	r3 := NewReceipt(src, 1, 0, 1, 100, []byte("pay"))
	if r1.ID != r2.ID {
		t.Error("identical receipts must share an ID")
	}
	if r1.ID == r3.ID {
		t.Error("index must change the receipt ID")
	}
}

func TestSortReceipts(t *testing.T) {
	src := crypto.Hash([]byte("chunk"))
	receipts := []*Receipt{
		NewReceipt(src, 2, 0, 1, 1, nil),
		NewReceipt(src, 0, 0, 1, 1, nil),
		NewReceipt(src, 1, 0, 1, 1, nil),
	}
	SortReceipts(receipts)
	for i := 1; i < len(receipts); i++ {
		if receipts[i].ID.Less(receipts[i-1].ID) {
			t.Fatal("receipts not sorted by ID")
		}
	}
}

func TestIsGenesis(t *testing.T) {
	key := testKey(t)
	blk := testBlock(t, key, 1, 0)
	blk.Header.PrevHash = types.Hash{}
	if !blk.IsGenesis() {
		t.Error("height 0 with zero parent is genesis")
	}
	blk.Header.Height = 1
	if blk.IsGenesis() {
		t.Error("height 1 is not genesis")
	}
}
