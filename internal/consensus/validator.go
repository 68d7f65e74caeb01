package consensus

import (
	"bytes"

	"github.com/meridian-network/meridian-chain/internal/epoch"
	"github.com/meridian-network/meridian-chain/pkg/block"
	"github.com/meridian-network/meridian-chain/pkg/crypto"
)

// Validator performs stateless checks on incoming block and chunk headers.
// It is a pure function of its inputs plus the epoch and crypto
// collaborators: no side effects, safe to call concurrently.
type Validator struct {
	verifier       crypto.Verifier
	numShards      uint32
	maxGasPerChunk uint64
	maxBlockSize   int
}

// NewValidator creates a validator bound to the protocol limits.
func NewValidator(verifier crypto.Verifier, numShards uint32, maxGasPerChunk uint64, maxBlockSize int) *Validator {
	return &Validator{
		verifier:       verifier,
		numShards:      numShards,
		maxGasPerChunk: maxGasPerChunk,
		maxBlockSize:   maxBlockSize,
	}
}

// ValidateBlock checks a block header against its parent and the epoch that
// governs its height. parent is nil only for genesis. Checks run in order:
// proposer signature, height monotonicity, epoch consistency, chunk count
// and declared limits. A nil return means the block may proceed to state
// transition; a *MalformedError return is final for this block.
func (v *Validator) ValidateBlock(blk *block.Block, parent *block.Header, ep *epoch.Info) error {
	hdr := blk.Header
	if hdr == nil {
		return Malformed("nil header")
	}

	// Signature first: everything after it trusts the proposer identity.
	expectedProposer := ep.BlockProducer(hdr.Height)
	if expectedProposer == nil {
		return Malformed("epoch %s has no producer schedule", ep.ID)
	}
	if !bytes.Equal(hdr.ProposerID, expectedProposer) {
		return Malformed("wrong proposer for height %d", hdr.Height)
	}
	hash := hdr.Hash()
	if !v.verifier.Verify(hash[:], hdr.ProposerSig, hdr.ProposerID) {
		return Malformed("invalid proposer signature")
	}

	if parent == nil {
		if !blk.IsGenesis() {
			return ErrUnknownParent
		}
	} else {
		if hdr.Height != parent.Height+1 {
			return Malformed("height %d does not follow parent height %d", hdr.Height, parent.Height)
		}
		if hdr.PrevHash != parent.Hash() {
			return Malformed("declared parent %s does not match resolved parent %s",
				hdr.PrevHash.Short(), parent.Hash().Short())
		}
		if hdr.Timestamp < parent.Timestamp {
			return Malformed("timestamp %d before parent timestamp %d", hdr.Timestamp, parent.Timestamp)
		}
	}

	// Epoch consistency: the block must name the epoch that covers its height.
	if !ep.Covers(hdr.Height) {
		return Malformed("epoch %s does not cover height %d", ep.ID, hdr.Height)
	}
	if hdr.EpochID != ep.ID {
		return Malformed("declared epoch %s, schedule says %s", hdr.EpochID, ep.ID)
	}

	// Structure: one chunk header per shard, chunk root, gas/size bounds.
	if err := blk.ValidateStructure(v.numShards, v.maxGasPerChunk, v.maxBlockSize); err != nil {
		return MalformedWrap(err, "structure")
	}

	// Each chunk header must be signed by its scheduled producer.
	for _, ch := range blk.ChunkHeaders {
		if err := v.ValidateChunkHeader(ch, ep); err != nil {
			return err
		}
	}

	return nil
}

// ValidateChunkHeader checks one chunk header's producer and signature
// against the epoch's shard assignment.
func (v *Validator) ValidateChunkHeader(ch *block.ChunkHeader, ep *epoch.Info) error {
	expected := ep.ChunkProducer(ch.ShardID, ch.Height)
	if expected == nil {
		return Malformed("epoch %s has no producer for shard %d", ep.ID, ch.ShardID)
	}
	if !bytes.Equal(ch.ProducerID, expected) {
		return Malformed("wrong chunk producer for shard %d at height %d", ch.ShardID, ch.Height)
	}
	hash := ch.Hash()
	if !v.verifier.Verify(hash[:], ch.ProducerSig, ch.ProducerID) {
		return Malformed("invalid chunk producer signature on shard %d", ch.ShardID)
	}
	if v.maxGasPerChunk > 0 && ch.GasLimit > v.maxGasPerChunk {
		return Malformed("shard %d gas limit %d exceeds protocol bound %d", ch.ShardID, ch.GasLimit, v.maxGasPerChunk)
	}
	return nil
}

// ValidateApproval checks an approval's signature and that the validator
// belongs to the epoch. Returns the approving validator's weight.
func (v *Validator) ValidateApproval(a *block.Approval, ep *epoch.Info) (uint64, error) {
	val, ok := ep.ValidatorByKey(a.ValidatorID)
	if !ok {
		return 0, Malformed("approval from validator outside epoch %s", ep.ID)
	}
	if !a.VerifySig(v.verifier) {
		return 0, Malformed("invalid approval signature")
	}
	return val.Weight, nil
}
