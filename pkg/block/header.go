package block

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/meridian-network/meridian-chain/pkg/crypto"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// Header contains block metadata. A block commits to its per-shard chunk
// headers through ChunkRoot, so the header hash covers the whole block body.
type Header struct {
	Version     uint32        `json:"version"`
	PrevHash    types.Hash    `json:"prev_hash"`
	Height      uint64        `json:"height"`
	EpochID     types.EpochID `json:"epoch_id"`
	ChunkRoot   types.Hash    `json:"chunk_root"`
	Timestamp   uint64        `json:"timestamp"`
	ProposerID  []byte        `json:"proposer_id"`
	ProposerSig []byte        `json:"proposer_sig,omitempty"`
}

// headerJSON is the JSON representation of Header with hex-encoded key material.
type headerJSON struct {
	Version     uint32        `json:"version"`
	PrevHash    types.Hash    `json:"prev_hash"`
	Height      uint64        `json:"height"`
	EpochID     types.EpochID `json:"epoch_id"`
	ChunkRoot   types.Hash    `json:"chunk_root"`
	Timestamp   uint64        `json:"timestamp"`
	ProposerID  string        `json:"proposer_id"`
	ProposerSig string        `json:"proposer_sig,omitempty"`
}

// MarshalJSON encodes the header with hex-encoded proposer key and signature.
func (h *Header) MarshalJSON() ([]byte, error) {
	j := headerJSON{
		Version:    h.Version,
		PrevHash:   h.PrevHash,
		Height:     h.Height,
		EpochID:    h.EpochID,
		ChunkRoot:  h.ChunkRoot,
		Timestamp:  h.Timestamp,
		ProposerID: hex.EncodeToString(h.ProposerID),
	}
	if h.ProposerSig != nil {
		j.ProposerSig = hex.EncodeToString(h.ProposerSig)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a header with hex-encoded proposer key and signature.
func (h *Header) UnmarshalJSON(data []byte) error {
	var j headerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	h.Version = j.Version
	h.PrevHash = j.PrevHash
	h.Height = j.Height
	h.EpochID = j.EpochID
	h.ChunkRoot = j.ChunkRoot
	h.Timestamp = j.Timestamp
	if j.ProposerID != "" {
		b, err := hex.DecodeString(j.ProposerID)
		if err != nil {
			return err
		}
		h.ProposerID = b
	}
	if j.ProposerSig != "" {
		b, err := hex.DecodeString(j.ProposerSig)
		if err != nil {
			return err
		}
		h.ProposerSig = b
	}
	return nil
}

// Hash computes the block header hash.
// Excludes ProposerSig so the hash is stable for signing.
func (h *Header) Hash() types.Hash {
	return crypto.Hash(h.SigningBytes())
}

// SigningBytes returns the canonical bytes for hashing/signing.
// Format: version(4) | prev_hash(32) | height(8) | epoch_id(32) |
// chunk_root(32) | timestamp(8) | proposer_id(33)
func (h *Header) SigningBytes() []byte {
	buf := make([]byte, 0, 160)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	buf = append(buf, h.EpochID[:]...)
	buf = append(buf, h.ChunkRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = append(buf, h.ProposerID...)
	return buf
}

// Sign fills in ProposerSig over the header's signing bytes.
func (h *Header) Sign(signer crypto.Signer) error {
	hash := h.Hash()
	sig, err := signer.Sign(hash[:])
	if err != nil {
		return err
	}
	h.ProposerSig = sig
	return nil
}
