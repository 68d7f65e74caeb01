package block

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/meridian-network/meridian-chain/pkg/crypto"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// Approval is a validator's endorsement of one block at one height. Two
// consecutive heights of supermajority approvals finalize the earlier block.
type Approval struct {
	ValidatorID []byte     `json:"validator_id"`
	BlockHash   types.Hash `json:"block_hash"`
	Height      uint64     `json:"height"`
	Sig         []byte     `json:"sig,omitempty"`
}

type approvalJSON struct {
	ValidatorID string     `json:"validator_id"`
	BlockHash   types.Hash `json:"block_hash"`
	Height      uint64     `json:"height"`
	Sig         string     `json:"sig,omitempty"`
}

// MarshalJSON encodes the approval with hex-encoded key material.
func (a *Approval) MarshalJSON() ([]byte, error) {
	j := approvalJSON{
		ValidatorID: hex.EncodeToString(a.ValidatorID),
		BlockHash:   a.BlockHash,
		Height:      a.Height,
	}
	if a.Sig != nil {
		j.Sig = hex.EncodeToString(a.Sig)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an approval with hex-encoded key material.
func (a *Approval) UnmarshalJSON(data []byte) error {
	var j approvalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	a.BlockHash = j.BlockHash
	a.Height = j.Height
	if j.ValidatorID != "" {
		b, err := hex.DecodeString(j.ValidatorID)
		if err != nil {
			return err
		}
		a.ValidatorID = b
	}
	if j.Sig != "" {
		b, err := hex.DecodeString(j.Sig)
		if err != nil {
			return err
		}
		a.Sig = b
	}
	return nil
}

// SigningBytes returns the canonical bytes signed by the validator.
// Format: block_hash(32) | height(8) | validator_id(33)
func (a *Approval) SigningBytes() []byte {
	buf := make([]byte, 0, 80)
	buf = append(buf, a.BlockHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, a.Height)
	buf = append(buf, a.ValidatorID...)
	return buf
}

// SigningHash hashes the approval's signing bytes.
func (a *Approval) SigningHash() types.Hash {
	return crypto.Hash(a.SigningBytes())
}

// Sign fills in Sig over the approval's signing bytes.
func (a *Approval) Sign(signer crypto.Signer) error {
	hash := a.SigningHash()
	sig, err := signer.Sign(hash[:])
	if err != nil {
		return err
	}
	a.Sig = sig
	return nil
}

// VerifySig checks the approval signature against its validator key.
func (a *Approval) VerifySig(verifier crypto.Verifier) bool {
	hash := a.SigningHash()
	return verifier.Verify(hash[:], a.Sig, a.ValidatorID)
}
