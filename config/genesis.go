package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Genesis describes the protocol rules and initial state of a network.
// Every field here is consensus-critical: all nodes must load an identical
// genesis or they will diverge.
type Genesis struct {
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Timestamp uint64 `json:"timestamp"`

	Protocol ProtocolConfig `json:"protocol"`

	// Validators lists the epoch-0 validator set as hex-encoded compressed
	// public keys with their voting weight.
	Validators []GenesisValidator `json:"validators"`

	// ShardStateRoots optionally pins non-empty initial state roots per
	// shard (hex). Empty means the zero root for every shard.
	ShardStateRoots []string `json:"shard_state_roots,omitempty"`
}

// GenesisValidator is one entry of the epoch-0 validator set.
type GenesisValidator struct {
	PubKey string `json:"pubkey"` // 33-byte compressed key, hex.
	Weight uint64 `json:"weight"`
}

// ProtocolConfig holds immutable protocol rules.
type ProtocolConfig struct {
	NumShards      uint32 `json:"num_shards"`
	EpochLength    uint64 `json:"epoch_length"`    // Heights per epoch.
	MaxGasPerChunk uint64 `json:"max_gas_per_chunk"`
	MaxBlockSize   int    `json:"max_block_size"` // Bytes, header + chunk headers.

	// Finality threshold as a fraction of total validator weight.
	// A block finalizes when it and its child each collect strictly more
	// than FinalityNum/FinalityDen of the weight.
	FinalityNum uint64 `json:"finality_num"`
	FinalityDen uint64 `json:"finality_den"`
}

// LoadGenesis reads and validates a genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var gen Genesis
	if err := json.Unmarshal(data, &gen); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	if err := gen.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}
	return &gen, nil
}

// Save writes the genesis to a file with stable formatting.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal genesis: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write genesis: %w", err)
	}
	return nil
}

// Validate checks genesis consistency.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if g.Timestamp == 0 {
		return fmt.Errorf("timestamp is required")
	}
	p := &g.Protocol
	if p.NumShards == 0 {
		return fmt.Errorf("num_shards must be at least 1")
	}
	if p.EpochLength == 0 {
		return fmt.Errorf("epoch_length must be at least 1")
	}
	if p.FinalityDen == 0 || p.FinalityNum == 0 || p.FinalityNum >= p.FinalityDen {
		return fmt.Errorf("finality threshold must be a proper fraction, got %d/%d", p.FinalityNum, p.FinalityDen)
	}
	if len(g.Validators) == 0 {
		return fmt.Errorf("at least one validator is required")
	}
	seen := make(map[string]bool, len(g.Validators))
	for i, v := range g.Validators {
		if len(v.PubKey) != 66 {
			return fmt.Errorf("validator %d: pubkey must be 33 bytes hex (66 chars), got %d chars", i, len(v.PubKey))
		}
		if v.Weight == 0 {
			return fmt.Errorf("validator %d: weight must be positive", i)
		}
		if seen[v.PubKey] {
			return fmt.Errorf("validator %d: duplicate pubkey", i)
		}
		seen[v.PubKey] = true
	}
	if len(g.ShardStateRoots) != 0 && uint32(len(g.ShardStateRoots)) != p.NumShards {
		return fmt.Errorf("shard_state_roots must have %d entries, got %d", p.NumShards, len(g.ShardStateRoots))
	}
	return nil
}
