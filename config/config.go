// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: Defined in genesis, immutable, must match across all nodes
//   - Node settings: Runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	// Core
	Network NetworkType `json:"network"`
	DataDir string      `json:"datadir"`

	// Validator (operational: whether this node signs approvals)
	Validator ValidatorConfig `json:"validator"`

	// Chunk fetching
	Fetch FetchConfig `json:"fetch"`

	// Orphan pool bounds
	Orphans OrphanConfig `json:"orphans"`

	// Shard execution worker pool
	Workers int `json:"workers"`

	// Garbage collection
	GC GCConfig `json:"gc"`

	// Logging
	Log LogConfig `json:"log"`
}

// ValidatorConfig holds validator settings.
// Note: Whether to approve is a node choice; HOW to validate is protocol.
type ValidatorConfig struct {
	Enabled bool   `json:"enabled"`
	KeyFile string `json:"key_file"` // Path to the 32-byte validator secret.
}

// FetchConfig holds chunk fetch coordinator settings.
type FetchConfig struct {
	Timeout    time.Duration `json:"timeout"`     // Per-request timeout before re-issuing.
	MaxRetries int           `json:"max_retries"` // Attempts before a block is marked stalled.
}

// OrphanConfig bounds the orphan pool so adversarial spam cannot exhaust memory.
type OrphanConfig struct {
	MaxBlocks    int    `json:"max_blocks"`     // Total orphans held.
	MaxPerSender int    `json:"max_per_sender"` // Orphans held per submitting peer.
	ExpiryHeights uint64 `json:"expiry_heights"` // Evict orphans this many heights behind the tip.
}

// GCConfig holds garbage collection settings.
type GCConfig struct {
	RetentionWindow uint64 `json:"retention_window"` // Heights kept below the finalized head.
	BatchSize       int    `json:"batch_size"`       // Max heights pruned per sweep.
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
	JSON  bool   `json:"json"`
}

// DefaultDataDir returns the platform-specific default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".meridian"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Meridian")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Meridian")
	default:
		return filepath.Join(home, ".meridian")
	}
}
