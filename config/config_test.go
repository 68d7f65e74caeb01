package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	for _, net := range []NetworkType{Mainnet, Testnet} {
		cfg := Default(net)
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s defaults invalid: %v", net, err)
		}
		if cfg.Network != net {
			t.Errorf("network %q", cfg.Network)
		}
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"), Testnet)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Fetch.Timeout != 5*time.Second || cfg.Workers != 4 {
		t.Error("missing file should yield defaults")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"network":"testnet","workers":8,"gc":{"retention_window":50,"batch_size":16}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, Testnet)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 8 || cfg.GC.RetentionWindow != 50 {
		t.Errorf("overrides not applied: workers=%d retention=%d", cfg.Workers, cfg.GC.RetentionWindow)
	}
	// Untouched fields keep their defaults.
	if cfg.Orphans.MaxBlocks != 256 {
		t.Errorf("orphans.max_blocks %d", cfg.Orphans.MaxBlocks)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"workers":0}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, Testnet); err == nil {
		t.Error("zero workers must be rejected")
	}
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad network", func(c *Config) { c.Network = "devnet" }},
		{"zero fetch timeout", func(c *Config) { c.Fetch.Timeout = 0 }},
		{"zero retries", func(c *Config) { c.Fetch.MaxRetries = 0 }},
		{"zero orphan cap", func(c *Config) { c.Orphans.MaxBlocks = 0 }},
		{"sender quota above cap", func(c *Config) { c.Orphans.MaxPerSender = c.Orphans.MaxBlocks + 1 }},
		{"zero retention", func(c *Config) { c.GC.RetentionWindow = 0 }},
		{"zero gc batch", func(c *Config) { c.GC.BatchSize = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default(Testnet)
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := Default(Mainnet)
	cfg.Workers = 12
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path, Mainnet)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Workers != 12 {
		t.Errorf("workers %d", loaded.Workers)
	}
}

func validGenesis() *Genesis {
	return &Genesis{
		ChainID:   "meridian-test",
		ChainName: "Meridian Test",
		Timestamp: 1700000000,
		Protocol: ProtocolConfig{
			NumShards:      2,
			EpochLength:    100,
			MaxGasPerChunk: 1_000_000,
			MaxBlockSize:   1 << 20,
			FinalityNum:    2,
			FinalityDen:    3,
		},
		Validators: []GenesisValidator{
			{PubKey: strings.Repeat("ab", 33), Weight: 10},
			{PubKey: strings.Repeat("cd", 33), Weight: 20},
		},
	}
}

func TestGenesisValidate(t *testing.T) {
	if err := validGenesis().Validate(); err != nil {
		t.Fatalf("valid genesis rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Genesis)
	}{
		{"missing chain id", func(g *Genesis) { g.ChainID = "" }},
		{"zero timestamp", func(g *Genesis) { g.Timestamp = 0 }},
		{"zero shards", func(g *Genesis) { g.Protocol.NumShards = 0 }},
		{"zero epoch length", func(g *Genesis) { g.Protocol.EpochLength = 0 }},
		{"improper fraction", func(g *Genesis) { g.Protocol.FinalityNum = 3; g.Protocol.FinalityDen = 3 }},
		{"no validators", func(g *Genesis) { g.Validators = nil }},
		{"short pubkey", func(g *Genesis) { g.Validators[0].PubKey = "abcd" }},
		{"zero weight", func(g *Genesis) { g.Validators[0].Weight = 0 }},
		{"duplicate pubkey", func(g *Genesis) { g.Validators[1].PubKey = g.Validators[0].PubKey }},
		{"root count mismatch", func(g *Genesis) { g.ShardStateRoots = []string{"00"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := validGenesis()
			tc.mutate(g)
			if err := g.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadGenesisRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	g := validGenesis()
	if err := g.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadGenesis(path)
	if err != nil {
		t.Fatalf("LoadGenesis: %v", err)
	}
	if loaded.ChainID != g.ChainID || loaded.Protocol.NumShards != 2 {
		t.Error("genesis round trip lost fields")
	}
	if len(loaded.Validators) != 2 || loaded.Validators[1].Weight != 20 {
		t.Error("validator set round trip lost fields")
	}
}
