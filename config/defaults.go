package config

import "time"

// Default returns a Config populated with sane defaults for the given network.
func Default(network NetworkType) *Config {
	return &Config{
		Network: network,
		DataDir: DefaultDataDir(),
		Fetch: FetchConfig{
			Timeout:    5 * time.Second,
			MaxRetries: 3,
		},
		Orphans: OrphanConfig{
			MaxBlocks:     256,
			MaxPerSender:  16,
			ExpiryHeights: 100,
		},
		Workers: 4,
		GC: GCConfig{
			RetentionWindow: 500,
			BatchSize:       64,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
