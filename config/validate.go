package config

import "fmt"

// Validate checks node configuration for obviously broken settings.
func (c *Config) Validate() error {
	if c.Network != Mainnet && c.Network != Testnet {
		return fmt.Errorf("unknown network %q", c.Network)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive")
	}
	if c.Fetch.MaxRetries < 1 {
		return fmt.Errorf("fetch.max_retries must be at least 1")
	}
	if c.Orphans.MaxBlocks < 1 {
		return fmt.Errorf("orphans.max_blocks must be at least 1")
	}
	if c.Orphans.MaxPerSender < 1 || c.Orphans.MaxPerSender > c.Orphans.MaxBlocks {
		return fmt.Errorf("orphans.max_per_sender must be in 1..%d", c.Orphans.MaxBlocks)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.GC.RetentionWindow == 0 {
		return fmt.Errorf("gc.retention_window must be positive")
	}
	if c.GC.BatchSize < 1 {
		return fmt.Errorf("gc.batch_size must be at least 1")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}
