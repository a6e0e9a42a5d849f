package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"signal_relay/internal/config"
)

// LoadConfig delegates to the config loader and layers process-level
// pre-flight checks on top of schema validation.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight catches deployment mistakes that pass schema validation but
// would only surface minutes after boot.
func checkPreFlight(cfg *config.Config) error {
	// A sqlite store whose parent directory is missing fails on the first
	// write, not at open.
	if cfg.Store.Driver == "sqlite" {
		dir := filepath.Dir(cfg.Store.DSN)
		if dir != "." && dir != "" {
			info, err := os.Stat(dir)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("store.dsn directory not found: %s", dir)
				}
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("store.dsn parent is not a directory: %s", dir)
			}
		}
	}

	// An enabled feed with an empty whitelist rejects every browser client.
	if cfg.LiveFeed.Enabled && len(cfg.LiveFeed.AllowedOrigins) == 0 {
		return fmt.Errorf("live_feed.enabled requires at least one allowed origin")
	}

	return nil
}
