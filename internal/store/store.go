// Package store implements the durable queue contract on sqlite, with an
// in-memory variant for tests and ephemeral deployments. Claiming a job is a
// single conditional update, so any number of workers can share one store
// without further coordination.
package store

import (
	"fmt"

	"signal_relay/internal/config"
	"signal_relay/internal/core"
)

// New builds the store selected by the configuration.
func New(cfg config.StoreConfig, logger core.ILogger) (core.QueueStore, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		return NewSQLiteStore(cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
