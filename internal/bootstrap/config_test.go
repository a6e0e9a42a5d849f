package bootstrap

import (
	"strings"
	"testing"

	"signal_relay/internal/config"
)

func TestPreFlightSQLiteDirMustExist(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = "/does/not/exist/queue.db"

	err := checkPreFlight(cfg)
	if err == nil || !strings.Contains(err.Error(), "store.dsn directory not found") {
		t.Fatalf("expected missing directory error, got %v", err)
	}
}

func TestPreFlightSQLiteRelativeDSNPasses(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = "queue.db"

	if err := checkPreFlight(cfg); err != nil {
		t.Fatalf("relative dsn should pass: %v", err)
	}
}

func TestPreFlightSQLiteTempDirPasses(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = t.TempDir() + "/queue.db"

	if err := checkPreFlight(cfg); err != nil {
		t.Fatalf("existing directory should pass: %v", err)
	}
}

func TestPreFlightLiveFeedNeedsOrigins(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LiveFeed.Enabled = true
	cfg.LiveFeed.AllowedOrigins = nil

	err := checkPreFlight(cfg)
	if err == nil || !strings.Contains(err.Error(), "allowed origin") {
		t.Fatalf("expected origin error, got %v", err)
	}

	cfg.LiveFeed.AllowedOrigins = []string{"http://localhost:3000"}
	if err := checkPreFlight(cfg); err != nil {
		t.Fatalf("whitelisted feed should pass: %v", err)
	}
}
