package logging

import (
	"context"
	"testing"
	"time"

	"signal_relay/pkg/telemetry"
)

func TestZapLogger_OTelBridge(t *testing.T) {
	// 1. Setup OTel
	tel, err := telemetry.Setup("test-logger")
	if err != nil {
		t.Fatalf("OTel setup failed: %v", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	// 2. Create Zap Logger
	logger, err := NewZapLogger("DEBUG")
	if err != nil {
		t.Fatalf("Zap logger creation failed: %v", err)
	}

	// 3. Log something
	logger.Info("Test OTel bridging", "key", "value")

	// Wait a bit for OTel batching (if any)
	time.Sleep(500 * time.Millisecond)

	// Since we are using stdoutlog, we just verify it doesn't crash
	// and produces output. In a full test we might capture stdout.
	logger.Debug("Debug message", "status", "testing")

	_ = logger.Sync() // Some writers don't support sync (like stdout in some envs), ignore error
}

func TestZapLogger_FieldConversion(t *testing.T) {
	logger, err := NewZapLogger("INFO")
	if err != nil {
		t.Fatalf("Zap logger creation failed: %v", err)
	}

	// Odd trailing field and non-string keys must not panic.
	logger.Info("odd fields", "key1", "v1", "dangling")
	logger.Warn("non-string key", 42, "v2")

	scoped := logger.WithField("component", "test")
	scoped.Info("scoped entry")

	multi := logger.WithFields(map[string]interface{}{"a": 1, "b": "two"})
	multi.Info("multi-field entry")
}
