package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"signal_relay/pkg/logging"
)

func testApp(t *testing.T) *App {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return &App{Logger: logger}
}

func TestRunPropagatesRunnerError(t *testing.T) {
	app := testApp(t)
	boom := errors.New("listener exploded")

	err := app.Run(RunFunc(func(ctx context.Context) error {
		return boom
	}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected runner error, got %v", err)
	}
}

func TestRunTreatsCanceledAsClean(t *testing.T) {
	app := testApp(t)

	err := app.Run(RunFunc(func(ctx context.Context) error {
		return context.Canceled
	}))
	if err != nil {
		t.Fatalf("canceled runner should shut down cleanly, got %v", err)
	}
}

func TestRunFailureStopsSiblings(t *testing.T) {
	app := testApp(t)
	siblingStopped := make(chan struct{})

	err := app.Run(
		RunFunc(func(ctx context.Context) error {
			<-ctx.Done()
			close(siblingStopped)
			return ctx.Err()
		}),
		RunFunc(func(ctx context.Context) error {
			return errors.New("first failure")
		}),
	)
	if err == nil {
		t.Fatal("expected the first failure to surface")
	}

	select {
	case <-siblingStopped:
	case <-time.After(2 * time.Second):
		t.Fatal("sibling runner was not canceled")
	}
}
