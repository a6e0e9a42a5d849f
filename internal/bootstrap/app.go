// Package bootstrap assembles the shared process skeleton: configuration,
// environment, logging, telemetry and a signal-aware run loop. Every binary
// builds its wiring on top of an App.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"signal_relay/internal/config"
	"signal_relay/internal/core"
	"signal_relay/pkg/telemetry"
)

// shutdownTimeout bounds the telemetry flush after the runners stop.
const shutdownTimeout = 10 * time.Second

// App holds the dependencies every process starts from.
type App struct {
	Cfg       *config.Config
	Env       *config.Env
	Logger    core.ILogger
	Telemetry *telemetry.Telemetry
}

// NewApp loads the YAML config and the process environment, then brings up
// the logger and the telemetry pipeline for the named service. Telemetry
// failures are downgraded to a warning; a dead exporter must not keep the
// trading path from starting.
func NewApp(configPath, serviceName string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := InitLogger(cfg, serviceName)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	tel, err := telemetry.Setup(serviceName)
	if err != nil {
		logger.Warn("telemetry setup failed, continuing without exporters", "error", err)
		tel = nil
	}

	return &App{
		Cfg:       cfg,
		Env:       config.LoadEnv(),
		Logger:    logger,
		Telemetry: tel,
	}, nil
}

// Runner is a long-running component driven by the app lifecycle.
type Runner interface {
	Run(ctx context.Context) error
}

// RunFunc adapts a bare function to the Runner interface.
type RunFunc func(ctx context.Context) error

func (f RunFunc) Run(ctx context.Context) error { return f(ctx) }

// Run drives all runners until one of them fails or the process receives
// SIGINT or SIGTERM, then flushes telemetry. The first runner error cancels
// the shared context, so every component sees the same shutdown signal.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error { return r.Run(ctx) })
	}

	a.Logger.Info("process started", "runners", len(runners))
	err := g.Wait()

	if a.Telemetry != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if terr := a.Telemetry.Shutdown(flushCtx); terr != nil {
			a.Logger.Warn("telemetry shutdown failed", "error", terr)
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("process stopped with error", "error", err)
		return err
	}
	a.Logger.Info("process shut down cleanly")
	return nil
}
