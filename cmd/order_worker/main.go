// The order worker drains the signal queue: risk gating, position sizing,
// bracket construction and broker submission all happen here, off the
// webhook hot path. It also hosts the kick endpoint, the health surface,
// the live status feed and the daily report scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"signal_relay/internal/alert"
	"signal_relay/internal/bootstrap"
	"signal_relay/internal/broker"
	"signal_relay/internal/config"
	"signal_relay/internal/core"
	"signal_relay/internal/infrastructure/health"
	"signal_relay/internal/infrastructure/metrics"
	"signal_relay/internal/market"
	"signal_relay/internal/report"
	"signal_relay/internal/risk"
	"signal_relay/internal/sizing"
	"signal_relay/internal/store"
	"signal_relay/internal/worker"
	"signal_relay/pkg/livefeed"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/signal_relay.yaml", "Path to configuration file")
	port := flag.Int("port", 0, "Listen port (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("order_worker version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// .env is a local convenience; deployments set the environment directly.
	_ = godotenv.Load()

	app, err := bootstrap.NewApp(*configPath, "order_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		app.Cfg.Worker.Port = *port
	}

	if err := app.Env.ValidateWorker(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid environment: %v\n", err)
		os.Exit(1)
	}

	logger := app.Logger
	logger.Info("Starting order_worker",
		"version", version,
		"port", app.Cfg.Worker.Port,
		"store", app.Cfg.Store.Driver,
		"trading_mode", app.Env.TradingMode,
		"risk_guard_disabled", app.Env.RiskGuardDisabled,
	)

	queue, err := store.New(app.Cfg.Store, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer queue.Close()

	resolver := config.NewCredentialResolver(app.Env)
	brokers := broker.NewRegistry(resolver, app.Cfg.Broker, logger)
	clock := market.RealClock{}

	accounts := risk.NewAccountCache(time.Duration(app.Cfg.Broker.EquityTTLSec) * time.Second)
	guard := risk.NewGuard(queue, brokers, accounts, clock, app.Env.RiskGuardDisabled, logger)
	sizer := sizing.NewSizer(accounts, logger)
	alerts, discord := buildAlerts(app.Cfg.Alerts, logger)

	var feed *livefeed.Feed
	if app.Cfg.LiveFeed.Enabled {
		feed = livefeed.New(livefeed.Options{
			AllowedOrigins: app.Cfg.LiveFeed.AllowedOrigins,
			MaxConnections: app.Cfg.LiveFeed.MaxConnections,
			RatePerSec:     app.Cfg.LiveFeed.RatePerSec,
			RateBurst:      app.Cfg.LiveFeed.RateBurst,
			Production:     app.Env.TradingMode == "live",
		}, logger)
	}

	workerDeps := worker.Deps{
		Cfg:     app.Cfg.Worker,
		Env:     app.Env,
		Store:   queue,
		Brokers: brokers,
		Guard:   guard,
		Sizer:   sizer,
		Clock:   clock,
		Alerts:  alerts,
		Legacy:  worker.NewLegacyRunner(queue, brokers, logger),
		Logger:  logger,
	}
	if feed != nil {
		workerDeps.Events = feed
	}
	w := worker.NewWorker(workerDeps)

	healthMgr := health.NewManager(logger)
	healthMgr.Register("store", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return queue.Ping(ctx)
	})
	healthMgr.Register("broker_credentials", func() error {
		_, err := brokers.Client("default")
		return err
	})

	serverDeps := worker.ServerDeps{
		Env:    app.Env,
		Worker: w,
		Health: healthMgr,
		Logger: logger,
	}
	if feed != nil {
		serverDeps.Feed = feed
	}
	srv := worker.NewServer(fmt.Sprintf(":%d", app.Cfg.Worker.Port), serverDeps)

	runners := []bootstrap.Runner{
		srv,
		bootstrap.RunFunc(func(ctx context.Context) error {
			w.Run(ctx)
			return nil
		}),
	}

	if sweeper := worker.NewSweeper(queue, clock, app.Cfg.Worker.SweepAfterSec, app.Cfg.Worker.SweepBatch, logger); sweeper != nil {
		runners = append(runners, bootstrap.RunFunc(func(ctx context.Context) error {
			sweeper.Run(ctx)
			return nil
		}))
	}

	if app.Cfg.Telemetry.EnableMetrics {
		runners = append(runners, metrics.NewServer(app.Cfg.Telemetry.MetricsPort, logger))
	}

	if feed != nil {
		runners = append(runners,
			bootstrap.RunFunc(func(ctx context.Context) error {
				feed.Run(ctx)
				return nil
			}),
			bootstrap.RunFunc(func(ctx context.Context) error {
				feed.RunStats(ctx, queue, 0)
				return nil
			}),
		)
	}

	if app.Env.EnableDailyReport {
		if discord == nil {
			logger.Warn("daily report enabled but no discord webhook configured, scheduler skipped")
		} else {
			reporterDeps := report.Deps{
				Brokers: brokers,
				Store:   queue,
				Poster:  discord,
				Clock:   clock,
				Aliases: app.Env.ReportAliases,
				Logger:  logger,
			}
			if feed != nil {
				reporterDeps.Events = feed
			}
			sched, err := report.NewScheduler(app.Cfg.Report.Schedule, report.NewReporter(reporterDeps), alerts, logger)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid report schedule %q: %v\n", app.Cfg.Report.Schedule, err)
				os.Exit(1)
			}
			runners = append(runners, sched)
		}
	}

	if err := app.Run(runners...); err != nil {
		os.Exit(1)
	}
}

// buildAlerts assembles the notification fan-out from the configured
// channels. The discord channel is returned separately because the daily
// report posts raw embeds through it.
func buildAlerts(cfg config.AlertsConfig, logger core.ILogger) (*alert.AlertManager, *alert.DiscordChannel) {
	manager := alert.NewAlertManager(logger)

	var discord *alert.DiscordChannel
	if url := string(cfg.DiscordWebhookURL); url != "" {
		discord = alert.NewDiscordChannel(url, string(cfg.DiscordStudyWebhookURL))
		manager.AddChannel(discord)
	}
	if token := string(cfg.TelegramBotToken); token != "" && cfg.TelegramChatID != "" {
		manager.AddChannel(alert.NewTelegramChannel(token, cfg.TelegramChatID))
	}
	return manager, discord
}
