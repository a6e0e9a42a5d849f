// daily_report renders yesterday-to-now account and queue numbers into a
// Discord embed and exits. Deployments that prefer an external cron over the
// in-process scheduler run this binary from crontab.
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
	"signal_relay/internal/market"
	"signal_relay/internal/report"
	"signal_relay/internal/store"
)

// runTimeout bounds the whole run; the per-call broker and store timeouts
// live in the reporter.
const runTimeout = 2 * time.Minute

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/signal_relay.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("daily_report version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// .env is a local convenience; deployments set the environment directly.
	_ = godotenv.Load()

	app, err := bootstrap.NewApp(*configPath, "daily_report")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}

	if err := run(app); err != nil {
		fmt.Fprintf(os.Stderr, "Daily report failed: %v\n", err)
		os.Exit(1)
	}
}

func run(app *bootstrap.App) error {
	logger := app.Logger

	webhook := string(app.Cfg.Alerts.DiscordWebhookURL)
	if webhook == "" {
		return fmt.Errorf("alerts.discord_webhook_url is not configured")
	}

	// Queue health is best effort; a report without it is still a report.
	var queue core.QueueStore
	if q, err := store.New(app.Cfg.Store, logger); err != nil {
		logger.Warn("store unavailable, queue health section skipped", "error", err)
	} else {
		queue = q
		defer queue.Close()
	}

	resolver := config.NewCredentialResolver(app.Env)
	brokers := broker.NewRegistry(resolver, app.Cfg.Broker, logger)

	reporter := report.NewReporter(report.Deps{
		Brokers: brokers,
		Store:   queue,
		Poster:  alert.NewDiscordChannel(webhook, ""),
		Clock:   market.RealClock{},
		Aliases: app.Env.ReportAliases,
		Logger:  logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	return reporter.Run(ctx)
}
