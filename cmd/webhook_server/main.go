// The webhook server terminates TradingView alerts: it authenticates,
// deduplicates and persists each signal, then kicks the order worker. It
// never talks to the broker on the hot path.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"signal_relay/internal/alert"
	"signal_relay/internal/bootstrap"
	"signal_relay/internal/broker"
	"signal_relay/internal/config"
	"signal_relay/internal/ingress"
	"signal_relay/internal/market"
	"signal_relay/internal/store"
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
		fmt.Printf("webhook_server version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// .env is a local convenience; deployments set the environment directly.
	_ = godotenv.Load()

	app, err := bootstrap.NewApp(*configPath, "webhook_server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		app.Cfg.Ingress.Port = *port
	}

	if err := app.Env.ValidateIngress(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid environment: %v\n", err)
		for _, hint := range app.Env.MissingEnvHints() {
			fmt.Fprintf(os.Stderr, "  missing: %s\n", hint)
		}
		os.Exit(1)
	}

	logger := app.Logger
	logger.Info("Starting webhook_server",
		"version", version,
		"port", app.Cfg.Ingress.Port,
		"store", app.Cfg.Store.Driver,
		"trading_mode", app.Env.TradingMode,
	)

	queue, err := store.New(app.Cfg.Store, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer queue.Close()

	resolver := config.NewCredentialResolver(app.Env)
	brokers := broker.NewRegistry(resolver, app.Cfg.Broker, logger)

	alerts := alert.NewAlertManager(logger)
	if url := string(app.Cfg.Alerts.DiscordWebhookURL); url != "" {
		alerts.AddChannel(alert.NewDiscordChannel(url, string(app.Cfg.Alerts.DiscordStudyWebhookURL)))
	}
	if token := string(app.Cfg.Alerts.TelegramBotToken); token != "" && app.Cfg.Alerts.TelegramChatID != "" {
		alerts.AddChannel(alert.NewTelegramChannel(token, app.Cfg.Alerts.TelegramChatID))
	}

	srv := ingress.NewServer(fmt.Sprintf(":%d", app.Cfg.Ingress.Port), ingress.Deps{
		Env:     app.Env,
		Store:   queue,
		Brokers: brokers,
		Clock:   market.RealClock{},
		Alerts:  alerts,
		Logger:  logger,
	})

	if err := app.Run(srv); err != nil {
		os.Exit(1)
	}
}
