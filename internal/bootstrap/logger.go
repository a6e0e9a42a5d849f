package bootstrap

import (
	"signal_relay/internal/config"
	"signal_relay/internal/core"
	"signal_relay/pkg/logging"
)

// InitLogger builds the process logger at the configured level, tagged with
// the service name so both binaries can share one log stream.
func InitLogger(cfg *config.Config, serviceName string) (core.ILogger, error) {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, err
	}
	return logger.WithField("service", serviceName), nil
}
