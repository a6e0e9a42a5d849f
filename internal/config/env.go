package config

import (
	"fmt"
	"os"
	"strings"
)

// Environment variable names. These are operational levers that work without
// any config file; deployments set them directly on the process.
const (
	EnvPassphraseV2      = "WEBHOOK_PASSPHRASE_V2"
	EnvPassphraseV1      = "WEBHOOK_PASSPHRASE"
	EnvHeaderTokenV2     = "WEBHOOK_HEADER_TOKEN_V2"
	EnvPathToken         = "WEBHOOK_PATH_TOKEN"
	EnvWorkerURL         = "WORKER_URL"
	EnvWorkerSecret      = "WORKER_SECRET"
	EnvTradingMode       = "TRADING_MODE"
	EnvRiskGuardDisabled = "RISK_GUARD_DISABLED"
	EnvEnableDailyReport = "ENABLE_DAILY_REPORT"
	EnvReportAliases     = "REPORT_ALIASES"
)

const minPassphraseLen = 16

// Env is the process environment snapshot taken at boot.
type Env struct {
	PassphraseV2      Secret
	PassphraseV1      Secret
	HeaderTokenV2     Secret
	PathToken         string
	WorkerURL         string
	WorkerSecret      Secret
	TradingMode       string
	RiskGuardDisabled bool
	EnableDailyReport bool
	ReportAliases     []string
}

// LoadEnv reads the operational environment.
func LoadEnv() *Env {
	return &Env{
		PassphraseV2:      Secret(os.Getenv(EnvPassphraseV2)),
		PassphraseV1:      Secret(os.Getenv(EnvPassphraseV1)),
		HeaderTokenV2:     Secret(os.Getenv(EnvHeaderTokenV2)),
		PathToken:         strings.Trim(os.Getenv(EnvPathToken), "/"),
		WorkerURL:         strings.TrimRight(os.Getenv(EnvWorkerURL), "/"),
		WorkerSecret:      Secret(os.Getenv(EnvWorkerSecret)),
		TradingMode:       strings.ToLower(strings.TrimSpace(os.Getenv(EnvTradingMode))),
		RiskGuardDisabled: ParseBool(os.Getenv(EnvRiskGuardDisabled), false),
		EnableDailyReport: ParseBool(os.Getenv(EnvEnableDailyReport), false),
		ReportAliases:     splitAliases(os.Getenv(EnvReportAliases)),
	}
}

// ValidateIngress enforces the webhook server's boot requirements.
func (e *Env) ValidateIngress() error {
	if len(e.PassphraseV2) < minPassphraseLen {
		return ValidationError{
			Field:   EnvPassphraseV2,
			Message: fmt.Sprintf("required, minimum %d characters", minPassphraseLen),
		}
	}
	if e.TradingMode != "" && e.TradingMode != "paper" && e.TradingMode != "live" {
		return ValidationError{
			Field:   EnvTradingMode,
			Value:   e.TradingMode,
			Message: "must be 'paper' or 'live' when set",
		}
	}
	return nil
}

// ValidateWorker enforces the worker's boot requirements.
func (e *Env) ValidateWorker() error {
	if e.TradingMode != "" && e.TradingMode != "paper" && e.TradingMode != "live" {
		return ValidationError{
			Field:   EnvTradingMode,
			Value:   e.TradingMode,
			Message: "must be 'paper' or 'live' when set",
		}
	}
	return nil
}

// MissingEnvHints lists important variables that are unset, for the health
// endpoint's env_missing_hint field.
func (e *Env) MissingEnvHints() []string {
	hints := []string{}
	if e.PassphraseV2 == "" {
		hints = append(hints, EnvPassphraseV2)
	}
	if e.WorkerURL == "" {
		hints = append(hints, EnvWorkerURL)
	}
	if e.WorkerSecret == "" {
		hints = append(hints, EnvWorkerSecret)
	}
	if lookupAliasEnv(keyIDLadder, "default") == "" {
		hints = append(hints, "ALPACA_KEY_ID")
	}
	if lookupAliasEnv(secretKeyLadder, "default") == "" {
		hints = append(hints, "ALPACA_SECRET_KEY")
	}
	return hints
}

// ParseBool interprets the usual truthy spellings; anything else returns def.
func ParseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func splitAliases(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{"default"}
	}
	parts := strings.Split(s, ",")
	aliases := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			aliases = append(aliases, trimmed)
		}
	}
	if len(aliases) == 0 {
		return []string{"default"}
	}
	return aliases
}
