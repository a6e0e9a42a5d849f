package config

import (
	"fmt"
	"os"
	"strings"
)

// Default broker endpoints.
const (
	PaperBaseURL = "https://paper-api.alpaca.markets"
	LiveBaseURL  = "https://api.alpaca.markets"
)

// Env name ladders, most specific first. For a non-default alias every name
// is first tried with the "__<alias>" suffix, then bare.
var (
	keyIDLadder     = []string{"ALPACA_KEY_ID", "ALPACA_API_KEY", "APCA_API_KEY_ID"}
	secretKeyLadder = []string{"ALPACA_SECRET_KEY", "ALPACA_API_SECRET", "APCA_API_SECRET_KEY"}
	baseURLLadder   = []string{"ALPACA_BASE_URL", "APCA_API_BASE_URL"}
	usePaperLadder  = []string{"USE_PAPER"}
)

// Credentials is a resolved broker identity for one subaccount alias.
type Credentials struct {
	Alias   string
	KeyID   string
	Secret  Secret
	BaseURL string
	Paper   bool
}

// HostIsPaper reports whether the resolved base URL points at the paper
// environment. The worker compares this against TRADING_MODE.
func (c *Credentials) HostIsPaper() bool {
	return strings.Contains(c.BaseURL, "paper-api")
}

// CredentialResolver resolves per-alias broker credentials from the
// environment with the documented precedence: "NAME__<alias>" beats "NAME",
// and within each group the ladder order decides.
type CredentialResolver struct {
	env *Env
}

// NewCredentialResolver creates a resolver bound to the loaded environment.
func NewCredentialResolver(env *Env) *CredentialResolver {
	return &CredentialResolver{env: env}
}

// Resolve returns the credentials for alias. An empty alias means "default".
func (r *CredentialResolver) Resolve(alias string) (*Credentials, error) {
	if alias == "" {
		alias = "default"
	}

	keyID := lookupAliasEnv(keyIDLadder, alias)
	secret := lookupAliasEnv(secretKeyLadder, alias)
	if keyID == "" || secret == "" {
		return nil, ValidationError{
			Field:   fmt.Sprintf("broker credentials (alias=%s)", alias),
			Message: "set ALPACA_KEY_ID and ALPACA_SECRET_KEY (or their __<alias> variants)",
		}
	}

	baseURL := normalizeBaseURL(lookupAliasEnv(baseURLLadder, alias))

	paper := r.resolvePaper(alias, baseURL)
	if baseURL == "" {
		if paper {
			baseURL = PaperBaseURL
		} else {
			baseURL = LiveBaseURL
		}
	}

	return &Credentials{
		Alias:   alias,
		KeyID:   keyID,
		Secret:  Secret(secret),
		BaseURL: baseURL,
		Paper:   paper,
	}, nil
}

func (r *CredentialResolver) resolvePaper(alias, baseURL string) bool {
	switch r.env.TradingMode {
	case "paper":
		return true
	case "live":
		return false
	}
	if baseURL != "" {
		return strings.Contains(baseURL, "paper-api")
	}
	return ParseBool(lookupAliasEnv(usePaperLadder, alias), true)
}

// normalizeBaseURL strips trailing slashes and a trailing /v2 segment, which
// clients pasted from SDK examples tend to carry.
func normalizeBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	base = strings.TrimSuffix(base, "/v2")
	return strings.TrimRight(base, "/")
}

// lookupAliasEnv returns the first non-empty value walking alias-suffixed
// names before bare names.
func lookupAliasEnv(ladder []string, alias string) string {
	if alias != "" && alias != "default" {
		for _, name := range ladder {
			if v := os.Getenv(name + "__" + alias); v != "" {
				return v
			}
		}
	}
	for _, name := range ladder {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
