package broker

import (
	"sync"

	"signal_relay/internal/config"
	"signal_relay/internal/core"
)

// Registry lazily builds and caches one broker client per subaccount alias.
// Credential resolution happens once per alias; a bad alias fails every time
// it is asked for, so a misconfigured subaccount cannot silently fall back to
// the default account.
type Registry struct {
	resolver *config.CredentialResolver
	cfg      config.BrokerConfig
	logger   core.ILogger

	mu      sync.Mutex
	clients map[string]core.BrokerClient
}

// NewRegistry creates an empty registry bound to the credential resolver.
func NewRegistry(resolver *config.CredentialResolver, cfg config.BrokerConfig, logger core.ILogger) *Registry {
	return &Registry{
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		clients:  make(map[string]core.BrokerClient),
	}
}

// Client returns the broker client for alias, building it on first use. An
// empty alias means "default".
func (r *Registry) Client(alias string) (core.BrokerClient, error) {
	if alias == "" {
		alias = "default"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[alias]; ok {
		return client, nil
	}

	creds, err := r.resolver.Resolve(alias)
	if err != nil {
		return nil, err
	}

	client := NewAlpacaClient(creds, r.cfg, r.logger)
	r.clients[alias] = client
	r.logger.Info("broker client initialized",
		"alias", alias,
		"paper", creds.Paper,
		"base_url", creds.BaseURL,
	)
	return client, nil
}
