package risk

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"signal_relay/internal/core"
)

// DefaultEquityTTL bounds how stale a broker equity observation may be.
const DefaultEquityTTL = 60 * time.Second

// AccountCache memoizes broker account snapshots per alias. The guard and
// the sizer both read through it, so within one TTL window every decision
// for an account sees the same equity number.
type AccountCache struct {
	cache *gocache.Cache
}

// NewAccountCache builds a cache with the given TTL. Non-positive values
// fall back to DefaultEquityTTL.
func NewAccountCache(ttl time.Duration) *AccountCache {
	if ttl <= 0 {
		ttl = DefaultEquityTTL
	}
	return &AccountCache{cache: gocache.New(ttl, 2*ttl)}
}

// Account returns the snapshot for alias, fetching from the broker on miss.
func (c *AccountCache) Account(ctx context.Context, alias string, client core.BrokerClient) (*core.Account, error) {
	if v, ok := c.cache.Get(alias); ok {
		return v.(*core.Account), nil
	}
	account, err := client.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(alias, account, gocache.DefaultExpiration)
	return account, nil
}

// Invalidate drops the cached snapshot for alias, forcing a refetch.
func (c *AccountCache) Invalidate(alias string) {
	c.cache.Delete(alias)
}
