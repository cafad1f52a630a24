package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fleet-monitor/telemetry/internal/config"
)

// KeyLookup resolves an API key to its owner, returning "" for unknown keys.
type KeyLookup interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

type cacheEntry struct {
	owner     string
	expiresAt time.Time
}

// Authenticator checks API keys against the static keys from the
// configuration, then a local cache, then the key store.
type Authenticator struct {
	localCache sync.Map
	lookup     KeyLookup
	ttl        time.Duration
	staticKeys map[string]bool
	log        *slog.Logger
	now        func() time.Time
}

// NewAuthenticator builds an authenticator. lookup may be nil, in which case
// only the static keys are accepted.
func NewAuthenticator(cfg *config.Config, lookup KeyLookup, logger *slog.Logger) *Authenticator {
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			staticKeys[k] = true
		}
	}

	return &Authenticator{
		lookup:     lookup,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
		log:        logger.With("component", "auth"),
		now:        time.Now,
	}
}

// Enabled reports whether any key source is configured. Without one, every
// request is let through.
func (a *Authenticator) Enabled() bool {
	return len(a.staticKeys) > 0 || a.lookup != nil
}

func (a *Authenticator) Validate(ctx context.Context, apiKey string) bool {
	if apiKey == "" {
		return false
	}

	// Level 0: static config keys
	if a.staticKeys[apiKey] {
		return true
	}

	// Level 1: in-memory cache
	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if a.now().Before(entry.expiresAt) {
			return true
		}
		a.localCache.Delete(apiKey)
	}

	if a.lookup == nil {
		return false
	}

	// Level 2: key store
	owner, err := a.lookup.GetAPIKey(ctx, apiKey)
	if err != nil {
		a.log.Warn("api key lookup failed", "err", err)
		return false
	}
	if owner == "" {
		return false
	}

	a.localCache.Store(apiKey, cacheEntry{
		owner:     owner,
		expiresAt: a.now().Add(a.ttl),
	})
	return true
}
