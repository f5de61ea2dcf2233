// Package cache implements the Credential & Branding Cache (§4.4): a
// read-through cache keyed on (tenant, channel) for credentials and on
// tenant for branding, with TTL and negative caching and a per-key
// single-flight lock so concurrent demand collapses to one fetch.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/amityvox/notifyd/internal/models"
)

// CredentialStore is the persistence boundary for credentials. It returns
// the decrypted secrets map; the encryption boundary lives below this
// interface (see internal/crypto and the Postgres-backed implementation in
// this package's companion store file).
type CredentialStore interface {
	ActiveCredential(ctx context.Context, tenantID string, channel models.Channel) (*models.Credential, error)
	CreateAutoCredential(ctx context.Context, tenantID string, channel models.Channel, secrets map[string]string) (*models.Credential, error)
}

// ErrBrandingNotFound is returned by IdentityClient when the identity
// service has no branding on record for a tenant (HTTP 404).
var ErrBrandingNotFound = fmt.Errorf("cache: branding not found")

// IdentityClient fetches tenant branding from the external identity
// service.
type IdentityClient interface {
	FetchBranding(ctx context.Context, tenantID string) (models.TenantBranding, error)
}

// ChannelDefaults supplies the global settings used to synthesize an
// auto-generated credential when a tenant has none.
type ChannelDefaults interface {
	DefaultSecrets(channel models.Channel) map[string]string
}

type brandingEntry struct {
	found    bool
	branding models.TenantBranding
}

// Cache is the Credential & Branding Cache.
type Cache struct {
	positiveTTL time.Duration
	negativeTTL time.Duration

	credentials *ttlCache[*models.Credential]
	branding    *ttlCache[brandingEntry]

	sf singleflight.Group

	store    CredentialStore
	identity IdentityClient
	defaults ChannelDefaults

	redis *redis.Client // optional: cross-instance breaker counters only

	breaker *breaker

	logger *slog.Logger
}

// Config configures a new Cache.
type Config struct {
	Store          CredentialStore
	Identity       IdentityClient
	Defaults       ChannelDefaults
	Redis          *redis.Client
	PositiveTTL    time.Duration
	NegativeTTL    time.Duration
	AuthBreakerMax int
	MaxEntries     int
	Logger         *slog.Logger
}

// New constructs a Cache.
func New(cfg Config) *Cache {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Cache{
		positiveTTL: cfg.PositiveTTL,
		negativeTTL: cfg.NegativeTTL,
		credentials: newTTLCache[*models.Credential](maxEntries),
		branding:    newTTLCache[brandingEntry](maxEntries),
		store:       cfg.Store,
		identity:    cfg.Identity,
		defaults:    cfg.Defaults,
		redis:       cfg.Redis,
		breaker:     newBreaker(cfg.Redis, cfg.AuthBreakerMax, cfg.Logger),
		logger:      cfg.Logger,
	}
}

func credentialKey(tenantID string, channel models.Channel) string {
	return tenantID + ":" + string(channel)
}

// Credential resolves the credential for (tenant, channel) using the
// priority order: active custom credential (no fallback) → active
// auto-generated credential → synthesize from global settings and persist.
func (c *Cache) Credential(ctx context.Context, tenantID string, channel models.Channel) (*models.Credential, error) {
	if c.breaker.Tripped(ctx, tenantID, channel) {
		return nil, fmt.Errorf("cache: circuit open for %s/%s after repeated auth failures", tenantID, channel)
	}

	key := credentialKey(tenantID, channel)
	if cred, ok := c.credentials.Get(key); ok {
		return cred, nil
	}

	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		cred, err := c.store.ActiveCredential(ctx, tenantID, channel)
		if err != nil {
			return nil, fmt.Errorf("cache: loading credential for %s/%s: %w", tenantID, channel, err)
		}
		if cred == nil {
			cred, err = c.store.CreateAutoCredential(ctx, tenantID, channel, c.defaults.DefaultSecrets(channel))
			if err != nil {
				return nil, fmt.Errorf("cache: synthesizing credential for %s/%s: %w", tenantID, channel, err)
			}
		}
		c.credentials.Set(key, cred, c.positiveTTL)
		return cred, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Credential), nil
}

// InvalidateCredential forces the next Credential call for (tenant,
// channel) to re-fetch and clears its auth circuit breaker, used after a
// credential is rotated via the admin surface.
func (c *Cache) InvalidateCredential(tenantID string, channel models.Channel) {
	c.credentials.Invalidate(credentialKey(tenantID, channel))
	c.breaker.Reset(context.Background(), tenantID, channel)
}

// RecordAuthFailure feeds the per-(tenant,channel) circuit breaker; see the
// Open Question decision on circuit-breaking repeated AUTH_ERRORs.
func (c *Cache) RecordAuthFailure(ctx context.Context, tenantID string, channel models.Channel) {
	c.breaker.RecordFailure(ctx, tenantID, channel)
}

// RecordAuthSuccess resets the breaker after a successful send.
func (c *Cache) RecordAuthSuccess(ctx context.Context, tenantID string, channel models.Channel) {
	c.breaker.Reset(ctx, tenantID, channel)
}

// Branding resolves tenant branding with positive/negative TTL caching. A
// 404 from the identity service caches FallbackBranding for the negative
// TTL window so repeated lookups for a tenant with no branding don't hammer
// the identity service.
func (c *Cache) Branding(ctx context.Context, tenantID string) (models.TenantBranding, error) {
	if entry, ok := c.branding.Get(tenantID); ok {
		if entry.found {
			return entry.branding, nil
		}
		return models.FallbackBranding(tenantID), nil
	}

	v, err, _ := c.sf.Do("branding:"+tenantID, func() (interface{}, error) {
		branding, err := c.identity.FetchBranding(ctx, tenantID)
		if err == ErrBrandingNotFound {
			c.branding.Set(tenantID, brandingEntry{found: false}, c.negativeTTL)
			return models.FallbackBranding(tenantID), nil
		}
		if err != nil {
			return nil, fmt.Errorf("cache: fetching branding for %s: %w", tenantID, err)
		}
		c.branding.Set(tenantID, brandingEntry{found: true, branding: branding}, c.positiveTTL)
		return branding, nil
	})
	if err != nil {
		return models.TenantBranding{}, err
	}
	return v.(models.TenantBranding), nil
}
