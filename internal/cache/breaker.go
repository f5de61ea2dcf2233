package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amityvox/notifyd/internal/models"
)

// breaker trips per (tenant, channel) after a run of consecutive
// AUTH_ERROR failures, per the Open Question decision in SPEC_FULL.md
// §4.4: a credential that is failing authentication on every attempt is
// rotated by an operator, not hammered by retries. When Redis is
// configured the counters are shared across instances; otherwise each
// process tracks its own.
type breaker struct {
	mu      sync.Mutex
	counts  map[string]int
	tripped map[string]bool
	max     int
	redis   *redis.Client
	logger  *slog.Logger
}

const breakerTTL = 24 * time.Hour

func newBreaker(rdb *redis.Client, max int, logger *slog.Logger) *breaker {
	if max <= 0 {
		max = 5
	}
	return &breaker{
		counts:  make(map[string]int),
		tripped: make(map[string]bool),
		max:     max,
		redis:   rdb,
		logger:  logger,
	}
}

func breakerKey(tenantID string, channel models.Channel) string {
	return "breaker:" + tenantID + ":" + string(channel)
}

// Tripped reports whether the circuit is currently open for (tenant,
// channel).
func (b *breaker) Tripped(ctx context.Context, tenantID string, channel models.Channel) bool {
	key := breakerKey(tenantID, channel)
	if b.redis != nil {
		n, err := b.redis.Get(ctx, key).Int()
		if err == nil {
			return n >= b.max
		}
		if err != redis.Nil && b.logger != nil {
			b.logger.Warn("cache: breaker redis read failed, falling back to local state", "error", err)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped[key]
}

// RecordFailure increments the consecutive-failure counter and trips the
// breaker once it reaches the configured maximum.
func (b *breaker) RecordFailure(ctx context.Context, tenantID string, channel models.Channel) {
	key := breakerKey(tenantID, channel)
	if b.redis != nil {
		n, err := b.redis.Incr(ctx, key).Result()
		if err == nil {
			b.redis.Expire(ctx, key, breakerTTL)
			if n >= int64(b.max) && b.logger != nil {
				b.logger.Warn("cache: auth breaker tripped", "tenant_id", tenantID, "channel", channel, "failures", n)
			}
			return
		}
		if b.logger != nil {
			b.logger.Warn("cache: breaker redis incr failed, falling back to local state", "error", err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[key]++
	if b.counts[key] >= b.max {
		b.tripped[key] = true
		if b.logger != nil {
			b.logger.Warn("cache: auth breaker tripped", "tenant_id", tenantID, "channel", channel, "failures", b.counts[key])
		}
	}
}

// Reset clears the failure count after a successful send or a credential
// rotation.
func (b *breaker) Reset(ctx context.Context, tenantID string, channel models.Channel) {
	key := breakerKey(tenantID, channel)
	if b.redis != nil {
		if err := b.redis.Del(ctx, key).Err(); err != nil && b.logger != nil {
			b.logger.Warn("cache: breaker redis reset failed", "error", err)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.counts, key)
	delete(b.tripped, key)
}
