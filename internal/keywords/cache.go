package keywords

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswatch/internal/db"
	"horse.fit/newswatch/internal/globaltime"
)

const (
	DefaultCacheTTL = 5 * time.Minute

	// FallbackRetryInterval bounds how long the fallback is served before the source is tried again.
	FallbackRetryInterval = 30 * time.Second
)

// RuleSource loads the active keyword rules from configuration storage.
type RuleSource interface {
	ActiveKeywordRules(ctx context.Context) ([]db.KeywordRule, error)
}

// Cache holds the compiled rule set for a bounded staleness window. When the source fails or
// has no rules it serves the built-in fallback and retries the source after the shorter of the
// TTL and FallbackRetryInterval.
type Cache struct {
	source RuleSource
	ttl    time.Duration
	now    globaltime.Clock
	logger zerolog.Logger

	mu        sync.Mutex
	current   *RuleSet
	expiresAt time.Time
	fallback  *RuleSet
}

func NewCache(source RuleSource, ttl time.Duration, clock globaltime.Clock, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		source: source,
		ttl:    ttl,
		now:    globaltime.OrDefault(clock),
		logger: logger,
	}
}

func (c *Cache) RuleSet(ctx context.Context) *RuleSet {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.current != nil && now.Before(c.expiresAt) {
		return c.current
	}

	if c.source == nil {
		return c.fallbackLocked(now, "no keyword rule source configured", nil)
	}

	rules, err := c.source.ActiveKeywordRules(ctx)
	if err != nil {
		return c.fallbackLocked(now, "keyword rules unavailable, using built-in fallback", err)
	}
	tiers := TiersFromRules(rules)
	if tiers.Len() == 0 {
		return c.fallbackLocked(now, "no active keyword rules, using built-in fallback", nil)
	}

	c.current = Compile(tiers, false)
	c.expiresAt = now.Add(c.ttl)
	c.logger.Debug().
		Int("primary", len(tiers.Primary)).
		Int("secondary", len(tiers.Secondary)).
		Int("context", len(tiers.Context)).
		Msg("keyword rules refreshed")
	return c.current
}

// Invalidate forces the next call to reload from the source.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	c.expiresAt = time.Time{}
}

func (c *Cache) fallbackLocked(now time.Time, msg string, cause error) *RuleSet {
	event := c.logger.Warn()
	if cause != nil {
		event = event.Err(cause)
	}
	event.Msg(msg)

	if c.fallback == nil {
		tiers, err := FallbackTiers()
		if err != nil {
			c.logger.Error().Err(err).Msg("built-in keyword fallback is unusable")
		}
		c.fallback = Compile(tiers, true)
	}
	c.current = c.fallback
	c.expiresAt = now.Add(min(c.ttl, FallbackRetryInterval))
	return c.fallback
}
