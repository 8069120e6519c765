package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/victoralfred/portfolio-risk/internal/ports"
	"github.com/victoralfred/portfolio-risk/internal/risk"
)

const (
	historyKeyPrefix = "risk:history:"
	indexKeyPrefix   = "risk:index:"
)

// CacheObserver is notified of every cache lookup
type CacheObserver interface {
	ObserveCache(cache string, hit bool)
}

// HistoryCache is a read-through cache in front of value-history providers.
// Redis failures are logged and fall through to the underlying provider.
type HistoryCache struct {
	client   redis.UniversalClient
	history  ports.HistoricalPortfolioProvider
	market   ports.MarketDataProvider
	ttl      time.Duration
	logger   *zap.Logger
	observer CacheObserver
}

// HistoryCacheOption configures a HistoryCache
type HistoryCacheOption func(*HistoryCache)

// WithCacheObserver reports hits and misses
func WithCacheObserver(o CacheObserver) HistoryCacheOption {
	return func(c *HistoryCache) { c.observer = o }
}

// WithCacheLogger sets the logger for degraded-cache warnings
func WithCacheLogger(l *zap.Logger) HistoryCacheOption {
	return func(c *HistoryCache) { c.logger = l }
}

// NewHistoryCache wraps the providers. Either provider may be nil if the
// corresponding lookup is never used.
func NewHistoryCache(client redis.UniversalClient, history ports.HistoricalPortfolioProvider, market ports.MarketDataProvider, ttl time.Duration, opts ...HistoryCacheOption) *HistoryCache {
	c := &HistoryCache{
		client:  client,
		history: history,
		market:  market,
		ttl:     ttl,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetHistory implements ports.HistoricalPortfolioProvider
func (c *HistoryCache) GetHistory(ctx context.Context, portfolioID string, days int) ([]risk.ValuePoint, error) {
	key := fmt.Sprintf("%s%s:%d", historyKeyPrefix, portfolioID, days)
	return c.readThrough(ctx, "portfolio_history", key, func() ([]risk.ValuePoint, error) {
		return c.history.GetHistory(ctx, portfolioID, days)
	})
}

// GetIndexHistory implements ports.MarketDataProvider
func (c *HistoryCache) GetIndexHistory(ctx context.Context, indexID string, days int) ([]risk.ValuePoint, error) {
	key := fmt.Sprintf("%s%s:%d", indexKeyPrefix, indexID, days)
	return c.readThrough(ctx, "index_history", key, func() ([]risk.ValuePoint, error) {
		return c.market.GetIndexHistory(ctx, indexID, days)
	})
}

// Invalidate drops every cached window of a portfolio
func (c *HistoryCache) Invalidate(ctx context.Context, portfolioID string) error {
	iter := c.client.Scan(ctx, 0, historyKeyPrefix+portfolioID+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *HistoryCache) readThrough(ctx context.Context, cache, key string, load func() ([]risk.ValuePoint, error)) ([]risk.ValuePoint, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var points []risk.ValuePoint
		if jsonErr := json.Unmarshal(data, &points); jsonErr == nil {
			c.observe(cache, true)
			return points, nil
		}
		c.logger.Warn("discarding corrupt cache entry", zap.String("key", key))
	case err != redis.Nil:
		c.logger.Warn("history cache unavailable", zap.String("key", key), zap.Error(err))
	}
	c.observe(cache, false)

	points, err := load()
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(points); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("failed to populate history cache", zap.String("key", key), zap.Error(err))
		}
	}
	return points, nil
}

func (c *HistoryCache) observe(cache string, hit bool) {
	if c.observer != nil {
		c.observer.ObserveCache(cache, hit)
	}
}
