package redis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisImpl "github.com/victoralfred/portfolio-risk/internal/infrastructure/redis"
	"github.com/victoralfred/portfolio-risk/internal/risk"
)

type countingProvider struct {
	mu     sync.Mutex
	calls  int
	points []risk.ValuePoint
	err    error
}

func (p *countingProvider) GetHistory(ctx context.Context, portfolioID string, days int) ([]risk.ValuePoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.points, p.err
}

func (p *countingProvider) GetIndexHistory(ctx context.Context, indexID string, days int) ([]risk.ValuePoint, error) {
	return p.GetHistory(ctx, indexID, days)
}

type recordingObserver struct {
	hits, misses int
}

func (o *recordingObserver) ObserveCache(cache string, hit bool) {
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func TestHistoryCache_ReadThrough(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	provider := &countingProvider{points: []risk.ValuePoint{
		{Timestamp: ts, TotalValue: 100},
		{Timestamp: ts.AddDate(0, 0, 1), TotalValue: 101.5},
	}}
	observer := &recordingObserver{}
	cache := redisImpl.NewHistoryCache(client, provider, provider, time.Minute, redisImpl.WithCacheObserver(observer))

	first, err := cache.GetHistory(ctx, "pf-1", 30)
	require.NoError(t, err)
	second, err := cache.GetHistory(ctx, "pf-1", 30)
	require.NoError(t, err)

	assert.Equal(t, provider.points, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, 1, observer.hits)
	assert.Equal(t, 1, observer.misses)

	t.Run("windows are cached separately", func(t *testing.T) {
		_, err := cache.GetHistory(ctx, "pf-1", 7)
		require.NoError(t, err)
		assert.Equal(t, 2, provider.calls)
	})

	t.Run("invalidate", func(t *testing.T) {
		require.NoError(t, cache.Invalidate(ctx, "pf-1"))
		_, err := cache.GetHistory(ctx, "pf-1", 30)
		require.NoError(t, err)
		assert.Equal(t, 3, provider.calls)
	})

	t.Run("index history uses its own keys", func(t *testing.T) {
		_, err := cache.GetIndexHistory(ctx, "pf-1", 30)
		require.NoError(t, err)
		assert.Equal(t, 4, provider.calls)
	})
}

func TestHistoryCache_ProviderErrorsAreNotCached(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	provider := &countingProvider{err: errors.New("db down")}
	cache := redisImpl.NewHistoryCache(client, provider, provider, time.Minute)

	_, err := cache.GetHistory(ctx, "pf-err", 30)
	require.Error(t, err)
	_, err = cache.GetHistory(ctx, "pf-err", 30)
	require.Error(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestHistoryCache_FallsThroughWhenRedisIsDown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	provider := &countingProvider{points: []risk.ValuePoint{{Timestamp: time.Now(), TotalValue: 1}}}
	cache := redisImpl.NewHistoryCache(client, provider, nil, time.Minute)

	points, err := cache.GetHistory(context.Background(), "pf-1", 30)
	require.NoError(t, err)
	assert.Len(t, points, 1)
}
