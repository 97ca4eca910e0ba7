package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/titanfleet/internal/exchange"
)

const (
	defaultKlineTTL  = 45 * time.Second
	cacheReadTimeout = 500 * time.Millisecond
	cacheWriteWindow = 2 * time.Second
)

// KlineCache is an optional Redis read-through cache for kline fetch
// windows. A nil *KlineCache is valid and degrades every operation to a
// miss, so callers never branch on whether caching is configured.
type KlineCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewKlineCache wraps a Redis client. If client is nil, returns nil
// (caching disabled). A zero TTL selects the 45 s default.
func NewKlineCache(client *redis.Client, ttl time.Duration) *KlineCache {
	if client == nil {
		return nil
	}
	if ttl == 0 {
		ttl = defaultKlineTTL
	}
	return &KlineCache{client: client, ttl: ttl}
}

// Get returns the cached klines for a fetch window, or false on miss.
// Cache errors are misses, never failures.
func (c *KlineCache) Get(ctx context.Context, symbol, interval string, startTime int64, limit int) ([]exchange.Kline, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	key := klineKey(symbol, interval, startTime, limit)

	cacheCtx, cancel := context.WithTimeout(ctx, cacheReadTimeout)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("Redis get error - treating as cache miss")
		}
		return nil, false
	}

	var klines []exchange.Kline
	if err := json.Unmarshal([]byte(cached), &klines); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached klines")
		return nil, false
	}

	log.Debug().Str("key", key).Int("klines", len(klines)).Msg("Kline cache hit")
	return klines, true
}

// Put stores a fetch window's klines with the configured TTL. The write
// happens in the background so a slow Redis never delays the fetch path.
func (c *KlineCache) Put(symbol, interval string, startTime int64, limit int, klines []exchange.Kline) {
	if c == nil || c.client == nil || len(klines) == 0 {
		return
	}

	data, err := json.Marshal(klines)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to marshal klines for cache")
		return
	}

	key := klineKey(symbol, interval, startTime, limit)

	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), cacheWriteWindow)
		defer cancel()

		if err := c.client.Set(cacheCtx, key, data, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to cache klines")
			return
		}
		log.Debug().Str("key", key).Int("klines", len(klines)).Dur("ttl", c.ttl).Msg("Cached klines")
	}()
}

// Health pings Redis with a short deadline.
func (c *KlineCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, cacheReadTimeout)
	defer cancel()

	return c.client.Ping(cacheCtx).Err()
}

func klineKey(symbol, interval string, startTime int64, limit int) string {
	return fmt.Sprintf("klines:%s:%s:%d:%d", symbol, interval, startTime, limit)
}
