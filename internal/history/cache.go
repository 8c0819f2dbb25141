package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
)

// Cache stores enrichment payloads in Redis under the provider's external
// identifier. Expiry is delegated to Redis TTLs, so an expired entry and a
// never-written entry are indistinguishable, which is exactly the contract
// callers rely on.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func cacheKey(id string) string {
	return "trendspotter:history:" + id
}

// Get returns the cached history for id, with ok=false on a miss. Only
// real Redis failures surface as errors.
func (c *Cache) Get(ctx context.Context, id string) (*model.History, bool, error) {
	data, err := c.rdb.Get(ctx, cacheKey(id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("history cache get %s: %w", id, err)
	}

	var h model.History
	if err := json.Unmarshal(data, &h); err != nil {
		// A corrupt entry is treated as a miss so the fetch path heals it.
		return nil, false, nil
	}
	return &h, true, nil
}

// Put writes h under id with the cache TTL.
func (c *Cache) Put(ctx context.Context, id string, h *model.History) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("history cache encode %s: %w", id, err)
	}
	if err := c.rdb.Set(ctx, cacheKey(id), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("history cache put %s: %w", id, err)
	}
	return nil
}
