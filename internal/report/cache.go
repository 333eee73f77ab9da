package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache keeps computed reports in Redis for a short TTL so dashboard
// refreshes do not recompute identical queries. Misses and Redis errors
// both fall through to the engine.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached report for the query, or nil on a miss.
func (c *Cache) Get(ctx context.Context, q *Query) *Report {
	if c == nil || c.client == nil || c.ttl <= 0 {
		return nil
	}
	raw, err := c.client.Get(ctx, q.CacheKey()).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("report cache read failed", zap.Error(err))
		}
		return nil
	}
	var rep Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		c.logger.Warn("report cache entry corrupt", zap.Error(err))
		return nil
	}
	return &rep
}

// Put stores a computed report. Failures are logged and ignored.
func (c *Cache) Put(ctx context.Context, q *Query, rep *Report) {
	if c == nil || c.client == nil || c.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(rep)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, q.CacheKey(), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("report cache write failed", zap.Error(err))
	}
}
