package hrdirectory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultCacheTTL = 15 * time.Minute
	cacheKeyPrefix  = "hr:person:"
)

// Cached is a read-through Redis cache in front of a Directory. Only known
// people are cached; unknown identifications always reach the directory.
// Redis failures degrade to uncached lookups.
type Cached struct {
	next   Directory
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCached(next Directory, rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With().Str("component", "hrdirectory.cache").Logger(),
	}
}

func CacheKey(identification string) string {
	return cacheKeyPrefix + identification
}

func (c *Cached) Lookup(ctx context.Context, identification string) (*Person, error) {
	key := CacheKey(identification)
	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Person
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("key", key).Msg("hr cache read failed")
	}

	p, err := c.next.Lookup(ctx, identification)
	if err != nil || p == nil {
		return p, err
	}
	if data, err := json.Marshal(p); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("hr cache write failed")
		}
	}
	return p, nil
}

// Invalidate drops the cached entry for identification.
func (c *Cached) Invalidate(ctx context.Context, identification string) error {
	return c.rdb.Del(ctx, CacheKey(identification)).Err()
}
