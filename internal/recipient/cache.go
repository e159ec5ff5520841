package recipient

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/logger"
)

const cacheKeyPrefix = "drip:recipient:"

// CachedResolver keeps resolved contacts in Redis for ttl. Redis failures
// fall through to the wrapped resolver.
type CachedResolver struct {
	next   Resolver
	client *redis.Client
	ttl    time.Duration
}

// NewCachedResolver wraps next with a Redis cache.
func NewCachedResolver(next Resolver, client *redis.Client, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedResolver{next: next, client: client, ttl: ttl}
}

func (c *CachedResolver) Resolve(ctx context.Context, r domain.Recipient) (*Contact, error) {
	key := cacheKeyPrefix + r.String()

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var contact Contact
		if jerr := json.Unmarshal(raw, &contact); jerr == nil {
			return &contact, nil
		}
		logger.Warn("dropping corrupt recipient cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		logger.Warn("recipient cache read failed", "key", key, "error", err)
	}

	contact, err := c.next.Resolve(ctx, r)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(contact); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			logger.Warn("recipient cache write failed", "key", key, "error", err)
		}
	}
	return contact, nil
}

// Invalidate drops r from the cache, e.g. after the contact changed.
func (c *CachedResolver) Invalidate(ctx context.Context, r domain.Recipient) error {
	return c.client.Del(ctx, cacheKeyPrefix+r.String()).Err()
}
