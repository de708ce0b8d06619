package ingress

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// idempotencyTTL bounds how long a uid is remembered. Replays older
// than this are rare enough that stream-side dedup can absorb them.
const idempotencyTTL = 24 * time.Hour

// uidKeyFmt is the Redis key template for ingested record uids.
const uidKeyFmt = "uid:%s"

// IdempotencyCache remembers which uids have been ingested. Seen marks
// the uid and reports whether it had already been marked.
type IdempotencyCache interface {
	Seen(ctx context.Context, uid string) (bool, error)
}

// RedisCache is the production IdempotencyCache. SET NX makes the
// mark-and-test a single round trip, so two concurrent posts of the
// same uid cannot both pass.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: idempotencyTTL}
}

func (c *RedisCache) Seen(ctx context.Context, uid string) (bool, error) {
	set, err := c.rdb.SetNX(ctx, fmt.Sprintf(uidKeyFmt, uid), "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency probe for %s: %w", uid, err)
	}
	return !set, nil
}
