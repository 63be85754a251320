// README: Redis cache of the capacity snapshot so matching does not hit Postgres on every tick.
package capacity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotKey = "capacity:snapshot"

type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewCache(redis *redis.Client, ttl time.Duration) *Cache {
	return &Cache{redis: redis, ttl: ttl}
}

// Get returns ok=false on a miss.
func (c *Cache) Get(ctx context.Context) ([]HospitalCapacity, bool, error) {
	raw, err := c.redis.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out []HospitalCapacity
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (c *Cache) Set(ctx context.Context, hospitals []HospitalCapacity) error {
	raw, err := json.Marshal(hospitals)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, snapshotKey, raw, c.ttl).Err()
}

func (c *Cache) Invalidate(ctx context.Context) error {
	return c.redis.Del(ctx, snapshotKey).Err()
}
