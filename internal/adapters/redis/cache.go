package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// AcquireSettleLock takes a short-lived advisory lock for one payment id so
// a burst of duplicate webhook deliveries collapses to one settlement
// attempt. Correctness never depends on it; the registration unique index
// does the real work.
func (c *Cache) AcquireSettleLock(ctx context.Context, paymentID string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, "settle:"+paymentID, "1", ttl)
	return res.Val(), res.Err()
}

func (c *Cache) ReleaseSettleLock(ctx context.Context, paymentID string) error {
	return c.client.Del(ctx, "settle:"+paymentID).Err()
}
