package cache

import (
	"context"
	"errors"
	"github.com/redis/go-redis/v9"
	"time"
)

// redisCache Cache backed by redis, keys are prefixed with a namespace
type redisCache struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedis returns a Cache storing entries under "<namespace>:<key>"
func NewRedis(client redis.UniversalClient, namespace string) Cache {
	if client == nil {
		panic("cache: nil redis client")
	}
	return &redisCache{client: client, namespace: namespace}
}

func (c *redisCache) key(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}
