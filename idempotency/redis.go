package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
	"time"
)

// redisStore Store shared by every instance of the service. Redis expires the
// keys itself.
type redisStore struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisStore returns a Store keeping records under "<namespace>:<key>"
func NewRedisStore(client redis.UniversalClient, namespace string) Store {
	if client == nil {
		panic("idempotency: nil redis client")
	}
	return &redisStore{client: client, namespace: namespace}
}

func (s *redisStore) key(key string) string {
	return fmt.Sprintf("%s:idem:%s", s.namespace, key)
}

// Reserve SET NX is the atomic check-and-reserve
func (s *redisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (Record, bool, error) {
	rec := Record{Key: key, State: InFlight, ExpiresAt: time.Now().Add(ttl)}
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, false, err
	}

	ok, err := s.client.SetNX(ctx, s.key(key), data, ttl).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return rec, true, nil
	}

	existing, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET, try once more
		return s.Reserve(ctx, key, ttl)
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read idempotency key: %w", err)
	}
	var cur Record
	if err := json.Unmarshal(existing, &cur); err != nil {
		return Record{}, false, err
	}
	return cur, false, nil
}

func (s *redisStore) Complete(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	data, err := json.Marshal(Record{Key: key, State: Completed, Result: result, ExpiresAt: time.Now().Add(ttl)})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), data, ttl).Err()
}

func (s *redisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
