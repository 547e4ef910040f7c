package idempotency

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type clock struct {
	lock sync.Mutex
	t    time.Time
}

func (c *clock) now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.t = c.t.Add(d)
}

func newTestBoltStore(t *testing.T, now func() time.Time) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "idempotency.db"))
	require.NoError(t, err)
	s.now = now
	t.Cleanup(func() { s.Close() })
	return s
}

// stores returns every Store implementation sharing one clock
func stores(t *testing.T, c *clock) map[string]Store {
	return map[string]Store{
		"memory": newMemoryStore(c.now),
		"bolt":   newTestBoltStore(t, c.now),
	}
}

func TestStore_ReserveCompleteReplay(t *testing.T) {
	for name, s := range stores(t, &clock{t: time.Now()}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rec, reserved, err := s.Reserve(ctx, "u1:k1", time.Hour)
			require.NoError(t, err)
			assert.True(t, reserved)
			assert.Equal(t, InFlight, rec.State)

			rec, reserved, err = s.Reserve(ctx, "u1:k1", time.Hour)
			require.NoError(t, err)
			assert.False(t, reserved)
			assert.Equal(t, InFlight, rec.State)

			require.NoError(t, s.Complete(ctx, "u1:k1", []byte(`{"id":"1"}`), time.Hour))
			rec, reserved, err = s.Reserve(ctx, "u1:k1", time.Hour)
			require.NoError(t, err)
			assert.False(t, reserved)
			assert.Equal(t, Completed, rec.State)
			assert.Equal(t, `{"id":"1"}`, string(rec.Result))

			// a different caller using the same client key is unrelated
			_, reserved, err = s.Reserve(ctx, "u2:k1", time.Hour)
			require.NoError(t, err)
			assert.True(t, reserved)
		})
	}
}

func TestStore_Release(t *testing.T) {
	for name, s := range stores(t, &clock{t: time.Now()}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, _, err := s.Reserve(ctx, "k", time.Hour)
			require.NoError(t, err)
			require.NoError(t, s.Release(ctx, "k"))
			require.NoError(t, s.Release(ctx, "k"))

			_, reserved, err := s.Reserve(ctx, "k", time.Hour)
			require.NoError(t, err)
			assert.True(t, reserved)
		})
	}
}

func TestStore_Expiry(t *testing.T) {
	c := &clock{t: time.Now()}
	for name, s := range stores(t, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "expiry:" + name

			_, reserved, err := s.Reserve(ctx, key, time.Hour)
			require.NoError(t, err)
			require.True(t, reserved)
			require.NoError(t, s.Complete(ctx, key, []byte("x"), time.Hour))

			c.advance(59 * time.Minute)
			_, reserved, err = s.Reserve(ctx, key, time.Hour)
			require.NoError(t, err)
			assert.False(t, reserved)

			c.advance(time.Minute)
			rec, reserved, err := s.Reserve(ctx, key, time.Hour)
			require.NoError(t, err)
			assert.True(t, reserved)
			assert.Equal(t, InFlight, rec.State)
			assert.Empty(t, rec.Result)
		})
	}
}

func TestStore_ConcurrentReserve(t *testing.T) {
	for name, s := range stores(t, &clock{t: time.Now()}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var winners int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, reserved, err := s.Reserve(ctx, "race", time.Hour)
					assert.NoError(t, err)
					if reserved {
						atomic.AddInt32(&winners, 1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), winners)
		})
	}
}

func TestBoltStore_Purge(t *testing.T) {
	c := &clock{t: time.Now()}
	s := newTestBoltStore(t, c.now)
	ctx := context.Background()

	_, _, err := s.Reserve(ctx, "short", time.Minute)
	require.NoError(t, err)
	_, _, err = s.Reserve(ctx, "long", time.Hour)
	require.NoError(t, err)

	c.advance(2 * time.Minute)
	removed, err := s.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, reserved, err := s.Reserve(ctx, "long", time.Hour)
	require.NoError(t, err)
	assert.False(t, reserved)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "user-1:abc", Key("user-1", "abc"))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	s := NewRedisStore(client, fmt.Sprintf("test-%d", time.Now().UnixNano()))
	_, reserved, err := s.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, reserved)

	_, reserved, err = s.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, reserved)

	require.NoError(t, s.Complete(ctx, "k", []byte("done"), time.Minute))
	rec, reserved, err := s.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Equal(t, Completed, rec.State)
	assert.Equal(t, "done", string(rec.Result))

	require.NoError(t, s.Release(ctx, "k"))
	_, reserved, err = s.Reserve(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, reserved)
}
