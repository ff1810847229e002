package state

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client, 5*time.Minute), mr
}

func TestRedisStorePutConsume(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	entry := Entry{
		State:       "abc123",
		Nonce:       "nonce-1",
		Provider:    "okta",
		RedirectURI: "/home",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.Put(ctx, entry))

	got, ok, err := store.Consume(ctx, "abc123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.Nonce, got.Nonce)
	assert.Equal(t, entry.Provider, got.Provider)

	_, ok, err = store.Consume(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, ok, "state must not validate twice")
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	require.NoError(t, store.Put(ctx, Entry{State: "s1", CreatedAt: time.Now()}))

	mr.FastForward(6 * time.Minute)

	_, ok, err := store.Consume(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok, "entry must expire with the key TTL")
}

func TestRedisStoreLen(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, store.Put(ctx, Entry{State: s, CreatedAt: time.Now()}))
	}

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRedisStoreConcurrentConsumeExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)
	require.NoError(t, store.Put(ctx, Entry{State: "race", CreatedAt: time.Now()}))

	const goroutines = 20
	var wins int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, _ := store.Consume(ctx, "race"); ok {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), wins)
}
