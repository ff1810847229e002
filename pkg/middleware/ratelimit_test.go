package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	})

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("ip:203.0.113.9"), "request %d should pass", i)
	}
	assert.False(t, rl.Allow("ip:203.0.113.9"))

	// Other keys are unaffected.
	assert.True(t, rl.Allow("ip:198.51.100.7"))
}

func TestRateLimiterRemaining(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
		BurstSize:         2,
	})

	assert.Equal(t, 12, rl.Remaining("fresh"))
	rl.Allow("fresh")
	assert.Equal(t, 11, rl.Remaining("fresh"))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    10 * time.Millisecond,
		BurstSize:         0,
	})

	rl.Allow("stale")
	time.Sleep(25 * time.Millisecond)
	rl.Cleanup()

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.Empty(t, rl.buckets)
}

func TestRateLimitMiddleware(t *testing.T) {
	m := &RateLimitMiddleware{
		loginLimiter: NewRateLimiter(&RateLimitConfig{
			RequestsPerWindow: 2,
			WindowDuration:    time.Minute,
			BurstSize:         0,
		}),
		sessionLimiter: NewRateLimiter(SessionRateLimitConfig()),
	}
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/auth/oauth2/acme", nil)
		req.Header.Set("X-Real-IP", "203.0.113.9")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))

	send()
	rec = send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDistributedRateLimiterAllow(t *testing.T) {
	ctx := context.Background()
	rl := NewDistributedRateLimiter(newTestRedis(t), &RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
	}, "")

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "ip:203.0.113.9")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := rl.Allow(ctx, "ip:203.0.113.9")
	require.NoError(t, err)
	assert.False(t, allowed)

	remaining, err := rl.Remaining(ctx, "ip:203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	require.NoError(t, rl.Reset(ctx, "ip:203.0.113.9"))
	allowed, err = rl.Allow(ctx, "ip:203.0.113.9")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestDistributedRateLimiterFailsOpen(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	server.Close()

	rl := NewDistributedRateLimiter(client, nil, "")
	allowed, err := rl.Allow(context.Background(), "ip:203.0.113.9")
	assert.Error(t, err)
	assert.True(t, allowed, "Redis outage must not lock everyone out")
}

func TestDistributedRateLimitMiddleware(t *testing.T) {
	client := newTestRedis(t)
	m := NewDistributedRateLimitMiddleware(client)
	m.loginLimiter = NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
	}, "ssocore:ratelimit:login")

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/auth/oauth2/acme", nil)
	req.Header.Set("X-Real-IP", "203.0.113.9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestDistributedRateLimitMiddlewareHealthCheck(t *testing.T) {
	m := NewDistributedRateLimitMiddleware(newTestRedis(t))
	assert.NoError(t, m.HealthCheck(context.Background()))
}
