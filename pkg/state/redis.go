package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "ssostate:"

// RedisStore keeps handshake state in Redis so multiple instances can serve
// the same login flow (initiation and callback may hit different replicas).
// Expiry is enforced by key TTL; Consume is atomic via GETDEL.
type RedisStore struct {
	client *redis.Client
	window time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int

	// Window overrides DefaultWindow when positive.
	Window time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisStore{client: client, window: window}, nil
}

// Client exposes the underlying connection so the hosting application can
// share it with health checks and rate limiting.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// NewRedisStoreWithClient wraps an existing client; used in tests.
func NewRedisStoreWithClient(client *redis.Client, window time.Duration) *RedisStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisStore{client: client, window: window}
}

// Put stores an entry with a TTL equal to the handshake window.
func (s *RedisStore) Put(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal state entry: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+entry.State, data, s.window).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Consume atomically fetches and deletes the entry for a state value.
func (s *RedisStore) Consume(ctx context.Context, state string) (Entry, bool, error) {
	data, err := s.client.GetDel(ctx, redisKeyPrefix+state).Result()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis getdel failed: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return Entry{}, false, fmt.Errorf("failed to unmarshal state entry: %w", err)
	}
	return entry, true, nil
}

// Sweep is a no-op for Redis; key TTLs handle expiry.
func (s *RedisStore) Sweep(_ context.Context) (int, error) {
	return 0, nil
}

// Len counts pending entries by scanning the key prefix.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	var cursor uint64
	count := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan failed: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
