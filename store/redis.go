package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript atomically increments a counter and attaches the TTL only when
// the key is created. Running both steps in one Lua script is what makes the
// increment-and-read primitive safe under concurrent requests; a pipelined
// INCR + EXPIRE pair could leave a counter without a TTL if the client dies
// between the two commands.
var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisCounterStore provides a Redis-backed CounterStore shared across
// processes and nodes.
type RedisCounterStore struct {
	client *redis.Client
	prefix string
}

// Ensure RedisCounterStore implements CounterStore.
var _ CounterStore = (*RedisCounterStore)(nil)

// RedisConfig for creating a Redis counter store.
type RedisConfig struct {
	Addr     string // Redis address (e.g., "localhost:6379")
	Password string // Redis password (empty for no auth)
	DB       int    // Redis database number
	Prefix   string // Key prefix (default: "abuseshield")

	// Bound on individual store calls so a Redis stall cannot hold the
	// request path; the engine fails open on timeout.
	Timeout time.Duration
}

// NewRedisCounterStore creates a new Redis-backed counter store.
func NewRedisCounterStore(config RedisConfig) *RedisCounterStore {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 200 * time.Millisecond
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	prefix := config.Prefix
	if prefix == "" {
		prefix = "abuseshield"
	}

	return &RedisCounterStore{client: client, prefix: prefix}
}

// NewRedisCounterStoreFromClient wraps an existing client, e.g. one shared
// with the rest of the application.
func NewRedisCounterStoreFromClient(client *redis.Client, prefix string) *RedisCounterStore {
	if prefix == "" {
		prefix = "abuseshield"
	}
	return &RedisCounterStore{client: client, prefix: prefix}
}

func (s *RedisCounterStore) key(key string) string {
	return s.prefix + ":" + key
}

// Increment atomically increments the counter at key, creating it at 1 with
// the given TTL.
func (s *RedisCounterStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return incrScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
}

// Get returns the value at key and whether it exists.
func (s *RedisCounterStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores value at key with the given TTL.
func (s *RedisCounterStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

// Delete removes key.
func (s *RedisCounterStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// Clear removes every key under the store's prefix. Intended for tests.
func (s *RedisCounterStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Ping checks if the Redis connection is alive.
func (s *RedisCounterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisCounterStore) Close() error {
	return s.client.Close()
}
