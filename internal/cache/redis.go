package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Redis stores entries in Redis using native key expiry. Keys are namespaced
// with prefix so the cache can share a database with other tenants.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the Redis instance at redisURL.
func NewRedis(redisURL, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, eris.Wrap(err, "redis cache: parse url")
	}
	return NewRedisFromClient(redis.NewClient(opts), prefix), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "leadscan:cache:"
	}
	return &Redis{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return eris.Wrap(r.client.Ping(ctx).Err(), "redis cache: ping")
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "redis cache: get")
	}
	return val, true, nil
}

// Put implements Cache.
func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return eris.Wrap(r.client.Set(ctx, r.prefix+key, value, effectiveTTL(ttl)).Err(), "redis cache: put")
}

// Close closes the client.
func (r *Redis) Close() error {
	return eris.Wrap(r.client.Close(), "redis cache: close")
}
