package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	redis "github.com/redis/go-redis/v9"
)

// RedisCache is a Cache backed by a redis server.
type RedisCache struct {
	cli *redis.Client
}

var _ Cache = (*RedisCache)(nil)

// NewRedis parses a redis:// URL and creates the client. No connection is
// made until the first command.
func NewRedis(url string) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "redis parse url")
	}
	return &RedisCache{cli: redis.NewClient(opt)}, nil
}

// Ping checks the server is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.cli.Ping(ctx).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	b, err := c.cli.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "redis get %s", key)
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return false, errors.Wrapf(err, "decode cached %s", key)
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return errors.Wrapf(c.cli.Set(ctx, key, b, ttl).Err(), "redis set %s", key)
}

func (c *RedisCache) Forget(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return errors.Wrap(c.cli.Del(ctx, keys...).Err(), "redis del")
}

// Close releases the client's connections.
func (c *RedisCache) Close() error { return c.cli.Close() }
