package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store against a Redis backend: a thin adapter that
// prefixes keys with the deployment namespace and leans on Redis's own
// atomicity for Incr/SetNX instead of reimplementing locking.
type Redis struct {
	namespace string
	client    *redis.Client
}

// NewRedis wraps an existing *redis.Client. Namespace isolation happens at
// the key-prefix level so one Redis instance can serve multiple
// deployments without collision.
func NewRedis(namespace string, client *redis.Client) *Redis {
	return &Redis{namespace: namespace, client: client}
}

func (r *Redis) nsKey(key string) string { return r.namespace + ":" + key }

func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := r.nsKey(key)
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.nsKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.nsKey(key), value, ttl).Err()
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.nsKey(key), value, ttl).Result()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.nsKey(key)).Err()
}
