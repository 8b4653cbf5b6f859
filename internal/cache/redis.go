package cache

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	goredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// RedisConnector is the L2 shared cache, backed by a Redis instance shared
// across process instances.
type RedisConnector struct {
	client *redis.Client
	rs     *redsync.Redsync
}

func NewRedisConnector(client *redis.Client) *RedisConnector {
	pool := goredis.NewPool(client)
	return &RedisConnector{client: client, rs: redsync.New(pool)}
}

func redisKey(key, partition string) string { return partition + ":" + key }

func (r *RedisConnector) Get(ctx context.Context, _, key, partition string) ([]byte, error) {
	v, err := r.client.Get(ctx, redisKey(key, partition)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *RedisConnector) Set(ctx context.Context, key, partition string, value []byte, ttl *time.Duration) error {
	exp := time.Duration(0) // 0 means "no expiry" to go-redis
	if ttl != nil {
		exp = *ttl
	}
	return r.client.Set(ctx, redisKey(key, partition), value, exp).Err()
}

func (r *RedisConnector) Delete(ctx context.Context, key, partition string) error {
	return r.client.Del(ctx, redisKey(key, partition)).Err()
}

// Lock returns a distributed mutex guarding concurrent fetches of the same
// source-code/ABI key across process instances. name should be unique per
// (address, chain).
func (r *RedisConnector) Lock(name string, expiry time.Duration) *redsync.Mutex {
	return r.rs.NewMutex("lock:"+name, redsync.WithExpiry(expiry))
}
