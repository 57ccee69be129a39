package keystore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const compareAndDeleteLua = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const compareAndExpireLua = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

var (
	compareAndDeleteScript = redis.NewScript(compareAndDeleteLua)
	compareAndExpireScript = redis.NewScript(compareAndExpireLua)
)

// RedisStore implements Store on top of a go-redis client. Any of
// *redis.Client, *redis.ClusterClient or *redis.Ring can be used; scripts
// touching several keys require those keys to share a hash slot on a cluster.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps client. The client's lifecycle stays with the caller.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Client returns the underlying go-redis client.
func (r *RedisStore) Client() redis.UniversalClient { return r.client }

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return storeError("ping", "", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeError("get", key, err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return storeError("set", key, err)
	}
	return nil
}

func (r *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, storeError("setnx", key, err)
	}
	return ok, nil
}

func (r *RedisStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, r.client, []string{key}, expected).Int64()
	if err != nil {
		return false, storeError("compare-and-delete", key, err)
	}
	return n == 1, nil
}

func (r *RedisStore) CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	n, err := compareAndExpireScript.Run(ctx, r.client, []string{key}, expected, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, storeError("compare-and-expire", key, err)
	}
	return n == 1, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return storeError("del", key, err)
	}
	return nil
}

func (r *RedisStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, false, storeError("pttl", key, err)
	}
	// PTTL replies -2 for a missing key and -1 for a key without expiry;
	// go-redis passes both through unscaled.
	switch {
	case d == -2:
		return 0, false, nil
	case d < 0:
		return 0, true, nil
	default:
		return d, true, nil
	}
}

func (r *RedisStore) Eval(ctx context.Context, s *Script, keys []string, args ...any) (any, error) {
	res, err := s.lua.Run(ctx, r.client, keys, args...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("eval "+s.name, firstKey(keys), err)
	}
	return res, nil
}

func firstKey(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
