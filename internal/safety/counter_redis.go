// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Day-keyed counters self-clean two days after their last reservation.
const counterTTLSeconds = 48 * 60 * 60

// redisReserveScript checks and increments a counter atomically.
// KEYS[1] = counter key (e.g. "adgate:negatives:t1:2026-08-25")
// ARGV[1] = units to reserve
// ARGV[2] = limit (0 or below = uncapped)
// ARGV[3] = key TTL in seconds
var redisReserveScript = redis.NewScript(`
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
local cost = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

if limit > 0 and used + cost > limit then
    return {0, used}
end

used = redis.call("INCRBY", KEYS[1], cost)
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[3]))

return {1, used}
`)

// redisReleaseScript returns units without letting the counter go negative.
// KEYS[1] = counter key
// ARGV[1] = units to release
var redisReleaseScript = redis.NewScript(`
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
local n = tonumber(ARGV[1])

if n > used then
    n = used
end
if n > 0 then
    redis.call("DECRBY", KEYS[1], n)
end

return used - n
`)

// RedisCounterStore implements CounterStore using Redis. It is the backend
// for deployments where multiple pipeline instances share one daily budget.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore creates a new store backed by Redis.
func NewRedisCounterStore(addr string, password string, db int) *RedisCounterStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCounterStore{client: rdb}
}

func (s *RedisCounterStore) Used(ctx context.Context, key string) (int64, error) {
	used, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis counter error: %w", err)
	}
	return used, nil
}

func (s *RedisCounterStore) Reserve(ctx context.Context, key string, n, limit int64) (bool, error) {
	res, err := redisReserveScript.Run(ctx, s.client, []string{key}, n, limit, counterTTLSeconds).Result()
	if err != nil {
		return false, fmt.Errorf("redis counter error: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("invalid response from lua script")
	}

	reserved, _ := results[0].(int64)
	return reserved == 1, nil
}

func (s *RedisCounterStore) Release(ctx context.Context, key string, n int64) error {
	if err := redisReleaseScript.Run(ctx, s.client, []string{key}, n).Err(); err != nil {
		return fmt.Errorf("redis counter error: %w", err)
	}
	return nil
}
