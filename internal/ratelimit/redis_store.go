package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript runs the token bucket atomically in Redis: refill by elapsed
// time, consume one token if available, persist the new state. EVAL keeps
// concurrent instances from double-consuming the same token.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = redis.call('HGETALL', key)
local tokens = capacity
local last_refill = now

if #bucket > 0 then
	tokens = tonumber(bucket[2]) or capacity
	last_refill = tonumber(bucket[4]) or now
end

local elapsed = now - last_refill
tokens = math.min(capacity, tokens + (elapsed * refill_rate))

if tokens >= 1 then
	tokens = tokens - 1
	redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
	redis.call('EXPIRE', key, 3600)
	return {1, tostring(tokens)}
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', key, 3600)
return {0, tostring(tokens)}
`)

// RedisStore coordinates token buckets across instances through Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Ping verifies the Redis connection is still alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) AllowUser(ctx context.Context, userID string, capacity, refillRate float64) (bool, float64, error) {
	return s.allow(ctx, "ratelimit:user:"+userID, capacity, refillRate)
}

func (s *RedisStore) AllowSession(ctx context.Context, token string, capacity, refillRate float64) (bool, float64, error) {
	return s.allow(ctx, "ratelimit:session:"+token, capacity, refillRate)
}

func (s *RedisStore) allow(ctx context.Context, key string, capacity, refillRate float64) (bool, float64, error) {
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	res, err := allowScript.Run(ctx, s.client, []string{key}, capacity, refillRate, now).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("run token bucket script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected script result: %v", res)
	}
	allowed, _ := res[0].(int64)
	var remaining float64
	if str, ok := res[1].(string); ok {
		fmt.Sscanf(str, "%g", &remaining)
	}
	return allowed == 1, remaining, nil
}

func (s *RedisStore) ResetUser(ctx context.Context, userID string) error {
	return s.client.Del(ctx, "ratelimit:user:"+userID).Err()
}

func (s *RedisStore) ResetSession(ctx context.Context, token string) error {
	return s.client.Del(ctx, "ratelimit:session:"+token).Err()
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
