package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisLoginKeyPrefix = "casetrack:login_ip:"

var redisLoginScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisLoginStore is a fixed-window counter shared by every instance that
// points at the same Redis.
type RedisLoginStore struct {
	client redis.Scripter
}

func NewRedisLoginStore(redisURL string) (*RedisLoginStore, *redis.Client, error) {
	if redisURL == "" {
		return nil, nil, errors.New("redis url is required")
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(options)
	return &RedisLoginStore{client: client}, client, nil
}

func NewRedisLoginStoreWithClient(client redis.Scripter) *RedisLoginStore {
	return &RedisLoginStore{client: client}
}

func (s *RedisLoginStore) AllowLoginIP(ctx context.Context, ip string, maxHits int, window time.Duration, _ time.Time) (bool, time.Duration, error) {
	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1000
	}

	result, err := redisLoginScript.Run(ctx, s.client, []string{redisLoginKeyPrefix + ip}, windowMillis).Result()
	if err != nil {
		return false, 0, fmt.Errorf("run login rate limit script: %w", err)
	}

	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return false, 0, errors.New("unexpected redis rate limit response")
	}
	current, ok := values[0].(int64)
	if !ok {
		return false, 0, errors.New("invalid redis counter response")
	}
	ttlMillis, _ := values[1].(int64)

	if current <= int64(maxHits) {
		return true, 0, nil
	}

	retryAfter := time.Duration(ttlMillis) * time.Millisecond
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter, nil
}
