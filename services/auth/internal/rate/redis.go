package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "krypt:auth:rl:"

var errBadReply = errors.New("unexpected rate limit reply")

// hitScript bumps the attempt counter for KEYS[1], arming the expiry on the
// first hit, and replies {count, pttl}.
var hitScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter keeps login attempt counters in Redis so every auth replica
// sees the same budget. A window opens on the first attempt and closes when
// the key expires.
type RedisLimiter struct {
	client redis.Scripter
	limit  int64
	window time.Duration
	prefix string
}

func NewRedisLimiter(client redis.Scripter, limit int, window time.Duration, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisLimiter{client: client, limit: int64(limit), window: window, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, _ time.Time) (bool, time.Duration, error) {
	windowMS := l.window.Milliseconds()
	if windowMS <= 0 {
		return false, 0, fmt.Errorf("invalid rate limit window %s", l.window)
	}

	count, ttlMS, err := l.hit(ctx, l.prefix+key, windowMS)
	if err != nil {
		return false, 0, err
	}
	if count <= l.limit {
		return true, 0, nil
	}
	return false, time.Duration(max(ttlMS, 0)) * time.Millisecond, nil
}

func (l *RedisLimiter) hit(ctx context.Context, redisKey string, windowMS int64) (int64, int64, error) {
	reply, err := hitScript.Run(ctx, l.client, []string{redisKey}, windowMS).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit hit %s: %w", redisKey, err)
	}
	if len(reply) != 2 {
		return 0, 0, fmt.Errorf("%w: %v", errBadReply, reply)
	}
	return reply[0], reply[1], nil
}
