// Package cache provides the rate-limit counter stores (in-memory and Redis)
// and the Redis connection factory.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carepoint/policygate/internal/observability"
	"github.com/carepoint/policygate/internal/ruleengine"
)

// DefaultKeyPrefix namespaces every counter key in Redis.
// Example: "policygate:ratelimit:rate_limiting:POST /auth/login|ip:10.0.0.1"
const DefaultKeyPrefix = "policygate:ratelimit:"

// hitScript runs the whole fixed-window cycle server side so concurrent
// gateway instances never read the same count.
//
// KEYS[1] = counter key
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
// ARGV[3] = ttl (ms)
//
// Returns {count, windowStartMs}.
var hitScript = redis.NewScript(`
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
local now = tonumber(ARGV[1])
local count

if (not start) or (now - start > tonumber(ARGV[2])) then
	start = now
	count = 1
	redis.call('HSET', KEYS[1], 'start', start, 'count', count)
else
	count = redis.call('HINCRBY', KEYS[1], 'count', 1)
end

redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {count, start}
`)

// RedisCounterStore keeps rate-limit windows in Redis hashes, shared by every
// gateway instance.
type RedisCounterStore struct {
	client  redis.Scripter
	prefix  string
	timeout time.Duration
}

// RedisCounterOptions tunes a RedisCounterStore.
type RedisCounterOptions struct {
	// KeyPrefix namespaces counter keys. Empty means DefaultKeyPrefix.
	KeyPrefix string
	// Timeout bounds a single Hit so a slow Redis cannot stall requests. Zero means no extra bound.
	Timeout time.Duration
}

var _ ruleengine.CounterStore = (*RedisCounterStore)(nil)

// NewRedisCounterStore wraps an existing client (single node or cluster).
func NewRedisCounterStore(client redis.Scripter, opts RedisCounterOptions) *RedisCounterStore {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	return &RedisCounterStore{client: client, prefix: opts.KeyPrefix, timeout: opts.Timeout}
}

// Hit implements ruleengine.CounterStore. Script.Run uses EVALSHA and reloads
// the script on NOSCRIPT.
func (s *RedisCounterStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (ruleengine.WindowCounter, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	vals, err := hitScript.Run(ctx, s.client,
		[]string{s.prefix + key},
		now.UnixMilli(),
		window.Milliseconds(),
		ruleengine.CounterTTL(window).Milliseconds(),
	).Int64Slice()
	if err != nil {
		observability.CounterStoreErrors.WithLabelValues("redis").Inc()
		return ruleengine.WindowCounter{}, fmt.Errorf("failed to hit counter %q: %w", key, err)
	}

	return decodeHit(vals)
}

func decodeHit(vals []int64) (ruleengine.WindowCounter, error) {
	if len(vals) != 2 {
		return ruleengine.WindowCounter{}, fmt.Errorf("unexpected counter script reply: %v", vals)
	}
	return ruleengine.WindowCounter{
		Count:       vals[0],
		WindowStart: time.UnixMilli(vals[1]),
	}, nil
}
