package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/delivery-tracker/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 100
	window                   = time.Second
	minWait                  = time.Millisecond
)

// consumeScript counts one send in the current window and returns 1 when it
// fits under ARGV[1].
var consumeScript = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps provider sends per second for each side-effect kind
// across all dispatch workers. Windows are aligned to wall-clock seconds so
// every process agrees on the bucket.
type RedisRateLimiter struct {
	client   *goredis.Client
	fallback int64
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	limits map[string]int64
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	now func() time.Time,
	sleep func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = sleepWithContext
	}

	return &RedisRateLimiter{
		client:   client,
		fallback: limitPerSec,
		now:      now,
		sleep:    sleep,
		limits:   make(map[string]int64),
	}, nil
}

// SetKindLimit overrides the default limit for one kind; limitPerSec <= 0
// removes the override.
func (r *RedisRateLimiter) SetKindLimit(kind string, limitPerSec int) {
	k := normalizeKind(kind)
	if k == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if limitPerSec <= 0 {
		delete(r.limits, k)
		return
	}
	r.limits[k] = int64(limitPerSec)
}

func (r *RedisRateLimiter) limit(kind string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.limits[kind]; ok {
		return l
	}
	return r.fallback
}

func (r *RedisRateLimiter) Allow(ctx context.Context, kind string) (bool, error) {
	retryIn, err := r.reserve(ctx, kind)
	return retryIn == 0 && err == nil, err
}

// Wait blocks until a send of kind fits in a window. A rejected caller sleeps
// until the current window closes instead of polling.
func (r *RedisRateLimiter) Wait(ctx context.Context, kind string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		retryIn, err := r.reserve(ctx, kind)
		if err != nil {
			return err
		}
		if retryIn == 0 {
			return nil
		}
		if err := r.sleep(ctx, retryIn); err != nil {
			return err
		}
	}
}

// reserve consumes a slot and returns zero, or returns how long until the
// current window ends when the window is full.
func (r *RedisRateLimiter) reserve(ctx context.Context, kind string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}
	k := normalizeKind(kind)
	if k == "" {
		return 0, fmt.Errorf("side effect kind is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := r.now().UTC()
	start := now.Truncate(window)
	key := fmt.Sprintf("ratelimit:{%s}:%d", k, start.Unix())

	ok, err := consumeScript.Run(ctx, r.client, []string{key}, r.limit(k), (2 * window).Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit for %s: %w", k, err)
	}
	if ok == 1 {
		return 0, nil
	}
	return max(start.Add(window).Sub(now), minWait), nil
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
