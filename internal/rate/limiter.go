package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const hitScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local cap = tonumber(ARGV[4])

local attempts = tonumber(redis.call("HGET", KEYS[1], "a") or "0")
local reset_at = tonumber(redis.call("HGET", KEYS[1], "r") or "0")

if now >= reset_at then
  attempts = 1
  reset_at = now + window
else
  attempts = attempts + 1
  if attempts > max and (attempts - 1) % max == 0 then
    local violations = (attempts - 1) / max
    local extended = window
    for i = 2, violations do
      extended = extended * 2
      if cap > 0 and extended >= cap then
        extended = cap
        break
      end
    end
    if cap > 0 and extended > cap then
      extended = cap
    end
    if now + extended > reset_at then
      reset_at = now + extended
    end
  end
end

redis.call("HSET", KEYS[1], "a", attempts, "r", reset_at)
local ttl = reset_at - now
if ttl < 1 then
  ttl = 1
end
redis.call("PEXPIRE", KEYS[1], ttl)
return {attempts, reset_at}
`

var hitLua = redis.NewScript(hitScript)

// Limiter counts hits per key with windowed counters and exponential
// backoff. Redis is authoritative; on Redis errors the limiter fails closed
// onto a process-local Memory store.
type Limiter struct {
	redis      redis.UniversalClient
	memory     *Memory
	now        func() time.Time
	onDegraded func(op string, err error)
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithDegradedHook registers a callback invoked every time a call falls back
// to memory because Redis failed.
func WithDegradedHook(fn func(op string, err error)) Option {
	return func(l *Limiter) { l.onDegraded = fn }
}

// New creates a Limiter. A nil redisClient runs on memory only.
func New(redisClient redis.UniversalClient, opts ...Option) *Limiter {
	l := &Limiter{
		redis:  redisClient,
		memory: NewMemory(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Hit records one attempt on key and returns the resulting decision. The
// attempt is counted whether or not it is allowed, so hammering a denied
// key keeps extending its window.
func (l *Limiter) Hit(ctx context.Context, key string, p Policy) (Decision, error) {
	if !p.valid() {
		return Decision{}, ErrInvalidPolicy
	}
	now := l.now()
	if l.redis == nil {
		d := l.memory.Hit(key, p, now)
		d.Degraded = false
		return d, nil
	}

	res, err := hitLua.Run(ctx, l.redis, []string{key},
		now.UnixMilli(),
		p.Window.Milliseconds(),
		p.MaxAttempts,
		p.MaxWindow.Milliseconds(),
	).Int64Slice()
	if err != nil || len(res) != 2 {
		if err == nil {
			err = fmt.Errorf("unexpected script reply length %d", len(res))
		}
		l.degraded("hit", err)
		return l.memory.Hit(key, p, now), nil
	}

	return p.decide(int(res[0]), time.UnixMilli(res[1]), now), nil
}

// Clear deletes the counters for keys. Memory counters are dropped too so a
// success after an outage is not punished by stale fallback state.
func (l *Limiter) Clear(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	l.memory.Clear(keys...)
	if l.redis == nil {
		return nil
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		l.degraded("clear", err)
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the live attempt count for key without recording a hit.
func (l *Limiter) Attempts(ctx context.Context, key string) (int, error) {
	if l.redis == nil {
		l.memory.mu.Lock()
		defer l.memory.mu.Unlock()
		if e, ok := l.memory.entries[key]; ok && l.now().Before(e.resetAt) {
			return e.attempts, nil
		}
		return 0, nil
	}
	n, err := l.redis.HGet(ctx, key, "a").Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

func (l *Limiter) degraded(op string, err error) {
	if l.onDegraded != nil {
		l.onDegraded(op, err)
	}
}
