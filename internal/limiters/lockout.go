package limiters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for account lockout records.
type LockoutConfig struct {
	Enabled  bool
	Duration time.Duration
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// LockState describes whether an account is locked right now.
type LockState struct {
	Locked   bool
	Until    time.Time
	Reason   string
	LockedAt time.Time
	// Degraded is set when Redis failed and the process-local record was used.
	Degraded bool
}

type lockRecord struct {
	LockedUntil int64  `json:"lockedUntil"`
	LockedAt    int64  `json:"lockedAt"`
	Reason      string `json:"reason"`

	// mirrored marks a memory copy of a record that Redis holds.
	mirrored bool
}

// LockoutLimiter stores one lockout record per account with a TTL equal to
// the lock duration. It fails closed onto process memory when Redis errors.
type LockoutLimiter struct {
	redis  redis.UniversalClient
	config LockoutConfig
	now    func() time.Time
	onFail func(op string, err error)

	mu     sync.Mutex
	memory map[string]lockRecord
}

// NewLockoutLimiter creates a new lockout limiter. A nil client keeps
// records in memory only.
func NewLockoutLimiter(redisClient redis.UniversalClient, cfg LockoutConfig, now func() time.Time, onFail func(op string, err error)) *LockoutLimiter {
	if now == nil {
		now = time.Now
	}
	return &LockoutLimiter{
		redis:  redisClient,
		config: cfg,
		now:    now,
		onFail: onFail,
		memory: make(map[string]lockRecord),
	}
}

func (l *LockoutLimiter) key(account string) string {
	return "lo:" + account
}

// State reports the lock on account. Redis is authoritative while it
// answers. Every lock seen in or written to Redis is mirrored in memory, so
// a read error falls back to the last known lock instead of reporting the
// account as unlocked. Locks engaged during an outage live only in memory
// and survive Redis coming back.
func (l *LockoutLimiter) State(ctx context.Context, account string) LockState {
	if !l.config.Enabled || account == "" {
		return LockState{}
	}
	now := l.now()

	if l.redis == nil {
		st, _ := l.memoryState(account, now, false)
		return st
	}

	raw, err := l.redis.Get(ctx, l.key(account)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Released or expired in Redis. Only outage-local records remain.
			st, _ := l.memoryState(account, now, true)
			return st
		}
		l.fail("state", err)
		if st, ok := l.memoryState(account, now, false); ok {
			st.Degraded = true
			return st
		}
		return LockState{Degraded: true}
	}
	var rec lockRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		l.fail("state", fmt.Errorf("decode lock record: %w", err))
		st, _ := l.memoryState(account, now, true)
		return st
	}
	l.mirror(account, rec)
	return stateFromRecord(rec, now, false)
}

// Engage locks account for the configured duration. created reports whether
// this call created the record; concurrent callers racing on the same
// threshold see exactly one true.
func (l *LockoutLimiter) Engage(ctx context.Context, account, reason string) (LockState, bool) {
	if !l.config.Enabled || account == "" || l.config.Duration <= 0 {
		return LockState{}, false
	}
	now := l.now()
	rec := lockRecord{
		LockedUntil: now.Add(l.config.Duration).Unix(),
		LockedAt:    now.Unix(),
		Reason:      reason,
	}

	if l.redis != nil {
		payload, err := json.Marshal(rec)
		if err == nil {
			ok, setErr := l.redis.SetNX(ctx, l.key(account), payload, l.config.Duration).Result()
			if setErr == nil {
				if !ok {
					return l.State(ctx, account), false
				}
				l.mirror(account, rec)
				return stateFromRecord(rec, now, false), true
			}
			err = setErr
		}
		l.fail("engage", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.memory[account]; ok && existing.LockedUntil > now.Unix() {
		return stateFromRecord(existing, now, l.redis != nil), false
	}
	l.memory[account] = rec
	return stateFromRecord(rec, now, l.redis != nil), true
}

// Release removes the lock (manual unlock).
func (l *LockoutLimiter) Release(ctx context.Context, account string) error {
	if account == "" {
		return nil
	}
	l.mu.Lock()
	delete(l.memory, account)
	l.mu.Unlock()

	if l.redis == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(account)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// memoryState reads the process-local record of account. dropMirrored
// discards a mirrored copy, used once Redis has confirmed it holds no lock.
func (l *LockoutLimiter) memoryState(account string, now time.Time, dropMirrored bool) (LockState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.memory[account]
	if !ok {
		return LockState{}, false
	}
	if rec.LockedUntil <= now.Unix() || (dropMirrored && rec.mirrored) {
		delete(l.memory, account)
		return LockState{}, false
	}
	return stateFromRecord(rec, now, l.redis != nil), true
}

func (l *LockoutLimiter) mirror(account string, rec lockRecord) {
	rec.mirrored = true
	l.mu.Lock()
	l.memory[account] = rec
	l.mu.Unlock()
}

func (l *LockoutLimiter) fail(op string, err error) {
	if l.onFail != nil {
		l.onFail(op, err)
	}
}

func stateFromRecord(rec lockRecord, now time.Time, degraded bool) LockState {
	until := time.Unix(rec.LockedUntil, 0)
	if !until.After(now) {
		return LockState{}
	}
	return LockState{
		Locked:   true,
		Until:    until,
		Reason:   rec.Reason,
		LockedAt: time.Unix(rec.LockedAt, 0),
		Degraded: degraded,
	}
}
