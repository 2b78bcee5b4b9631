package rate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var loginPolicy = Policy{MaxAttempts: 5, Window: 5 * time.Minute, MaxWindow: 120 * time.Minute}

func TestHitDeniesSixthAttemptWithRetryHint(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := &fakeClock{now: time.Now()}
	l := New(rdb, WithClock(clock.Now))
	key := Key("login", "account", "alice@x.edu")

	for i := 1; i <= 5; i++ {
		d, err := l.Hit(context.Background(), key, loginPolicy)
		if err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("hit %d should be allowed", i)
		}
		if d.Remaining != 5-i {
			t.Fatalf("hit %d: expected remaining %d, got %d", i, 5-i, d.Remaining)
		}
	}

	d, err := l.Hit(context.Background(), key, loginPolicy)
	if err != nil {
		t.Fatalf("hit 6: %v", err)
	}
	if d.Allowed {
		t.Fatal("6th hit must be denied")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("expected positive retry hint, got %v", d.RetryAfter)
	}
	if d.Degraded {
		t.Fatal("redis-backed decision must not be degraded")
	}
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := &fakeClock{now: time.Now()}
	l := New(rdb, WithClock(clock.Now))
	key := Key("login", "ip", "10.0.0.1")
	p := Policy{MaxAttempts: 2, Window: time.Minute}

	for i := 0; i < 3; i++ {
		if _, err := l.Hit(context.Background(), key, p); err != nil {
			t.Fatalf("hit: %v", err)
		}
	}
	clock.Advance(2 * time.Minute)

	d, err := l.Hit(context.Background(), key, p)
	if err != nil {
		t.Fatalf("hit: %v", err)
	}
	if !d.Allowed || d.Attempts != 1 {
		t.Fatalf("expected fresh window with one attempt, got %+v", d)
	}
}

func cooldowns(t *testing.T, hit func() Decision, clock *fakeClock, rounds int) []time.Duration {
	t.Helper()
	var out []time.Duration
	for i := 0; i < rounds; i++ {
		d := hit()
		if !d.Allowed {
			out = append(out, d.ResetAt.Sub(clock.Now()))
		}
		clock.Advance(time.Second)
	}
	return out
}

func TestBackoffIsMonotonicAndCapped(t *testing.T) {
	_, rdb := newTestRedis(t)
	clock := &fakeClock{now: time.Now()}
	l := New(rdb, WithClock(clock.Now))
	key := Key("login", "account", "bob@x.edu")

	windows := cooldowns(t, func() Decision {
		d, err := l.Hit(context.Background(), key, loginPolicy)
		if err != nil {
			t.Fatalf("hit: %v", err)
		}
		return d
	}, clock, 60)

	assertMonotonicCapped(t, windows, loginPolicy.MaxWindow)
	if windows[len(windows)-1] < 60*time.Minute {
		t.Fatalf("expected escalated window, last was %v", windows[len(windows)-1])
	}
}

func TestMemoryBackoffMatchesRedis(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	m := NewMemory()
	windows := cooldowns(t, func() Decision {
		return m.Hit("k", loginPolicy, clock.Now())
	}, clock, 60)
	assertMonotonicCapped(t, windows, loginPolicy.MaxWindow)
}

func assertMonotonicCapped(t *testing.T, windows []time.Duration, ceiling time.Duration) {
	t.Helper()
	if len(windows) == 0 {
		t.Fatal("expected denied hits")
	}
	// Windows are measured from a clock that advanced one second per hit, so
	// compare the absolute reset instants instead of raw remaining time.
	var prevEnd time.Duration
	for i, w := range windows {
		if w > ceiling {
			t.Fatalf("window %d exceeds ceiling: %v > %v", i, w, ceiling)
		}
		end := w + time.Duration(i)*time.Second
		if i > 0 && end < prevEnd {
			t.Fatalf("reset instant moved backwards at %d", i)
		}
		prevEnd = end
	}
}

func TestBackoffWindowSteps(t *testing.T) {
	p := Policy{MaxAttempts: 5, Window: 15 * time.Minute, MaxWindow: 120 * time.Minute}
	cases := []struct {
		attempts int
		want     time.Duration
		extend   bool
	}{
		{5, 0, false},
		{6, 15 * time.Minute, true},
		{7, 0, false},
		{11, 30 * time.Minute, true},
		{16, 60 * time.Minute, true},
		{21, 120 * time.Minute, true},
		{26, 120 * time.Minute, true},
	}
	for _, tc := range cases {
		got, ok := p.backoffWindow(tc.attempts)
		if ok != tc.extend || got != tc.want {
			t.Fatalf("attempts=%d: got (%v,%v) want (%v,%v)", tc.attempts, got, ok, tc.want, tc.extend)
		}
	}
}

func TestClearPermitsImmediateAttempt(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := New(rdb)
	key := Key("login", "account", "carol@x.edu")
	p := Policy{MaxAttempts: 1, Window: time.Hour}

	_, _ = l.Hit(context.Background(), key, p)
	d, _ := l.Hit(context.Background(), key, p)
	if d.Allowed {
		t.Fatal("expected second hit denied")
	}
	if err := l.Clear(context.Background(), key); err != nil {
		t.Fatalf("clear: %v", err)
	}
	d, _ = l.Hit(context.Background(), key, p)
	if !d.Allowed {
		t.Fatal("expected hit after clear to be allowed")
	}
}

func TestRedisOutageFailsClosedToMemory(t *testing.T) {
	mr, rdb := newTestRedis(t)
	var hooked int
	l := New(rdb, WithDegradedHook(func(string, error) { hooked++ }))
	key := Key("login", "account", "dave@x.edu")
	p := Policy{MaxAttempts: 2, Window: time.Minute}

	mr.Close()

	var last Decision
	for i := 0; i < 3; i++ {
		d, err := l.Hit(context.Background(), key, p)
		if err != nil {
			t.Fatalf("hit during outage returned error: %v", err)
		}
		if !d.Degraded {
			t.Fatal("expected degraded decision")
		}
		last = d
	}
	if last.Allowed {
		t.Fatal("memory fallback must still deny past the limit")
	}
	if hooked != 3 {
		t.Fatalf("expected 3 degraded callbacks, got %d", hooked)
	}
	if err := l.Clear(context.Background(), key); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected clear to surface redis failure, got %v", err)
	}
	if l.memory.Len() != 0 {
		t.Fatal("expected clear to drop memory counters")
	}
}

func TestConcurrentHitsDoNotLoseUpdates(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := New(rdb)
	key := Key("login", "ip", "10.1.1.1")
	p := Policy{MaxAttempts: 1000, Window: time.Hour}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Hit(context.Background(), key, p)
		}()
	}
	wg.Wait()

	n, err := l.Attempts(context.Background(), key)
	if err != nil {
		t.Fatalf("attempts: %v", err)
	}
	if n != 50 {
		t.Fatalf("expected 50 attempts, got %d", n)
	}
}

func TestHitRejectsInvalidPolicy(t *testing.T) {
	l := New(nil)
	if _, err := l.Hit(context.Background(), "k", Policy{}); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}
