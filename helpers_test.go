package authcore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

const (
	testIP       = "203.0.113.7"
	testAgent    = "authcore-test/1.0"
	testPassword = "correct-horse-battery"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

type sentReset struct {
	user      Identity
	envelope  string
	expiresAt time.Time
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []sentReset
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, user Identity, envelope string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentReset{user: user, envelope: envelope, expiresAt: expiresAt})
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *captureNotifier) last(t *testing.T) sentReset {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("expected a delivered reset envelope")
	}
	return n.sent[len(n.sent)-1]
}

// stubCaptcha accepts exactly one response token.
type stubCaptcha struct {
	accept string
}

func (s stubCaptcha) Verify(_ context.Context, token, _ string) (bool, error) {
	return token == s.accept, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Session.Pepper = "test-pepper-0123456789abcdef-0123456789"
	cfg.Session.CookieSecure = false
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.RateLimit.Login.CaptchaAfter = 0
	cfg.Database.Driver = "sqlite"
	cfg.Cleanup.Enabled = false
	return cfg
}

type harness struct {
	engine   *Engine
	clock    *fakeClock
	notifier *captureNotifier
	events   *ChannelSink
	db       *sqlx.DB
	mr       *miniredis.Miniredis
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	dsn := "file:" + filepath.Join(t.TempDir(), "auth.db") + "?_pragma=busy_timeout(5000)"
	db, err := stores.Open(context.Background(), stores.DriverSQLite, dsn, stores.PoolConfig{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		clock:    newFakeClock(),
		notifier: &captureNotifier{},
		events:   NewChannelSink(4096),
		db:       db,
		mr:       mr,
	}
	h.engine, err = New().
		WithConfig(cfg).
		WithDB(db).
		WithRedis(rdb).
		WithClock(h.clock.Now).
		WithNotifier(h.notifier).
		WithCaptchaVerifier(stubCaptcha{accept: "human"}).
		WithAuditSink(h.events).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(h.engine.Close)
	return h
}

func reqCtx() context.Context {
	return WithUserAgent(WithClientIP(context.Background(), testIP), testAgent)
}

func (h *harness) seedUser(t *testing.T, identifier string) *Identity {
	t.Helper()
	id, err := h.engine.CreateAccount(context.Background(), CreateAccountRequest{
		Identifier: identifier,
		Password:   testPassword,
	})
	if err != nil {
		t.Fatalf("create account %s: %v", identifier, err)
	}
	return id
}

func (h *harness) login(t *testing.T, identifier, deviceID string) *LoginResult {
	t.Helper()
	res, err := h.engine.Login(reqCtx(), LoginRequest{
		Identifier: identifier,
		Password:   testPassword,
		DeviceID:   deviceID,
	})
	if err != nil {
		t.Fatalf("login %s: %v", identifier, err)
	}
	return res
}

// waitEvent returns the first audit event of eventType, skipping others.
func (h *harness) waitEvent(t *testing.T, eventType string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("audit event %q not observed", eventType)
			return AuditEvent{}
		}
	}
}

func (h *harness) countRows(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	if err := h.db.Get(&n, h.db.Rebind(query), args...); err != nil {
		t.Fatalf("count query: %v", err)
	}
	return n
}
