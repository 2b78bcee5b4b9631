package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/csrf"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/cleanup"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. Each Builder builds at most one Engine.
type Builder struct {
	config Config
	db     *sqlx.DB
	redis  redis.UniversalClient
	logger *zap.Logger

	auditSink AuditSink
	notifier  Notifier
	captcha   CaptchaVerifier
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithDB sets the relational store. The schema must already be migrated,
// which stores.Open does.
func (b *Builder) WithDB(db *sqlx.DB) *Builder {
	b.db = db
	return b
}

// WithRedis sets the Redis client backing rate counters and lockouts.
// Without one, both run on process memory only.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink adds a sink next to the built-in audit_log writer.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithNotifier sets the collaborator that delivers reset envelopes.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithCaptchaVerifier sets the collaborator consulted for flagged logins.
func (b *Builder) WithCaptchaVerifier(v CaptchaVerifier) *Builder {
	b.captcha = v
	return b
}

// WithClock overrides time.Now for every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.db == nil {
		return nil, errors.New("database required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config:      cloneConfig(cfg),
		db:          b.db,
		redis:       b.redis,
		logger:      logger,
		now:         now,
		pepper:      []byte(cfg.Session.Pepper),
		users:       stores.NewUserStore(b.db),
		resetTokens: stores.NewPasswordResetStore(b.db),
		auditStore:  stores.NewAuditStore(b.db),
		sessions:    session.NewStore(b.db),
		notifier:    b.notifier,
		captcha:     b.captcha,
		metrics:     NewMetrics(cfg.Metrics),
	}

	engine.rateLimiter = rate.New(b.redis,
		rate.WithClock(now),
		rate.WithDegradedHook(engine.onDegraded),
	)
	engine.lockout = limiters.NewLockoutLimiter(b.redis, limiters.LockoutConfig{
		Enabled:  cfg.Lockout.Enabled,
		Duration: cfg.Lockout.Duration,
	}, now, engine.onDegraded)

	sinks := MultiSink{NewSQLAuditSink(b.db, logger)}
	if b.auditSink != nil {
		sinks = append(sinks, b.auditSink)
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		OnDrop: func(event AuditEvent) {
			logger.Warn("audit event dropped", zap.String("event_type", event.EventType))
		},
	}, sinks)

	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph
	if engine.dummyHash, err = ph.Hash("timing-equalizer-password"); err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    true,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	guard, err := csrf.New(jm, cfg.CSRF.TTL)
	if err != nil {
		return nil, err
	}
	engine.csrf = guard

	engine.flows = engine.buildFlowDeps()

	engine.cleanup = cleanup.NewWorker(cleanup.Config{
		Interval:  cfg.Cleanup.Interval,
		Retention: cfg.Cleanup.Retention,
		Now:       now,
		OnPurged: func(string, int64) {
			engine.metricInc(MetricCleanupPurged)
		},
	}, logger,
		cleanup.Task{Name: "refresh_sessions", Run: engine.sessions.PurgeExpired},
		cleanup.Task{Name: "password_reset_tokens", Run: engine.resetTokens.PurgeExpired},
	)
	if cfg.Cleanup.Enabled {
		engine.cleanup.Start(context.Background())
	}

	b.built = true

	return engine, nil
}
