package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/csrf"
	"github.com/MrEthical07/authcore/internal"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/cleanup"
	internalflows "github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine composes the token service, password reset, abuse engine, CSRF
// guard and auth gateway. Build it with New().…Build(); it is safe for
// concurrent use.
type Engine struct {
	config Config
	db     *sqlx.DB
	redis  redis.UniversalClient
	logger *zap.Logger
	now    func() time.Time
	pepper []byte

	users       *stores.UserStore
	resetTokens *stores.PasswordResetStore
	auditStore  *stores.AuditStore
	sessions    *session.Store

	rateLimiter  *rate.Limiter
	lockout      *limiters.LockoutLimiter
	passwordHash *password.Argon2
	dummyHash    string
	jwtManager   *jwt.Manager
	csrf         *csrf.Guard

	notifier Notifier
	captcha  CaptchaVerifier

	audit   *internalaudit.Dispatcher
	metrics *Metrics
	cleanup *cleanup.Worker
	flows   internalflows.Deps
}

// Close stops the cleanup worker and drains the audit dispatcher. It does
// not close the database or Redis clients it was given.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.cleanup != nil {
		e.cleanup.Stop()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDelivered reports audit events handed to the sinks.
func (e *Engine) AuditDelivered() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Delivered()
}

// MetricsSnapshot returns a point-in-time copy of every counter and the
// latency histogram. A nil Engine returns empty maps.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// RunCleanup purges expired sessions and reset tokens once and returns the
// number of rows removed.
func (e *Engine) RunCleanup(ctx context.Context) int64 {
	return e.cleanup.RunOnce(ctx)
}

// Health pings the database and, when configured, Redis.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	var hs HealthStatus

	start := time.Now()
	hs.DBAvailable = stores.Ping(ctx, e.db) == nil
	hs.DBLatency = time.Since(start)

	if e.redis != nil {
		start = time.Now()
		hs.RedisAvailable = e.redis.Ping(ctx).Err() == nil
		hs.RedisLatency = time.Since(start)
	}
	return hs
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) onDegraded(op string, err error) {
	e.metricInc(MetricRateLimitDegraded)
	e.logger.Warn("abuse backend degraded, using in-memory fallback",
		zap.String("op", op),
		zap.Error(err),
	)
}

func (e *Engine) buildFlowDeps() internalflows.Deps {
	return internalflows.Deps{
		Login: internalflows.LoginDeps{
			UpgradeOnLogin:       e.config.Password.UpgradeOnLogin,
			DummyHash:            e.dummyHash,
			Admit:                e.admitLogin,
			Succeeded:            e.loginSucceeded,
			GetUserByIdentifier:  e.loginUserByIdentifier,
			IsUserNotFound:       func(err error) bool { return errors.Is(err, stores.ErrNotFound) },
			VerifyPassword:       e.passwordHash.Verify,
			PasswordNeedsUpgrade: e.passwordHash.NeedsUpgrade,
			HashPassword:         e.passwordHash.Hash,
			UpdatePasswordHash: func(ctx context.Context, userID, hash string) error {
				return e.users.UpdatePasswordHash(ctx, e.db, userID, hash, e.now())
			},
			CheckAccount: func(ctx context.Context, u internalflows.LoginUser) error {
				_, err := e.checkLiveStatus(ctx, u.UserID)
				return err
			},
			Warn: func(msg string, err error) {
				e.logger.Warn(msg, zap.Error(err))
			},
		},
		Refresh: internalflows.RefreshDeps{
			Now:              e.now,
			SessionTTL:       e.config.Session.RefreshTTL,
			Pepper:           e.pepper,
			NewSecret:        internal.NewOpaqueSecret,
			NewSessionID:     uuid.NewString,
			SessionStore:     e.sessions,
			IssueAccessToken: e.jwtManager.CreateAccess,
			CheckAccount: func(ctx context.Context, userID string) error {
				_, err := e.checkLiveStatus(ctx, userID)
				return err
			},
			RevokeFamily: e.revokeBreachFamily,
		},
		PasswordReset: internalflows.PasswordResetDeps{
			Now:          e.now,
			TokenTTL:     e.config.PasswordReset.TTL,
			Pepper:       e.pepper,
			NewSecret:    internal.NewOpaqueSecret,
			NewTokenID:   uuid.NewString,
			Codec:        e.jwtManager,
			Tokens:       e.resetTokens,
			CheckAccount: e.checkResetAccount,
			HashPassword: e.hashNewPassword,
			ConsumeReset: e.consumeReset,
		},
	}
}

// hashNewPassword maps policy failures of the hasher onto ErrPasswordPolicy.
func (e *Engine) hashNewPassword(pw string) (string, error) {
	hash, err := e.passwordHash.Hash(pw)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			return "", ErrPasswordPolicy
		}
		return "", err
	}
	return hash, nil
}

// storeError keeps sentinel classes intact and folds driver failures into
// ErrStoreUnavailable.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, stores.ErrNotFound) || errors.Is(err, session.ErrSessionNotFound) {
		return ErrNotFound
	}
	return ErrStoreUnavailable
}
