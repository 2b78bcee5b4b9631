package authcore

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/rate"
	"go.uber.org/zap"
)

// Guarded actions. Each has its own policy and counters.
const (
	ActionLogin                = "login"
	ActionRefresh              = "refresh"
	ActionPasswordResetRequest = "password_reset_request"
	ActionPasswordResetConfirm = "password_reset_confirm"
)

const (
	scopeIP      = "ip"
	scopeAccount = "account"
)

func (e *Engine) policyFor(action string) (rate.Policy, bool) {
	var p RatePolicy
	switch action {
	case ActionLogin:
		p = e.config.RateLimit.Login
	case ActionRefresh:
		p = e.config.RateLimit.Refresh
	case ActionPasswordResetRequest:
		p = e.config.RateLimit.ResetRequest
	case ActionPasswordResetConfirm:
		p = e.config.RateLimit.ResetConfirm
	default:
		return rate.Policy{}, false
	}
	return rate.Policy{
		MaxAttempts:  p.MaxAttempts,
		Window:       p.Window,
		MaxWindow:    e.config.RateLimit.MaxBackoff,
		CaptchaAfter: p.CaptchaAfter,
	}, true
}

func normalizeAccount(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// trackHits is the combined outcome of one hit on every enabled track.
type trackHits struct {
	decision        RateLimitDecision
	accountAttempts int
	deniedScope     string
}

func (e *Engine) hitTracks(ctx context.Context, action, ip, account string) (trackHits, error) {
	policy, ok := e.policyFor(action)
	if !ok {
		return trackHits{}, ErrInvalidInput
	}

	out := trackHits{decision: RateLimitDecision{Allowed: true, Remaining: policy.MaxAttempts}}
	merge := func(scope string, d rate.Decision) {
		if !d.Allowed {
			out.decision.Allowed = false
			if out.deniedScope == "" {
				out.deniedScope = scope
			}
			if d.RetryAfter > out.decision.RetryAfter {
				out.decision.RetryAfter = d.RetryAfter
			}
		}
		if d.Remaining < out.decision.Remaining {
			out.decision.Remaining = d.Remaining
		}
		if d.ResetAt.After(out.decision.ResetAt) {
			out.decision.ResetAt = d.ResetAt
		}
		out.decision.RequiresCaptcha = out.decision.RequiresCaptcha || d.RequiresCaptcha
		out.decision.Degraded = out.decision.Degraded || d.Degraded
	}

	if e.config.RateLimit.EnableIPTrack && ip != "" {
		d, err := e.rateLimiter.Hit(ctx, rate.Key(action, scopeIP, ip), policy)
		if err != nil {
			return trackHits{}, err
		}
		merge(scopeIP, d)
	}
	if e.config.RateLimit.EnableAccountTrack && account != "" {
		d, err := e.rateLimiter.Hit(ctx, rate.Key(action, scopeAccount, account), policy)
		if err != nil {
			return trackHits{}, err
		}
		out.accountAttempts = d.Attempts
		merge(scopeAccount, d)
	}
	return out, nil
}

// CheckRateLimit records one attempt of action from ip against identifier and
// returns the combined decision of both tracks. Either argument may be empty
// to skip its track. For logins an active lockout is reported without
// recording an attempt, and an attempt past the lockout threshold engages one.
func (e *Engine) CheckRateLimit(ctx context.Context, action, ip, identifier string) (RateLimitDecision, error) {
	account := normalizeAccount(identifier)
	if action == ActionLogin {
		if st := e.lockout.State(ctx, account); st.Locked {
			return e.lockedDecision(st), nil
		}
	}
	hits, err := e.hitTracks(ctx, action, ip, account)
	if err != nil {
		return RateLimitDecision{}, err
	}
	if action == ActionLogin {
		if st := e.escalateLockout(ctx, identifier, hits.accountAttempts); st.Locked {
			return e.lockedDecision(st), nil
		}
	}
	return hits.decision, nil
}

func (e *Engine) lockedDecision(st limiters.LockState) RateLimitDecision {
	return RateLimitDecision{
		Locked:      true,
		LockedUntil: st.Until,
		RetryAfter:  st.Until.Sub(e.now()),
		Degraded:    st.Degraded,
	}
}

// escalateLockout engages the lockout of identifier once its login attempts
// pass the threshold. The first caller to engage it records the critical audit
// event. The zero LockState means the account stays unlocked.
func (e *Engine) escalateLockout(ctx context.Context, identifier string, attempts int) limiters.LockState {
	account := normalizeAccount(identifier)
	if !e.config.Lockout.Enabled || account == "" || attempts <= e.config.Lockout.After {
		return limiters.LockState{}
	}
	st, created := e.lockout.Engage(ctx, account, "too_many_failed_logins")
	if created {
		e.metricInc(MetricLockoutEngaged)
		e.emitCritical(ctx, auditEventAccountLocked, e.userIDForAudit(ctx, identifier), "", ErrAccountLocked, func() map[string]string {
			return map[string]string{
				"attempts":     strconv.Itoa(attempts),
				"locked_until": st.Until.UTC().Format(time.RFC3339),
			}
		})
	}
	return st
}

// ClearRateLimit deletes the counters of action for ip and account.
func (e *Engine) ClearRateLimit(ctx context.Context, action, ip, account string) error {
	if _, ok := e.policyFor(action); !ok {
		return ErrInvalidInput
	}
	var keys []string
	if ip != "" {
		keys = append(keys, rate.Key(action, scopeIP, ip))
	}
	if account = normalizeAccount(account); account != "" {
		keys = append(keys, rate.Key(action, scopeAccount, account))
	}
	return e.rateLimiter.Clear(ctx, keys...)
}

// UnlockAccount lifts a lockout and clears the login counters of identifier.
func (e *Engine) UnlockAccount(ctx context.Context, identifier string) error {
	account := normalizeAccount(identifier)
	if account == "" {
		return ErrInvalidInput
	}
	if err := e.lockout.Release(ctx, account); err != nil {
		return err
	}
	return e.ClearRateLimit(ctx, ActionLogin, "", account)
}

// guard applies the rate limit of a non-login action and converts a denial
// into a RateLimitError.
func (e *Engine) guard(ctx context.Context, action, account string) error {
	ip := clientIPFromContext(ctx)
	hits, err := e.hitTracks(ctx, action, ip, normalizeAccount(account))
	if err != nil {
		return err
	}
	if hits.decision.Allowed {
		return nil
	}
	e.emitRateLimit(ctx, action, hits.deniedScope, nil)
	return &RateLimitError{Action: action, RetryAfter: hits.decision.RetryAfter}
}

// admitLogin runs before any credential work: lockout, both tracks, lockout
// escalation and CAPTCHA, in that order. A locked account is rejected even
// when the password would have been correct.
func (e *Engine) admitLogin(ctx context.Context, identifier, captchaToken string) error {
	ip := clientIPFromContext(ctx)
	account := normalizeAccount(identifier)

	if st := e.lockout.State(ctx, account); st.Locked {
		e.metricInc(MetricLoginLocked)
		return &LockedError{Until: st.Until, Reason: st.Reason}
	}

	hits, err := e.hitTracks(ctx, ActionLogin, ip, account)
	if err != nil {
		return err
	}

	if st := e.escalateLockout(ctx, identifier, hits.accountAttempts); st.Locked {
		e.metricInc(MetricLoginLocked)
		return &LockedError{Until: st.Until, Reason: st.Reason}
	}

	if !hits.decision.Allowed {
		e.metricInc(MetricLoginRateLimited)
		e.emitRateLimit(ctx, ActionLogin, hits.deniedScope, nil)
		return &RateLimitError{
			Action:          ActionLogin,
			RetryAfter:      hits.decision.RetryAfter,
			RequiresCaptcha: hits.decision.RequiresCaptcha,
		}
	}

	if hits.decision.RequiresCaptcha && !e.captchaPasses(ctx, captchaToken, ip) {
		e.metricInc(MetricCaptchaRequired)
		return ErrCaptchaRequired
	}
	return nil
}

func (e *Engine) captchaPasses(ctx context.Context, token, ip string) bool {
	if e.captcha == nil || token == "" {
		return false
	}
	ok, err := e.captcha.Verify(ctx, token, ip)
	if err != nil {
		e.logger.Warn("captcha verification failed", zap.Error(err))
		return false
	}
	return ok
}

// loginSucceeded clears the login counters of the identifier and the origin
// it succeeded from. A failed clear only costs the user a stale counter.
func (e *Engine) loginSucceeded(ctx context.Context, identifier string) {
	if err := e.ClearRateLimit(ctx, ActionLogin, clientIPFromContext(ctx), identifier); err != nil {
		e.logger.Warn("login counter clear failed", zap.Error(err))
	}
}

func (e *Engine) userIDForAudit(ctx context.Context, identifier string) string {
	u, err := e.users.GetByIdentifier(ctx, strings.TrimSpace(identifier))
	if err != nil {
		return ""
	}
	return u.ID
}
