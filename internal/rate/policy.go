package rate

import "time"

// Policy describes one counter track for one guarded action.
type Policy struct {
	// MaxAttempts is the number of hits allowed inside a window.
	MaxAttempts int
	// Window is the base window length.
	Window time.Duration
	// MaxWindow caps the backoff-extended window.
	MaxWindow time.Duration
	// CaptchaAfter flags decisions once attempts exceed it. Zero disables.
	CaptchaAfter int
}

// Decision is the outcome of a single hit on one track.
type Decision struct {
	Allowed         bool
	Attempts        int
	Remaining       int
	ResetAt         time.Time
	RetryAfter      time.Duration
	RequiresCaptcha bool
	// Degraded is set when the decision came from the process-local fallback.
	Degraded bool
}

// Key builds the counter key for an action, a scope (ip or account) and an
// identifier.
func Key(action, scope, id string) string {
	return "rl:" + action + ":" + scope + ":" + id
}

// backoffWindow returns the window to apply after a hit that brought the
// counter to attempts. Within the allowance it is the base window. Each time
// attempts cross a further multiple of MaxAttempts the window doubles,
// base*2^(violations-1), until MaxWindow.
func (p Policy) backoffWindow(attempts int) (time.Duration, bool) {
	if attempts <= p.MaxAttempts || (attempts-1)%p.MaxAttempts != 0 {
		return 0, false
	}
	violations := (attempts - 1) / p.MaxAttempts
	w := p.Window
	for i := 1; i < violations; i++ {
		w *= 2
		if p.MaxWindow > 0 && w >= p.MaxWindow {
			return p.MaxWindow, true
		}
	}
	if p.MaxWindow > 0 && w > p.MaxWindow {
		w = p.MaxWindow
	}
	return w, true
}

func (p Policy) decide(attempts int, resetAt, now time.Time) Decision {
	d := Decision{
		Allowed:  attempts <= p.MaxAttempts,
		Attempts: attempts,
		ResetAt:  resetAt,
	}
	if rem := p.MaxAttempts - attempts; rem > 0 {
		d.Remaining = rem
	}
	if !d.Allowed {
		d.RetryAfter = resetAt.Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	if p.CaptchaAfter > 0 && attempts > p.CaptchaAfter {
		d.RequiresCaptcha = true
	}
	return d
}

func (p Policy) valid() bool {
	return p.MaxAttempts > 0 && p.Window > 0
}
