package authcore

import (
	"context"
	"time"
)

// IssueCSRFToken returns a signed double-submit token bound to userID. The
// caller sets it as a readable cookie and the client echoes it in a header.
func (e *Engine) IssueCSRFToken(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrInvalidInput
	}
	tok, exp, err := e.csrf.Issue(userID)
	if err != nil {
		return "", time.Time{}, ErrInternal
	}
	e.metricInc(MetricCSRFIssued)
	return tok, exp, nil
}

// VerifyCSRFToken reports whether token is a live CSRF token of userID.
func (e *Engine) VerifyCSRFToken(token, userID string) bool {
	return e.csrf.Verify(token, userID)
}

// RecordCSRFRejection counts and audits a refused mutating request. It is
// called by the CSRF middleware.
func (e *Engine) RecordCSRFRejection(ctx context.Context, userID, reason string) {
	e.metricInc(MetricCSRFRejected)
	e.emitAudit(ctx, auditEventCSRFRejected, false, userID, "", ErrCSRFInvalid, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}

// CSRFConfig returns the header and cookie names the middleware uses.
func (e *Engine) CSRFConfig() CSRFConfig {
	return e.config.CSRF
}

// SessionConfig returns the cookie settings used when delivering tokens.
func (e *Engine) SessionConfig() SessionConfig {
	cfg := e.config.Session
	cfg.Pepper = ""
	return cfg
}
