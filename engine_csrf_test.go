package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCSRFTokenBoundToUser(t *testing.T) {
	h := newHarness(t)

	tok, exp, err := h.engine.IssueCSRFToken("user-1")
	if err != nil {
		t.Fatalf("IssueCSRFToken: %v", err)
	}
	if !exp.Equal(h.clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", exp)
	}
	if !h.engine.VerifyCSRFToken(tok, "user-1") {
		t.Fatal("token must verify for its owner")
	}
	if h.engine.VerifyCSRFToken(tok, "user-2") {
		t.Fatal("token must not verify for another user")
	}
	if h.engine.VerifyCSRFToken(tok+"x", "user-1") {
		t.Fatal("tampered token must not verify")
	}

	h.clock.Advance(2 * time.Hour)
	if h.engine.VerifyCSRFToken(tok, "user-1") {
		t.Fatal("expired token must not verify")
	}

	if _, _, err := h.engine.IssueCSRFToken(""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCSRFTokenIsNotAnAccessToken(t *testing.T) {
	h := newHarness(t)
	user := h.seedUser(t, "alice@x.edu")

	tok, _, err := h.engine.IssueCSRFToken(user.UserID)
	if err != nil {
		t.Fatalf("IssueCSRFToken: %v", err)
	}
	if _, err := h.engine.Authenticate(context.Background(), tok); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestRecordCSRFRejectionAudits(t *testing.T) {
	h := newHarness(t)
	h.engine.RecordCSRFRejection(reqCtx(), "user-1", "mismatch")

	ev := h.waitEvent(t, auditEventCSRFRejected)
	if ev.Severity != SeverityWarning || ev.Metadata["reason"] != "mismatch" || ev.IP != testIP {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricCSRFRejected]; got != 1 {
		t.Fatalf("expected csrf rejected metric 1, got %d", got)
	}
}

func TestSessionConfigHidesPepper(t *testing.T) {
	h := newHarness(t)
	if h.engine.SessionConfig().Pepper != "" {
		t.Fatal("pepper must not leave the engine")
	}
	if h.engine.CSRFConfig().HeaderName != "X-CSRF-Token" {
		t.Fatalf("unexpected header %q", h.engine.CSRFConfig().HeaderName)
	}
}

func TestCreateAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.engine.CreateAccount(ctx, CreateAccountRequest{Identifier: " carol@x.edu ", Password: testPassword, Role: "admin"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if id.Identifier != "carol@x.edu" || id.Role != "admin" || id.Status != StatusActive {
		t.Fatalf("unexpected identity: %+v", id)
	}

	_, err = h.engine.CreateAccount(ctx, CreateAccountRequest{Identifier: "carol@x.edu", Password: testPassword})
	if !errors.Is(err, ErrAccountExists) || !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	_, err = h.engine.CreateAccount(ctx, CreateAccountRequest{Identifier: "dave@x.edu", Password: "short"})
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	_, err = h.engine.CreateAccount(ctx, CreateAccountRequest{Identifier: "", Password: testPassword})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRunCleanupPurgesDeadRows(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Cleanup.Retention = time.Hour })
	h.seedUser(t, "alice@x.edu")
	h.login(t, "alice@x.edu", "laptop")
	requestReset(t, h, "alice@x.edu")

	h.clock.Advance(8 * 24 * time.Hour)
	if n := h.engine.RunCleanup(context.Background()); n != 2 {
		t.Fatalf("expected 2 purged rows, got %d", n)
	}
	if n := h.countRows(t, `SELECT COUNT(*) FROM refresh_sessions`); n != 0 {
		t.Fatalf("expected no sessions left, got %d", n)
	}
}
