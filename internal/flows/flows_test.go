package flows

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
	"github.com/google/uuid"
)

var errNotFound = errors.New("not found")

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func loginDeps(user LoginUser, admitErr error) (LoginDeps, *[]string) {
	var calls []string
	return LoginDeps{
		DummyHash: "dummy",
		Admit: func(context.Context, string, string) error {
			calls = append(calls, "admit")
			return admitErr
		},
		Succeeded: func(context.Context, string) { calls = append(calls, "succeeded") },
		GetUserByIdentifier: func(_ context.Context, identifier string) (LoginUser, error) {
			calls = append(calls, "lookup")
			if identifier != user.Identifier {
				return LoginUser{}, errNotFound
			}
			return user, nil
		},
		IsUserNotFound: func(err error) bool { return errors.Is(err, errNotFound) },
		VerifyPassword: func(password, hash string) (bool, error) {
			calls = append(calls, "verify:"+hash)
			return password == "pw" && hash == user.PasswordHash, nil
		},
		CheckAccount: func(_ context.Context, u LoginUser) error {
			calls = append(calls, "check")
			if u.Status == stores.StatusBanned {
				return errors.New("banned")
			}
			return nil
		},
	}, &calls
}

func TestRunLoginAdmissionComesFirst(t *testing.T) {
	deps, calls := loginDeps(LoginUser{UserID: "u1", Identifier: "a", PasswordHash: "h"}, errors.New("limited"))
	res := RunLogin(context.Background(), "a", "pw", "", deps)
	if res.Failure != LoginFailureAdmission {
		t.Fatalf("expected admission failure, got %v", res.Failure)
	}
	if len(*calls) != 1 {
		t.Fatalf("no credential work may happen after a denied admission: %v", *calls)
	}
}

func TestRunLoginUnknownUserBurnsDummyHash(t *testing.T) {
	deps, calls := loginDeps(LoginUser{UserID: "u1", Identifier: "a", PasswordHash: "h"}, nil)
	res := RunLogin(context.Background(), "b", "pw", "", deps)
	if res.Failure != LoginFailureUnknownUser {
		t.Fatalf("expected unknown user, got %v", res.Failure)
	}
	if got := (*calls)[len(*calls)-1]; got != "verify:dummy" {
		t.Fatalf("expected dummy verification, got %v", *calls)
	}
}

func TestRunLoginStatusCheckedAfterPassword(t *testing.T) {
	banned := LoginUser{UserID: "u1", Identifier: "a", PasswordHash: "h", Status: stores.StatusBanned}

	deps, calls := loginDeps(banned, nil)
	if res := RunLogin(context.Background(), "a", "wrong", "", deps); res.Failure != LoginFailureBadPassword {
		t.Fatalf("expected bad password, got %v", res.Failure)
	}
	for _, c := range *calls {
		if c == "check" {
			t.Fatal("status must not be revealed before the password verified")
		}
	}

	deps, calls = loginDeps(banned, nil)
	if res := RunLogin(context.Background(), "a", "pw", "", deps); res.Failure != LoginFailureAccountStatus {
		t.Fatalf("expected account status failure, got %v", res.Failure)
	}
	for _, c := range *calls {
		if c == "succeeded" {
			t.Fatal("counters must not clear for a refused account")
		}
	}
}

func TestRunLoginSuccessClearsAndUpgrades(t *testing.T) {
	deps, calls := loginDeps(LoginUser{UserID: "u1", Identifier: "a", PasswordHash: "h"}, nil)
	deps.UpgradeOnLogin = true
	deps.PasswordNeedsUpgrade = func(string) (bool, error) { return true, nil }
	deps.HashPassword = func(string) (string, error) { return "h2", nil }
	var stored string
	deps.UpdatePasswordHash = func(_ context.Context, _, hash string) error {
		stored = hash
		return nil
	}

	res := RunLogin(context.Background(), "a", "pw", "", deps)
	if res.Failure != LoginFailureNone {
		t.Fatalf("expected success, got %v (%v)", res.Failure, res.Err)
	}
	if stored != "h2" || res.User.PasswordHash != "h2" {
		t.Fatalf("expected upgraded hash, got %q / %q", stored, res.User.PasswordHash)
	}
	if (*calls)[len(*calls)-1] != "succeeded" {
		t.Fatalf("expected counters cleared last, got %v", *calls)
	}
}

// memSessions is an in-memory RefreshSessionStore with the same
// compare-and-set semantics as the SQL store.
type memSessions struct {
	mu   sync.Mutex
	byID map[string]*session.Session
}

func newMemSessions() *memSessions {
	return &memSessions{byID: map[string]*session.Session{}}
}

func (m *memSessions) Create(_ context.Context, sess *session.Session, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.UserID == sess.UserID && s.DeviceID == sess.DeviceID && s.State(now) == session.StateActive {
			s.IsRevoked = true
		}
	}
	cp := *sess
	m.byID[sess.ID] = &cp
	return nil
}

func (m *memSessions) GetByLookupKey(_ context.Context, key string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.LookupKey == key {
			cp := *s
			return &cp, nil
		}
	}
	return nil, session.ErrSessionNotFound
}

func (m *memSessions) Rotate(_ context.Context, currentID string, next *session.Session, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[currentID]
	if !ok || cur.State(now) != session.StateActive {
		return session.ErrRotateConflict
	}
	cur.ReplacedBy.String, cur.ReplacedBy.Valid = next.ID, true
	cp := *next
	m.byID[next.ID] = &cp
	return nil
}

func (m *memSessions) revokeDevice(userID, deviceID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.byID {
		if s.UserID == userID && s.DeviceID == deviceID && !s.IsRevoked {
			s.IsRevoked = true
			n++
		}
	}
	return n
}

func refreshDeps(store *memSessions) RefreshDeps {
	return RefreshDeps{
		Now:          fixedNow,
		SessionTTL:   7 * 24 * time.Hour,
		Pepper:       []byte("flows-test-pepper-0123456789abcdef"),
		NewSecret:    internal.NewOpaqueSecret,
		NewSessionID: uuid.NewString,
		SessionStore: store,
		IssueAccessToken: func(userID string) (string, time.Time, error) {
			return "access-" + userID, fixedNow().Add(15 * time.Minute), nil
		},
		RevokeFamily: func(_ context.Context, sess *session.Session, _ time.Time) (int64, error) {
			return store.revokeDevice(sess.UserID, sess.DeviceID), nil
		},
	}
}

func TestRunRefreshRotatesAndDetectsReuse(t *testing.T) {
	store := newMemSessions()
	deps := refreshDeps(store)
	ctx := context.Background()

	issued, err := RunIssueRefresh(ctx, "u1", "laptop", "", "", deps)
	if err != nil {
		t.Fatalf("RunIssueRefresh: %v", err)
	}

	res := RunRefresh(ctx, issued.Secret, "", "", deps)
	if res.Failure != RefreshFailureNone {
		t.Fatalf("expected rotation, got %v (%v)", res.Failure, res.Err)
	}
	if res.RefreshToken == issued.Secret || res.Session.DeviceID != "laptop" {
		t.Fatalf("unexpected successor: %+v", res.Session)
	}

	replay := RunRefresh(ctx, issued.Secret, "", "", deps)
	if replay.Failure != RefreshFailureReuse {
		t.Fatalf("expected reuse, got %v", replay.Failure)
	}
	if replay.Revoked != 2 {
		t.Fatalf("expected consumed and successor revoked, got %d", replay.Revoked)
	}

	if got := RunRefresh(ctx, res.RefreshToken, "", "", deps); got.Failure != RefreshFailureRevoked {
		t.Fatalf("successor must be revoked, got %v", got.Failure)
	}
}

func TestRunRefreshClassifiesFailures(t *testing.T) {
	store := newMemSessions()
	deps := refreshDeps(store)
	ctx := context.Background()

	issued, err := RunIssueRefresh(ctx, "u1", "laptop", "", "", deps)
	if err != nil {
		t.Fatalf("RunIssueRefresh: %v", err)
	}
	other, _ := internal.NewOpaqueSecret()

	if got := RunRefresh(ctx, "short", "", "", deps).Failure; got != RefreshFailureMalformed {
		t.Fatalf("expected malformed, got %v", got)
	}
	if got := RunRefresh(ctx, other, "", "", deps).Failure; got != RefreshFailureNotFound {
		t.Fatalf("expected not found, got %v", got)
	}

	wrongPepper := deps
	wrongPepper.Pepper = []byte("another-pepper-0123456789abcdef-xx")
	if got := RunRefresh(ctx, issued.Secret, "", "", wrongPepper).Failure; got != RefreshFailureMismatch {
		t.Fatalf("expected hash mismatch, got %v", got)
	}

	denied := deps
	denied.CheckAccount = func(context.Context, string) error { return errors.New("banned") }
	if got := RunRefresh(ctx, issued.Secret, "", "", denied).Failure; got != RefreshFailureAccountStatus {
		t.Fatalf("expected account status, got %v", got)
	}

	late := deps
	late.Now = func() time.Time { return testNow.Add(8 * 24 * time.Hour) }
	if got := RunRefresh(ctx, issued.Secret, "", "", late).Failure; got != RefreshFailureExpired {
		t.Fatalf("expected expired, got %v", got)
	}
}

func TestRunRefreshSigningFailureKeepsSecretValid(t *testing.T) {
	store := newMemSessions()
	deps := refreshDeps(store)
	ctx := context.Background()

	issued, err := RunIssueRefresh(ctx, "u1", "laptop", "", "", deps)
	if err != nil {
		t.Fatalf("RunIssueRefresh: %v", err)
	}

	broken := deps
	broken.IssueAccessToken = func(string) (string, time.Time, error) {
		return "", time.Time{}, errors.New("signer offline")
	}
	if got := RunRefresh(ctx, issued.Secret, "", "", broken); got.Failure != RefreshFailureIssueAccess || got.Session != nil {
		t.Fatalf("expected issue-access failure without a successor, got %v %+v", got.Failure, got.Session)
	}

	// The secret was not consumed, so a retry rotates instead of tripping reuse.
	if got := RunRefresh(ctx, issued.Secret, "", "", deps); got.Failure != RefreshFailureNone {
		t.Fatalf("retry after signing failure: expected rotation, got %v (%v)", got.Failure, got.Err)
	}
}

func TestRunRefreshConcurrentSingleWinner(t *testing.T) {
	store := newMemSessions()
	deps := refreshDeps(store)
	ctx := context.Background()
	issued, err := RunIssueRefresh(ctx, "u1", "laptop", "", "", deps)
	if err != nil {
		t.Fatalf("RunIssueRefresh: %v", err)
	}

	const n = 16
	results := make(chan RefreshFailureKind, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- RunRefresh(ctx, issued.Secret, "", "", deps).Failure
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for k := range results {
		if k == RefreshFailureNone {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

// memResetTokens is an in-memory ResetTokenStore.
type memResetTokens struct {
	mu     sync.Mutex
	tokens map[string]*stores.ResetToken
}

func (m *memResetTokens) Replace(_ context.Context, tok *stores.ResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, t := range m.tokens {
		if t.UserID == tok.UserID && !t.Used {
			delete(m.tokens, k)
		}
	}
	cp := *tok
	m.tokens[tok.SecretHash] = &cp
	return nil
}

func (m *memResetTokens) GetByHash(_ context.Context, hash string) (*stores.ResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[hash]
	if !ok {
		return nil, stores.ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (m *memResetTokens) markUsed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.ID == id {
			if t.Used {
				return false
			}
			t.Used = true
			return true
		}
	}
	return false
}

func resetDeps(t *testing.T, tokens *memResetTokens) PasswordResetDeps {
	t.Helper()
	codec, err := jwt.NewManager(jwt.Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "authcore",
		Now:           fixedNow,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return PasswordResetDeps{
		Now:          fixedNow,
		TokenTTL:     15 * time.Minute,
		Pepper:       []byte("flows-test-pepper-0123456789abcdef"),
		NewSecret:    internal.NewOpaqueSecret,
		NewTokenID:   uuid.NewString,
		Codec:        codec,
		Tokens:       tokens,
		HashPassword: func(p string) (string, error) { return "hash:" + p, nil },
		ConsumeReset: func(_ context.Context, tok *stores.ResetToken, _ string, _ time.Time) (int64, error) {
			if !tokens.markUsed(tok.ID) {
				return 0, ErrResetConsumed
			}
			return 3, nil
		},
	}
}

func TestPasswordResetFlow(t *testing.T) {
	tokens := &memResetTokens{tokens: map[string]*stores.ResetToken{}}
	deps := resetDeps(t, tokens)
	ctx := context.Background()

	req, err := RunRequestPasswordReset(ctx, "u1", "", "", deps)
	if err != nil {
		t.Fatalf("RunRequestPasswordReset: %v", err)
	}
	for hash := range tokens.tokens {
		if hash == req.Envelope {
			t.Fatal("envelope must not be stored")
		}
	}

	res := RunConfirmPasswordReset(ctx, req.Envelope, "new-password", deps)
	if res.Reason != ResetReasonNone || res.Err != nil {
		t.Fatalf("confirm: %s %v", res.Reason, res.Err)
	}
	if res.SessionsRevoked != 3 || res.UserID != "u1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	again := RunConfirmPasswordReset(ctx, req.Envelope, "new-password", deps)
	if again.Reason != ResetReasonAlreadyUsed {
		t.Fatalf("expected already_used, got %q", again.Reason)
	}
}

func TestPasswordResetCheckAccountRunsAfterOwnership(t *testing.T) {
	tokens := &memResetTokens{tokens: map[string]*stores.ResetToken{}}
	deps := resetDeps(t, tokens)
	checked := false
	deps.CheckAccount = func(context.Context, string) error {
		checked = true
		return errors.New("banned")
	}

	res := RunConfirmPasswordReset(context.Background(), "garbage", "new-password", deps)
	if res.Reason != ResetReasonSignature || checked {
		t.Fatalf("status must not be consulted for an unproven envelope: %+v", res)
	}

	req, err := RunRequestPasswordReset(context.Background(), "u1", "", "", deps)
	if err != nil {
		t.Fatalf("RunRequestPasswordReset: %v", err)
	}
	res = RunConfirmPasswordReset(context.Background(), req.Envelope, "new-password", deps)
	if !checked || res.Err == nil || res.Reason != ResetReasonNone {
		t.Fatalf("expected status rejection, got %+v", res)
	}
}

func TestPasswordResetLostRaceIsAlreadyUsed(t *testing.T) {
	tokens := &memResetTokens{tokens: map[string]*stores.ResetToken{}}
	deps := resetDeps(t, tokens)
	req, err := RunRequestPasswordReset(context.Background(), "u1", "", "", deps)
	if err != nil {
		t.Fatalf("RunRequestPasswordReset: %v", err)
	}

	tok, reason, err := RunValidatePasswordReset(context.Background(), req.Envelope, deps)
	if reason != ResetReasonNone || err != nil {
		t.Fatalf("validate: %s %v", reason, err)
	}
	tokens.markUsed(tok.ID)

	// Validation read the token before the concurrent consume committed.
	deps.Tokens = staleTokens{tok: tok}
	res := RunConfirmPasswordReset(context.Background(), req.Envelope, "new-password", deps)
	if res.Reason != ResetReasonAlreadyUsed || !errors.Is(res.Err, ErrResetConsumed) {
		t.Fatalf("expected lost race as already_used, got %+v", res)
	}
}

type staleTokens struct {
	tok *stores.ResetToken
}

func (s staleTokens) Replace(context.Context, *stores.ResetToken) error { return nil }

func (s staleTokens) GetByHash(context.Context, string) (*stores.ResetToken, error) {
	cp := *s.tok
	return &cp, nil
}
