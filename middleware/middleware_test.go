package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const password = "correct-horse-battery"

func newEngine(t *testing.T) *authcore.Engine {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "auth.db") + "?_pragma=busy_timeout(5000)"
	db, err := stores.Open(context.Background(), stores.DriverSQLite, dsn, stores.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Session.Pepper = "middleware-pepper-0123456789abcdef-0123"
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Database.Driver = "sqlite"
	cfg.Cleanup.Enabled = false
	cfg.Audit.Enabled = false

	engine, err := authcore.New().WithConfig(cfg).WithDB(db).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func loginUser(t *testing.T, engine *authcore.Engine, identifier, role string) *authcore.LoginResult {
	t.Helper()
	ctx := context.Background()
	_, err := engine.CreateAccount(ctx, authcore.CreateAccountRequest{Identifier: identifier, Password: password, Role: role})
	require.NoError(t, err)
	res, err := engine.Login(ctx, authcore.LoginRequest{Identifier: identifier, Password: password, DeviceID: "browser"})
	require.NoError(t, err)
	return res
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())
		src, _ := CredentialSourceFromContext(r.Context())
		w.Header().Set("X-User", id.UserID)
		w.Header().Set("X-Source", string(src))
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticatePrefersCookieThenBearer(t *testing.T) {
	engine := newEngine(t)
	pair := loginUser(t, engine, "alice@x.edu", "user")
	h := Authenticate(engine)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: pair.AccessToken})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, pair.User.UserID, rec.Header().Get("X-User"))
	assert.Equal(t, string(SourceCookie), rec.Header().Get("X-Source"))

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, string(SourceHeader), rec.Header().Get("X-Source"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateRejectsBannedAccount(t *testing.T) {
	engine := newEngine(t)
	pair := loginUser(t, engine, "alice@x.edu", "user")
	require.NoError(t, engine.SetAccountStatus(context.Background(), pair.User.UserID, authcore.StatusBanned, time.Time{}, "abuse"))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	Authenticate(engine)(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCSRFOnlyGuardsMutatingCookieRequests(t *testing.T) {
	engine := newEngine(t)
	pair := loginUser(t, engine, "alice@x.edu", "user")
	h := Authenticate(engine)(CSRF(engine)(okHandler()))

	csrfToken, _, err := engine.IssueCSRFToken(pair.User.UserID)
	require.NoError(t, err)

	cookieReq := func(method string) *http.Request {
		req := httptest.NewRequest(method, "/settings", nil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: pair.AccessToken})
		return req
	}

	cases := []struct {
		name string
		req  func() *http.Request
		want int
	}{
		{"safe method", func() *http.Request { return cookieReq(http.MethodGet) }, http.StatusNoContent},
		{"missing token", func() *http.Request { return cookieReq(http.MethodPost) }, http.StatusForbidden},
		{"header without cookie", func() *http.Request {
			req := cookieReq(http.MethodPost)
			req.Header.Set("X-CSRF-Token", csrfToken)
			return req
		}, http.StatusForbidden},
		{"mismatched pair", func() *http.Request {
			req := cookieReq(http.MethodDelete)
			req.Header.Set("X-CSRF-Token", csrfToken)
			req.AddCookie(&http.Cookie{Name: "csrf_token", Value: csrfToken + "x"})
			return req
		}, http.StatusForbidden},
		{"forged pair", func() *http.Request {
			req := cookieReq(http.MethodPut)
			req.Header.Set("X-CSRF-Token", "forged")
			req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "forged"})
			return req
		}, http.StatusForbidden},
		{"valid double submit", func() *http.Request {
			req := cookieReq(http.MethodPost)
			req.Header.Set("X-CSRF-Token", csrfToken)
			req.AddCookie(&http.Cookie{Name: "csrf_token", Value: csrfToken})
			return req
		}, http.StatusNoContent},
		{"bearer request", func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/settings", nil)
			req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
			return req
		}, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tc.req())
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestCSRFTokenOfAnotherUserRejected(t *testing.T) {
	engine := newEngine(t)
	alice := loginUser(t, engine, "alice@x.edu", "user")
	bob := loginUser(t, engine, "bob@x.edu", "user")

	bobToken, _, err := engine.IssueCSRFToken(bob.User.UserID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/settings", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: alice.AccessToken})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: bobToken})
	req.Header.Set("X-CSRF-Token", bobToken)
	rec := httptest.NewRecorder()
	Authenticate(engine)(CSRF(engine)(okHandler())).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireRole(t *testing.T) {
	engine := newEngine(t)
	admin := loginUser(t, engine, "root@x.edu", "admin")
	user := loginUser(t, engine, "alice@x.edu", "user")
	h := Authenticate(engine)(RequireRole("admin")(okHandler()))

	for _, tc := range []struct {
		token string
		want  int
	}{
		{admin.AccessToken, http.StatusNoContent},
		{user.AccessToken, http.StatusForbidden},
	} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+tc.token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code)
	}
}

func TestClientInfoPopulatesContext(t *testing.T) {
	engine := newEngine(t)
	_, err := engine.CreateAccount(context.Background(), authcore.CreateAccountRequest{Identifier: "alice@x.edu", Password: password})
	require.NoError(t, err)

	var sessions []authcore.SessionInfo
	h := ClientInfo(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := engine.Login(r.Context(), authcore.LoginRequest{Identifier: "alice@x.edu", Password: password})
		require.NoError(t, err)
		sessions, err = engine.ListSessions(r.Context(), res.User.UserID)
		require.NoError(t, err)
	}))

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "198.51.100.23:50123"
	req.Header.Set("User-Agent", "Mozilla/5.0 test")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, sessions, 1)
	assert.Equal(t, "198.51.100.23", sessions[0].IP)
	assert.Equal(t, "Mozilla/5.0 test", sessions[0].UserAgent)
	assert.NotEmpty(t, sessions[0].DeviceID)
}

func TestWriteErrorStatusAndRetryAfter(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{authcore.ErrInvalidInput, http.StatusBadRequest},
		{authcore.ErrInvalidCredentials, http.StatusUnauthorized},
		{authcore.ErrAccountBanned, http.StatusForbidden},
		{authcore.ErrUserNotFound, http.StatusNotFound},
		{authcore.ErrResetAlreadyUsed, http.StatusConflict},
		{&authcore.LockedError{Until: time.Now().Add(time.Minute)}, http.StatusLocked},
		{&authcore.RateLimitError{Action: authcore.ActionLogin, RetryAfter: 90 * time.Second}, http.StatusTooManyRequests},
		{authcore.ErrStoreUnavailable, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, tc.err)
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}

	rec := httptest.NewRecorder()
	WriteError(rec, &authcore.RateLimitError{RetryAfter: 90 * time.Second})
	assert.Equal(t, strconv.Itoa(90), rec.Header().Get("Retry-After"))
}

func TestSessionCookies(t *testing.T) {
	cfg := authcore.DefaultConfig().Session
	rec := httptest.NewRecorder()
	SetSessionCookies(rec, cfg, authcore.TokenPair{
		AccessToken:      "a",
		AccessExpiresAt:  time.Now().Add(time.Minute),
		RefreshToken:     "r",
		RefreshExpiresAt: time.Now().Add(time.Hour),
	})
	SetCSRFCookie(rec, cfg, authcore.DefaultConfig().CSRF, "c", time.Now().Add(time.Hour))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 3)
	for _, c := range cookies {
		assert.Equal(t, http.SameSiteStrictMode, c.SameSite, c.Name)
		assert.True(t, c.Secure, c.Name)
		assert.Equal(t, c.Name != "csrf_token", c.HttpOnly, c.Name)
	}

	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req.AddCookie(&http.Cookie{Name: cfg.RefreshCookieName, Value: "r"})
	assert.Equal(t, "r", RefreshTokenFromRequest(req, cfg))
}
