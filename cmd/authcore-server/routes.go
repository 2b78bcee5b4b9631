package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type server struct {
	engine *authcore.Engine
	logger *zap.Logger
}

func newRouter(engine *authcore.Engine, metrics http.Handler, logger *zap.Logger) http.Handler {
	s := &server{engine: engine, logger: logger}

	r := mux.NewRouter()
	r.Use(recoverMiddleware(logger), middleware.ClientInfo)

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	pub := r.PathPrefix("/auth").Subrouter()
	pub.HandleFunc("/login", s.login).Methods(http.MethodPost)
	pub.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)
	pub.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	pub.HandleFunc("/password-reset", s.requestReset).Methods(http.MethodPost)
	pub.HandleFunc("/password-reset/confirm", s.confirmReset).Methods(http.MethodPost)

	me := r.PathPrefix("/me").Subrouter()
	me.Use(middleware.Authenticate(engine), middleware.CSRF(engine))
	me.HandleFunc("", s.me).Methods(http.MethodGet)
	me.HandleFunc("/csrf", s.csrfToken).Methods(http.MethodGet)
	me.HandleFunc("/sessions", s.sessions).Methods(http.MethodGet)
	me.HandleFunc("/logout-all", s.logoutAll).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.Authenticate(engine), middleware.CSRF(engine), middleware.RequireRole("admin"))
	admin.HandleFunc("/users/{id}/status", s.setStatus).Methods(http.MethodPost)
	admin.HandleFunc("/unlock", s.unlock).Methods(http.MethodPost)

	return r
}

func recoverMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in handler", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					http.Error(w, "internal error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type tokenResponse struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	CSRFToken       string    `json:"csrf_token"`
	UserID          string    `json:"user_id"`
	Role            string    `json:"role"`
}

type identityResponse struct {
	UserID     string `json:"user_id"`
	Identifier string `json:"identifier"`
	Role       string `json:"role"`
	Status     string `json:"status"`
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	hs := s.engine.Health(r.Context())
	status := http.StatusOK
	if !hs.DBAvailable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{
		"db":    hs.DBAvailable,
		"redis": hs.RedisAvailable,
	})
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identifier   string `json:"identifier"`
		Password     string `json:"password"`
		DeviceID     string `json:"device_id"`
		CaptchaToken string `json:"captcha_token"`
	}
	if !decode(w, r, &body) {
		return
	}

	res, err := s.engine.Login(r.Context(), authcore.LoginRequest{
		Identifier:   body.Identifier,
		Password:     body.Password,
		DeviceID:     body.DeviceID,
		CaptchaToken: body.CaptchaToken,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	s.writeSession(w, res)
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	cfg := s.engine.SessionConfig()
	raw := middleware.RefreshTokenFromRequest(r, cfg)
	if raw == "" {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if !decode(w, r, &body) {
			return
		}
		raw = body.RefreshToken
	}

	res, err := s.engine.Refresh(r.Context(), raw)
	if err != nil {
		middleware.ClearSessionCookies(w, cfg)
		middleware.WriteError(w, err)
		return
	}
	s.writeSession(w, res)
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	cfg := s.engine.SessionConfig()
	if raw := middleware.RefreshTokenFromRequest(r, cfg); raw != "" {
		if err := s.engine.Logout(r.Context(), raw); err != nil {
			middleware.WriteError(w, err)
			return
		}
	}
	middleware.ClearSessionCookies(w, cfg)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) requestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identifier string `json:"identifier"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.RequestPasswordReset(r.Context(), body.Identifier); err != nil {
		middleware.WriteError(w, err)
		return
	}
	// Identical for known and unknown identifiers.
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) confirmReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.ConfirmPasswordReset(r.Context(), body.Token, body.NewPassword); err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.ClearSessionCookies(w, s.engine.SessionConfig())
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, identityResponse{
		UserID:     id.UserID,
		Identifier: id.Identifier,
		Role:       id.Role,
		Status:     string(id.Status),
	})
}

func (s *server) csrfToken(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	tok, exp, err := s.engine.IssueCSRFToken(id.UserID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.SetCSRFCookie(w, s.engine.SessionConfig(), s.engine.CSRFConfig(), tok, exp)
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": tok})
}

func (s *server) sessions(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	list, err := s.engine.ListSessions(r.Context(), id.UserID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) logoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	if err := s.engine.LogoutAll(r.Context(), id.UserID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.ClearSessionCookies(w, s.engine.SessionConfig())
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) setStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string    `json:"status"`
		Until  time.Time `json:"until"`
		Reason string    `json:"reason"`
	}
	if !decode(w, r, &body) {
		return
	}
	userID := mux.Vars(r)["id"]
	if err := s.engine.SetAccountStatus(r.Context(), userID, authcore.AccountStatus(body.Status), body.Until, body.Reason); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) unlock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Identifier string `json:"identifier"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.UnlockAccount(r.Context(), body.Identifier); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) writeSession(w http.ResponseWriter, res *authcore.LoginResult) {
	middleware.SetSessionCookies(w, s.engine.SessionConfig(), res.TokenPair)

	csrfTok, csrfExp, err := s.engine.IssueCSRFToken(res.User.UserID)
	if err != nil {
		s.logger.Warn("csrf token issue failed", zap.Error(err))
	} else {
		middleware.SetCSRFCookie(w, s.engine.SessionConfig(), s.engine.CSRFConfig(), csrfTok, csrfExp)
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:     res.AccessToken,
		AccessExpiresAt: res.AccessExpiresAt,
		CSRFToken:       csrfTok,
		UserID:          res.User.UserID,
		Role:            res.User.Role,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteError(w, authcore.ErrInvalidInput)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
