package flows

import (
	"context"
	"errors"
)

// LoginFailureKind classifies login failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureAdmission
	LoginFailureUnknownUser
	LoginFailureBadPassword
	LoginFailureAccountStatus
	LoginFailureIssue
	LoginFailureStore
)

// LoginUser is the flow-local account view.
type LoginUser struct {
	UserID       string
	Identifier   string
	PasswordHash string
	Role         string
	Status       string
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	UpgradeOnLogin bool
	// DummyHash is verified against when the identifier is unknown so both
	// paths cost one hash evaluation.
	DummyHash string

	// Admit applies rate limits, lockout and CAPTCHA before any credential
	// work. Every call counts as an attempt.
	Admit func(ctx context.Context, identifier, captchaToken string) error
	// Succeeded clears the failure counters of identifier.
	Succeeded func(ctx context.Context, identifier string)

	GetUserByIdentifier  func(ctx context.Context, identifier string) (LoginUser, error)
	IsUserNotFound       func(error) bool
	VerifyPassword       func(password, hash string) (bool, error)
	PasswordNeedsUpgrade func(hash string) (bool, error)
	HashPassword         func(string) (string, error)
	UpdatePasswordHash   func(ctx context.Context, userID, hash string) error
	CheckAccount         func(ctx context.Context, user LoginUser) error
	Warn                 func(msg string, err error)
}

// LoginFlowResult carries the authenticated user or failure metadata.
type LoginFlowResult struct {
	Failure LoginFailureKind
	Err     error
	User    LoginUser
}

// RunLogin authenticates identifier/password. It does not issue tokens;
// the caller does so only when Failure is LoginFailureNone.
func RunLogin(ctx context.Context, identifier, password, captchaToken string, deps LoginDeps) LoginFlowResult {
	if err := deps.Admit(ctx, identifier, captchaToken); err != nil {
		return LoginFlowResult{Failure: LoginFailureAdmission, Err: err}
	}

	user, err := deps.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if deps.IsUserNotFound(err) {
			if deps.DummyHash != "" {
				_, _ = deps.VerifyPassword(password, deps.DummyHash)
			}
			return LoginFlowResult{Failure: LoginFailureUnknownUser, Err: err}
		}
		return LoginFlowResult{Failure: LoginFailureStore, Err: err}
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		if err == nil {
			err = errors.New("password mismatch")
		}
		return LoginFlowResult{Failure: LoginFailureBadPassword, Err: err, User: user}
	}

	if err := deps.CheckAccount(ctx, user); err != nil {
		return LoginFlowResult{Failure: LoginFailureAccountStatus, Err: err, User: user}
	}

	if deps.UpgradeOnLogin {
		upgradeHash(ctx, &user, password, deps)
	}

	if deps.Succeeded != nil {
		deps.Succeeded(ctx, identifier)
	}
	return LoginFlowResult{User: user}
}

func upgradeHash(ctx context.Context, user *LoginUser, password string, deps LoginDeps) {
	needs, err := deps.PasswordNeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	newHash, err := deps.HashPassword(password)
	if err != nil {
		if deps.Warn != nil {
			deps.Warn("password upgrade hash failed", err)
		}
		return
	}
	if err := deps.UpdatePasswordHash(ctx, user.UserID, newHash); err != nil {
		if deps.Warn != nil {
			deps.Warn("password upgrade store failed", err)
		}
		return
	}
	user.PasswordHash = newHash
}
