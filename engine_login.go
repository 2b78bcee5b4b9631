package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authcore/internal"
	internalflows "github.com/MrEthical07/authcore/internal/flows"
	"github.com/go-playground/validator/v10"
)

var requestValidator = validator.New()

// Login verifies credentials and issues a token pair bound to the request's
// device. Unknown identifiers and wrong passwords return the same
// ErrInvalidCredentials. Rate limits, lockout and CAPTCHA are applied before
// the credential is looked at, and account status only after it verified.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	req.Identifier = strings.TrimSpace(req.Identifier)
	if err := requestValidator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	res := internalflows.RunLogin(ctx, req.Identifier, req.Password, req.CaptchaToken, e.flows.Login)
	if res.Failure != internalflows.LoginFailureNone {
		err := e.loginError(res)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, res.User.UserID, "", err, nil)
		return nil, err
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = internal.DeviceIDFromUserAgent(userAgentFromContext(ctx))
	}

	pair, err := e.issuePair(ctx, res.User.UserID, deviceID)
	if err != nil {
		e.emitAudit(ctx, auditEventLoginFailure, false, res.User.UserID, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, res.User.UserID, pair.SessionID, nil, func() map[string]string {
		return map[string]string{"device_id": deviceID}
	})

	return &LoginResult{
		TokenPair: pair,
		User: Identity{
			UserID:     res.User.UserID,
			Identifier: res.User.Identifier,
			Role:       res.User.Role,
			Status:     AccountStatus(res.User.Status),
		},
	}, nil
}

func (e *Engine) loginError(res internalflows.LoginFlowResult) error {
	switch res.Failure {
	case internalflows.LoginFailureAdmission:
		if errors.Is(res.Err, ErrRateLimited) || errors.Is(res.Err, ErrLocked) {
			return res.Err
		}
		return ErrStoreUnavailable
	case internalflows.LoginFailureUnknownUser, internalflows.LoginFailureBadPassword:
		return ErrInvalidCredentials
	case internalflows.LoginFailureAccountStatus:
		if errors.Is(res.Err, ErrForbidden) {
			return res.Err
		}
		return storeError(res.Err)
	default:
		return ErrStoreUnavailable
	}
}

func (e *Engine) loginUserByIdentifier(ctx context.Context, identifier string) (internalflows.LoginUser, error) {
	u, err := e.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		return internalflows.LoginUser{}, err
	}
	return internalflows.LoginUser{
		UserID:       u.ID,
		Identifier:   u.Identifier,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		Status:       u.Status,
	}, nil
}

// issuePair creates a refresh session for (userID, deviceID), revoking the
// device's previous one, and signs an access token.
func (e *Engine) issuePair(ctx context.Context, userID, deviceID string) (TokenPair, error) {
	issued, err := internalflows.RunIssueRefresh(ctx, userID, deviceID,
		clientIPFromContext(ctx), userAgentFromContext(ctx), e.flows.Refresh)
	if err != nil {
		return TokenPair{}, storeError(err)
	}
	e.metricInc(MetricSessionCreated)

	access, accessExp, err := e.jwtManager.CreateAccess(userID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     issued.Secret,
		RefreshExpiresAt: unixTime(issued.Session.ExpiresAt),
		SessionID:        issued.Session.ID,
		DeviceID:         deviceID,
	}, nil
}
