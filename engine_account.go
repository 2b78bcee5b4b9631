package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/google/uuid"
)

// CreateAccountRequest is the input to Engine.CreateAccount.
type CreateAccountRequest struct {
	Identifier string `validate:"required,max=320"`
	Password   string `validate:"required"`
	Role       string `validate:"max=64"`
}

// CreateAccount provisions a user row with an Argon2id hash. Account
// ownership otherwise belongs to the surrounding system; this exists for
// bootstrapping and for binaries that embed the core.
func (e *Engine) CreateAccount(ctx context.Context, req CreateAccountRequest) (*Identity, error) {
	req.Identifier = strings.TrimSpace(req.Identifier)
	if err := requestValidator.Struct(req); err != nil {
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", ErrInvalidInput, nil)
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	hash, err := e.hashNewPassword(req.Password)
	if err != nil {
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", err, nil)
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = "user"
	}
	now := e.now().Unix()
	u := &stores.User{
		ID:           uuid.NewString(),
		Identifier:   req.Identifier,
		PasswordHash: hash,
		Role:         role,
		Status:       stores.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.users.Create(ctx, u); err != nil {
		if errors.Is(err, stores.ErrDuplicateIdentifier) {
			err = ErrAccountExists
		} else {
			err = ErrStoreUnavailable
		}
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, "", "", err, nil)
		return nil, err
	}

	e.emitAudit(ctx, auditEventAccountCreationSuccess, true, u.ID, "", nil, func() map[string]string {
		return map[string]string{"role": role}
	})
	return &Identity{UserID: u.ID, Identifier: u.Identifier, Role: u.Role, Status: StatusActive}, nil
}
