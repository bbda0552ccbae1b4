// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// AccountService provides account administration and self-service
// operations for authenticated callers.
type AccountService struct {
	accounts AccountRepository
	hasher   PasswordHasher
	logger   *slog.Logger
}

// NewAccountService creates a new AccountService.
func NewAccountService(accounts AccountRepository, hasher PasswordHasher) (*AccountService, error) {
	return NewAccountServiceWithLogger(accounts, hasher, slog.New(slog.DiscardHandler))
}

// NewAccountServiceWithLogger creates a new AccountService with a logger.
func NewAccountServiceWithLogger(accounts AccountRepository, hasher PasswordHasher, logger *slog.Logger) (*AccountService, error) {
	if accounts == nil {
		return nil, oops.Code("ACCOUNT_INVALID_SERVICE").Errorf("accounts repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("ACCOUNT_INVALID_SERVICE").Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Code("ACCOUNT_INVALID_SERVICE").Errorf("logger is required")
	}
	return &AccountService{accounts: accounts, hasher: hasher, logger: logger}, nil
}

// ListActive returns all active accounts.
func (s *AccountService) ListActive(ctx context.Context) ([]*Account, error) {
	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").Wrap(err)
	}
	return accounts, nil
}

// GetActive returns the account with id if it exists and is active.
func (s *AccountService) GetActive(ctx context.Context, id ulid.ULID) (*Account, error) {
	account, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !account.IsActive() {
		return nil, notFound(id)
	}
	return account, nil
}

// Me returns the caller's account and profile.
func (s *AccountService) Me(ctx context.Context, id ulid.ULID) (*Account, *Profile, error) {
	account, err := s.get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	profile, err := s.accounts.GetProfile(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get profile").
			With("account_id", id.String()).
			Wrap(err)
	}
	return account, profile, nil
}

// UpdateRequest carries optional account changes. Nil fields are left as is.
type UpdateRequest struct {
	Email    *string
	Password *string
	Role     *string
}

// Update applies req to the active account with id. A new password is
// strength-checked and re-hashed; a new role is coerced like at registration.
func (s *AccountService) Update(ctx context.Context, id ulid.ULID, req UpdateRequest) (*Account, error) {
	account, err := s.GetActive(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Email != nil {
		email := NormalizeEmail(*req.Email)
		if err := ValidateEmail(email); err != nil {
			return nil, err
		}
		if email != account.Email {
			existing, err := s.accounts.GetByEmail(ctx, email)
			switch {
			case err == nil && existing.ID != account.ID:
				return nil, emailTakenError(email)
			case err != nil && !errors.Is(err, ErrNotFound):
				return nil, oops.Code("ACCOUNT_UPDATE_FAILED").
					With("operation", "get account by email").
					Wrap(err)
			}
			account.Email = email
		}
	}

	if req.Password != nil {
		if _, err := CheckPasswordPolicy(*req.Password); err != nil {
			return nil, err
		}
		hash, err := s.hasher.Hash(*req.Password)
		if err != nil {
			return nil, oops.Code("ACCOUNT_UPDATE_FAILED").
				With("operation", "hash password").
				Wrap(err)
		}
		account.PasswordHash = hash
	}

	if req.Role != nil {
		role, coerced := ParseRole(*req.Role)
		if coerced {
			s.logger.InfoContext(ctx, "unknown role coerced to member",
				"account_id", id.String(), "requested_role", *req.Role)
		}
		account.Role = role
	}

	account.UpdatedAt = time.Now()
	if err := s.accounts.Update(ctx, account); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyExists):
			return nil, emailTakenError(account.Email)
		case errors.Is(err, ErrNotFound):
			return nil, notFound(id)
		}
		return nil, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("account_id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// Deactivate marks the active account with id inactive. Accounts are never
// physically deleted.
func (s *AccountService) Deactivate(ctx context.Context, id ulid.ULID) error {
	if _, err := s.GetActive(ctx, id); err != nil {
		return err
	}
	if err := s.accounts.SetStatus(ctx, id, StatusInactive); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound(id)
		}
		return oops.Code("ACCOUNT_DEACTIVATE_FAILED").
			With("account_id", id.String()).
			Wrap(err)
	}
	return nil
}

// ChangePassword replaces the caller's password after checking the current one.
func (s *AccountService) ChangePassword(ctx context.Context, id ulid.ULID, current, next string) error {
	account, err := s.GetActive(ctx, id)
	if err != nil {
		return err
	}

	valid, err := s.hasher.Verify(current, account.PasswordHash)
	if err != nil {
		return oops.Code("ACCOUNT_PASSWORD_CHANGE_FAILED").
			With("operation", "verify password").
			Wrap(err)
	}
	if !valid {
		return invalidCredentials()
	}

	if _, err := CheckPasswordPolicy(next); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return oops.Code("ACCOUNT_PASSWORD_CHANGE_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}
	if err := s.accounts.UpdatePassword(ctx, id, hash); err != nil {
		return oops.Code("ACCOUNT_PASSWORD_CHANGE_FAILED").
			With("operation", "update password").
			Wrap(err)
	}
	return nil
}

func (s *AccountService) get(ctx context.Context, id ulid.ULID) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound(id)
		}
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("account_id", id.String()).
			Wrap(err)
	}
	return account, nil
}

func notFound(id ulid.ULID) error {
	return oops.Code("ACCOUNT_NOT_FOUND").
		With("account_id", id.String()).
		Wrap(ErrNotFound)
}
