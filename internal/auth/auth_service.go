// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/gymkeeper/gymkeeper/internal/auth")

// Service provides registration and login.
type Service struct {
	accounts AccountRepository
	hasher   PasswordHasher
	tokens   *TokenManager
	failures FailureTracker
	logger   *slog.Logger

	// dummyHash is compared against when the email is unknown so the
	// response time does not reveal whether an account exists. It hashes a
	// random password that is discarded, so it matches nothing.
	dummyHash string
}

// NewAuthService creates a new Service.
func NewAuthService(accounts AccountRepository, hasher PasswordHasher, tokens *TokenManager, failures FailureTracker) (*Service, error) {
	return NewAuthServiceWithLogger(accounts, hasher, tokens, failures, slog.New(slog.DiscardHandler))
}

// NewAuthServiceWithLogger creates a new Service that logs best-effort
// failures to logger.
func NewAuthServiceWithLogger(accounts AccountRepository, hasher PasswordHasher, tokens *TokenManager, failures FailureTracker, logger *slog.Logger) (*Service, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("accounts repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("token manager is required")
	}
	if failures == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("failure tracker is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").Errorf("logger is required")
	}

	dummyHash, err := hasher.Hash(rand.Text())
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_SERVICE").
			With("operation", "hash dummy password").
			Wrap(err)
	}

	return &Service{
		accounts:  accounts,
		hasher:    hasher,
		tokens:    tokens,
		failures:  failures,
		logger:    logger,
		dummyHash: dummyHash,
	}, nil
}

// RegisterRequest carries the registration input.
type RegisterRequest struct {
	Email    string
	Password string
	Role     string
	Profile  Profile
}

// RegisterResult reports the created account.
type RegisterResult struct {
	Account  *Account
	Strength Strength
}

// Register creates an account. The checks run in order and the first
// failure aborts: password strength, email uniqueness, hashing, persistence.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	ctx, span := tracer.Start(ctx, "auth.Register")
	defer span.End()

	result, err := s.register(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "register failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("account.id", result.Account.ID.String()))
	return result, nil
}

func (s *Service) register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	strength, err := CheckPasswordPolicy(req.Password)
	if err != nil {
		return nil, err
	}

	email := NormalizeEmail(req.Email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	profile := req.Profile
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	role, coerced := ParseRole(req.Role)
	if coerced {
		s.logger.InfoContext(ctx, "unknown role coerced to member", "requested_role", req.Role)
	}

	_, err = s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, emailTakenError(email)
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	account, err := NewAccount(email, hash, role)
	if err != nil {
		return nil, err
	}
	profile.AccountID = account.ID

	if err := s.accounts.Create(ctx, account, &profile); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, emailTakenError(email)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create account").
			Wrap(err)
	}

	return &RegisterResult{Account: account, Strength: strength}, nil
}

func emailTakenError(email string) error {
	return oops.Code("AUTH_EMAIL_TAKEN").
		With("email", email).
		Errorf("email is already registered")
}

// LoginResult carries the issued token and the authenticated account.
type LoginResult struct {
	Account *Account
	Token   IssuedToken
}

// Login authenticates by email and password and issues a session token.
// Unknown emails and wrong passwords return the same error. The lockout and
// status checks run only after the password is verified.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	ctx, span := tracer.Start(ctx, "auth.Login")
	defer span.End()

	result, err := s.login(ctx, email, password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("account.id", result.Account.ID.String()))
	return result, nil
}

func (s *Service) login(ctx context.Context, email, password string) (*LoginResult, error) {
	account, lookupErr := s.accounts.GetByEmail(ctx, NormalizeEmail(email))

	var targetHash string
	accountExists := false
	switch {
	case lookupErr == nil:
		targetHash = account.PasswordHash
		accountExists = true
	case errors.Is(lookupErr, ErrNotFound):
		targetHash = s.dummyHash
	default:
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get account by email").
			Wrap(lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !accountExists {
			return nil, invalidCredentials()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	key := ""
	if accountExists {
		key = account.ID.String()
	}

	if !accountExists || !valid {
		if accountExists {
			status := s.failures.RecordFailure(key)
			if status.IsLockedOut {
				s.logger.WarnContext(ctx, "account locked after repeated login failures",
					"account_id", key, "failures", status.Failures)
			}
		}
		return nil, invalidCredentials()
	}

	if status := s.failures.Check(key); status.IsLockedOut {
		return nil, oops.Code("AUTH_ACCOUNT_LOCKED").
			With("account_id", key).
			With("retry_after", status.LockoutRemaining.String()).
			Errorf("account is temporarily locked")
	}

	if !account.IsActive() {
		return nil, oops.Code("AUTH_ACCOUNT_INACTIVE").
			With("account_id", key).
			Errorf("account is inactive")
	}

	if !s.tokens.Configured() {
		return nil, ErrSigningSecretMissing
	}

	token, err := s.tokens.Issue(account)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue token").
			Wrap(err)
	}

	s.failures.Reset(key)
	s.upgradeHash(ctx, account, password)

	return &LoginResult{Account: account, Token: token}, nil
}

// upgradeHash re-hashes the password when its cost differs from the
// configured one. Login succeeds regardless.
func (s *Service) upgradeHash(ctx context.Context, account *Account, password string) {
	if !s.hasher.NeedsUpgrade(account.PasswordHash) {
		return
	}
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "best-effort password hash upgrade failed",
			"account_id", account.ID.String(), "operation", "hash password", "error", err)
		return
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, newHash); err != nil {
		s.logger.WarnContext(ctx, "best-effort password hash upgrade failed",
			"account_id", account.ID.String(), "operation", "update password", "error", err)
		return
	}
	account.PasswordHash = newHash
}

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid email or password")
}
