// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gymkeeper/gymkeeper/internal/auth"
	"github.com/gymkeeper/gymkeeper/internal/auth/mocks"
	"github.com/gymkeeper/gymkeeper/pkg/errutil"
)

const (
	storedHash = "$2a$10$stored"
	dummyHash  = "$2a$10$dummy"
)

// expectDummyHash registers the hash computed once by the service constructor.
func expectDummyHash(h *mocks.MockPasswordHasher) {
	h.On("Hash", mock.MatchedBy(func(p string) bool { return p != "" })).Return(dummyHash, nil).Once()
}

type authFixture struct {
	accounts *mocks.MockAccountRepository
	hasher   *mocks.MockPasswordHasher
	tokens   *auth.TokenManager
	failures *auth.MemoryFailureTracker
	svc      *auth.Service
}

func newAuthFixture(t *testing.T, secret string) *authFixture {
	t.Helper()
	f := &authFixture{
		accounts: mocks.NewMockAccountRepository(t),
		hasher:   mocks.NewMockPasswordHasher(t),
		tokens:   auth.NewTokenManager(secret),
		failures: auth.NewMemoryFailureTracker(auth.LockoutPolicy{Threshold: 3, Duration: 15 * time.Minute}),
	}
	expectDummyHash(f.hasher)
	svc, err := auth.NewAuthService(f.accounts, f.hasher, f.tokens, f.failures)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func storedAccount(status auth.Status) *auth.Account {
	return &auth.Account{
		ID:           ulid.Make(),
		Email:        "ana@example.com",
		PasswordHash: storedHash,
		Role:         auth.RoleMember,
		Status:       status,
	}
}

func TestNewAuthService_NilDependencies(t *testing.T) {
	tokens := auth.NewTokenManager("s")
	tests := []struct {
		name        string
		accounts    auth.AccountRepository
		hasher      auth.PasswordHasher
		tokens      *auth.TokenManager
		failures    auth.FailureTracker
		expectError string
	}{
		{"nil accounts repository", nil, mocks.NewMockPasswordHasher(t), tokens, auth.NoopFailureTracker{}, "accounts repository is required"},
		{"nil password hasher", mocks.NewMockAccountRepository(t), nil, tokens, auth.NoopFailureTracker{}, "password hasher is required"},
		{"nil token manager", mocks.NewMockAccountRepository(t), mocks.NewMockPasswordHasher(t), nil, auth.NoopFailureTracker{}, "token manager is required"},
		{"nil failure tracker", mocks.NewMockAccountRepository(t), mocks.NewMockPasswordHasher(t), tokens, nil, "failure tracker is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewAuthService(tt.accounts, tt.hasher, tt.tokens, tt.failures)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestNewAuthServiceWithLogger_NilLogger(t *testing.T) {
	svc, err := auth.NewAuthServiceWithLogger(mocks.NewMockAccountRepository(t), mocks.NewMockPasswordHasher(t),
		auth.NewTokenManager("s"), auth.NoopFailureTracker{}, nil)
	require.Error(t, err)
	assert.Nil(t, svc)
	assert.Contains(t, err.Error(), "logger")
}

func TestNewAuthService_DummyHashFailure(t *testing.T) {
	hasher := mocks.NewMockPasswordHasher(t)
	hasher.On("Hash", mock.AnythingOfType("string")).Return("", errors.New("rng exhausted"))

	svc, err := auth.NewAuthService(mocks.NewMockAccountRepository(t), hasher,
		auth.NewTokenManager("s"), auth.NoopFailureTracker{})
	require.Error(t, err)
	assert.Nil(t, svc)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_SERVICE")
}

// recordingHasher remembers the hashes passed to Verify.
type recordingHasher struct {
	*auth.BcryptHasher
	verified []string
}

func (h *recordingHasher) Verify(password, hash string) (bool, error) {
	h.verified = append(h.verified, hash)
	return h.BcryptHasher.Verify(password, hash)
}

func TestAuthService_UnknownEmailUsesConfiguredCost(t *testing.T) {
	for _, cost := range []int{bcrypt.MinCost, bcrypt.MinCost + 1} {
		t.Run(fmt.Sprintf("cost %d", cost), func(t *testing.T) {
			hasher := &recordingHasher{BcryptHasher: auth.NewBcryptHasher(cost)}
			accounts := mocks.NewMockAccountRepository(t)
			accounts.On("GetByEmail", mock.Anything, "nobody@example.com").Return(nil, auth.ErrNotFound)

			svc, err := auth.NewAuthService(accounts, hasher, auth.NewTokenManager("s3cret"), auth.NoopFailureTracker{})
			require.NoError(t, err)

			for _, password := range []string{"", "Abcdef1!", "password"} {
				_, err := svc.Login(context.Background(), "nobody@example.com", password)
				errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
			}

			require.Len(t, hasher.verified, 3)
			got, err := bcrypt.Cost([]byte(hasher.verified[0]))
			require.NoError(t, err)
			assert.Equal(t, cost, got)
			assert.Equal(t, hasher.verified[0], hasher.verified[2], "the dummy hash is computed once")
		})
	}
}

func validRegistration() auth.RegisterRequest {
	return auth.RegisterRequest{
		Email:    "Ana@Example.com",
		Password: "Abcdef1!",
		Role:     "member",
		Profile:  auth.Profile{Name: "Ana", Surname: "Lopez", Phone: "555-1234", Address: "Calle 1"},
	}
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates account and profile", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(nil, auth.ErrNotFound)
		f.hasher.On("Hash", "Abcdef1!").Return(storedHash, nil)
		f.accounts.On("Create", mock.Anything,
			mock.MatchedBy(func(a *auth.Account) bool {
				return a.Email == "ana@example.com" && a.PasswordHash == storedHash &&
					a.Role == auth.RoleMember && a.Status == auth.StatusActive
			}),
			mock.MatchedBy(func(p *auth.Profile) bool { return p.Name == "Ana" && p.AccountID != ulid.ULID{} }),
		).Return(nil)

		result, err := f.svc.Register(ctx, validRegistration())
		require.NoError(t, err)
		assert.Equal(t, auth.StrengthStrong, result.Strength)
		assert.Equal(t, "ana@example.com", result.Account.Email)
	})

	t.Run("medium password is accepted", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		req := validRegistration()
		req.Password = "Abcdef12"
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(nil, auth.ErrNotFound)
		f.hasher.On("Hash", "Abcdef12").Return(storedHash, nil)
		f.accounts.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		result, err := f.svc.Register(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, auth.StrengthMedium, result.Strength)
	})

	t.Run("weak password is rejected before lookup", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		req := validRegistration()
		req.Password = "abcdefgh"

		_, err := f.svc.Register(ctx, req)
		errutil.AssertErrorCode(t, err, "AUTH_WEAK_PASSWORD")
		f.accounts.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
	})

	t.Run("password over the bcrypt limit is rejected before hashing", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		req := validRegistration()
		req.Password = "Abcdef1!" + strings.Repeat("a", auth.MaxPasswordBytes)

		_, err := f.svc.Register(ctx, req)
		errutil.AssertErrorCode(t, err, "AUTH_PASSWORD_TOO_LONG")
		f.accounts.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
		f.hasher.AssertNotCalled(t, "Hash", req.Password)
	})

	t.Run("existing email is rejected regardless of status", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(storedAccount(auth.StatusInactive), nil)

		_, err := f.svc.Register(ctx, validRegistration())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_EMAIL_TAKEN")
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("unique violation on insert is reported as email taken", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(nil, auth.ErrNotFound)
		f.hasher.On("Hash", "Abcdef1!").Return(storedHash, nil)
		f.accounts.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(auth.ErrAlreadyExists)

		_, err := f.svc.Register(ctx, validRegistration())
		errutil.AssertErrorCode(t, err, "AUTH_EMAIL_TAKEN")
	})

	t.Run("unknown role is coerced to member", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		req := validRegistration()
		req.Role = "owner"
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(nil, auth.ErrNotFound)
		f.hasher.On("Hash", "Abcdef1!").Return(storedHash, nil)
		f.accounts.On("Create", mock.Anything,
			mock.MatchedBy(func(a *auth.Account) bool { return a.Role == auth.RoleMember }),
			mock.Anything,
		).Return(nil)

		result, err := f.svc.Register(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, auth.RoleMember, result.Account.Role)
	})

	t.Run("admin role is kept", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		req := validRegistration()
		req.Role = "admin"
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(nil, auth.ErrNotFound)
		f.hasher.On("Hash", "Abcdef1!").Return(storedHash, nil)
		f.accounts.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		result, err := f.svc.Register(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, auth.RoleAdmin, result.Account.Role)
	})

	t.Run("invalid profile is rejected", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		req := validRegistration()
		req.Profile.Name = "A"

		_, err := f.svc.Register(ctx, req)
		errutil.AssertErrorCode(t, err, "REQUEST_INVALID")
	})

	t.Run("repository failure is wrapped", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(nil, errors.New("connection refused"))

		_, err := f.svc.Register(ctx, validRegistration())
		errutil.AssertErrorCode(t, err, "AUTH_REGISTER_FAILED")
		errutil.AssertErrorContext(t, err, "operation", "get account by email")
	})
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("successful login issues token", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		account := storedAccount(auth.StatusActive)
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(account, nil)
		f.hasher.On("Verify", "Abcdef1!", storedHash).Return(true, nil)
		f.hasher.On("NeedsUpgrade", storedHash).Return(false)

		result, err := f.svc.Login(ctx, "ANA@example.com", "Abcdef1!")
		require.NoError(t, err)
		assert.NotEmpty(t, result.Token.Token)
		assert.Equal(t, account.ID, result.Account.ID)

		principal, err := f.tokens.Verify(result.Token.Token)
		require.NoError(t, err)
		assert.Equal(t, account.ID, principal.AccountID)
	})

	t.Run("unknown email still verifies against dummy hash", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		f.accounts.On("GetByEmail", mock.Anything, "nobody@example.com").Return(nil, auth.ErrNotFound)
		f.hasher.On("Verify", "Abcdef1!", dummyHash).Return(false, nil)

		result, err := f.svc.Login(ctx, "nobody@example.com", "Abcdef1!")
		require.Error(t, err)
		assert.Nil(t, result)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
	})

	t.Run("wrong password returns the same error as unknown email", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(storedAccount(auth.StatusActive), nil)
		f.accounts.On("GetByEmail", mock.Anything, "nobody@example.com").Return(nil, auth.ErrNotFound)
		f.hasher.On("Verify", "wrong", mock.AnythingOfType("string")).Return(false, nil)

		_, wrongPassword := f.svc.Login(ctx, "ana@example.com", "wrong")
		_, unknownEmail := f.svc.Login(ctx, "nobody@example.com", "wrong")
		require.Error(t, wrongPassword)
		require.Error(t, unknownEmail)
		assert.Equal(t, unknownEmail.Error(), wrongPassword.Error())
		assert.Equal(t, errutil.Code(unknownEmail), errutil.Code(wrongPassword))
	})

	t.Run("inactive account with correct password is forbidden", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(storedAccount(auth.StatusInactive), nil)
		f.hasher.On("Verify", "Abcdef1!", storedHash).Return(true, nil)

		_, err := f.svc.Login(ctx, "ana@example.com", "Abcdef1!")
		errutil.AssertErrorCode(t, err, "AUTH_ACCOUNT_INACTIVE")
	})

	t.Run("inactive account with wrong password gets generic error", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(storedAccount(auth.StatusInactive), nil)
		f.hasher.On("Verify", "nope", storedHash).Return(false, nil)

		_, err := f.svc.Login(ctx, "ana@example.com", "nope")
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
	})

	t.Run("missing signing secret fails the request", func(t *testing.T) {
		f := newAuthFixture(t, "")
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(storedAccount(auth.StatusActive), nil)
		f.hasher.On("Verify", "Abcdef1!", storedHash).Return(true, nil)

		_, err := f.svc.Login(ctx, "ana@example.com", "Abcdef1!")
		errutil.AssertErrorCode(t, err, "AUTH_CONFIG_INVALID")
	})

	t.Run("repeated failures lock the account", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		account := storedAccount(auth.StatusActive)
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(account, nil)
		f.hasher.On("Verify", "wrong", storedHash).Return(false, nil)
		f.hasher.On("Verify", "Abcdef1!", storedHash).Return(true, nil)

		for range 3 {
			_, err := f.svc.Login(ctx, "ana@example.com", "wrong")
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
		}

		_, err := f.svc.Login(ctx, "ana@example.com", "Abcdef1!")
		errutil.AssertErrorCode(t, err, "AUTH_ACCOUNT_LOCKED")
	})

	t.Run("success resets the failure count", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		account := storedAccount(auth.StatusActive)
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(account, nil)
		f.hasher.On("Verify", "wrong", storedHash).Return(false, nil)
		f.hasher.On("Verify", "Abcdef1!", storedHash).Return(true, nil)
		f.hasher.On("NeedsUpgrade", storedHash).Return(false)

		_, _ = f.svc.Login(ctx, "ana@example.com", "wrong")
		_, _ = f.svc.Login(ctx, "ana@example.com", "wrong")
		_, err := f.svc.Login(ctx, "ana@example.com", "Abcdef1!")
		require.NoError(t, err)
		assert.Zero(t, f.failures.Check(account.ID.String()).Failures)
	})

	t.Run("outdated hash is upgraded", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		account := storedAccount(auth.StatusActive)
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(account, nil)
		f.hasher.On("Verify", "Abcdef1!", storedHash).Return(true, nil)
		f.hasher.On("NeedsUpgrade", storedHash).Return(true)
		f.hasher.On("Hash", "Abcdef1!").Return("$2a$12$new", nil)
		f.accounts.On("UpdatePassword", mock.Anything, account.ID, "$2a$12$new").Return(nil)

		result, err := f.svc.Login(ctx, "ana@example.com", "Abcdef1!")
		require.NoError(t, err)
		assert.Equal(t, "$2a$12$new", result.Account.PasswordHash)
	})

	t.Run("repository failure is wrapped", func(t *testing.T) {
		f := newAuthFixture(t, "s3cret")
		f.accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(nil, errors.New("timeout"))

		_, err := f.svc.Login(ctx, "ana@example.com", "Abcdef1!")
		errutil.AssertErrorCode(t, err, "AUTH_LOGIN_FAILED")
	})
}

func TestAuthService_Login_LogsBestEffortFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	accounts := mocks.NewMockAccountRepository(t)
	hasher := mocks.NewMockPasswordHasher(t)
	expectDummyHash(hasher)
	svc, err := auth.NewAuthServiceWithLogger(accounts, hasher, auth.NewTokenManager("s3cret"), auth.NoopFailureTracker{}, logger)
	require.NoError(t, err)

	account := storedAccount(auth.StatusActive)
	accounts.On("GetByEmail", mock.Anything, "ana@example.com").Return(account, nil)
	hasher.On("Verify", "Abcdef1!", storedHash).Return(true, nil)
	hasher.On("NeedsUpgrade", storedHash).Return(true)
	hasher.On("Hash", "Abcdef1!").Return("$2a$12$new", nil)
	accounts.On("UpdatePassword", mock.Anything, account.ID, "$2a$12$new").Return(errors.New("db down"))

	result, err := svc.Login(context.Background(), "ana@example.com", "Abcdef1!")
	require.NoError(t, err, "login succeeds even when the hash upgrade fails")
	assert.Equal(t, storedHash, result.Account.PasswordHash)

	logOutput := buf.String()
	assert.Contains(t, logOutput, "best-effort")
	assert.Contains(t, logOutput, `"operation":"update password"`)
	assert.Contains(t, logOutput, `"level":"WARN"`)
}
