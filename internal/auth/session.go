// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionTokenExpiry is the default lifetime of a session token.
const SessionTokenExpiry = 24 * time.Hour

// ErrSigningSecretMissing is returned when tokens are issued or verified
// without a configured signing secret.
var ErrSigningSecretMissing = oops.Code("AUTH_CONFIG_INVALID").Errorf("token signing secret is not configured")

// Claims are the session token claims.
type Claims struct {
	AccountID string `json:"accountId"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller carried on a request context.
type Principal struct {
	AccountID ulid.ULID
	Email     string
	Role      Role
}

// IsAdmin reports whether the principal holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type principalKey struct{}

// WithPrincipal stores the principal in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext retrieves the principal from ctx, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// IssuedToken is a signed session token and its expiry.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenManager signs and verifies HS256 session tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(m *TokenManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithTokenIssuer sets the iss claim.
func WithTokenIssuer(issuer string) TokenOption {
	return func(m *TokenManager) { m.issuer = issuer }
}

// WithTokenClock injects the clock used for iat/exp and validation.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewTokenManager creates a TokenManager. An empty secret is accepted; Issue
// and Verify then fail with ErrSigningSecretMissing.
func NewTokenManager(secret string, opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		secret: []byte(secret),
		ttl:    SessionTokenExpiry,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Configured reports whether a signing secret is set.
func (m *TokenManager) Configured() bool {
	return len(m.secret) > 0
}

// TTL returns the token lifetime.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token for account.
func (m *TokenManager) Issue(account *Account) (IssuedToken, error) {
	if !m.Configured() {
		return IssuedToken{}, ErrSigningSecretMissing
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)
	claims := Claims{
		AccountID: account.ID.String(),
		Email:     account.Email,
		Role:      account.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return IssuedToken{}, oops.Code("AUTH_TOKEN_SIGN_FAILED").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return IssuedToken{Token: signed, ExpiresAt: expiresAt}, nil
}

// Verify checks the signature and expiry of token and returns its principal.
func (m *TokenManager) Verify(token string) (*Principal, error) {
	if !m.Configured() {
		return nil, ErrSigningSecretMissing
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, oops.Code("TOKEN_MISSING").Errorf("token not provided")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("token not valid")
		}
		return nil, oops.Code("TOKEN_INVALID").
			With("expired", errors.Is(err, jwt.ErrTokenExpired)).
			Wrapf(err, "invalid token")
	}

	id, err := ulid.Parse(claims.AccountID)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID").Wrapf(err, "invalid token")
	}
	role, _ := ParseRole(string(claims.Role))
	return &Principal{AccountID: id, Email: claims.Email, Role: role}, nil
}
