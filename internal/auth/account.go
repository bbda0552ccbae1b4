// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package auth

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"golang.org/x/text/cases"
)

// Role is the authorization level of an account.
type Role string

// Account roles.
const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// ParseRole returns the role named by s. Anything other than "admin" or
// "member" is coerced to RoleMember; the second result reports whether
// coercion happened.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, false
	case RoleMember:
		return RoleMember, false
	default:
		return RoleMember, s != ""
	}
}

// Status is the lifecycle state of an account.
type Status string

// Account statuses.
const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Profile field constraints.
const (
	MinNameLength = 2
	MaxNameLength = 100
)

var emailFolder = cases.Fold()

var phoneRegex = regexp.MustCompile(`^[0-9 +()\-]*$`)

// NormalizeEmail trims and case-folds an email address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return emailFolder.String(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare address without a display name.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return oops.Code("AUTH_INVALID_EMAIL").
			With("email", email).
			Errorf("email is not a valid address")
	}
	return nil
}

// Account is a credential record.
type Account struct {
	ID           ulid.ULID
	Email        string
	PasswordHash string
	Role         Role
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewAccount creates a validated, active Account. The email is normalized.
func NewAccount(email, passwordHash string, role Role) (*Account, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if role != RoleAdmin && role != RoleMember {
		return nil, oops.Code("AUTH_INVALID_ROLE").With("role", string(role)).Errorf("unknown role")
	}

	now := time.Now()
	return &Account{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsActive reports whether the account may log in.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// View is the public projection of an Account. It never carries the hash.
type View struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Status Status `json:"status"`
}

// View returns the public projection of the account.
func (a *Account) View() View {
	return View{
		ID:     a.ID.String(),
		Email:  a.Email,
		Role:   a.Role,
		Status: a.Status,
	}
}

// Profile holds the personal data captured at registration.
type Profile struct {
	AccountID ulid.ULID `json:"-"`
	Name      string    `json:"name"`
	Surname   string    `json:"surname"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
}

// Validate trims and checks name, surname and phone.
func (p *Profile) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Surname = strings.TrimSpace(p.Surname)
	fields := []struct{ name, value string }{{"name", p.Name}, {"surname", p.Surname}}
	for _, f := range fields {
		n := len([]rune(f.value))
		if n < MinNameLength || n > MaxNameLength {
			return oops.Code("REQUEST_INVALID").
				With("field", f.name).
				With("min", MinNameLength).
				With("max", MaxNameLength).
				Errorf("%s must be between %d and %d characters", f.name, MinNameLength, MaxNameLength)
		}
	}
	if !phoneRegex.MatchString(p.Phone) {
		return oops.Code("REQUEST_INVALID").
			With("field", "phone").
			Errorf("phone may contain only digits, spaces and + - ( )")
	}
	return nil
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account and its profile atomically.
	// Returns ErrAlreadyExists if the email is taken.
	Create(ctx context.Context, account *Account, profile *Profile) error

	// GetByID retrieves an account by ID regardless of status.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive).
	// Returns ErrNotFound if no account has the given email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetProfile retrieves the profile linked to an account.
	GetProfile(ctx context.Context, accountID ulid.ULID) (*Profile, error)

	// ListActive returns all active accounts ordered by creation time.
	ListActive(ctx context.Context) ([]*Account, error)

	// Update replaces email, role, status and password hash.
	// Returns ErrAlreadyExists if the new email is taken.
	Update(ctx context.Context, account *Account) error

	// UpdatePassword updates only the password hash for an account.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// SetStatus changes the account status.
	SetStatus(ctx context.Context, id ulid.ULID, status Status) error
}
