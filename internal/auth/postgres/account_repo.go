// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

// Package postgres implements auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gymkeeper/gymkeeper/internal/auth"
)

// poolIface is the subset of *pgxpool.Pool the repository uses, so tests can
// substitute pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool poolIface
}

var _ auth.AccountRepository = (*AccountRepository)(nil)

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool poolIface) *AccountRepository {
	return &AccountRepository{pool: pool}
}

const accountColumns = `id, email, password_hash, role, status, created_at, updated_at`

// Create stores a new account and its profile in one transaction.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account, profile *auth.Profile) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").With("operation", "begin transaction").Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // original error takes precedence
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		account.ID.String(),
		account.Email,
		account.PasswordHash,
		string(account.Role),
		string(account.Status),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err, "insert account", account.Email)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO profiles (account_id, name, surname, phone, address)
		VALUES ($1, $2, $3, $4, $5)
	`,
		account.ID.String(),
		profile.Name,
		profile.Surname,
		profile.Phone,
		profile.Address,
	)
	if err != nil {
		return mapWriteError(err, "insert profile", account.Email)
	}

	if err = tx.Commit(ctx); err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").With("operation", "commit").Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String())

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by id").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE LOWER(email) = LOWER($1)`, email)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by email").
			With("email", email).
			Wrap(err)
	}
	return account, nil
}

// GetProfile retrieves the profile linked to an account.
func (r *AccountRepository) GetProfile(ctx context.Context, accountID ulid.ULID) (*auth.Profile, error) {
	profile := &auth.Profile{AccountID: accountID}
	err := r.pool.QueryRow(ctx, `
		SELECT name, surname, phone, address FROM profiles WHERE account_id = $1
	`, accountID.String()).Scan(&profile.Name, &profile.Surname, &profile.Phone, &profile.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PROFILE_NOT_FOUND").
			With("account_id", accountID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PROFILE_GET_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return profile, nil
}

// ListActive returns all active accounts ordered by creation time.
func (r *AccountRepository) ListActive(ctx context.Context) ([]*auth.Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE status = $1
		ORDER BY created_at, id
	`, string(auth.StatusActive))
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "query active accounts").Wrap(err)
	}
	defer rows.Close()

	accounts := make([]*auth.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "scan account row").Wrap(err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "iterate accounts").Wrap(err)
	}
	return accounts, nil
}

// Update replaces email, role, status and password hash.
func (r *AccountRepository) Update(ctx context.Context, account *auth.Account) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts
		SET email = $2, password_hash = $3, role = $4, status = $5, updated_at = $6
		WHERE id = $1
	`,
		account.ID.String(),
		account.Email,
		account.PasswordHash,
		string(account.Role),
		string(account.Status),
		account.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err, "update account", account.Email)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", account.ID.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePassword updates only the password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, id.String(), passwordHash)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update password").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// SetStatus changes the account status.
func (r *AccountRepository) SetStatus(ctx context.Context, id ulid.ULID, status auth.Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts SET status = $2, updated_at = NOW() WHERE id = $1
	`, id.String(), string(status))
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "set status").
			With("id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		account      auth.Account
		idStr        string
		role, status string
	)
	if err := row.Scan(&idStr, &account.Email, &account.PasswordHash, &role, &status,
		&account.CreatedAt, &account.UpdatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.With("operation", "parse account id").With("id", idStr).Wrap(err)
	}
	account.ID = id
	account.Role = auth.Role(role)
	account.Status = auth.Status(status)
	return &account, nil
}

// mapWriteError turns a unique violation into auth.ErrAlreadyExists.
func mapWriteError(err error, operation, email string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return oops.Code("ACCOUNT_EMAIL_EXISTS").
			With("email", email).
			With("constraint", pgErr.ConstraintName).
			Wrap(auth.ErrAlreadyExists)
	}
	return oops.Code("ACCOUNT_WRITE_FAILED").
		With("operation", operation).
		With("email", email).
		Wrap(err)
}
