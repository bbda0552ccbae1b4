// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

// Package sqlite implements auth repositories on SQLite for single-node
// deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gymkeeper/gymkeeper/internal/auth"
)

// AccountRepository implements auth.AccountRepository using SQLite.
type AccountRepository struct {
	db *sql.DB
}

var _ auth.AccountRepository = (*AccountRepository)(nil)

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, email, password_hash, role, status, created_at, updated_at`

// Create stores a new account and its profile in one transaction.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account, profile *auth.Profile) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").With("operation", "begin transaction").Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback() //nolint:errcheck // original error takes precedence
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		account.ID.String(), account.Email, account.PasswordHash,
		string(account.Role), string(account.Status),
		account.CreatedAt.UTC(), account.UpdatedAt.UTC(),
	)
	if err != nil {
		return mapWriteError(err, "insert account", account.Email)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (account_id, name, surname, phone, address) VALUES (?, ?, ?, ?, ?)`,
		account.ID.String(), profile.Name, profile.Surname, profile.Phone, profile.Address,
	)
	if err != nil {
		return mapWriteError(err, "insert profile", account.Email)
	}

	if err = tx.Commit(); err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").With("operation", "commit").Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id.String())
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
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
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ? COLLATE NOCASE`, email)
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
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
	err := r.db.QueryRowContext(ctx,
		`SELECT name, surname, phone, address FROM profiles WHERE account_id = ?`, accountID.String(),
	).Scan(&profile.Name, &profile.Surname, &profile.Phone, &profile.Address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("PROFILE_NOT_FOUND").With("account_id", accountID.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PROFILE_GET_FAILED").With("account_id", accountID.String()).Wrap(err)
	}
	return profile, nil
}

// ListActive returns all active accounts ordered by creation time.
func (r *AccountRepository) ListActive(ctx context.Context) ([]*auth.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE status = ? ORDER BY created_at, id`,
		string(auth.StatusActive))
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "query active accounts").Wrap(err)
	}
	defer func() { _ = rows.Close() }()

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
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET email = ?, password_hash = ?, role = ?, status = ?, updated_at = ? WHERE id = ?`,
		account.Email, account.PasswordHash, string(account.Role), string(account.Status),
		account.UpdatedAt.UTC(), account.ID.String(),
	)
	if err != nil {
		return mapWriteError(err, "update account", account.Email)
	}
	return requireRow(res, account.ID)
}

// UpdatePassword updates only the password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), id.String())
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update password").
			With("id", id.String()).
			Wrap(err)
	}
	return requireRow(res, id)
}

// SetStatus changes the account status.
func (r *AccountRepository) SetStatus(ctx context.Context, id ulid.ULID, status auth.Status) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id.String())
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "set status").
			With("id", id.String()).
			Wrap(err)
	}
	return requireRow(res, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*auth.Account, error) {
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

func requireRow(res sql.Result, id ulid.ULID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").With("operation", "rows affected").Wrap(err)
	}
	if n == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// mapWriteError turns a unique violation into auth.ErrAlreadyExists.
func mapWriteError(err error, operation, email string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return oops.Code("ACCOUNT_EMAIL_EXISTS").With("email", email).Wrap(auth.ErrAlreadyExists)
	}
	return oops.Code("ACCOUNT_WRITE_FAILED").
		With("operation", operation).
		With("email", email).
		Wrap(err)
}
