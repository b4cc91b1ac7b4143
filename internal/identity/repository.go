package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/trysts/auth-core/internal/infrastructure/database"
)

// Repository provides SQLite-backed identity storage.
type Repository struct {
	db *database.DB
}

// NewRepository creates a Repository backed by the given database.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// scanner abstracts sql.Row and sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...interface{}) error
}

// Create inserts a new identity. The ID is generated here; the caller
// provides email and handler. Timestamps are set to now.
func (r *Repository) Create(ctx context.Context, email, handler string) (*User, error) {
	now := time.Now().UTC()
	user := &User{
		ID:        "usr-" + uuid.New().String(),
		Email:     email,
		Handler:   handler,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, handler, refresh_token, created_at, updated_at)
		VALUES (?, ?, ?, NULL, ?, ?)`,
		user.ID, user.Email, user.Handler,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEmail, email)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return user, nil
}

// GetByEmail returns the identity for an email, or ErrNotFound.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, handler, refresh_token, created_at, updated_at
		FROM users WHERE email = ?`, email)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: email %s", ErrNotFound, email)
		}
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return user, nil
}

// GetByID returns the identity for an ID, or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, handler, refresh_token, created_at, updated_at
		FROM users WHERE id = ?`, id)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting user by id: %w", err)
	}
	return user, nil
}

// SetRefreshToken unconditionally overwrites the refresh token slot.
// Used after OTP verification, where possession of the code is the
// proof and any previous session is superseded.
func (r *Repository) SetRefreshToken(ctx context.Context, id, refreshToken string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET refresh_token = ?, updated_at = ?
		WHERE id = ?`,
		refreshToken, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("setting refresh token: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("setting refresh token: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	return nil
}

// RotateRefreshToken replaces the slot's token only if it still holds
// the presented token. The WHERE clause makes the check-and-swap a
// single atomic statement: when two refreshes race with the same
// presented token, SQLite serialises the updates and the second finds
// the slot already changed.
//
// Returns ErrStaleRefreshToken when the slot held something else.
func (r *Repository) RotateRefreshToken(ctx context.Context, id, presented, next string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET refresh_token = ?, updated_at = ?
		WHERE id = ? AND refresh_token = ?`,
		next, time.Now().UTC().Format(time.RFC3339), id, presented,
	)
	if err != nil {
		return fmt.Errorf("rotating refresh token: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotating refresh token: %w", err)
	}
	if affected == 0 {
		return ErrStaleRefreshToken
	}
	return nil
}

// ClearRefreshToken empties the slot only if it still holds the
// presented token. Clearing an already-rotated slot is reported as
// stale so logout with a superseded token does not kill the winner's
// session.
func (r *Repository) ClearRefreshToken(ctx context.Context, id, presented string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET refresh_token = NULL, updated_at = ?
		WHERE id = ? AND refresh_token = ?`,
		time.Now().UTC().Format(time.RFC3339), id, presented,
	)
	if err != nil {
		return fmt.Errorf("clearing refresh token: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("clearing refresh token: %w", err)
	}
	if affected == 0 {
		return ErrStaleRefreshToken
	}
	return nil
}

// scanUser scans a user row from either a Row or Rows.
func scanUser(s scanner) (*User, error) {
	var (
		user         User
		refreshToken sql.NullString
		createdAt    string
		updatedAt    string
	)

	if err := s.Scan(
		&user.ID, &user.Email, &user.Handler,
		&refreshToken, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	user.RefreshToken = refreshToken.String
	user.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
	user.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled

	return &user, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint error.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return errors.Is(sqliteErr.ExtendedCode, sqlite3.ErrConstraintUnique) ||
			errors.Is(sqliteErr.ExtendedCode, sqlite3.ErrConstraintPrimaryKey)
	}
	return false
}
