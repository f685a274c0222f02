package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Simplici0/micaa/internal/apperrors"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
	IsActive     bool   `json:"is_active"`
}

// IsAdmin reports whether the user may run recomputes and global adjustments.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin && u.IsActive }

func (q queries) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := q.q.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, is_active
		FROM users
		WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %q: %w", email, apperrors.ErrNotFound)
	}
	if err != nil {
		return User{}, apperrors.Persistence("query user", err)
	}
	return u, nil
}

// EnsureUser inserts the user unless the email already exists.
func (q queries) EnsureUser(ctx context.Context, email, passwordHash, role string) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO users (email, password_hash, role)
		VALUES (?, ?, ?)
		ON CONFLICT(email) DO NOTHING
	`, email, passwordHash, role)
	if err != nil {
		return false, apperrors.Persistence("insert user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Persistence("insert user", err)
	}
	return n > 0, nil
}

func (q queries) UserByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := q.q.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role, is_active
		FROM users
		WHERE id = ?
	`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %d: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return User{}, apperrors.Persistence("query user", err)
	}
	return u, nil
}

func (q queries) SetUserRole(ctx context.Context, id int64, role string) error {
	res, err := q.q.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, role, id)
	if err != nil {
		return apperrors.Persistence("update user role", err)
	}
	if err := requireAffected(res, "update user role"); err != nil {
		return fmt.Errorf("user %d: %w", id, err)
	}
	return nil
}
