package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"leasetrack/internal/domain"
)

// Actor is the authenticated principal performing an engine operation.
type Actor struct {
	ID   string
	Role string
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == domain.RoleAdmin
}

// UnauthorizedError indicates the actor's role does not own the lead's
// current workflow position.
type UnauthorizedError struct {
	RequiredRole string
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("role %s required", e.RequiredRole)
}

// Service provides user lookups backed by SQL.
type Service struct {
	DB *sql.DB
}

func (s Service) EnsureUser(ctx context.Context, tx *sql.Tx, userID, role string) error {
	if userID == "" {
		return errors.New("user_id required")
	}
	if role == "" {
		return errors.New("role required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(id, role, created_at) VALUES (?,?,?)`, userID, role, now)
	return err
}

// UserRole returns the stored role for a user ID, "" when unknown.
func (s Service) UserRole(ctx context.Context, userID string) (string, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT role FROM users WHERE id=? LIMIT 1`, userID)
	var role string
	err := row.Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return role, err
}

// RequireRole checks an actor against the required role. Admin always
// passes.
func RequireRole(actor Actor, required string) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.Role != required {
		return UnauthorizedError{RequiredRole: required}
	}
	return nil
}
