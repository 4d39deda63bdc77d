package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"leasetrack/internal/domain"
)

// UpsertUser inserts or updates a user record keyed by ID.
func (r Repo) UpsertUser(ctx context.Context, u domain.User) error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("id required")
	}
	if strings.TrimSpace(u.Role) == "" {
		return errors.New("role required")
	}
	if u.CreatedAt == "" {
		u.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,email,role,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email, role=excluded.role`,
		u.ID, nullable(u.Name), nullable(u.Email), u.Role, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(name,''),COALESCE(email,''),role,created_at FROM users WHERE id=?`, id)
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(name,''),COALESCE(email,''),role,created_at FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
