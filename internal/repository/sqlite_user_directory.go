package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/notifyhub/collab-notify/internal/domain"
)

type sqliteUserDirectory struct {
	db *sqlx.DB
}

// NewSQLiteUserDirectory returns a UserDirectory over the SQLite users table.
func NewSQLiteUserDirectory(db *sqlx.DB) UserDirectory {
	return &sqliteUserDirectory{db: db}
}

func (d *sqliteUserDirectory) Lookup(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := d.db.QueryRowxContext(ctx,
		`SELECT id, name, email FROM users WHERE id = ?`, id).Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &u, nil
}

// SeedUser inserts or replaces a user row. The pipeline never writes users in
// production; this exists for local runs and tests.
func SeedUser(ctx context.Context, db *sqlx.DB, u domain.User) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO users (id, name, email) VALUES (?, ?, ?)`, u.ID, u.Name, u.Email)
	if err != nil {
		return fmt.Errorf("seed user: %w", err)
	}
	return nil
}
