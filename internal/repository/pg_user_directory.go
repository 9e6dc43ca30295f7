package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/collab-notify/internal/domain"
)

type pgUserDirectory struct {
	pool *pgxpool.Pool
}

// NewPgUserDirectory returns a UserDirectory reading the shared users table.
func NewPgUserDirectory(pool *pgxpool.Pool) UserDirectory {
	return &pgUserDirectory{pool: pool}
}

func (d *pgUserDirectory) Lookup(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := d.pool.QueryRow(ctx,
		`SELECT id, name, email FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &u, nil
}
