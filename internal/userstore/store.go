// Package userstore persists registered users.
//
// Two backends exist: a JSON document rewritten wholesale on every
// registration (the default) and a SQL table for SQLite or PostgreSQL.
// Both serialize writers so concurrent registrations cannot lose updates.
package userstore

import (
	"context"
	"time"
)

// User is a registered account. Users are never mutated after creation.
type User struct {
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// Store is the persistence contract used by the auth layer.
type Store interface {
	// Get returns errs.ErrNotFound when no such user exists.
	Get(ctx context.Context, username string) (User, error)
	// Create returns errs.ErrAlreadyExists when the username is taken and
	// leaves the existing record untouched.
	Create(ctx context.Context, u User) error
	// Count reports the number of stored users; used by health checks.
	Count(ctx context.Context) (int, error)
	Close() error
}
