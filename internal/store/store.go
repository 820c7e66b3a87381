// Package store is the data access layer over PostgreSQL (pgx): profiles,
// patients and the audit log.
package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// PostgresStore implements the profile and patient repositories.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a repository over the given pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresStore{db: db}
}
