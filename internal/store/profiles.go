package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/carepoint/policygate/internal/identity"
)

var (
	_ ProfileRepository  = (*PostgresStore)(nil)
	_ identity.RoleStore = (*PostgresStore)(nil)
)

// Credentials is what the login handler needs to authenticate a profile.
type Credentials struct {
	UserID       string
	Email        string
	PasswordHash string
	Role         string
	Permissions  []string
}

// ProfileRepository reads user profiles.
type ProfileRepository interface {
	// GetRole returns the stored role. Unknown ids wrap identity.ErrUserNotFound.
	GetRole(ctx context.Context, userID string) (string, error)

	// GetCredentials looks a profile up by email. Unknown emails wrap identity.ErrUserNotFound.
	GetCredentials(ctx context.Context, email string) (*Credentials, error)
}

func (s *PostgresStore) GetRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.db.QueryRow(ctx, `SELECT role FROM profiles WHERE id = $1`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("profile %q: %w", userID, identity.ErrUserNotFound)
		}
		return "", fmt.Errorf("failed to query role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) GetCredentials(ctx context.Context, email string) (*Credentials, error) {
	query := `
		SELECT id, email, password_hash, role, permissions
		FROM profiles
		WHERE lower(email) = lower($1)
	`

	var c Credentials
	err := s.db.QueryRow(ctx, query, email).Scan(
		&c.UserID,
		&c.Email,
		&c.PasswordHash,
		&c.Role,
		&c.Permissions,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("profile %q: %w", email, identity.ErrUserNotFound)
		}
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	return &c, nil
}
