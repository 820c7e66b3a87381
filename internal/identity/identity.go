// Package identity resolves bearer credentials into caller identities and
// looks up the role stored for them.
package identity

import (
	"context"
	"errors"
	"slices"
)

var (
	// ErrInvalidToken is returned when a credential cannot be resolved to an identity.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUserNotFound is returned when no profile exists for a resolved identity.
	ErrUserNotFound = errors.New("user not found")
)

// Identity is the authenticated caller.
type Identity struct {
	ID          string   `json:"id"`
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// HasPermission reports whether the identity was granted p.
func (i *Identity) HasPermission(p string) bool {
	return i != nil && slices.Contains(i.Permissions, p)
}

// Resolver is the auth client consumed by the authorization rule.
type Resolver interface {
	// ResolveToken turns a bearer credential into an identity.
	// Deliberate rejections wrap ErrInvalidToken; anything else is an infrastructure failure.
	ResolveToken(ctx context.Context, token string) (*Identity, error)

	// LookupRole returns the role stored for the identity.
	LookupRole(ctx context.Context, id *Identity) (string, error)
}

// RoleStore reads roles from the system of record (the profiles table).
type RoleStore interface {
	GetRole(ctx context.Context, userID string) (string, error)
}
