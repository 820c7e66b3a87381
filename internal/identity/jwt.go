package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Compile-time check.
var _ Resolver = (*JWTResolver)(nil)

// Claims is the token payload issued and accepted by the gateway.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver validates HS256 tokens and optionally consults a RoleStore for
// the authoritative role.
type JWTResolver struct {
	secret []byte
	issuer string
	ttl    time.Duration
	roles  RoleStore
	now    func() time.Time
}

// NewJWTResolver creates a resolver. roles may be nil, in which case the role
// claim carried by the token is used.
func NewJWTResolver(secret, issuer string, ttl time.Duration, roles RoleStore) *JWTResolver {
	if secret == "" {
		panic("identity: jwt secret cannot be empty")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTResolver{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		roles:  roles,
		now:    time.Now,
	}
}

// Issue signs a token for the identity.
func (r *JWTResolver) Issue(id Identity) (string, error) {
	now := r.now()
	claims := Claims{
		Email: id.Email,
		Role:  id.Role,
		Scope: strings.Join(id.Permissions, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ResolveToken parses and verifies the token.
func (r *JWTResolver) ResolveToken(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(r.now),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	var perms []string
	if claims.Scope != "" {
		perms = strings.Fields(claims.Scope)
	}

	return &Identity{
		ID:          claims.Subject,
		Email:       claims.Email,
		Role:        claims.Role,
		Permissions: perms,
	}, nil
}

// LookupRole returns the stored role, or the token role when no store is configured.
func (r *JWTResolver) LookupRole(ctx context.Context, id *Identity) (string, error) {
	if id == nil {
		return "", ErrUserNotFound
	}
	if r.roles == nil {
		return id.Role, nil
	}

	role, err := r.roles.GetRole(ctx, id.ID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", err
		}
		return "", fmt.Errorf("failed to look up role for %q: %w", id.ID, err)
	}
	return role, nil
}

// BearerToken extracts the credential from an Authorization header value.
// It returns "" when the header is missing or uses another scheme.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
