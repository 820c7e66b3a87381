// Package handlers contains the backend handlers the gateway dispatches to.
// Handlers trust the rule chain for validation and authorization and only
// check what their own logic depends on.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/carepoint/policygate/internal/identity"
	"github.com/carepoint/policygate/internal/logger"
	"github.com/carepoint/policygate/internal/protocol"
	"github.com/carepoint/policygate/internal/ruleengine"
	"github.com/carepoint/policygate/internal/store"
)

// CredentialStore looks up login credentials.
type CredentialStore interface {
	GetCredentials(ctx context.Context, email string) (*store.Credentials, error)
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(id identity.Identity) (string, error)
}

// AuthHandler serves auth.login and auth.me.
type AuthHandler struct {
	creds   CredentialStore
	tokens  TokenIssuer
	ttl     time.Duration
	compare func(hash, password []byte) error
}

// dummyHash is compared against when the email is unknown so both login
// failures cost one bcrypt comparison.
var dummyHash = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("policygate-dummy-password"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
})

// NewAuthHandler creates the handler. ttl is reported to clients as expiresIn.
func NewAuthHandler(creds CredentialStore, tokens TokenIssuer, ttl time.Duration) *AuthHandler {
	if creds == nil || tokens == nil {
		panic("handlers: auth handler requires a credential store and a token issuer")
	}
	return &AuthHandler{creds: creds, tokens: tokens, ttl: ttl, compare: bcrypt.CompareHashAndPassword}
}

type loginRequest struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// LoginResponse is returned by auth.login.
type LoginResponse struct {
	AccessToken string             `json:"accessToken"`
	TokenType   string             `json:"tokenType"`
	ExpiresIn   int64              `json:"expiresIn"`
	User        *identity.Identity `json:"user"`
}

var errInvalidLogin = protocol.NewError(protocol.CodeUnauthorized, "Invalid email or password")

func (h *AuthHandler) Handle(ctx context.Context, req *protocol.Request) (any, error) {
	switch action(ctx) {
	case "login":
		return h.login(ctx, req)
	case "me":
		return h.me(ctx)
	default:
		return nil, unknownAction(ctx)
	}
}

func (h *AuthHandler) login(ctx context.Context, req *protocol.Request) (any, error) {
	log := logger.FromContext(ctx)

	var in loginRequest
	if err := mapstructure.Decode(req.Body, &in); err != nil || in.Email == "" || in.Password == "" {
		return nil, protocol.NewError(protocol.CodeValidation, "email and password are required")
	}

	creds, err := h.creds.GetCredentials(ctx, in.Email)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			_ = h.compare(dummyHash(), []byte(in.Password))
			return nil, errInvalidLogin
		}
		return nil, err
	}

	if err := h.compare([]byte(creds.PasswordHash), []byte(in.Password)); err != nil {
		log.Info("login rejected", slog.String("user_id", creds.UserID))
		return nil, errInvalidLogin
	}

	user := &identity.Identity{
		ID:          creds.UserID,
		Email:       creds.Email,
		Role:        creds.Role,
		Permissions: creds.Permissions,
	}
	token, err := h.tokens.Issue(*user)
	if err != nil {
		return nil, err
	}

	log.Info("login succeeded", slog.String("user_id", user.ID))
	return LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.ttl / time.Second),
		User:        user,
	}, nil
}

// me returns the identity resolved by the authorization rule.
func (h *AuthHandler) me(ctx context.Context) (any, error) {
	user, ok := protocol.AttributesFrom(ctx)[ruleengine.ContextKeyUser].(*identity.Identity)
	if !ok || user == nil {
		return nil, protocol.NewError(protocol.CodeUnauthorized, "Authentication required")
	}
	return user, nil
}

func action(ctx context.Context) string {
	route, _ := protocol.RouteFrom(ctx)
	return route.Action
}

func unknownAction(ctx context.Context) error {
	route, _ := protocol.RouteFrom(ctx)
	return protocol.Errorf(protocol.CodeNotFound, "Unknown endpoint %s", route.Endpoint)
}
