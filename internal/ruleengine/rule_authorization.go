package ruleengine

import (
	"context"
	"errors"
	"slices"

	"github.com/carepoint/policygate/internal/identity"
	"github.com/carepoint/policygate/internal/protocol"
)

// AuthorizationOptions configures an AuthorizationRule.
type AuthorizationOptions struct {
	RequireAuth         bool
	RequiredRoles       []string
	RequiredPermissions []string
	// Authorizer runs last, after identity, role and permission checks.
	Authorizer Predicate
	Resolver   identity.Resolver
}

func (o AuthorizationOptions) needsIdentity() bool {
	return o.RequireAuth || len(o.RequiredRoles) > 0 || len(o.RequiredPermissions) > 0
}

// AuthorizationRule authenticates the bearer token and enforces roles,
// permissions and an optional custom predicate. On success the resolved
// identity is stored in the context under ContextKeyUser.
type AuthorizationRule struct {
	cfg  RuleConfig
	opts AuthorizationOptions
}

var _ Rule = (*AuthorizationRule)(nil)

// NewAuthorizationRule creates an authorization rule. It panics when the
// options require an identity but no resolver is given.
func NewAuthorizationRule(cfg RuleConfig, opts AuthorizationOptions) *AuthorizationRule {
	if opts.needsIdentity() && opts.Resolver == nil {
		panic("ruleengine: authorization rule requires an identity resolver")
	}
	return &AuthorizationRule{cfg: cfg.withDefaults(RuleTypeAuthorization), opts: opts}
}

func (r *AuthorizationRule) Config() RuleConfig { return r.cfg }

func (r *AuthorizationRule) Execute(ctx context.Context, rc *Context) (Result, error) {
	if !r.opts.needsIdentity() && r.opts.Authorizer == nil {
		return Pass(nil), nil
	}

	user, failed := r.authenticate(ctx, rc)
	if failed != nil {
		return *failed, nil
	}

	if len(r.opts.RequiredRoles) > 0 {
		role, err := r.opts.Resolver.LookupRole(ctx, user)
		switch {
		case errors.Is(err, identity.ErrUserNotFound):
			return Fail(protocol.CodeUserNotFound, "User profile not found", nil), nil
		case err != nil:
			return Fail(protocol.CodeAuth, "Failed to resolve user role", map[string]any{"error": err.Error()}), nil
		}
		user.Role = role

		if !slices.Contains(r.opts.RequiredRoles, role) {
			return Fail(protocol.CodeForbidden, "Insufficient role", map[string]any{
				"requiredRoles": r.opts.RequiredRoles,
				"actualRole":    role,
			}), nil
		}
	}

	if len(r.opts.RequiredPermissions) > 0 {
		var missing []string
		for _, p := range r.opts.RequiredPermissions {
			if !user.HasPermission(p) {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			return Fail(protocol.CodeForbidden, "Insufficient permissions", map[string]any{
				"requiredPermissions": r.opts.RequiredPermissions,
				"missingPermissions":  missing,
			}), nil
		}
	}

	if r.opts.Authorizer != nil {
		if err := r.opts.Authorizer(ctx, rc, user); err != nil {
			if perr, ok := protocol.AsError(err); ok {
				return FailWith(perr), nil
			}
			return Fail(protocol.CodeForbidden, err.Error(), nil), nil
		}
	}

	if user == nil {
		return Pass(nil), nil
	}
	return Pass(map[string]any{ContextKeyUser: user}), nil
}

// authenticate resolves the bearer token. A nil identity with a nil failure
// means the rule does not need one and no token was sent.
func (r *AuthorizationRule) authenticate(ctx context.Context, rc *Context) (*identity.Identity, *Result) {
	token := identity.BearerToken(rc.Request.Header("authorization"))
	if token == "" {
		if r.opts.needsIdentity() {
			res := Fail(protocol.CodeUnauthorized, "Authentication required", nil)
			return nil, &res
		}
		return nil, nil
	}

	if r.opts.Resolver == nil {
		return nil, nil
	}

	user, err := r.opts.Resolver.ResolveToken(ctx, token)
	switch {
	case errors.Is(err, identity.ErrInvalidToken), err == nil && user == nil:
		res := Fail(protocol.CodeInvalidToken, "Invalid or expired token", nil)
		return nil, &res
	case err != nil:
		res := Fail(protocol.CodeAuth, "Failed to verify token", map[string]any{"error": err.Error()})
		return nil, &res
	}

	return user, nil
}
