package ruleengine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"

	"github.com/go-viper/mapstructure/v2"

	"github.com/carepoint/policygate/internal/identity"
)

// Predicate is a custom authorization check. A non-nil error denies the
// request; a *protocol.Error keeps its code, anything else becomes FORBIDDEN.
type Predicate func(ctx context.Context, rc *Context, user *identity.Identity) error

// ErrDenied is wrapped by every denial of the built-in predicates.
var ErrDenied = errors.New("access denied")

// SelfAccess allows a user to reach only the resource whose id equals their
// own. The id is read from route parameter param, or from the last path
// segment when the route captured none.
func SelfAccess(param string) Predicate {
	return func(_ context.Context, rc *Context, user *identity.Identity) error {
		if user == nil {
			return fmt.Errorf("%w: authentication required", ErrDenied)
		}
		if ResourceID(rc, param) != user.ID {
			return fmt.Errorf("%w: access limited to own resources", ErrDenied)
		}
		return nil
	}
}

// RoleIn allows users whose role is one of roles.
func RoleIn(roles ...string) Predicate {
	return func(_ context.Context, _ *Context, user *identity.Identity) error {
		if user == nil || !slices.Contains(roles, user.Role) {
			return fmt.Errorf("%w: role not permitted", ErrDenied)
		}
		return nil
	}
}

// HasPermission allows users holding every permission listed.
func HasPermission(perms ...string) Predicate {
	return func(_ context.Context, _ *Context, user *identity.Identity) error {
		if user == nil {
			return fmt.Errorf("%w: authentication required", ErrDenied)
		}
		for _, p := range perms {
			if !user.HasPermission(p) {
				return fmt.Errorf("%w: missing permission %q", ErrDenied, p)
			}
		}
		return nil
	}
}

// HeaderEquals allows requests carrying header with exactly value.
func HeaderEquals(header, value string) Predicate {
	return func(_ context.Context, rc *Context, _ *identity.Identity) error {
		if rc.Request.Header(header) != value {
			return fmt.Errorf("%w: header %s mismatch", ErrDenied, header)
		}
		return nil
	}
}

// AllOf allows the request when every predicate does.
func AllOf(preds ...Predicate) Predicate {
	return func(ctx context.Context, rc *Context, user *identity.Identity) error {
		for _, p := range preds {
			if err := p(ctx, rc, user); err != nil {
				return err
			}
		}
		return nil
	}
}

// AnyOf allows the request when at least one predicate does. The last
// denial is reported.
func AnyOf(preds ...Predicate) Predicate {
	return func(ctx context.Context, rc *Context, user *identity.Identity) error {
		err := fmt.Errorf("%w: no alternative matched", ErrDenied)
		for _, p := range preds {
			if err = p(ctx, rc, user); err == nil {
				return nil
			}
		}
		return err
	}
}

// Not inverts p.
func Not(p Predicate, message string) Predicate {
	if message == "" {
		message = "condition matched"
	}
	return func(ctx context.Context, rc *Context, user *identity.Identity) error {
		if p(ctx, rc, user) == nil {
			return fmt.Errorf("%w: %s", ErrDenied, message)
		}
		return nil
	}
}

// ResourceID returns route parameter param, or the last path segment.
func ResourceID(rc *Context, param string) string {
	if param == "" {
		param = "id"
	}
	if v := rc.Request.Params[param]; v != "" {
		return v
	}
	return path.Base(rc.Request.Path)
}

// PredicateSpec is the configuration form of a named custom rule.
type PredicateSpec struct {
	// Predicate is one of the built-in predicate names.
	Predicate string         `json:"predicate"`
	Params    map[string]any `json:"params,omitempty"`
	// Rules names other custom rules, for all_of, any_of and not.
	Rules   []string `json:"rules,omitempty"`
	Message string   `json:"message,omitempty"`
}

type predicateFactory func(spec PredicateSpec, children []Predicate) (Predicate, error)

var predicateFactories = map[string]predicateFactory{
	"self_access": func(spec PredicateSpec, _ []Predicate) (Predicate, error) {
		var p struct {
			Param string `mapstructure:"param"`
		}
		if err := decodeParams(spec.Params, &p); err != nil {
			return nil, err
		}
		return SelfAccess(p.Param), nil
	},
	"role_in": func(spec PredicateSpec, _ []Predicate) (Predicate, error) {
		var p struct {
			Roles []string `mapstructure:"roles"`
		}
		if err := decodeParams(spec.Params, &p); err != nil {
			return nil, err
		}
		if len(p.Roles) == 0 {
			return nil, errors.New("role_in requires at least one role")
		}
		return RoleIn(p.Roles...), nil
	},
	"has_permission": func(spec PredicateSpec, _ []Predicate) (Predicate, error) {
		var p struct {
			Permissions []string `mapstructure:"permissions"`
		}
		if err := decodeParams(spec.Params, &p); err != nil {
			return nil, err
		}
		if len(p.Permissions) == 0 {
			return nil, errors.New("has_permission requires at least one permission")
		}
		return HasPermission(p.Permissions...), nil
	},
	"header_equals": func(spec PredicateSpec, _ []Predicate) (Predicate, error) {
		var p struct {
			Header string `mapstructure:"header"`
			Value  string `mapstructure:"value"`
		}
		if err := decodeParams(spec.Params, &p); err != nil {
			return nil, err
		}
		if p.Header == "" {
			return nil, errors.New("header_equals requires a header")
		}
		return HeaderEquals(p.Header, p.Value), nil
	},
	"all_of": func(_ PredicateSpec, children []Predicate) (Predicate, error) {
		if len(children) == 0 {
			return nil, errors.New("all_of requires at least one rule")
		}
		return AllOf(children...), nil
	},
	"any_of": func(_ PredicateSpec, children []Predicate) (Predicate, error) {
		if len(children) == 0 {
			return nil, errors.New("any_of requires at least one rule")
		}
		return AnyOf(children...), nil
	},
	"not": func(spec PredicateSpec, children []Predicate) (Predicate, error) {
		if len(children) != 1 {
			return nil, errors.New("not requires exactly one rule")
		}
		return Not(children[0], spec.Message), nil
	},
}

// PredicateNames lists the built-in predicate names.
func PredicateNames() []string {
	return sortedKeys(predicateFactories)
}

func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// CompilePredicates builds every named custom rule. Combinators reference
// other entries by name; unknown names and reference cycles are errors.
func CompilePredicates(specs map[string]PredicateSpec) (map[string]Predicate, error) {
	c := predicateCompiler{
		specs:    specs,
		done:     make(map[string]Predicate, len(specs)),
		visiting: make(map[string]bool),
	}

	for _, n := range sortedKeys(specs) {
		if _, err := c.compile(n); err != nil {
			return nil, err
		}
	}
	return c.done, nil
}

type predicateCompiler struct {
	specs    map[string]PredicateSpec
	done     map[string]Predicate
	visiting map[string]bool
}

func (c *predicateCompiler) compile(name string) (Predicate, error) {
	if p, ok := c.done[name]; ok {
		return p, nil
	}
	if c.visiting[name] {
		return nil, fmt.Errorf("custom rule %q: reference cycle", name)
	}

	spec, ok := c.specs[name]
	if !ok {
		return nil, fmt.Errorf("unknown custom rule %q", name)
	}
	factory, ok := predicateFactories[spec.Predicate]
	if !ok {
		return nil, fmt.Errorf("custom rule %q: unknown predicate %q", name, spec.Predicate)
	}

	c.visiting[name] = true
	children := make([]Predicate, 0, len(spec.Rules))
	for _, ref := range spec.Rules {
		child, err := c.compile(ref)
		if err != nil {
			return nil, fmt.Errorf("custom rule %q: %w", name, err)
		}
		children = append(children, child)
	}
	delete(c.visiting, name)

	p, err := factory(spec, children)
	if err != nil {
		return nil, fmt.Errorf("custom rule %q: %w", name, err)
	}
	c.done[name] = p
	return p, nil
}
