package ruleengine

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/carepoint/policygate/internal/audit"
	"github.com/carepoint/policygate/internal/identity"
	"github.com/carepoint/policygate/internal/validation"
)

// TypeSettings are the per-type defaults from the "rules" section.
type TypeSettings struct {
	Enabled       *bool `json:"enabled,omitempty"`
	Priority      *int  `json:"priority,omitempty"`
	Limit         int   `json:"limit,omitempty"`
	WindowSeconds int   `json:"windowSeconds,omitempty"`
}

// LoaderConfig is the declarative rule configuration file.
type LoaderConfig struct {
	Rules       map[RuleType]TypeSettings          `json:"rules"`
	Schemas     map[string]validation.Definition   `json:"schemas"`
	CustomRules map[string]PredicateSpec           `json:"customRules"`
	Endpoints   map[string]map[string]EndpointSpec `json:"endpoints"`
}

// EndpointSpec lists the rules attached to one path and method.
type EndpointSpec struct {
	Validation    *ValidationSpec    `json:"validation,omitempty"`
	Authorization *AuthorizationSpec `json:"authorization,omitempty"`
	RateLimit     *RateLimitSpec     `json:"rateLimit,omitempty"`
	Audit         *AuditSpec         `json:"audit,omitempty"`
	Transform     *TransformSpec     `json:"transform,omitempty"`
}

// ValidationSpec references schemas by name.
type ValidationSpec struct {
	Body    string `json:"body,omitempty"`
	Query   string `json:"query,omitempty"`
	Headers string `json:"headers,omitempty"`
}

// AuthorizationSpec configures an authorization rule; Custom names a custom rule.
type AuthorizationSpec struct {
	RequireAuth bool     `json:"requireAuth,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Custom      string   `json:"custom,omitempty"`
}

// RateLimitSpec configures a rate limit rule. Zero values fall back to the
// "rate_limiting" type settings.
type RateLimitSpec struct {
	Limit           int    `json:"limit,omitempty"`
	WindowSeconds   int    `json:"windowSeconds,omitempty"`
	Key             string `json:"key,omitempty"` // ip (default) or user
	IncludeEndpoint bool   `json:"includeEndpoint,omitempty"`
	IncludeMethod   bool   `json:"includeMethod,omitempty"`
}

// AuditSpec configures an audit rule; Extract names built-in extractors.
type AuditSpec struct {
	LogBody            bool     `json:"logBody,omitempty"`
	LogQuery           bool     `json:"logQuery,omitempty"`
	LogHeaders         bool     `json:"logHeaders,omitempty"`
	LogUser            bool     `json:"logUser,omitempty"`
	OmitStandardFields bool     `json:"omitStandardFields,omitempty"`
	RecordOutcome      bool     `json:"recordOutcome,omitempty"`
	Extract            []string `json:"extract,omitempty"`
}

// TransformSpec names built-in body transforms, applied in order.
type TransformSpec struct {
	Body []string `json:"body,omitempty"`
}

// Deps are the collaborators compiled rules are wired to.
type Deps struct {
	Resolver  identity.Resolver
	Counters  CounterStore
	AuditSink audit.Sink
	Clock     Clock
	Logger    *slog.Logger
}

// ErrInvalidRuleConfig is wrapped by every configuration error.
var ErrInvalidRuleConfig = errors.New("invalid rule configuration")

// LoadFile reads and compiles a rule configuration file.
func LoadFile(path string, deps Deps) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule config: %w", err)
	}
	defer f.Close()

	return Load(f, deps)
}

// Load decodes and compiles a rule configuration.
func Load(r io.Reader, deps Deps) ([]Rule, error) {
	cfg, err := DecodeConfig(r)
	if err != nil {
		return nil, err
	}
	return Compile(cfg, deps)
}

// DecodeConfig parses a rule configuration, rejecting unknown fields.
func DecodeConfig(r io.Reader) (*LoaderConfig, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var cfg LoaderConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRuleConfig, err)
	}
	return &cfg, nil
}

// Compile builds the rules described by cfg. Paths and methods are visited in
// sorted order so registration order, and therefore tie-breaking, is stable.
// Any unknown reference is an error.
func Compile(cfg *LoaderConfig, deps Deps) ([]Rule, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}

	for t := range cfg.Rules {
		if DefaultPriority(t) == PriorityCustom && t != RuleTypeCustom {
			return nil, fmt.Errorf("%w: unknown rule type %q", ErrInvalidRuleConfig, t)
		}
	}

	schemas := make(map[string]*validation.Schema, len(cfg.Schemas))
	for name, def := range cfg.Schemas {
		s, err := validation.Compile(def)
		if err != nil {
			return nil, fmt.Errorf("%w: schema %q: %v", ErrInvalidRuleConfig, name, err)
		}
		schemas[name] = s
	}

	predicates, err := CompilePredicates(cfg.CustomRules)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRuleConfig, err)
	}

	c := compiler{cfg: cfg, deps: deps, schemas: schemas, predicates: predicates}

	var rules []Rule
	for _, path := range sortedKeys(cfg.Endpoints) {
		methods := cfg.Endpoints[path]
		for _, method := range sortedKeys(methods) {
			built, err := c.endpoint(path, strings.ToUpper(method), methods[method])
			if err != nil {
				return nil, fmt.Errorf("%w: %s %s: %v", ErrInvalidRuleConfig, method, path, err)
			}
			rules = append(rules, built...)
		}
	}

	return rules, nil
}

type compiler struct {
	cfg        *LoaderConfig
	deps       Deps
	schemas    map[string]*validation.Schema
	predicates map[string]Predicate
}

func (c *compiler) base(t RuleType, path, method string) RuleConfig {
	settings := c.cfg.Rules[t]

	cfg := RuleConfig{
		ID:       fmt.Sprintf("%s:%s %s", t, method, path),
		Name:     fmt.Sprintf("%s %s %s", t, method, path),
		Type:     t,
		Priority: DefaultPriority(t),
		Enabled:  true,
		Paths:    []string{path},
	}
	if method != "*" {
		cfg.Methods = []string{method}
	}
	if settings.Enabled != nil {
		cfg.Enabled = *settings.Enabled
	}
	if settings.Priority != nil {
		cfg.Priority = *settings.Priority
		cfg.PrioritySet = true
	}
	return cfg
}

func (c *compiler) endpoint(path, method string, spec EndpointSpec) ([]Rule, error) {
	var rules []Rule

	if v := spec.Validation; v != nil {
		opts := ValidationOptions{}
		var err error
		if opts.Body, err = c.schema(v.Body); err != nil {
			return nil, err
		}
		if opts.Query, err = c.schema(v.Query); err != nil {
			return nil, err
		}
		if opts.Headers, err = c.schema(v.Headers); err != nil {
			return nil, err
		}
		rules = append(rules, NewValidationRule(c.base(RuleTypeValidation, path, method), opts))
	}

	if a := spec.Authorization; a != nil {
		opts := AuthorizationOptions{
			RequireAuth:         a.RequireAuth,
			RequiredRoles:       a.Roles,
			RequiredPermissions: a.Permissions,
			Resolver:            c.deps.Resolver,
		}
		if a.Custom != "" {
			p, ok := c.predicates[a.Custom]
			if !ok {
				return nil, fmt.Errorf("unknown custom rule %q", a.Custom)
			}
			opts.Authorizer = p
		}
		if opts.needsIdentity() && opts.Resolver == nil {
			return nil, errors.New("authorization requires an identity resolver")
		}
		rules = append(rules, NewAuthorizationRule(c.base(RuleTypeAuthorization, path, method), opts))
	}

	if rl := spec.RateLimit; rl != nil {
		settings := c.cfg.Rules[RuleTypeRateLimit]
		limit := cmp.Or(rl.Limit, settings.Limit)
		window := cmp.Or(rl.WindowSeconds, settings.WindowSeconds)
		if limit < 1 || window < 1 {
			return nil, errors.New("rate limit requires positive limit and windowSeconds")
		}
		if c.deps.Counters == nil {
			return nil, errors.New("rate limit requires a counter store")
		}

		var key KeyFunc
		switch rl.Key {
		case "", "ip":
			key = ClientIPKey
		case "user":
			key = UserKey
		default:
			return nil, fmt.Errorf("unknown rate limit key %q", rl.Key)
		}

		rules = append(rules, NewRateLimitRule(c.base(RuleTypeRateLimit, path, method), RateLimitOptions{
			Limit:           limit,
			Window:          time.Duration(window) * time.Second,
			KeyFunc:         key,
			IncludeEndpoint: rl.IncludeEndpoint,
			IncludeMethod:   rl.IncludeMethod,
			Store:           c.deps.Counters,
			Clock:           c.deps.Clock,
		}))
	}

	if t := spec.Transform; t != nil && len(t.Body) > 0 {
		chain := make([]BodyTransform, 0, len(t.Body))
		for _, name := range t.Body {
			fn, ok := bodyTransforms[name]
			if !ok {
				return nil, fmt.Errorf("unknown transform %q", name)
			}
			chain = append(chain, fn)
		}
		rules = append(rules, NewTransformationRule(c.base(RuleTypeTransformation, path, method), TransformOptions{
			Body: ChainBody(chain...),
		}))
	}

	if a := spec.Audit; a != nil {
		opts := AuditOptions{
			LogBody:            a.LogBody,
			LogQuery:           a.LogQuery,
			LogHeaders:         a.LogHeaders,
			LogUser:            a.LogUser,
			OmitStandardFields: a.OmitStandardFields,
			RecordOutcome:      a.RecordOutcome,
			Sink:               c.deps.AuditSink,
			Clock:              c.deps.Clock,
			Logger:             c.deps.Logger,
		}
		for _, name := range a.Extract {
			fn, ok := extractors[name]
			if !ok {
				return nil, fmt.Errorf("unknown audit extractor %q", name)
			}
			opts.Extractors = append(opts.Extractors, fn)
		}
		rules = append(rules, NewAuditRule(c.base(RuleTypeAudit, path, method), opts))
	}

	return rules, nil
}

func (c *compiler) schema(name string) (*validation.Schema, error) {
	if name == "" {
		return nil, nil
	}
	s, ok := c.schemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	return s, nil
}
