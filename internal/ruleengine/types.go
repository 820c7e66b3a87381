// Package ruleengine runs an ordered set of policy rules (validation, authorization,
// rate limiting, transformation, audit) against each inbound request before it
// reaches a handler. Rules short-circuit on the first failure.
package ruleengine

import (
	"context"
	"time"

	"github.com/carepoint/policygate/internal/protocol"
)

// RuleType is the category of a rule.
type RuleType string

const (
	RuleTypeValidation     RuleType = "validation"
	RuleTypeAuthorization  RuleType = "authorization"
	RuleTypeTransformation RuleType = "transformation"
	RuleTypeRateLimit      RuleType = "rate_limiting"
	RuleTypeAudit          RuleType = "audit"
	RuleTypeCustom         RuleType = "custom"
)

// Default priorities per rule type. Lower runs first.
const (
	PriorityValidation     = 10
	PriorityAuthorization  = 20
	PriorityRateLimit      = 30
	PriorityTransformation = 50
	PriorityCustom         = 60
	PriorityAudit          = 100
)

// DefaultPriority returns the priority assigned to rules of type t when none is configured.
func DefaultPriority(t RuleType) int {
	switch t {
	case RuleTypeValidation:
		return PriorityValidation
	case RuleTypeAuthorization:
		return PriorityAuthorization
	case RuleTypeRateLimit:
		return PriorityRateLimit
	case RuleTypeTransformation:
		return PriorityTransformation
	case RuleTypeAudit:
		return PriorityAudit
	default:
		return PriorityCustom
	}
}

// RuleConfig is the identity and scope of a rule.
//
// Paths, Methods and Handlers narrow where the rule applies; an empty list
// means "no restriction" for that dimension. A path ending in '*' matches any
// request path with the preceding prefix.
type RuleConfig struct {
	ID          string
	Name        string
	Description string
	Type        RuleType
	// Priority orders execution, lower first. Zero means DefaultPriority(Type)
	// unless PrioritySet is true.
	Priority    int
	PrioritySet bool
	Enabled     bool
	Paths       []string
	Methods     []string
	Handlers    []string
}

// withDefaults fills the type and priority a constructor implies.
func (c RuleConfig) withDefaults(t RuleType) RuleConfig {
	if c.Type == "" {
		c.Type = t
	}
	if c.Priority == 0 && !c.PrioritySet {
		c.Priority = DefaultPriority(c.Type)
	}
	if c.Name == "" {
		c.Name = c.ID
	}
	return c
}

// Result is the verdict of a single rule.
type Result struct {
	Passed     bool
	Code       string
	StatusCode int
	Message    string
	// Details is merged into the context data on pass, or returned to the
	// caller as error details on failure.
	Details map[string]any
}

// Pass returns a passing result contributing details to the context.
func Pass(details map[string]any) Result {
	return Result{Passed: true, Details: details}
}

// Fail returns a failing result with the default status for code.
func Fail(code, message string, details map[string]any) Result {
	return Result{
		Code:       code,
		StatusCode: protocol.StatusFor(code),
		Message:    message,
		Details:    details,
	}
}

// FailWith converts a protocol error into a failing result.
func FailWith(err *protocol.Error) Result {
	return Result{
		Code:       err.Code,
		StatusCode: err.Status,
		Message:    err.Message,
		Details:    err.Details,
	}
}

// Error converts a failing result into the error returned to the client.
func (r Result) Error() *protocol.Error {
	code := r.Code
	if code == "" {
		code = protocol.CodeRuleExecution
	}
	status := r.StatusCode
	if status == 0 {
		status = protocol.StatusFor(code)
	}
	msg := r.Message
	if msg == "" {
		msg = "request rejected"
	}
	return &protocol.Error{Code: code, Status: status, Message: msg, Details: r.Details}
}

// Rule is one policy check.
type Rule interface {
	Config() RuleConfig
	// Execute evaluates the rule. A returned error is treated as an internal
	// rule failure; a failing Result is a deliberate rejection.
	Execute(ctx context.Context, rc *Context) (Result, error)
}

// OutcomeObserver is implemented by rules that want to see the final response
// after the handler ran (or after the request was rejected).
type OutcomeObserver interface {
	Observe(ctx context.Context, rc *Context, resp *protocol.Response)
}

// Clock abstracts time for the rate limiter and audit timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// RuleFunc adapts a plain function into a custom rule.
type RuleFunc struct {
	cfg RuleConfig
	fn  func(ctx context.Context, rc *Context) (Result, error)
}

// NewRuleFunc creates a custom rule backed by fn.
func NewRuleFunc(cfg RuleConfig, fn func(ctx context.Context, rc *Context) (Result, error)) *RuleFunc {
	if fn == nil {
		panic("ruleengine: rule function cannot be nil")
	}
	return &RuleFunc{cfg: cfg.withDefaults(RuleTypeCustom), fn: fn}
}

func (r *RuleFunc) Config() RuleConfig { return r.cfg }

func (r *RuleFunc) Execute(ctx context.Context, rc *Context) (Result, error) {
	return r.fn(ctx, rc)
}
