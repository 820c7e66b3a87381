package ruleengine

import (
	"context"
	"fmt"

	"github.com/carepoint/policygate/internal/protocol"
	"github.com/carepoint/policygate/internal/validation"
)

// ValidationOptions selects the schemas checked by a ValidationRule.
type ValidationOptions struct {
	Body    *validation.Schema
	Query   *validation.Schema
	Headers *validation.Schema
	// Custom runs after the schema checks pass and may reject the request itself.
	Custom func(ctx context.Context, rc *Context) (Result, error)
}

// ValidationRule checks request parts against compiled schemas.
type ValidationRule struct {
	cfg  RuleConfig
	opts ValidationOptions
}

var _ Rule = (*ValidationRule)(nil)

// NewValidationRule creates a validation rule.
func NewValidationRule(cfg RuleConfig, opts ValidationOptions) *ValidationRule {
	return &ValidationRule{cfg: cfg.withDefaults(RuleTypeValidation), opts: opts}
}

func (r *ValidationRule) Config() RuleConfig { return r.cfg }

// Execute collects every schema violation across body, query and headers and
// fails with all of them at once.
func (r *ValidationRule) Execute(ctx context.Context, rc *Context) (Result, error) {
	req := rc.Request
	var violations []validation.FieldError

	if r.opts.Body != nil {
		errs, err := r.opts.Body.Validate("body", req.Body)
		if err != nil {
			return Result{}, fmt.Errorf("validate body: %w", err)
		}
		violations = append(violations, errs...)
	}

	if r.opts.Query != nil {
		errs, err := r.opts.Query.ValidateStrings("query", req.Query)
		if err != nil {
			return Result{}, fmt.Errorf("validate query: %w", err)
		}
		violations = append(violations, errs...)
	}

	if r.opts.Headers != nil {
		errs, err := r.opts.Headers.ValidateStrings("headers", req.Headers)
		if err != nil {
			return Result{}, fmt.Errorf("validate headers: %w", err)
		}
		violations = append(violations, errs...)
	}

	if len(violations) > 0 {
		return Fail(protocol.CodeValidation, "Request validation failed", map[string]any{
			"errors": violations,
		}), nil
	}

	if r.opts.Custom != nil {
		return r.opts.Custom(ctx, rc)
	}

	return Pass(nil), nil
}
