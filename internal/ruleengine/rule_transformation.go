package ruleengine

import (
	"context"
	"fmt"

	"github.com/carepoint/policygate/internal/protocol"
)

// TransformOptions holds the transformations applied by a TransformationRule,
// in field order: body, query, headers, then the whole request.
type TransformOptions struct {
	Body    func(body any) (any, error)
	Query   func(query map[string]string) (map[string]string, error)
	Headers func(headers map[string]string) (map[string]string, error)
	Request func(req *protocol.Request) (*protocol.Request, error)
}

// TransformationRule rewrites the request held by the context so that later
// rules and the handler observe the new values.
type TransformationRule struct {
	cfg  RuleConfig
	opts TransformOptions
}

var _ Rule = (*TransformationRule)(nil)

// NewTransformationRule creates a transformation rule.
func NewTransformationRule(cfg RuleConfig, opts TransformOptions) *TransformationRule {
	return &TransformationRule{cfg: cfg.withDefaults(RuleTypeTransformation), opts: opts}
}

func (r *TransformationRule) Config() RuleConfig { return r.cfg }

func (r *TransformationRule) Execute(_ context.Context, rc *Context) (Result, error) {
	req := rc.Request

	if r.opts.Body != nil {
		body, err := guard(func() (any, error) { return r.opts.Body(req.Body) })
		if err != nil {
			return transformFailure("body", err), nil
		}
		req.Body = body
	}

	if r.opts.Query != nil {
		query, err := guard(func() (map[string]string, error) { return r.opts.Query(req.Query) })
		if err != nil {
			return transformFailure("query", err), nil
		}
		req.Query = query
	}

	if r.opts.Headers != nil {
		headers, err := guard(func() (map[string]string, error) { return r.opts.Headers(req.Headers) })
		if err != nil {
			return transformFailure("headers", err), nil
		}
		req.Headers = headers
	}

	if r.opts.Request != nil {
		next, err := guard(func() (*protocol.Request, error) { return r.opts.Request(req.Clone()) })
		if err != nil {
			return transformFailure("request", err), nil
		}
		if next != nil {
			*req = *next
		}
	}

	return Pass(nil), nil
}

func transformFailure(field string, err error) Result {
	return Fail(protocol.CodeTransformation, "Request transformation failed", map[string]any{
		"field": field,
		"error": err.Error(),
	})
}

// guard runs fn, converting a panic into an error.
func guard[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
