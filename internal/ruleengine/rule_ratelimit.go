package ruleengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/carepoint/policygate/internal/observability"
	"github.com/carepoint/policygate/internal/protocol"
)

// KeyFunc derives the client identity a rate limit is counted against.
type KeyFunc func(rc *Context) string

// ClientIPKey keys by the client address.
func ClientIPKey(rc *Context) string {
	if rc.Request.ClientIP == "" {
		return "ip:unknown"
	}
	return "ip:" + rc.Request.ClientIP
}

// UserKey keys by the authenticated user, falling back to the client address.
func UserKey(rc *Context) string {
	if u := rc.User(); u != nil && u.ID != "" {
		return "user:" + u.ID
	}
	return ClientIPKey(rc)
}

// RateLimitOptions configures a RateLimitRule.
type RateLimitOptions struct {
	Limit  int
	Window time.Duration
	// KeyFunc defaults to ClientIPKey.
	KeyFunc         KeyFunc
	IncludeEndpoint bool
	IncludeMethod   bool
	Store           CounterStore
	// Clock defaults to SystemClock.
	Clock Clock
}

// RateLimitRule enforces a fixed-window request limit per key.
// A burst of up to twice the limit is possible across a window boundary.
type RateLimitRule struct {
	cfg  RuleConfig
	opts RateLimitOptions
}

var _ Rule = (*RateLimitRule)(nil)

// NewRateLimitRule creates a rate limit rule. It panics on a missing store
// or a non-positive limit or window.
func NewRateLimitRule(cfg RuleConfig, opts RateLimitOptions) *RateLimitRule {
	if opts.Store == nil {
		panic("ruleengine: rate limit rule requires a counter store")
	}
	if opts.Limit < 1 || opts.Window <= 0 {
		panic("ruleengine: rate limit and window must be positive")
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = ClientIPKey
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	return &RateLimitRule{cfg: cfg.withDefaults(RuleTypeRateLimit), opts: opts}
}

func (r *RateLimitRule) Config() RuleConfig { return r.cfg }

// Key returns the counter key for rc. Counters are scoped to the rule so
// rules with different windows never share state.
func (r *RateLimitRule) Key(rc *Context) string {
	parts := []string{r.cfg.ID, r.opts.KeyFunc(rc)}
	if r.opts.IncludeEndpoint {
		parts = append(parts, rc.Endpoint)
	}
	if r.opts.IncludeMethod {
		parts = append(parts, strings.ToUpper(rc.Request.Method))
	}
	return strings.Join(parts, "|")
}

func (r *RateLimitRule) Execute(ctx context.Context, rc *Context) (Result, error) {
	now := r.opts.Clock.Now()

	counter, err := r.opts.Store.Hit(ctx, r.Key(rc), now, r.opts.Window)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit counter: %w", err)
	}

	resetAt := counter.WindowStart.Add(r.opts.Window)
	info := map[string]any{
		"limit":      r.opts.Limit,
		"remaining":  max(int64(r.opts.Limit)-counter.Count, 0),
		"reset":      resetAt.Unix(),
		"retryAfter": retryAfterSeconds(resetAt.Sub(now)),
	}

	if counter.Count > int64(r.opts.Limit) {
		observability.RateLimitDecisionsTotal.WithLabelValues("limited").Inc()
		return Fail(protocol.CodeRateLimitExceeded, "Rate limit exceeded", map[string]any{
			"rateLimit": info,
		}), nil
	}

	observability.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
	return Pass(map[string]any{RateLimitDataKey(r.cfg.ID): info}), nil
}

// RateLimitDataKey is the context data key a passing rate limit rule stores
// its counter state under. Keys are per rule so stacked limiters never collide.
func RateLimitDataKey(ruleID string) string {
	return "rateLimit:" + ruleID
}

// retryAfterSeconds rounds up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) int64 {
	s := int64((d + time.Second - 1) / time.Second)
	return max(s, 1)
}
