package ruleengine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/carepoint/policygate/internal/observability"
	"github.com/carepoint/policygate/internal/protocol"
)

type entry struct {
	rule Rule
	cfg  RuleConfig
	seq  uint64
}

// Engine holds the registered rules and evaluates them per request.
//
// Registration is safe to call concurrently with evaluation: every
// evaluation works on a snapshot of the rule list taken when it starts.
type Engine struct {
	mu      sync.RWMutex
	entries []entry
	seq     uint64
	logger  *slog.Logger // Dedicated logger instance (DI)
}

// New creates an empty Engine.
// If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{logger: logger}
}

// Register adds a rule, replacing any rule registered under the same ID.
// A replaced rule takes the ordering position of a fresh registration.
func (e *Engine) Register(rule Rule) {
	if rule == nil {
		panic("ruleengine: rule cannot be nil")
	}
	cfg := rule.Config()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.entries = slices.DeleteFunc(e.entries, func(en entry) bool { return en.cfg.ID == cfg.ID })
	e.seq++
	e.entries = append(e.entries, entry{rule: rule, cfg: cfg, seq: e.seq})
	slices.SortStableFunc(e.entries, func(a, b entry) int {
		if c := cmp.Compare(a.cfg.Priority, b.cfg.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	observability.RegisteredRules.Set(float64(len(e.entries)))
	e.logger.Debug("rule registered",
		slog.String("rule_id", cfg.ID),
		slog.String("type", string(cfg.Type)),
		slog.Int("priority", cfg.Priority),
		slog.Bool("enabled", cfg.Enabled),
	)
}

// Unregister removes the rule with the given ID and reports whether it was registered.
func (e *Engine) Unregister(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := len(e.entries)
	e.entries = slices.DeleteFunc(e.entries, func(en entry) bool { return en.cfg.ID == id })
	observability.RegisteredRules.Set(float64(len(e.entries)))
	return len(e.entries) < before
}

// Enable turns a registered rule on. It returns false for unknown IDs.
func (e *Engine) Enable(id string) bool { return e.setEnabled(id, true) }

// Disable turns a registered rule off. It returns false for unknown IDs.
func (e *Engine) Disable(id string) bool { return e.setEnabled(id, false) }

func (e *Engine) setEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.entries {
		if e.entries[i].cfg.ID == id {
			e.entries[i].cfg.Enabled = enabled
			return true
		}
	}
	return false
}

// Rules returns the registered rule configurations in execution order.
func (e *Engine) Rules() []RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]RuleConfig, len(e.entries))
	for i, en := range e.entries {
		out[i] = en.cfg
	}
	return out
}

func (e *Engine) snapshot() []entry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return slices.Clone(e.entries)
}

// applicable returns the enabled rules that scope in rc, in execution order.
func (e *Engine) applicable(rc *Context) []entry {
	var out []entry
	for _, en := range e.snapshot() {
		if en.cfg.Enabled && appliesTo(en.cfg, rc) {
			out = append(out, en)
		}
	}
	return out
}

// ExecuteRules runs every applicable rule in order and stops at the first
// failure. The returned Context is valid in both cases; the error is nil
// when all rules passed.
func (e *Engine) ExecuteRules(ctx context.Context, req *protocol.Request, handlerName, endpoint string) (*Context, *protocol.Error) {
	rc := NewContext(req, handlerName, endpoint)

	for _, en := range e.applicable(rc) {
		res, err := e.run(ctx, en, rc)
		if err != nil {
			observability.RuleExecutionsTotal.WithLabelValues(string(en.cfg.Type), "error").Inc()
			e.logger.Error("rule execution failed",
				slog.String("rule_id", en.cfg.ID),
				slog.String("type", string(en.cfg.Type)),
				slog.String("error", err.Error()),
			)
			return rc, protocol.Errorf(protocol.CodeRuleExecution, "rule %q failed to execute", en.cfg.Name).
				WithDetails(map[string]any{"ruleId": en.cfg.ID, "error": err.Error()})
		}

		if !res.Passed {
			observability.RuleExecutionsTotal.WithLabelValues(string(en.cfg.Type), "fail").Inc()
			e.logger.Debug("rule rejected request",
				slog.String("rule_id", en.cfg.ID),
				slog.String("code", res.Code),
				slog.String("path", rc.Request.Path),
			)
			return rc, res.Error()
		}

		observability.RuleExecutionsTotal.WithLabelValues(string(en.cfg.Type), "pass").Inc()
		if conflicts := rc.merge(en.cfg.ID, res.Details); len(conflicts) > 0 {
			observability.ContextConflictsTotal.Add(float64(len(conflicts)))
			e.logger.Warn("rule tried to overwrite context data owned by an earlier rule",
				slog.String("rule_id", en.cfg.ID),
				slog.Any("keys", conflicts),
			)
		}
	}

	return rc, nil
}

// ApplyRules is ExecuteRules with the failure rendered as an error response.
// The response is nil when all rules passed.
func (e *Engine) ApplyRules(ctx context.Context, req *protocol.Request, handlerName, endpoint string) (*Context, *protocol.Response) {
	rc, perr := e.ExecuteRules(ctx, req, handlerName, endpoint)
	if perr != nil {
		return rc, perr.Response()
	}
	return rc, nil
}

// Complete hands the final response to every applicable rule that observes
// outcomes. Observer panics are logged and swallowed.
func (e *Engine) Complete(ctx context.Context, rc *Context, resp *protocol.Response) {
	if rc == nil || resp == nil {
		return
	}

	for _, en := range e.applicable(rc) {
		obs, ok := en.rule.(OutcomeObserver)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("outcome observer panicked",
						slog.String("rule_id", en.cfg.ID),
						slog.Any("panic", r),
					)
				}
			}()
			obs.Observe(ctx, rc, resp)
		}()
	}
}

// run executes one rule, converting a panic into an error.
func (e *Engine) run(ctx context.Context, en entry, rc *Context) (res Result, err error) {
	start := time.Now()
	defer func() {
		observability.RuleExecutionDuration.WithLabelValues(string(en.cfg.Type)).Observe(time.Since(start).Seconds())
	}()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rule panicked",
				slog.String("rule_id", en.cfg.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return en.rule.Execute(ctx, rc)
}
