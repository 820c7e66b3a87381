package ruleengine

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carepoint/policygate/internal/protocol"
)

func TestEngine_ExecutesInPriorityOrder(t *testing.T) {
	t.Parallel()

	// Arrange
	var order []string
	record := func(id string) func(*Context) { return func(*Context) { order = append(order, id) } }

	e := New(nil)
	for _, r := range []*countingRule{passing("audit", 100), passing("auth", 20), passing("validate", 10), passing("auth-2", 20)} {
		r.onRun = record(r.cfg.ID)
		e.Register(r)
	}

	// Act
	_, perr := e.ExecuteRules(context.Background(), request("GET", "/x"), "", "")

	// Assert
	require.Nil(t, perr)
	assert.Equal(t, []string{"validate", "auth", "auth-2", "audit"}, order)
}

func TestEngine_StopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	// Arrange
	e := New(nil)
	first := passing("first", 10)
	failing := &countingRule{
		cfg:    RuleConfig{ID: "deny", Priority: 20, Enabled: true},
		result: Fail(protocol.CodeForbidden, "nope", map[string]any{"why": "test"}),
	}
	last := passing("last", 30)
	e.Register(first)
	e.Register(failing)
	e.Register(last)

	// Act
	_, perr := e.ExecuteRules(context.Background(), request("GET", "/x"), "", "")

	// Assert
	require.NotNil(t, perr)
	assert.Equal(t, protocol.CodeForbidden, perr.Code)
	assert.Equal(t, http.StatusForbidden, perr.Status)
	assert.Equal(t, "nope", perr.Message)
	assert.Equal(t, "test", perr.Details["why"])
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, failing.calls)
	assert.Zero(t, last.calls, "rules after a failure must not run")
}

func TestEngine_RuleErrorsBecomeRuleExecutionError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rule *countingRule
	}{
		{
			name: "Should convert returned error",
			rule: &countingRule{cfg: RuleConfig{ID: "broken", Name: "Broken rule", Enabled: true}, err: errors.New("boom")},
		},
		{
			name: "Should recover from panic",
			rule: &countingRule{cfg: RuleConfig{ID: "broken", Name: "Broken rule", Enabled: true}, panics: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			logger, buf := newTestLogger()
			e := New(logger)
			e.Register(tt.rule)

			// Act
			_, perr := e.ExecuteRules(context.Background(), request("GET", "/x"), "", "")

			// Assert
			require.NotNil(t, perr)
			assert.Equal(t, protocol.CodeRuleExecution, perr.Code)
			assert.Equal(t, http.StatusInternalServerError, perr.Status)
			assert.Contains(t, perr.Message, "Broken rule")
			assert.Contains(t, buf.String(), "broken")
		})
	}
}

func TestEngine_RegisterReplacesDuplicateID(t *testing.T) {
	t.Parallel()

	// Arrange
	e := New(nil)
	old := &countingRule{cfg: RuleConfig{ID: "dup", Priority: 10, Enabled: true}, result: Fail(protocol.CodeForbidden, "old", nil)}
	replacement := passing("dup", 50)

	// Act
	e.Register(old)
	e.Register(replacement)
	_, perr := e.ExecuteRules(context.Background(), request("GET", "/x"), "", "")

	// Assert
	require.Nil(t, perr)
	assert.Len(t, e.Rules(), 1)
	assert.Equal(t, 50, e.Rules()[0].Priority)
	assert.Zero(t, old.calls)
	assert.Equal(t, 1, replacement.calls)
}

func TestEngine_EnableDisableUnregister(t *testing.T) {
	t.Parallel()

	// Arrange
	e := New(nil)
	deny := &countingRule{cfg: RuleConfig{ID: "deny", Enabled: true}, result: Fail(protocol.CodeForbidden, "no", nil)}
	e.Register(deny)
	ctx := context.Background()

	// Act & Assert
	assert.True(t, e.Disable("deny"))
	_, perr := e.ExecuteRules(ctx, request("GET", "/x"), "", "")
	assert.Nil(t, perr, "disabled rule must be skipped")

	assert.True(t, e.Enable("deny"))
	_, perr = e.ExecuteRules(ctx, request("GET", "/x"), "", "")
	assert.NotNil(t, perr)

	assert.True(t, e.Unregister("deny"))
	assert.False(t, e.Unregister("deny"), "second removal finds nothing")
	assert.False(t, e.Unregister("unknown"))
	assert.False(t, e.Enable("unknown"))
	assert.False(t, e.Disable("unknown"))
	_, perr = e.ExecuteRules(ctx, request("GET", "/x"), "", "")
	assert.Nil(t, perr)
	assert.Empty(t, e.Rules())
}

func TestEngine_Matching(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      RuleConfig
		method   string
		path     string
		handler  string
		wantRuns bool
	}{
		{name: "Should apply unscoped rule", cfg: RuleConfig{}, method: "GET", path: "/a", wantRuns: true},
		{name: "Should match exact path", cfg: RuleConfig{Paths: []string{"/a"}}, method: "GET", path: "/a", wantRuns: true},
		{name: "Should not match other path", cfg: RuleConfig{Paths: []string{"/a"}}, method: "GET", path: "/ab", wantRuns: false},
		{name: "Should match raw prefix wildcard", cfg: RuleConfig{Paths: []string{"/api/x*"}}, method: "GET", path: "/api/xyz", wantRuns: true},
		{name: "Should not match wildcard outside prefix", cfg: RuleConfig{Paths: []string{"/api/x*"}}, method: "GET", path: "/api/y", wantRuns: false},
		{name: "Should match path template", cfg: RuleConfig{Paths: []string{"/patients/{id}"}}, method: "GET", path: "/patients/42", wantRuns: true},
		{name: "Should not match template with extra segment", cfg: RuleConfig{Paths: []string{"/patients/{id}"}}, method: "GET", path: "/patients/42/notes", wantRuns: false},
		{name: "Should match method case-insensitively", cfg: RuleConfig{Methods: []string{"post"}}, method: "POST", path: "/a", wantRuns: true},
		{name: "Should not match other method", cfg: RuleConfig{Methods: []string{"POST"}}, method: "GET", path: "/a", wantRuns: false},
		{name: "Should match listed handler", cfg: RuleConfig{Handlers: []string{"auth"}}, method: "GET", path: "/a", handler: "auth", wantRuns: true},
		{name: "Should skip unlisted handler", cfg: RuleConfig{Handlers: []string{"auth"}}, method: "GET", path: "/a", handler: "patients", wantRuns: false},
		{name: "Should ignore handler list when handler is unknown", cfg: RuleConfig{Handlers: []string{"auth"}}, method: "GET", path: "/a", wantRuns: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			cfg := tt.cfg
			cfg.ID, cfg.Enabled = "r", true
			r := &countingRule{cfg: cfg, result: Pass(nil)}
			e := New(nil)
			e.Register(r)

			// Act
			_, perr := e.ExecuteRules(context.Background(), request(tt.method, tt.path), tt.handler, "")

			// Assert
			require.Nil(t, perr)
			assert.Equal(t, tt.wantRuns, r.calls == 1)
		})
	}
}

func TestEngine_ContextDataFirstWriterWins(t *testing.T) {
	t.Parallel()

	// Arrange
	logger, buf := newTestLogger()
	e := New(logger)
	e.Register(&countingRule{cfg: RuleConfig{ID: "a", Priority: 1, Enabled: true}, result: Pass(map[string]any{"user": "alice", "a": 1})})
	e.Register(&countingRule{cfg: RuleConfig{ID: "b", Priority: 2, Enabled: true}, result: Pass(map[string]any{"user": "mallory", "b": 2})})

	// Act
	rc, perr := e.ExecuteRules(context.Background(), request("GET", "/x"), "", "")

	// Assert
	require.Nil(t, perr)
	assert.Equal(t, map[string]any{"user": "alice", "a": 1, "b": 2}, rc.Data())
	require.Len(t, rc.Contributions(), 2)
	assert.Equal(t, "b", rc.Contributions()[1].RuleID)
	assert.Contains(t, buf.String(), "overwrite context data")
}

func TestEngine_ApplyRules(t *testing.T) {
	t.Parallel()

	// Arrange
	e := New(nil)
	e.Register(&countingRule{cfg: RuleConfig{ID: "deny", Enabled: true}, result: Fail(protocol.CodeRateLimitExceeded, "slow down", nil)})

	// Act
	_, resp := e.ApplyRules(context.Background(), request("GET", "/x"), "", "")

	// Assert
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeRateLimitExceeded, resp.Error.Code)
}

func TestEngine_DoesNotMutateInboundRequest(t *testing.T) {
	t.Parallel()

	// Arrange
	e := New(nil)
	e.Register(NewTransformationRule(RuleConfig{ID: "t", Enabled: true}, TransformOptions{Body: TrimStrings}))
	req := request("POST", "/x")
	req.Body = map[string]any{"name": "  Ada  "}

	// Act
	rc, perr := e.ExecuteRules(context.Background(), req, "", "")

	// Assert
	require.Nil(t, perr)
	assert.Equal(t, map[string]any{"name": "Ada"}, rc.Request.Body)
	assert.Equal(t, map[string]any{"name": "  Ada  "}, req.Body)
}

type observingRule struct {
	countingRule
	seen []int
}

func (r *observingRule) Observe(_ context.Context, _ *Context, resp *protocol.Response) {
	r.seen = append(r.seen, resp.Status)
}

func TestEngine_CompleteNotifiesObservers(t *testing.T) {
	t.Parallel()

	// Arrange
	e := New(nil)
	obs := &observingRule{countingRule: *passing("obs", 10)}
	scoped := &observingRule{countingRule: *passing("scoped", 10)}
	scoped.cfg.Paths = []string{"/other"}
	e.Register(obs)
	e.Register(scoped)
	rc, _ := e.ExecuteRules(context.Background(), request("GET", "/x"), "", "")

	// Act
	e.Complete(context.Background(), rc, &protocol.Response{Status: http.StatusCreated})

	// Assert
	assert.Equal(t, []int{http.StatusCreated}, obs.seen)
	assert.Empty(t, scoped.seen)
}

func TestEngine_ExplicitZeroPriorityRunsFirst(t *testing.T) {
	t.Parallel()

	// Arrange
	noop := func(context.Context, *Context) (Result, error) { return Pass(nil), nil }
	first := NewRuleFunc(RuleConfig{ID: "first", Enabled: true, Priority: 0, PrioritySet: true}, noop)
	defaulted := NewRuleFunc(RuleConfig{ID: "defaulted", Enabled: true}, noop)
	e := New(nil)
	e.Register(passing("val", 5))
	e.Register(defaulted)
	e.Register(first)

	// Act
	rules := e.Rules()

	// Assert
	require.Len(t, rules, 3)
	assert.Equal(t, "first", rules[0].ID)
	assert.Equal(t, 0, rules[0].Priority)
	assert.Equal(t, "val", rules[1].ID)
	assert.Equal(t, "defaulted", rules[2].ID)
	assert.Equal(t, PriorityCustom, rules[2].Priority)
}
