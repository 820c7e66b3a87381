package gateway

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carepoint/policygate/internal/protocol"
	"github.com/carepoint/policygate/internal/ruleengine"
)

// spyHandler counts calls and returns a canned result.
type spyHandler struct {
	calls  atomic.Int32
	result any
	err    error
	panics bool
	last   *protocol.Request
	ctx    context.Context
}

func (h *spyHandler) Handle(ctx context.Context, req *protocol.Request) (any, error) {
	h.calls.Add(1)
	h.last = req
	h.ctx = ctx
	if h.panics {
		panic("handler exploded")
	}
	return h.result, h.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func testRoutes() *RouteTable {
	return NewRouteTable([]Route{
		{Path: "/auth/login", Endpoint: "auth.login"},
		{Path: "/patients/{id}", Endpoint: "patients.get"},
		{Path: "/billing", Endpoint: "billing.list"},
		{Path: "/reports", Endpoint: "reports.daily"},
	})
}

// countingRule counts executions and fails when reject is set.
func countingRule(id string, reject bool, calls *atomic.Int32) ruleengine.Rule {
	return ruleengine.NewRuleFunc(ruleengine.RuleConfig{ID: id, Enabled: true}, func(context.Context, *ruleengine.Context) (ruleengine.Result, error) {
		calls.Add(1)
		if reject {
			return ruleengine.Fail(protocol.CodeForbidden, "denied", nil), nil
		}
		return ruleengine.Pass(map[string]any{"checked": id}), nil
	})
}

func TestGateway_Routing(t *testing.T) {
	t.Run("Should return 404 for an unknown path without running rules or handlers", func(t *testing.T) {
		// Arrange
		var ruleCalls atomic.Int32
		engine := ruleengine.New(testLogger())
		engine.Register(countingRule("spy", false, &ruleCalls))
		h := &spyHandler{}
		gw := New(testLogger(), testRoutes(), Options{Engine: engine})
		gw.RegisterHandler("auth", h)

		// Act
		resp := gw.ProcessRequest(context.Background(), &protocol.Request{Path: "/nowhere", Method: "GET"})

		// Assert
		require.NotNil(t, resp.Error)
		assert.Equal(t, http.StatusNotFound, resp.Status)
		assert.Equal(t, protocol.CodeNotFound, resp.Error.Code)
		assert.Zero(t, ruleCalls.Load())
		assert.Zero(t, h.calls.Load())
	})

	t.Run("Should return 404 when no handler prefix matches the endpoint", func(t *testing.T) {
		// Arrange
		h := &spyHandler{}
		gw := New(testLogger(), testRoutes(), Options{})
		gw.RegisterHandler("auth", h)

		// Act
		resp := gw.ProcessRequest(context.Background(), &protocol.Request{Path: "/billing", Method: "GET"})

		// Assert
		assert.Equal(t, http.StatusNotFound, resp.Status)
		assert.Zero(t, h.calls.Load())
	})

	t.Run("Should return 503 when a handler name is registered without an instance", func(t *testing.T) {
		// Arrange
		gw := New(testLogger(), testRoutes(), Options{})
		gw.RegisterHandler("reports", nil)

		// Act
		resp := gw.ProcessRequest(context.Background(), &protocol.Request{Path: "/reports", Method: "GET"})

		// Assert
		require.NotNil(t, resp.Error)
		assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
		assert.Equal(t, protocol.CodeServiceUnavailable, resp.Error.Code)
	})

	t.Run("Should resolve the first registered prefix and replace re-registered names", func(t *testing.T) {
		// Arrange
		first, second := &spyHandler{result: "a"}, &spyHandler{result: "b"}
		gw := New(testLogger(), testRoutes(), Options{})
		gw.RegisterHandler("auth", first)
		gw.RegisterHandler("auth", second)

		// Act
		resp := gw.ProcessRequest(context.Background(), &protocol.Request{Path: "/auth/login", Method: "POST"})

		// Assert
		assert.Equal(t, "b", resp.Body)
		assert.Zero(t, first.calls.Load())
		assert.Equal(t, []string{"auth"}, gw.HandlerNames())
	})
}

func TestGateway_RuleEnforcement(t *testing.T) {
	t.Run("Should not invoke the handler when a rule fails", func(t *testing.T) {
		// Arrange
		var calls atomic.Int32
		engine := ruleengine.New(testLogger())
		engine.Register(countingRule("deny", true, &calls))
		h := &spyHandler{result: "secret"}
		gw := New(testLogger(), testRoutes(), Options{Engine: engine})
		gw.RegisterHandler("patients", h)

		// Act
		resp := gw.ProcessRequest(context.Background(), &protocol.Request{Path: "/patients/p-1", Method: "GET"})

		// Assert
		require.NotNil(t, resp.Error)
		assert.Equal(t, http.StatusForbidden, resp.Status)
		assert.Equal(t, "denied", resp.Error.Message)
		assert.Equal(t, int32(1), calls.Load())
		assert.Zero(t, h.calls.Load(), "handler must not run after a rejection")
	})

	t.Run("Should pass route params, route info and rule data to the handler", func(t *testing.T) {
		// Arrange
		var calls atomic.Int32
		engine := ruleengine.New(testLogger())
		engine.Register(countingRule("allow", false, &calls))
		h := &spyHandler{result: map[string]string{"ok": "yes"}}
		gw := New(testLogger(), testRoutes(), Options{Engine: engine})
		gw.RegisterHandler("patients", h)
		req := &protocol.Request{Path: "/patients/p-1", Method: "GET"}

		// Act
		resp := gw.ProcessRequest(context.Background(), req)

		// Assert
		require.Nil(t, resp.Error)
		assert.Equal(t, http.StatusOK, resp.Status)
		require.NotNil(t, h.last)
		assert.Equal(t, "p-1", h.last.Params["id"])
		assert.Nil(t, req.Params, "inbound request is not modified")

		route, ok := protocol.RouteFrom(h.ctx)
		require.True(t, ok)
		assert.Equal(t, protocol.Route{HandlerName: "patients", Endpoint: "patients.get", Action: "get"}, route)
		assert.Equal(t, "allow", protocol.AttributesFrom(h.ctx)["checked"])
	})

	t.Run("Should hand the transformed request to the handler", func(t *testing.T) {
		// Arrange
		engine := ruleengine.New(testLogger())
		engine.Register(ruleengine.NewTransformationRule(ruleengine.RuleConfig{ID: "trim", Enabled: true}, ruleengine.TransformOptions{
			Body: ruleengine.TrimStrings,
		}))
		h := &spyHandler{}
		gw := New(testLogger(), testRoutes(), Options{Engine: engine})
		gw.RegisterHandler("auth", h)

		// Act
		gw.ProcessRequest(context.Background(), &protocol.Request{
			Path: "/auth/login", Method: "POST",
			Body: map[string]any{"email": "  a@b.co  "},
		})

		// Assert
		require.NotNil(t, h.last)
		assert.Equal(t, map[string]any{"email": "a@b.co"}, h.last.Body)
	})

	t.Run("Should always pass when no engine is configured", func(t *testing.T) {
		// Arrange
		h := &spyHandler{result: 7}
		gw := New(testLogger(), testRoutes(), Options{})
		gw.RegisterHandler("billing", h)

		// Act
		resp := gw.ProcessRequest(context.Background(), &protocol.Request{Path: "/billing", Method: "GET"})

		// Assert
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, 7, resp.Body)
	})
}

func TestGateway_Normalization(t *testing.T) {
	tests := []struct {
		name       string
		handler    *spyHandler
		production bool
		wantStatus int
		wantCode   string
		wantBody   any
		check      func(t *testing.T, resp *protocol.Response)
	}{
		{
			name:       "Should wrap a raw value into a 200 body",
			handler:    &spyHandler{result: []int{1, 2}},
			wantStatus: http.StatusOK,
			wantBody:   []int{1, 2},
		},
		{
			name:       "Should pass a response pointer through",
			handler:    &spyHandler{result: &protocol.Response{Status: http.StatusCreated, Body: "made", Headers: map[string]string{"Location": "/x"}}},
			wantStatus: http.StatusCreated,
			wantBody:   "made",
			check: func(t *testing.T, resp *protocol.Response) {
				assert.Equal(t, "/x", resp.Headers["Location"])
			},
		},
		{
			name:       "Should pass a response value through and default its status",
			handler:    &spyHandler{result: protocol.Response{Body: "v"}},
			wantStatus: http.StatusOK,
			wantBody:   "v",
		},
		{
			name:       "Should keep the code and status of a domain error",
			handler:    &spyHandler{err: protocol.NewError(protocol.CodeUserNotFound, "no such user")},
			wantStatus: http.StatusNotFound,
			wantCode:   protocol.CodeUserNotFound,
		},
		{
			name:       "Should find a wrapped domain error",
			handler:    &spyHandler{err: errors.Join(errors.New("ctx"), protocol.NewError(protocol.CodeForbidden, "nope"))},
			wantStatus: http.StatusForbidden,
			wantCode:   protocol.CodeForbidden,
		},
		{
			name:       "Should convert other errors into 500 with details outside production",
			handler:    &spyHandler{err: errors.New("db down")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   protocol.CodeInternal,
			check: func(t *testing.T, resp *protocol.Response) {
				assert.Equal(t, "db down", resp.Error.Details["error"])
			},
		},
		{
			name:       "Should hide error details in production",
			handler:    &spyHandler{err: errors.New("db down")},
			production: true,
			wantStatus: http.StatusInternalServerError,
			wantCode:   protocol.CodeInternal,
			check: func(t *testing.T, resp *protocol.Response) {
				assert.Nil(t, resp.Error.Details)
				assert.Equal(t, "Internal server error", resp.Error.Message)
			},
		},
		{
			name:       "Should convert a handler panic into 500 with a stack",
			handler:    &spyHandler{panics: true},
			wantStatus: http.StatusInternalServerError,
			wantCode:   protocol.CodeInternal,
			check: func(t *testing.T, resp *protocol.Response) {
				assert.Contains(t, resp.Error.Details["error"], "handler exploded")
				assert.NotEmpty(t, resp.Error.Details["stack"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			gw := New(testLogger(), testRoutes(), Options{Production: tt.production})
			gw.RegisterHandler("billing", tt.handler)

			// Act
			resp := gw.ProcessRequest(context.Background(), &protocol.Request{Path: "/billing", Method: "GET"})

			// Assert
			assert.Equal(t, tt.wantStatus, resp.Status)
			if tt.wantCode != "" {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.wantCode, resp.Error.Code)
			} else {
				assert.Nil(t, resp.Error)
				assert.Equal(t, tt.wantBody, resp.Body)
			}
			if tt.check != nil {
				tt.check(t, resp)
			}
		})
	}
}

// outcomeRule records the final status it observed.
type outcomeRule struct {
	*ruleengine.RuleFunc
	seen atomic.Int32
}

func (r *outcomeRule) Observe(_ context.Context, _ *ruleengine.Context, resp *protocol.Response) {
	r.seen.Store(int32(resp.Status))
}

func TestGateway_CompletesOutcomeObservers(t *testing.T) {
	// Arrange
	rule := &outcomeRule{RuleFunc: ruleengine.NewRuleFunc(ruleengine.RuleConfig{ID: "observer", Enabled: true},
		func(context.Context, *ruleengine.Context) (ruleengine.Result, error) {
			return ruleengine.Pass(nil), nil
		})}
	engine := ruleengine.New(testLogger())
	engine.Register(rule)
	gw := New(testLogger(), testRoutes(), Options{Engine: engine})
	gw.RegisterHandler("billing", &spyHandler{result: &protocol.Response{Status: http.StatusAccepted}})

	// Act
	gw.ProcessRequest(context.Background(), &protocol.Request{Path: "/billing", Method: "GET"})

	// Assert
	assert.Equal(t, int32(http.StatusAccepted), rule.seen.Load())
}
