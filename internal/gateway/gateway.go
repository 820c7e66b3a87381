// Package gateway resolves logical requests to backend handlers, enforces the
// rule engine in front of them and normalizes every outcome into a
// protocol.Response.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/carepoint/policygate/internal/logger"
	"github.com/carepoint/policygate/internal/observability"
	"github.com/carepoint/policygate/internal/protocol"
	"github.com/carepoint/policygate/internal/ruleengine"
)

// Handler services requests approved by the rule engine.
// It may return a *protocol.Response (or protocol.Response) to control the
// status and headers, or any other value to be sent as a 200 body.
// Returning a *protocol.Error selects the error code and status.
type Handler interface {
	Handle(ctx context.Context, req *protocol.Request) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *protocol.Request) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, req *protocol.Request) (any, error) {
	return f(ctx, req)
}

type registration struct {
	name    string
	prefix  string
	handler Handler
}

// Options configures a Gateway.
type Options struct {
	// Engine enforces rules before dispatch. Nil means every request passes.
	Engine *ruleengine.Engine

	// Production hides internal error details from responses.
	Production bool
}

// Gateway routes requests. Routes and handlers are fixed at startup:
// RegisterHandler must not be called while requests are being processed.
type Gateway struct {
	routes     *RouteTable
	engine     *ruleengine.Engine
	handlers   []registration
	production bool
	logger     *slog.Logger
}

// New creates a Gateway over routes.
// If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger, routes *RouteTable, opts Options) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if routes == nil {
		routes = NewRouteTable(nil)
	}
	return &Gateway{
		routes:     routes,
		engine:     opts.Engine,
		production: opts.Production,
		logger:     logger.With(slog.String("component", "gateway")),
	}
}

// RegisterHandler serves every endpoint starting with "<name>." with h.
// Registering a name twice replaces the earlier handler.
func (g *Gateway) RegisterHandler(name string, h Handler) {
	reg := registration{name: name, prefix: name + ".", handler: h}
	for i := range g.handlers {
		if g.handlers[i].name == name {
			g.handlers[i] = reg
			return
		}
	}
	g.handlers = append(g.handlers, reg)
}

// HandlerNames returns the registered names in registration order.
func (g *Gateway) HandlerNames() []string {
	names := make([]string, len(g.handlers))
	for i, h := range g.handlers {
		names[i] = h.name
	}
	return names
}

// Routes exposes the route table.
func (g *Gateway) Routes() *RouteTable {
	return g.routes
}

// resolve returns the first registration whose prefix starts the endpoint.
func (g *Gateway) resolve(endpoint string) (registration, bool) {
	for _, h := range g.handlers {
		if strings.HasPrefix(endpoint, h.prefix) {
			return h, true
		}
	}
	return registration{}, false
}

// ProcessRequest routes req, runs the rules and dispatches it. It never
// returns nil and never panics. req is not modified.
func (g *Gateway) ProcessRequest(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	handlerLabel := "none"
	defer func() {
		if r := recover(); r != nil {
			resp = g.internalError(ctx, fmt.Errorf("panic: %v", r), debug.Stack())
		}
		observability.GatewayRequestsTotal.WithLabelValues(handlerLabel, strconv.Itoa(resp.Status)).Inc()
	}()

	log := logger.FromContext(ctx)

	endpoint, params, ok := g.routes.Lookup(req.Path)
	if !ok {
		return protocol.Errorf(protocol.CodeNotFound, "Route not found: %s", req.Path).Response()
	}

	reg, ok := g.resolve(endpoint)
	if !ok {
		return protocol.Errorf(protocol.CodeNotFound, "No handler for endpoint %s", endpoint).Response()
	}
	handlerLabel = reg.name
	if reg.handler == nil {
		log.Error("handler registered without an instance", slog.String("handler", reg.name))
		return protocol.Errorf(protocol.CodeServiceUnavailable, "Handler %s is unavailable", reg.name).Response()
	}

	req = withParams(req, params)

	var rc *ruleengine.Context
	if g.engine != nil {
		var rejected *protocol.Response
		rc, rejected = g.engine.ApplyRules(ctx, req, reg.name, endpoint)
		if rejected != nil {
			g.engine.Complete(ctx, rc, rejected)
			return rejected
		}
	} else {
		rc = ruleengine.NewContext(req, reg.name, endpoint)
	}

	hctx := protocol.WithRoute(ctx, protocol.Route{
		HandlerName: reg.name,
		Endpoint:    endpoint,
		Action:      strings.TrimPrefix(endpoint, reg.prefix),
	})
	hctx = protocol.WithAttributes(hctx, rc.Data())

	resp = g.dispatch(hctx, reg, rc.Request)

	if g.engine != nil {
		g.engine.Complete(ctx, rc, resp)
	}
	return resp
}

// dispatch calls the handler and normalizes its result.
func (g *Gateway) dispatch(ctx context.Context, reg registration, req *protocol.Request) (resp *protocol.Response) {
	start := time.Now()
	defer func() {
		observability.GatewayHandlerDuration.WithLabelValues(reg.name).Observe(time.Since(start).Seconds())
	}()
	defer func() {
		if r := recover(); r != nil {
			resp = g.internalError(ctx, fmt.Errorf("handler %s panicked: %v", reg.name, r), debug.Stack())
		}
	}()

	result, err := reg.handler.Handle(ctx, req)
	if err != nil {
		if pe, ok := protocol.AsError(err); ok {
			return pe.Response()
		}
		return g.internalError(ctx, err, nil)
	}
	return normalize(result)
}

func normalize(result any) *protocol.Response {
	switch v := result.(type) {
	case *protocol.Response:
		if v == nil {
			return &protocol.Response{Status: http.StatusOK}
		}
		if v.Status == 0 {
			v.Status = http.StatusOK
		}
		return v
	case protocol.Response:
		if v.Status == 0 {
			v.Status = http.StatusOK
		}
		return &v
	default:
		return protocol.OK(v)
	}
}

func (g *Gateway) internalError(ctx context.Context, err error, stack []byte) *protocol.Response {
	logger.FromContext(ctx).Error("request failed", slog.String("error", err.Error()))

	pe := protocol.NewError(protocol.CodeInternal, "Internal server error")
	if !g.production {
		details := map[string]any{"error": err.Error()}
		if stack != nil {
			details["stack"] = string(stack)
		}
		pe.WithDetails(details)
	}
	return pe.Response()
}

func withParams(req *protocol.Request, params map[string]string) *protocol.Request {
	if len(params) == 0 {
		return req
	}
	c := req.Clone()
	if c.Params == nil {
		c.Params = make(map[string]string, len(params))
	}
	maps.Copy(c.Params, params)
	return c
}
