package protocol

import (
	"context"
	"maps"
)

type routeKey struct{}
type attributesKey struct{}

// Route describes where the gateway dispatched a request.
type Route struct {
	HandlerName string
	Endpoint    string
	// Action is the endpoint with the handler prefix removed ("patients.get" -> "get").
	Action string
}

// WithRoute stores the resolved route in the context handed to a handler.
func WithRoute(ctx context.Context, r Route) context.Context {
	return context.WithValue(ctx, routeKey{}, r)
}

// RouteFrom returns the route stored by the gateway, if any.
func RouteFrom(ctx context.Context) (Route, bool) {
	r, ok := ctx.Value(routeKey{}).(Route)
	return r, ok
}

// WithAttributes stores the data produced by the rule chain (e.g. "user").
func WithAttributes(ctx context.Context, attrs map[string]any) context.Context {
	return context.WithValue(ctx, attributesKey{}, maps.Clone(attrs))
}

// AttributesFrom returns the rule-produced data. It never returns nil.
func AttributesFrom(ctx context.Context) map[string]any {
	if attrs, ok := ctx.Value(attributesKey{}).(map[string]any); ok && attrs != nil {
		return attrs
	}
	return map[string]any{}
}
