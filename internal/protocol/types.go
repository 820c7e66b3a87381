// Package protocol defines the normalized request/response envelope shared by
// the gateway, the rule engine and the backend handlers.
package protocol

import (
	"maps"
	"strings"
)

// Request is the logical request routed by the gateway.
// Header keys are stored lower-cased; use Header for lookups.
type Request struct {
	Path    string            `json:"path"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
	Query   map[string]string `json:"query,omitempty"`

	// Params holds values captured by route templates (e.g. {id}).
	Params map[string]string `json:"params,omitempty"`

	// ClientIP is the resolved address of the caller, set by the transport.
	ClientIP string `json:"-"`
}

// Header returns the value of the named header, ignoring case.
func (r *Request) Header(name string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	if v, ok := r.Headers[strings.ToLower(name)]; ok {
		return v
	}
	// Fallback for maps built by hand without normalized keys.
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// SetHeader stores a header under its lower-cased name.
func (r *Request) SetHeader(name, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[strings.ToLower(name)] = value
}

// Clone returns a copy of the request with its own header, query and param maps.
// The body is shared.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = maps.Clone(r.Headers)
	c.Query = maps.Clone(r.Query)
	c.Params = maps.Clone(r.Params)
	return &c
}

// Response is the uniform envelope returned by the gateway.
// For a terminal response either Body or Error is meaningful, never both.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
	Error   *ErrorBody        `json:"error,omitempty"`
}

// ErrorBody is the structured error carried inside a Response.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// OK wraps a body into a 200 response.
func OK(body any) *Response {
	return &Response{Status: 200, Body: body}
}

// Payload returns what the transport should serialize: the error wrapper for
// failed responses, the body otherwise.
func (r *Response) Payload() any {
	if r.Error != nil {
		return map[string]any{"error": r.Error}
	}
	return r.Body
}
