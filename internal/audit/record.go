// Package audit provides the audit record shape and the sinks audit rules write to.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Phases of a request an audit record can describe.
const (
	PhaseRequest = "request"
	PhaseOutcome = "outcome"
)

// Record is a flat audit entry.
type Record struct {
	Timestamp   time.Time         `json:"timestamp"`
	Phase       string            `json:"phase"`
	Path        string            `json:"path,omitempty"`
	Method      string            `json:"method,omitempty"`
	HandlerName string            `json:"handlerName,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	UserID      string            `json:"userId,omitempty"`
	Body        any               `json:"body,omitempty"`
	Query       map[string]string `json:"query,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Status      int               `json:"status,omitempty"`
	ErrorCode   string            `json:"errorCode,omitempty"`
	Extra       map[string]any    `json:"extra,omitempty"`
}

// Sink receives audit records. Implementations must be safe for concurrent use.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
}

// ErrBufferFull is returned by BufferedSink when the record could not be queued.
var ErrBufferFull = errors.New("audit buffer full")

const redacted = "[REDACTED]"

var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"proxy-authorization": {},
	"x-api-key":           {},
}

// RedactHeaders returns a copy of headers with credential-bearing values masked.
func RedactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok {
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Name() string {
	names := make([]string, len(m))
	for i, s := range m {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

func (m MultiSink) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
