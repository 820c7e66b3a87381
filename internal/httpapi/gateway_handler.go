package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/carepoint/policygate/internal/logger"
	"github.com/carepoint/policygate/internal/protocol"
)

// handleGateway converts the HTTP request, runs it through the gateway and
// writes the normalized response.
func (a *API) handleGateway(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	req, perr := a.toProtocol(w, r)
	if perr != nil {
		log.Warn("rejected request body", slog.String("error", perr.Message))
		writeResponse(w, r, perr.Response())
		return
	}

	writeResponse(w, r, a.gateway.ProcessRequest(r.Context(), req))
}

func (a *API) toProtocol(w http.ResponseWriter, r *http.Request) (*protocol.Request, *protocol.Error) {
	req := &protocol.Request{
		Path:     r.URL.Path,
		Method:   r.Method,
		Headers:  make(map[string]string, len(r.Header)),
		ClientIP: clientIP(r.RemoteAddr),
	}
	for name, values := range r.Header {
		req.Headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	if q := r.URL.Query(); len(q) > 0 {
		req.Query = make(map[string]string, len(q))
		for k, v := range q {
			req.Query[k] = v[0]
		}
	}

	if r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}

	var body any
	err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, a.maxBodyBytes), &body)
	switch {
	case err == nil:
		req.Body = body
	case errors.Is(err, io.EOF):
		// empty body
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &protocol.Error{
				Code:    protocol.CodeValidation,
				Status:  http.StatusRequestEntityTooLarge,
				Message: fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit),
			}
		}
		return nil, protocol.NewError(protocol.CodeValidation, "Invalid JSON payload: "+err.Error())
	}
	return req, nil
}

// writeResponse serializes resp. A 429 also gets the standard rate limit headers.
func writeResponse(w http.ResponseWriter, r *http.Request, resp *protocol.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if resp.Status == http.StatusTooManyRequests && resp.Error != nil {
		setRateLimitHeaders(w.Header(), resp.Error.Details)
	}

	render.Status(r, resp.Status)
	payload := resp.Payload()
	if payload == nil {
		w.WriteHeader(resp.Status)
		return
	}
	render.JSON(w, r, payload)
}

func setRateLimitHeaders(h http.Header, details map[string]any) {
	info, ok := details["rateLimit"].(map[string]any)
	if !ok {
		return
	}
	headers := map[string]string{
		"retryAfter": "Retry-After",
		"limit":      "X-RateLimit-Limit",
		"remaining":  "X-RateLimit-Remaining",
		"reset":      "X-RateLimit-Reset",
	}
	for field, header := range headers {
		if v, ok := info[field]; ok {
			h.Set(header, fmt.Sprint(v))
		}
	}
}

// clientIP strips the port, if any. RealIP may already have replaced the address with a bare IP.
func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
