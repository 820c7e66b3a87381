// Package httpapi exposes the gateway over HTTP: it converts net/http
// requests into protocol.Request values and writes protocol.Response values back.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/carepoint/policygate/internal/gateway"
)

// API holds the router and its dependencies.
type API struct {
	// Router is the chi multiplexer serving every request.
	Router *chi.Mux

	gateway      *gateway.Gateway
	logger       *slog.Logger
	maxBodyBytes int64
}

// Config tunes request decoding.
type Config struct {
	// MaxBodyBytes caps JSON request bodies. Zero means 1MB.
	MaxBodyBytes int64
}

// NewAPI builds the router in front of gw.
// If logger is nil, it defaults to slog.Default().
func NewAPI(logger *slog.Logger, gw *gateway.Gateway, cfg Config) *API {
	if gw == nil {
		panic("httpapi: gateway cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	api := &API{
		Router:       chi.NewRouter(),
		gateway:      gw,
		logger:       logger,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	api.configureRoutes()
	return api
}

func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger(a.logger))
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(Metrics)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	// Everything else is routed by the gateway's own table.
	a.Router.HandleFunc("/*", a.handleGateway)
}

func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
