package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/render"
)

func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every checker in parallel under the configured timeout.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	status := make(map[string]string, len(s.checkers))
	healthy := true

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, c := range s.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// WARN, not ERROR: the orchestrator retries probes
				s.logger.Warn("readiness check failed",
					slog.String("checker", c.Name()),
					slog.String("error", err.Error()),
				)
				status[c.Name()] = fmt.Sprintf("down: %v", err)
				healthy = false
				return
			}
			status[c.Name()] = "up"
		}(c)
	}
	wg.Wait()

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	render.Status(r, code)
	render.JSON(w, r, map[string]any{"status": status})
}
