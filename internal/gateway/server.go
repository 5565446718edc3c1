package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if g.metrics != nil {
		r.Use(g.metrics.middleware)
	}

	r.Get("/health", g.handleHealth())
	r.Get("/status", g.handleStatus())
	if g.config.metricsEnabled() {
		r.Handle("/metrics", g.metricsHandler())
	}

	return r
}
