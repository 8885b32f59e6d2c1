package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(g.instrument)

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	r.Handle("/metrics", g.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(g.cfg.AuthToken))
		r.Route("/api", func(r chi.Router) {
			r.Post("/context", g.handleBuildContext())
			r.Post("/feedback", g.handleFeedback())
			r.Post("/sessions/{sessionID}/messages", g.handleRecordTurn())
			r.Post("/sessions/{sessionID}/compress", g.handleCompressSession())
			r.Post("/summaries/{summaryID}/restore", g.handleRestoreSummary())
			r.Post("/users/{userID}/compress", g.handleCompressUser())
			r.Get("/users/{userID}/insights", g.handleInsights())
			r.Get("/users/{userID}/optimization", g.handleOptimization())
			r.Get("/users/{userID}/trends", g.handleTrends())
		})
	})

	return r
}

// instrument records per-route request counts and latency.
func (g *Gateway) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		g.metrics.requests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		g.metrics.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
