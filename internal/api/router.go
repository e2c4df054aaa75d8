package api

import (
	"net/http"

	"github.com/plateo/feedengine/internal/middleware"
)

// RouterConfig holds everything NewRouter mounts. RateLimit and Metrics
// are optional.
type RouterConfig struct {
	Feed   *FeedHandlers
	Views  *ViewHandlers
	Health *HealthHandlers
	Tokens middleware.TokenValidator

	// RateLimit wraps each API route after authentication, so limits can
	// key on the viewer.
	RateLimit func(http.Handler) http.Handler
	// Metrics serves GET /metrics.
	Metrics http.Handler
}

// NewRouter mounts the feed API:
//
//	GET  /feed                personalized feed (token required)
//	GET  /feed/trending       trending feed (token optional)
//	GET  /feed/nearby         nearby feed (token required)
//	POST /videos/{id}/views   register a view (token required)
//	GET  /health, /ready      probes
//	GET  /metrics             Prometheus scrape endpoint
func NewRouter(cfg RouterConfig) *http.ServeMux {
	required := middleware.Authenticate(cfg.Tokens, true)
	optional := middleware.Authenticate(cfg.Tokens, false)
	limit := cfg.RateLimit
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	mux := http.NewServeMux()
	mux.Handle("GET /feed", required(limit(http.HandlerFunc(cfg.Feed.Personalized))))
	mux.Handle("GET /feed/trending", optional(limit(http.HandlerFunc(cfg.Feed.Trending))))
	mux.Handle("GET /feed/nearby", required(limit(http.HandlerFunc(cfg.Feed.Nearby))))
	mux.Handle("POST /videos/{id}/views", required(limit(http.HandlerFunc(cfg.Views.RegisterView))))

	mux.HandleFunc("GET /health", cfg.Health.Health)
	mux.HandleFunc("GET /ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "Route not found")
	})
	return mux
}
