package server

import (
	"log/slog"
	"net/http"

	"github.com/maauso/videoforge-api/internal/ratelimit"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// RateLimiter limits the generation endpoints per client. Nil disables limiting.
	RateLimiter *ratelimit.Limiter
	// AdminToken guards the admin routes. Empty leaves them unregistered.
	AdminToken string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()
	limited := RateLimitMiddleware(cfg.RateLimiter, logger)

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /capabilities", h.Capabilities)

	// Generation endpoints cost provider credits and are rate limited.
	mux.Handle("POST /videos", limited(http.HandlerFunc(h.CreateVideo)))
	mux.Handle("POST /batches", limited(http.HandlerFunc(h.CreateBatch)))
	mux.Handle("POST /pipelines", limited(http.HandlerFunc(h.CreatePipeline)))
	mux.Handle("POST /speech", limited(http.HandlerFunc(h.Speech)))

	mux.HandleFunc("GET /videos", h.ListVideos)
	mux.HandleFunc("GET /videos/{id}", h.GetVideo)
	mux.HandleFunc("POST /videos/{id}/cancel", h.CancelVideo)
	mux.HandleFunc("POST /videos/{id}/refresh", h.RefreshVideo)
	mux.HandleFunc("DELETE /videos/{id}", h.DeleteVideo)

	mux.HandleFunc("GET /batches/{id}", h.GetBatch)
	mux.HandleFunc("POST /batches/{id}/assemble", h.AssembleBatch)

	mux.HandleFunc("GET /pipelines", h.ListPipelines)
	mux.HandleFunc("GET /pipelines/{id}", h.GetPipeline)

	mux.HandleFunc("GET /events", h.Events)
	mux.HandleFunc("GET /events/stream", h.EventStream)
	mux.HandleFunc("GET /files/{key...}", h.File)

	if cfg.RateLimiter != nil {
		mux.HandleFunc("GET /rate-limit", rateLimitStatus(cfg.RateLimiter, logger))
		if cfg.AdminToken != "" {
			admin := RequireToken(cfg.AdminToken)
			mux.Handle("DELETE /admin/rate-limit/{client}", admin(rateLimitReset(cfg.RateLimiter, logger)))
		}
	}

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
