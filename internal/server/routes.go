package server

import (
	"log/slog"
	"net/http"

	"github.com/maauso/faceswap-api/internal/metrics"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// MediaDir is served under /media/ when set.
	MediaDir string
	// Metrics records HTTP traffic and is served on /metrics when set.
	Metrics *metrics.Metrics
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

	mux.HandleFunc("GET /health", h.Health)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}
	if cfg.MediaDir != "" {
		mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaDir))))
	}

	mux.HandleFunc("POST /users", h.handle(h.CreateUser))
	mux.HandleFunc("GET /users/{id}", h.handle(h.GetUser))
	mux.HandleFunc("GET /users/{id}/videos", h.handle(h.ListUserVideos))
	mux.HandleFunc("GET /users/{id}/uploads", h.handle(h.ListUserUploads))
	mux.HandleFunc("GET /users/{id}/api-usage", h.handle(h.GetUsage))

	mux.HandleFunc("POST /uploads", h.handle(h.CreateUpload))
	mux.HandleFunc("GET /uploads/{id}", h.handle(h.GetUpload))

	mux.HandleFunc("POST /videos", h.handle(h.CreateVideo))
	mux.HandleFunc("GET /videos/{id}", h.handle(h.GetVideo))

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		MetricsMiddleware(cfg.Metrics),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
