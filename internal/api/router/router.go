// Package router provides HTTP routing configuration using Chi.
package router

import (
	_ "embed"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/qkeystore/internal/api/handler"
	"github.com/remiblancher/qkeystore/internal/api/middleware"
	"github.com/remiblancher/qkeystore/internal/api/service"
	"github.com/remiblancher/qkeystore/internal/metrics"
	"github.com/remiblancher/qkeystore/internal/observability"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Config holds router configuration.
type Config struct {
	Version string
	Logger  *slog.Logger

	// Enroll serves POST /api/v1/enroll; the route is absent when nil.
	Enroll *service.EnrollService
	// KeyStore serves the read-only keystore routes; absent when nil.
	KeyStore *service.KeyStoreService
	// Metrics serves GET /metrics and records HTTP metrics; both are off when nil.
	Metrics *metrics.Metrics
	// Ready lists the checks behind GET /ready.
	Ready map[string]handler.ReadinessCheck

	// MaxBodyBytes caps request bodies; 1 MiB when zero.
	MaxBodyBytes int64
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(observability.Middleware{
		TraceIdHeader: middleware.RequestIDHeader,
		Logger:        observability.OrNoop(cfg.Logger),
	}.Wrap)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Metrics(cfg.Metrics))
	r.Use(middleware.MaxBytes(maxBody))

	// Health endpoints (always enabled)
	healthHandler := handler.NewHealthHandler(cfg.Version, cfg.Ready)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	// OpenAPI spec
	r.Get("/api/openapi.yaml", serveOpenAPISpec)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Enroll != nil {
			r.Post("/enroll", handler.NewEnrollHandler(cfg.Enroll).Enroll)
		}
		if cfg.KeyStore != nil {
			ksHandler := handler.NewKeyStoreHandler(cfg.KeyStore)
			r.Route("/keystore", func(r chi.Router) {
				r.Get("/aliases", ksHandler.List)
				r.Get("/aliases/{alias}", ksHandler.Get)
				r.Get("/anchors", ksHandler.Anchors)
			})
		}
	})

	return r
}

// serveOpenAPISpec serves the OpenAPI specification file.
func serveOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapiSpec)
}
