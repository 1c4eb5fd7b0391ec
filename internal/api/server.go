// Package api provides the local status endpoint served while exams are watched.
package api

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks -source=server.go Source

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/examsight/examsync/internal/cache"
	"github.com/examsight/examsync/internal/versions"
)

// Source exposes the session state shown by the status endpoint
type Source interface {
	// Snapshot returns the cache entries whose key starts with prefix
	Snapshot(prefix string) []cache.Entry

	// Pending returns the names of mutations currently in flight
	Pending() []string
}

// ServerOption configures the status server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
	gatherer    prometheus.Gatherer
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithGatherer serves the given Prometheus gatherer on /metrics
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(cfg *serverConfig) {
		cfg.gatherer = g
	}
}

// NewServer creates the HTTP router of the status endpoint
func NewServer(src Source, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	h := &handlers{src: src}
	r.Get("/health", h.health)
	r.Get("/version", h.version)
	r.Get("/cache", h.listCache)
	r.Get("/cache/{key}", h.getCacheEntry)

	if cfg.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			WriteErrorResponse(w, "metrics are not enabled", http.StatusNotFound)
		})
	}

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type handlers struct {
	src Source
}

func (*handlers) health(w http.ResponseWriter, _ *http.Request) {
	WriteJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

func (*handlers) version(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()
	WriteJSONResponse(w, VersionResponse{
		Version:   info.Version,
		Commit:    info.Commit,
		BuildDate: info.BuildDate,
		GoVersion: info.GoVersion,
		Platform:  info.Platform,
	}, http.StatusOK)
}

func (h *handlers) listCache(w http.ResponseWriter, r *http.Request) {
	entries := h.src.Snapshot(r.URL.Query().Get("prefix"))

	resp := CacheResponse{
		Entries: make([]CacheEntryResponse, 0, len(entries)),
		Pending: h.src.Pending(),
	}
	if resp.Pending == nil {
		resp.Pending = []string{}
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, newCacheEntryResponse(e, false))
	}
	WriteJSONResponse(w, resp, http.StatusOK)
}

func (h *handlers) getCacheEntry(w http.ResponseWriter, r *http.Request) {
	key, err := GetAndValidateURLParam(r, "key")
	if err != nil {
		WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	for _, e := range h.src.Snapshot(key) {
		if e.Key == key {
			WriteJSONResponse(w, newCacheEntryResponse(e, true), http.StatusOK)
			return
		}
	}
	WriteErrorResponse(w, "cache entry not found", http.StatusNotFound)
}
