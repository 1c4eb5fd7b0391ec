package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/examsight/examsync/internal/analysis"
	"github.com/examsight/examsync/internal/api"
	"github.com/examsight/examsync/internal/auth"
	"github.com/examsight/examsync/internal/config"
	"github.com/examsight/examsync/internal/engine"
	"github.com/examsight/examsync/internal/examapi"
	"github.com/examsight/examsync/internal/httpclient"
	"github.com/examsight/examsync/internal/telemetry"
	"github.com/examsight/examsync/internal/versions"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// SessionOption is a function that configures the session builder
type SessionOption func(*sessionConfig) error

// sessionConfig collects the inputs of NewSession. Component overrides
// exist mainly for tests.
type sessionConfig struct {
	config *config.Config

	// Optional component overrides
	client     examapi.Client
	tokens     auth.Store
	httpClient *http.Client
	notifier   analysis.Notifier
	telemetry  *telemetry.Telemetry

	// Status endpoint options; no server is built without an address
	statusAddress  string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...SessionOption) (*sessionConfig, error) {
	cfg := &sessionConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		cfg.config = &config.Config{}
	}

	return cfg, nil
}

// NewSession builds the engine and its collaborators from the configuration
func NewSession(ctx context.Context, opts ...SessionOption) (*Session, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	tel := cfg.telemetry
	ownsTelemetry := false
	if tel == nil {
		tel, err = telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.config.Telemetry))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		ownsTelemetry = true
	}

	// Ensure cleanup happens on error
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded && ownsTelemetry {
			_ = tel.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	if cfg.tokens == nil {
		cfg.tokens, err = auth.NewStore(cfg.config.GetAuthBackend(), cfg.config.Auth.File)
		if err != nil {
			return nil, fmt.Errorf("failed to create token store: %w", err)
		}
	}

	if cfg.client == nil {
		cfg.client, err = buildClient(cfg, tel)
		if err != nil {
			return nil, fmt.Errorf("failed to build API client: %w", err)
		}
	}

	engOpts := []engine.Option{
		engine.WithPageSize(cfg.config.GetPageSize()),
		engine.WithDedupInterval(cfg.config.GetDedupInterval()),
		engine.WithPollInterval(cfg.config.GetPollInterval()),
		engine.WithMeterProvider(tel.MeterProvider()),
		engine.WithTracerProvider(tel.TracerProvider()),
	}
	if cfg.notifier != nil {
		engOpts = append(engOpts, engine.WithNotifier(cfg.notifier))
	}
	eng, err := engine.New(cfg.client, cfg.tokens, engOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}

	var statusServer *http.Server
	if cfg.statusAddress != "" {
		statusServer, err = buildStatusServer(cfg, eng, tel)
		if err != nil {
			return nil, fmt.Errorf("failed to build status server: %w", err)
		}
	}

	cleanupNeeded = false
	slog.Debug("Session ready",
		"session_id", tel.SessionID(),
		"api", cfg.config.GetAPIBaseURL(),
		"status_address", cfg.statusAddress,
	)

	var shutdownTelemetry func(context.Context) error
	if ownsTelemetry {
		shutdownTelemetry = tel.Shutdown
	}

	return &Session{
		config:            cfg.config,
		engine:            eng,
		tokens:            cfg.tokens,
		statusServer:      statusServer,
		shutdownTelemetry: shutdownTelemetry,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) SessionOption {
	return func(cfg *sessionConfig) error {
		cfg.config = c
		return nil
	}
}

// WithStatusAddress enables the local status endpoint on addr. A missing
// host binds to the loopback interface, since the endpoint exposes cached exams.
func WithStatusAddress(addr string) SessionOption {
	return func(cfg *sessionConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "" {
			host = "127.0.0.1"
		}

		check := host
		if host == "localhost" {
			check = "127.0.0.1"
		}
		if _, err := netip.ParseAddrPort(net.JoinHostPort(check, port)); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.statusAddress = net.JoinHostPort(host, port)
		return nil
	}
}

// WithMiddlewares replaces the default middlewares of the status endpoint
func WithMiddlewares(mw ...func(http.Handler) http.Handler) SessionOption {
	return func(cfg *sessionConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithNotifier sets where analysis outcomes are reported
func WithNotifier(n analysis.Notifier) SessionOption {
	return func(cfg *sessionConfig) error {
		cfg.notifier = n
		return nil
	}
}

// WithTokenStore overrides the token store selected by the configuration
func WithTokenStore(s auth.Store) SessionOption {
	return func(cfg *sessionConfig) error {
		cfg.tokens = s
		return nil
	}
}

// WithClient injects an API client (for testing)
func WithClient(c examapi.Client) SessionOption {
	return func(cfg *sessionConfig) error {
		cfg.client = c
		return nil
	}
}

// WithHTTPClient overrides the *http.Client of the REST client
func WithHTTPClient(c *http.Client) SessionOption {
	return func(cfg *sessionConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithTelemetry injects already initialized telemetry. The session does
// not shut it down.
func WithTelemetry(t *telemetry.Telemetry) SessionOption {
	return func(cfg *sessionConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// buildClient builds the REST client of the backend
func buildClient(b *sessionConfig, tel *telemetry.Telemetry) (*examapi.RESTClient, error) {
	slog.Debug("Initializing API client", "base_url", b.config.GetAPIBaseURL())

	transport, err := httpclient.New(b.config.GetAPIBaseURL(),
		httpclient.WithHTTPClient(b.httpClient),
		httpclient.WithTimeout(b.config.GetAPITimeout()),
		httpclient.WithMaxRetries(b.config.GetMaxRetries()),
		httpclient.WithTokenSource(auth.NewTokenSource(b.tokens)),
		httpclient.WithUserAgent(versions.UserAgent()),
		httpclient.WithTracerProvider(tel.TracerProvider()),
	)
	if err != nil {
		return nil, err
	}
	return examapi.NewRESTClient(transport), nil
}

// buildStatusServer builds the HTTP server of the local status endpoint
func buildStatusServer(b *sessionConfig, src api.Source, tel *telemetry.Telemetry) (*http.Server, error) {
	slog.Debug("Initializing status server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	httpMetrics, err := telemetry.NewHTTPMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}
	// Metrics and tracing come first to capture every request
	b.middlewares = append([]func(http.Handler) http.Handler{
		httpMetrics.Middleware,
		telemetry.TracingMiddleware(tel.TracerProvider()),
	}, b.middlewares...)

	serverOpts := []api.ServerOption{api.WithMiddlewares(b.middlewares...)}
	if g := tel.Gatherer(); g != nil {
		serverOpts = append(serverOpts, api.WithGatherer(g))
	}

	server := &http.Server{
		Addr:         b.statusAddress,
		Handler:      api.NewServer(src, serverOpts...),
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("Status server configured", "address", b.statusAddress)
	return server, nil
}
