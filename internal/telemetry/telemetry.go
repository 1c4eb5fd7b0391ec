package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry owns the tracer and meter provider of one CLI invocation
type Telemetry struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	registry       *prometheus.Registry
	instanceID     string

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures New
type Option func(*telemetryConfig)

type telemetryConfig struct {
	config     *Config
	instanceID string
}

// WithTelemetryConfig sets the telemetry section of the configuration
func WithTelemetryConfig(cfg *Config) Option {
	return func(tc *telemetryConfig) {
		tc.config = cfg
	}
}

// WithSessionID overrides the generated instance id
func WithSessionID(id string) Option {
	return func(tc *telemetryConfig) {
		tc.instanceID = id
	}
}

// shutdowner is implemented by the SDK providers; the no-op ones have nothing to flush
type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// New creates the providers described by the configuration. A nil or disabled
// configuration yields no-op providers. The caller must call Shutdown before
// exiting so buffered spans and metrics are flushed.
func New(ctx context.Context, opts ...Option) (*Telemetry, error) {
	tc := &telemetryConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.instanceID == "" {
		tc.instanceID = uuid.NewString()
	}

	t := &Telemetry{instanceID: tc.instanceID}
	cfg := tc.config
	if cfg == nil || !cfg.Enabled {
		slog.Debug("Telemetry disabled")
		cfg = &Config{}
	} else if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	providerOpts := []ProviderOption{
		WithService(cfg.GetServiceName(), cfg.GetServiceVersion()),
		WithInstanceID(tc.instanceID),
		WithCollector(cfg.GetEndpoint(), cfg.Insecure),
		WithTracing(cfg.Tracing),
		WithMetrics(cfg.Metrics),
	}
	if cfg.usesPrometheus() {
		t.registry = prometheus.NewRegistry()
		providerOpts = append(providerOpts, WithPrometheusRegisterer(t.registry))
	}

	var err error
	t.tracerProvider, err = NewTracerProvider(ctx, providerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}

	t.meterProvider, err = NewMeterProvider(ctx, providerOpts...)
	if err != nil {
		if s, ok := t.tracerProvider.(shutdowner); ok {
			_ = s.Shutdown(ctx)
		}
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}

	if cfg.Enabled {
		slog.Debug("Telemetry initialized",
			"service_name", cfg.GetServiceName(),
			"service_version", cfg.GetServiceVersion(),
			"instance_id", tc.instanceID,
		)
	}
	return t, nil
}

// TracerProvider returns the tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// MeterProvider returns the meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// SessionID returns the service.instance.id reported with every span and metric
func (t *Telemetry) SessionID() string {
	return t.instanceID
}

// Gatherer returns the Prometheus registry holding the metrics, or nil when
// metrics are not exported through Prometheus
func (t *Telemetry) Gatherer() prometheus.Gatherer {
	if t.registry == nil {
		return nil
	}
	return t.registry
}

// Shutdown flushes and stops both providers. Later calls return the result
// of the first.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	t.shutdownOnce.Do(func() {
		var errs []error
		for name, p := range map[string]any{"tracer": t.tracerProvider, "meter": t.meterProvider} {
			s, ok := p.(shutdowner)
			if !ok {
				continue
			}
			if err := s.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to shut down %s provider: %w", name, err))
			}
		}
		t.shutdownErr = errors.Join(errs...)
	})
	return t.shutdownErr
}
