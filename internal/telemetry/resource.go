package telemetry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderOption configures NewTracerProvider and NewMeterProvider
type ProviderOption func(*providerSettings)

// providerSettings is shared by the tracer and meter provider of one process
type providerSettings struct {
	serviceName    string
	serviceVersion string
	instanceID     string
	endpoint       string
	insecure       bool
	tracing        *TracingConfig
	metrics        *MetricsConfig
	registerer     prometheus.Registerer
}

// WithService sets the service name and version reported on the resource
func WithService(name, version string) ProviderOption {
	return func(s *providerSettings) {
		s.serviceName = name
		s.serviceVersion = version
	}
}

// WithInstanceID sets service.instance.id. Spans and metrics of one CLI
// invocation share it.
func WithInstanceID(id string) ProviderOption {
	return func(s *providerSettings) {
		s.instanceID = id
	}
}

// WithCollector sets the OTLP/HTTP collector endpoint
func WithCollector(endpoint string, insecure bool) ProviderOption {
	return func(s *providerSettings) {
		s.endpoint = endpoint
		s.insecure = insecure
	}
}

// WithTracing enables span export with the given settings
func WithTracing(tc *TracingConfig) ProviderOption {
	return func(s *providerSettings) {
		s.tracing = tc
	}
}

// WithMetrics enables metric export with the given settings
func WithMetrics(mc *MetricsConfig) ProviderOption {
	return func(s *providerSettings) {
		s.metrics = mc
	}
}

// WithPrometheusRegisterer sets the registry the Prometheus exporter registers with
func WithPrometheusRegisterer(reg prometheus.Registerer) ProviderOption {
	return func(s *providerSettings) {
		s.registerer = reg
	}
}

func newProviderSettings(opts []ProviderOption) *providerSettings {
	s := &providerSettings{
		serviceName:    DefaultServiceName,
		serviceVersion: "unknown",
		endpoint:       DefaultEndpoint,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.instanceID == "" {
		s.instanceID = uuid.NewString()
	}
	return s
}

// newResource describes this process. resource.New is used instead of
// resource.Default to avoid schema URL conflicts.
func newResource(ctx context.Context, s *providerSettings) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(s.serviceName),
			semconv.ServiceVersion(s.serviceVersion),
			semconv.ServiceInstanceID(s.instanceID),
		),
		resource.WithHost(),
		resource.WithProcessPID(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
