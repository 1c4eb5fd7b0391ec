package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// errNoRegisterer is returned when the Prometheus exporter has no registry to serve from
var errNoRegisterer = errors.New("prometheus exporter requires a registerer")

// NewMeterProvider returns an SDK meter provider, or a no-op provider unless
// WithMetrics enabled metrics. The Prometheus exporter needs
// WithPrometheusRegisterer; the OTLP exporter pushes every interval and once
// more on shutdown.
func NewMeterProvider(ctx context.Context, opts ...ProviderOption) (metric.MeterProvider, error) {
	s := newProviderSettings(opts)
	if !s.metrics.enabled() {
		slog.Debug("Metrics disabled")
		return noop.NewMeterProvider(), nil
	}

	res, err := newResource(ctx, s)
	if err != nil {
		return nil, err
	}

	reader, err := newMetricsReader(ctx, s)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	slog.Debug("Metrics initialized",
		"exporter", s.metrics.GetExporter(),
		"endpoint", s.endpoint,
		"instance_id", s.instanceID,
	)
	return mp, nil
}

func newMetricsReader(ctx context.Context, s *providerSettings) (sdkmetric.Reader, error) {
	if s.metrics.GetExporter() == MetricsExporterPrometheus {
		if s.registerer == nil {
			return nil, errNoRegisterer
		}
		exporter, err := otelprom.New(otelprom.WithRegisterer(s.registerer))
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus metrics exporter: %w", err)
		}
		return exporter, nil
	}

	exporterOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(s.endpoint)}
	if s.insecure {
		exporterOpts = append(exporterOpts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(s.metrics.GetInterval())), nil
}
