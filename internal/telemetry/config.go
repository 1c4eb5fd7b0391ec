// Package telemetry provides OpenTelemetry instrumentation for the sync engine.
// Traces are exported over OTLP; metrics go to OTLP or a Prometheus registry
// served by the local status endpoint.
package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/examsight/examsync/internal/versions"
)

const (
	// DefaultServiceName identifies the CLI in traces and metrics
	DefaultServiceName = "examsync"

	// DefaultEndpoint is the OTLP/HTTP collector address
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling samples every trace. Each command produces a handful
	// of spans, so there is nothing to thin out.
	DefaultSampling = 1.0

	// DefaultMetricsInterval is the OTLP push interval. Commands rarely run
	// longer than this; the final values are pushed on shutdown.
	DefaultMetricsInterval = 15 * time.Second
)

// Metrics exporters
const (
	MetricsExporterOTLP       = "otlp"
	MetricsExporterPrometheus = "prometheus"
)

// Config is the telemetry section of the configuration file
type Config struct {
	// Enabled turns telemetry on. When false nothing is exported.
	Enabled bool `yaml:"enabled"`

	// ServiceName defaults to "examsync"
	ServiceName string `yaml:"serviceName,omitempty"`

	// ServiceVersion defaults to the build version
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP/HTTP collector as "host:port"
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure sends OTLP over plain HTTP
	Insecure bool `yaml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig controls span export
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the ratio of sampled traces in (0, 1]
	Sampling *float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig controls metric export
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is "otlp" (push to the collector, default) or "prometheus"
	// (scraped from /metrics while watching exams)
	Exporter string `yaml:"exporter,omitempty"`

	// Interval is the OTLP push interval (e.g. "15s")
	Interval string `yaml:"interval,omitempty"`
}

// GetServiceName returns the service name
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, falling back to the build version
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return versions.GetVersionInfo().Version
	}
	return c.ServiceVersion
}

// GetEndpoint returns the collector endpoint
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetSampling returns the sampling ratio
func (c *TracingConfig) GetSampling() float64 {
	if c == nil || c.Sampling == nil {
		return DefaultSampling
	}
	return *c.Sampling
}

func (c *TracingConfig) enabled() bool {
	return c != nil && c.Enabled
}

// GetExporter returns the metrics exporter
func (c *MetricsConfig) GetExporter() string {
	if c == nil || c.Exporter == "" {
		return MetricsExporterOTLP
	}
	return c.Exporter
}

// GetInterval returns the OTLP push interval
func (c *MetricsConfig) GetInterval() time.Duration {
	if c == nil || c.Interval == "" {
		return DefaultMetricsInterval
	}
	d, err := time.ParseDuration(c.Interval)
	if err != nil || d <= 0 {
		return DefaultMetricsInterval
	}
	return d
}

func (c *MetricsConfig) enabled() bool {
	return c != nil && c.Enabled
}

// usesPrometheus reports whether metrics are served from a local registry
func (c *Config) usesPrometheus() bool {
	return c.Metrics.enabled() && c.Metrics.GetExporter() == MetricsExporterPrometheus
}

// Validate checks the configuration. A nil or disabled configuration is valid.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	if err := c.Metrics.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("metrics: %w", err))
	}
	return errors.Join(errs...)
}

// Validate checks the sampling ratio of enabled tracing
func (c *TracingConfig) Validate() error {
	if !c.enabled() || c.Sampling == nil {
		return nil
	}
	if sampling := *c.Sampling; sampling <= 0 || sampling > 1.0 {
		return fmt.Errorf("sampling must be greater than 0.0 and at most 1.0, got %g", sampling)
	}
	return nil
}

// Validate checks the exporter and interval of enabled metrics
func (c *MetricsConfig) Validate() error {
	if !c.enabled() {
		return nil
	}

	var errs []error
	switch c.GetExporter() {
	case MetricsExporterOTLP, MetricsExporterPrometheus:
	default:
		errs = append(errs, fmt.Errorf("exporter must be %q or %q, got %q",
			MetricsExporterOTLP, MetricsExporterPrometheus, c.Exporter))
	}
	if c.Interval != "" {
		if d, err := time.ParseDuration(c.Interval); err != nil {
			errs = append(errs, fmt.Errorf("interval must be a valid duration: %w", err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
		}
	}
	return errors.Join(errs...)
}
