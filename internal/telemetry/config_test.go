package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/examsight/examsync/internal/versions"
)

func TestConfig_Getters(t *testing.T) {
	t.Parallel()

	empty := &Config{}
	assert.Equal(t, DefaultServiceName, empty.GetServiceName())
	assert.Equal(t, versions.GetVersionInfo().Version, empty.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, empty.GetEndpoint())

	custom := &Config{ServiceName: "examsync-ci", ServiceVersion: "1.2.3", Endpoint: "otel:4318"}
	assert.Equal(t, "examsync-ci", custom.GetServiceName())
	assert.Equal(t, "1.2.3", custom.GetServiceVersion())
	assert.Equal(t, "otel:4318", custom.GetEndpoint())
}

func TestTracingConfig_GetSampling(t *testing.T) {
	t.Parallel()

	var nilCfg *TracingConfig
	assert.InDelta(t, DefaultSampling, nilCfg.GetSampling(), 0)
	assert.InDelta(t, DefaultSampling, (&TracingConfig{}).GetSampling(), 0)
	assert.InDelta(t, 0.25, (&TracingConfig{Sampling: ptr.To(0.25)}).GetSampling(), 0)
}

func TestMetricsConfig_Getters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		cfg          *MetricsConfig
		wantExporter string
		wantInterval time.Duration
	}{
		{name: "nil", cfg: nil, wantExporter: MetricsExporterOTLP, wantInterval: DefaultMetricsInterval},
		{name: "empty", cfg: &MetricsConfig{}, wantExporter: MetricsExporterOTLP, wantInterval: DefaultMetricsInterval},
		{
			name:         "prometheus",
			cfg:          &MetricsConfig{Exporter: MetricsExporterPrometheus, Interval: "5s"},
			wantExporter: MetricsExporterPrometheus,
			wantInterval: 5 * time.Second,
		},
		{name: "unparsable interval", cfg: &MetricsConfig{Interval: "often"}, wantExporter: MetricsExporterOTLP,
			wantInterval: DefaultMetricsInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantExporter, tt.cfg.GetExporter())
			assert.Equal(t, tt.wantInterval, tt.cfg.GetInterval())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *Config
		wantErr []string
	}{
		{name: "nil", cfg: nil},
		{
			name: "disabled ignores invalid sections",
			cfg: &Config{
				Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(5.0)},
				Metrics: &MetricsConfig{Enabled: true, Exporter: "statsd"},
			},
		},
		{
			name: "valid",
			cfg: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(1.0)},
				Metrics: &MetricsConfig{Enabled: true, Exporter: MetricsExporterPrometheus, Interval: "30s"},
			},
		},
		{
			name: "disabled sections are not validated",
			cfg: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Sampling: ptr.To(0.0)},
				Metrics: &MetricsConfig{Exporter: "statsd"},
			},
		},
		{
			name:    "zero sampling",
			cfg:     &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(0.0)}},
			wantErr: []string{"tracing: sampling must be greater than 0.0 and at most 1.0, got 0"},
		},
		{
			name:    "sampling above one",
			cfg:     &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(1.5)}},
			wantErr: []string{"got 1.5"},
		},
		{
			name: "every metrics error is reported",
			cfg: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: ptr.To(-1.0)},
				Metrics: &MetricsConfig{Enabled: true, Exporter: "statsd", Interval: "-1s"},
			},
			wantErr: []string{
				"tracing: sampling must be greater than 0.0",
				`metrics: exporter must be "otlp" or "prometheus", got "statsd"`,
				"interval must be positive",
			},
		},
		{
			name:    "invalid interval",
			cfg:     &Config{Enabled: true, Metrics: &MetricsConfig{Enabled: true, Interval: "soon"}},
			wantErr: []string{"metrics: interval must be a valid duration"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestConfig_UsesPrometheus(t *testing.T) {
	t.Parallel()

	assert.False(t, (&Config{}).usesPrometheus())
	assert.False(t, (&Config{Metrics: &MetricsConfig{Exporter: MetricsExporterPrometheus}}).usesPrometheus())
	assert.False(t, (&Config{Metrics: &MetricsConfig{Enabled: true}}).usesPrometheus())
	assert.True(t, (&Config{Metrics: &MetricsConfig{Enabled: true, Exporter: MetricsExporterPrometheus}}).usesPrometheus())
}
