package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"k8s.io/utils/ptr"
)

// collector is a fake OTLP/HTTP endpoint recording the export paths it receives
type collector struct {
	mu    sync.Mutex
	paths []string
}

func newCollector(t *testing.T) (*collector, string) {
	t.Helper()
	c := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.paths = append(c.paths, r.URL.Path)
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return c, strings.TrimPrefix(srv.URL, "http://")
}

func (c *collector) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		cfg            *Config
		wantSDKTracer  bool
		wantSDKMeter   bool
		wantPrometheus bool
		wantErr        string
	}{
		{name: "no config"},
		{
			name: "disabled ignores sections",
			cfg:  &Config{Tracing: &TracingConfig{Enabled: true}, Metrics: &MetricsConfig{Enabled: true}},
		},
		{
			name: "enabled without sections",
			cfg:  &Config{Enabled: true},
		},
		{
			name:          "tracing only",
			cfg:           &Config{Enabled: true, Insecure: true, Tracing: &TracingConfig{Enabled: true}},
			wantSDKTracer: true,
		},
		{
			name: "prometheus metrics",
			cfg: &Config{Enabled: true, Metrics: &MetricsConfig{
				Enabled: true, Exporter: MetricsExporterPrometheus,
			}},
			wantSDKMeter:   true,
			wantPrometheus: true,
		},
		{
			name: "invalid sampling",
			cfg: &Config{Enabled: true, Tracing: &TracingConfig{
				Enabled: true, Sampling: ptr.To(1.5),
			}},
			wantErr: "invalid telemetry configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			tel, err := New(ctx, WithTelemetryConfig(tt.cfg))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = tel.Shutdown(ctx) })

			if tt.wantSDKTracer {
				assert.IsType(t, &sdktrace.TracerProvider{}, tel.TracerProvider())
			} else {
				assert.IsType(t, tracenoop.TracerProvider{}, tel.TracerProvider())
			}
			if tt.wantSDKMeter {
				assert.IsType(t, &sdkmetric.MeterProvider{}, tel.MeterProvider())
			} else {
				assert.IsType(t, noop.MeterProvider{}, tel.MeterProvider())
			}
			if tt.wantPrometheus {
				assert.NotNil(t, tel.Gatherer())
			} else {
				assert.Nil(t, tel.Gatherer())
			}
		})
	}
}

func TestNew_SessionID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	generated, err := New(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, generated.SessionID())

	fixed, err := New(ctx, WithSessionID("session-1"))
	require.NoError(t, err)
	assert.Equal(t, "session-1", fixed.SessionID())
}

func TestShutdown_FlushesToCollector(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, endpoint := newCollector(t)

	tel, err := New(ctx, WithTelemetryConfig(&Config{
		Enabled:  true,
		Endpoint: endpoint,
		Insecure: true,
		Tracing:  &TracingConfig{Enabled: true},
		Metrics:  &MetricsConfig{Enabled: true, Interval: "1h"},
	}))
	require.NoError(t, err)

	_, span := tel.TracerProvider().Tracer("test").Start(ctx, "exams.list")
	span.End()
	counter, err := tel.MeterProvider().Meter("test").Int64Counter("examsync_test_total")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	require.NoError(t, tel.Shutdown(ctx))
	assert.ElementsMatch(t, []string{"/v1/traces", "/v1/metrics"}, c.received())
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, endpoint := newCollector(t)

	tel, err := New(ctx, WithTelemetryConfig(&Config{
		Enabled:  true,
		Endpoint: endpoint,
		Insecure: true,
		Tracing:  &TracingConfig{Enabled: true},
		Metrics:  &MetricsConfig{Enabled: true},
	}))
	require.NoError(t, err)

	require.NoError(t, tel.Shutdown(ctx))
	require.NoError(t, tel.Shutdown(ctx))
}

func TestShutdown_NoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tel, err := New(ctx)
	require.NoError(t, err)
	require.NoError(t, tel.Shutdown(ctx))
}
