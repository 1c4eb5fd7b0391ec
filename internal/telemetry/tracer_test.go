package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"k8s.io/utils/ptr"
)

func TestNewTracerProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opts     []ProviderOption
		wantNoOp bool
	}{
		{name: "no tracing config", wantNoOp: true},
		{name: "tracing disabled", opts: []ProviderOption{WithTracing(&TracingConfig{})}, wantNoOp: true},
		{
			name: "tracing enabled",
			opts: []ProviderOption{
				WithCollector("127.0.0.1:4318", true),
				WithTracing(&TracingConfig{Enabled: true, Sampling: ptr.To(0.5)}),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tp, err := NewTracerProvider(context.Background(), tt.opts...)
			require.NoError(t, err)

			if tt.wantNoOp {
				assert.IsType(t, noop.TracerProvider{}, tp)
				return
			}
			sdkTP, ok := tp.(*sdktrace.TracerProvider)
			require.True(t, ok, "expected SDK tracer provider")
			t.Cleanup(func() { _ = sdkTP.Shutdown(context.Background()) })
		})
	}
}

func TestProviderSettings(t *testing.T) {
	t.Parallel()

	defaults := newProviderSettings(nil)
	assert.Equal(t, DefaultServiceName, defaults.serviceName)
	assert.Equal(t, DefaultEndpoint, defaults.endpoint)
	assert.NotEmpty(t, defaults.instanceID, "an instance id is generated")
	assert.NotEqual(t, defaults.instanceID, newProviderSettings(nil).instanceID)

	s := newProviderSettings([]ProviderOption{
		WithService("svc", "1.0.0"),
		WithInstanceID("session-1"),
		WithCollector("otel:4318", true),
	})
	assert.Equal(t, "svc", s.serviceName)
	assert.Equal(t, "1.0.0", s.serviceVersion)
	assert.Equal(t, "session-1", s.instanceID)
	assert.Equal(t, "otel:4318", s.endpoint)
	assert.True(t, s.insecure)
}

func TestNewResource(t *testing.T) {
	t.Parallel()

	res, err := newResource(context.Background(), newProviderSettings([]ProviderOption{
		WithService("examsync", "1.2.3"),
		WithInstanceID("session-1"),
	}))
	require.NoError(t, err)

	attrs := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "examsync", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
	assert.Equal(t, "session-1", attrs["service.instance.id"])
	assert.NotEmpty(t, attrs["process.pid"])
}
