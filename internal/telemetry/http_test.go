package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRouter(middlewares ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	for _, m := range middlewares {
		r.Use(m)
	}
	r.Get("/cache/{key}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return r
}

func TestHTTPMetrics_NilIsPassThrough(t *testing.T) {
	t.Parallel()

	metrics, err := NewHTTPMetrics(nil)
	require.NoError(t, err)
	require.Nil(t, metrics)

	rr := httptest.NewRecorder()
	newRouter(metrics.Middleware).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cache/a", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHTTPMetrics_RecordsByRoutePattern(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	metrics, err := NewHTTPMetrics(mp)
	require.NoError(t, err)
	router := newRouter(metrics.Middleware)

	for _, path := range []string{"/cache/a", "/cache/b", "/broken"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "examsync_http_requests_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value(attribute.Key("route"))
				code, _ := dp.Attributes.Value(attribute.Key("status_code"))
				counts[route.AsString()+" "+code.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{
		"/cache/{key} 200": 2,
		"/broken 500":      1,
	}, counts)
}

func TestTracingMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("nil provider passes through", func(t *testing.T) {
		t.Parallel()

		rr := httptest.NewRecorder()
		newRouter(TracingMiddleware(nil)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cache/a", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("names spans by route and marks server errors", func(t *testing.T) {
		t.Parallel()

		exporter := tracetest.NewInMemoryExporter()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

		router := newRouter(TracingMiddleware(tp))
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/cache/abc", nil))
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/broken", nil))

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)
		assert.Equal(t, "GET /cache/{key}", spans[0].Name)
		assert.Equal(t, codes.Unset, spans[0].Status.Code)
		assert.Equal(t, "GET /broken", spans[1].Name)
		assert.Equal(t, codes.Error, spans[1].Status.Code)
	})
}

func TestRoutePattern_Unknown(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "unknown_route", RoutePattern(httptest.NewRequest(http.MethodGet, "/x", nil)))
}
