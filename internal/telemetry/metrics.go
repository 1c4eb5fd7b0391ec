package telemetry

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// CacheMetricsMeterName is the name used for the resource cache meter
	CacheMetricsMeterName = "github.com/examsight/examsync/cache"

	// MutationMetricsMeterName is the name used for the mutation meter
	MutationMetricsMeterName = "github.com/examsight/examsync/mutation"

	// PollingMetricsMeterName is the name used for the polling meter
	PollingMetricsMeterName = "github.com/examsight/examsync/polling"

	// AnalysisMetricsMeterName is the name used for the analysis orchestrator meter
	AnalysisMetricsMeterName = "github.com/examsight/examsync/analysis"
)

// Fetch outcomes reported by the resource cache
const (
	FetchOutcomeHit     = "hit"
	FetchOutcomeShared  = "shared"
	FetchOutcomeLoaded  = "loaded"
	FetchOutcomeError   = "error"
	FetchOutcomeDropped = "dropped"
)

var durationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// ResourceKind reduces a cache key to its resource family ("exams", "analysis")
// so metric attributes stay low-cardinality.
func ResourceKind(key string) string {
	if i := strings.IndexAny(key, "/?"); i >= 0 {
		return key[:i]
	}
	return key
}

// CacheMetrics holds the OpenTelemetry instruments for the resource cache
type CacheMetrics struct {
	fetches        metric.Int64Counter
	loaderDuration metric.Float64Histogram
	mutations      metric.Int64Counter
}

// NewCacheMetrics creates a new CacheMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewCacheMetrics(provider metric.MeterProvider) (*CacheMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CacheMetricsMeterName)

	fetches, err := meter.Int64Counter(
		"examsync_cache_fetches_total",
		metric.WithDescription("Number of cache fetches by outcome"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	loaderDuration, err := meter.Float64Histogram(
		"examsync_cache_loader_duration_seconds",
		metric.WithDescription("Duration of loader calls in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, err
	}

	mutations, err := meter.Int64Counter(
		"examsync_cache_mutations_total",
		metric.WithDescription("Number of local cache mutations"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		return nil, err
	}

	return &CacheMetrics{
		fetches:        fetches,
		loaderDuration: loaderDuration,
		mutations:      mutations,
	}, nil
}

// RecordFetch records the outcome of a Fetch call
func (m *CacheMetrics) RecordFetch(ctx context.Context, key, outcome string) {
	if m == nil || m.fetches == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("resource", ResourceKind(key)),
		attribute.String("outcome", outcome),
	}

	m.fetches.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLoaderDuration records how long a loader call took
func (m *CacheMetrics) RecordLoaderDuration(ctx context.Context, key string, duration time.Duration, success bool) {
	if m == nil || m.loaderDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("resource", ResourceKind(key)),
		attribute.Bool("success", success),
	}

	m.loaderDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordMutation records a local mutation of a cache entry
func (m *CacheMetrics) RecordMutation(ctx context.Context, key string) {
	if m == nil || m.mutations == nil {
		return
	}
	m.mutations.Add(ctx, 1, metric.WithAttributes(attribute.String("resource", ResourceKind(key))))
}

// MutationMetrics holds the OpenTelemetry instruments for named mutations
type MutationMetrics struct {
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewMutationMetrics creates a new MutationMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewMutationMetrics(provider metric.MeterProvider) (*MutationMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(MutationMetricsMeterName)

	duration, err := meter.Float64Histogram(
		"examsync_mutation_duration_seconds",
		metric.WithDescription("Duration of mutations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64UpDownCounter(
		"examsync_mutations_in_flight",
		metric.WithDescription("Number of mutations currently in flight"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		return nil, err
	}

	return &MutationMetrics{
		duration: duration,
		inFlight: inFlight,
	}, nil
}

// RecordStart marks a mutation as started
func (m *MutationMetrics) RecordStart(ctx context.Context, name string) {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Add(ctx, 1, metric.WithAttributes(attribute.String("mutation", name)))
}

// RecordDone records the duration and result of a settled mutation
func (m *MutationMetrics) RecordDone(ctx context.Context, name string, duration time.Duration, class string) {
	if m == nil || m.duration == nil {
		return
	}

	m.inFlight.Add(ctx, -1, metric.WithAttributes(attribute.String("mutation", name)))

	attrs := []attribute.KeyValue{
		attribute.String("mutation", name),
		attribute.Bool("success", class == ""),
		attribute.String("error_class", class),
	}
	m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// PollingMetrics holds the OpenTelemetry instruments for the polling controller
type PollingMetrics struct {
	ticks  metric.Int64Counter
	active metric.Int64Gauge
}

// NewPollingMetrics creates a new PollingMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewPollingMetrics(provider metric.MeterProvider) (*PollingMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(PollingMetricsMeterName)

	ticks, err := meter.Int64Counter(
		"examsync_polling_ticks_total",
		metric.WithDescription("Number of polling revalidations"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, err
	}

	active, err := meter.Int64Gauge(
		"examsync_polling_active",
		metric.WithDescription("Whether polling is armed for a resource (1) or not (0)"),
	)
	if err != nil {
		return nil, err
	}

	return &PollingMetrics{
		ticks:  ticks,
		active: active,
	}, nil
}

// RecordTick records a polling revalidation
func (m *PollingMetrics) RecordTick(ctx context.Context, key string, success bool) {
	if m == nil || m.ticks == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("resource", ResourceKind(key)),
		attribute.Bool("success", success),
	}
	m.ticks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordActive records whether polling is armed
func (m *PollingMetrics) RecordActive(ctx context.Context, key string, active bool) {
	if m == nil || m.active == nil {
		return
	}
	var v int64
	if active {
		v = 1
	}
	m.active.Record(ctx, v, metric.WithAttributes(attribute.String("resource", ResourceKind(key))))
}

// AnalysisMetrics holds the OpenTelemetry instruments for analysis requests
type AnalysisMetrics struct {
	requests metric.Int64Counter
}

// NewAnalysisMetrics creates a new AnalysisMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewAnalysisMetrics(provider metric.MeterProvider) (*AnalysisMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(AnalysisMetricsMeterName)

	requests, err := meter.Int64Counter(
		"examsync_analysis_requests_total",
		metric.WithDescription("Number of analysis requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &AnalysisMetrics{requests: requests}, nil
}

// RecordOutcome records the outcome of an analysis request
func (m *AnalysisMetrics) RecordOutcome(ctx context.Context, outcome string, force bool) {
	if m == nil || m.requests == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("outcome", outcome),
		attribute.Bool("force", force),
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
}
