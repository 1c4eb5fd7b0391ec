// Package mutation wraps named side-effecting operations against the backend.
package mutation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/examsight/examsync/internal/examapi"
	"github.com/examsight/examsync/internal/otel"
	"github.com/examsight/examsync/internal/telemetry"
)

const tracerName = "github.com/examsight/examsync/mutation"

// Handler performs the side effect for one trigger
type Handler[A, R any] func(ctx context.Context, arg A) (R, error)

// Mutation is a named operation with a pending flag. Concurrent triggers are
// allowed; guarding against double submission is up to the caller.
type Mutation[A, R any] struct {
	name    string
	handler Handler[A, R]
	metrics *telemetry.MutationMetrics
	tracer  trace.Tracer

	mu     sync.Mutex
	latest uint64
	active bool
}

// Option configures a Mutation
type Option func(*options)

type options struct {
	metrics *telemetry.MutationMetrics
	tracer  trace.Tracer
}

// WithMetrics sets the mutation metrics
func WithMetrics(m *telemetry.MutationMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTracerProvider enables a span per trigger
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

// Define creates a named mutation around handler
func Define[A, R any](name string, handler Handler[A, R], opts ...Option) *Mutation[A, R] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Mutation[A, R]{
		name:    name,
		handler: handler,
		metrics: o.metrics,
		tracer:  o.tracer,
	}
}

// Name returns the mutation name
func (m *Mutation[A, R]) Name() string {
	return m.name
}

// IsMutating reports whether the most recently started trigger is still running
func (m *Mutation[A, R]) IsMutating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Trigger runs the handler and returns its result
func (m *Mutation[A, R]) Trigger(ctx context.Context, arg A) (R, error) {
	m.mu.Lock()
	m.latest++
	call := m.latest
	m.active = true
	m.mu.Unlock()

	ctx, span := otel.StartSpan(ctx, m.tracer, "mutation."+m.name,
		trace.WithAttributes(otel.AttrMutationName.String(m.name)))
	defer span.End()

	m.metrics.RecordStart(ctx, m.name)
	slog.DebugContext(ctx, "Mutation started", "mutation", m.name)
	start := time.Now()

	result, err := m.handler(ctx, arg)

	duration := time.Since(start)
	class := examapi.Classify(err)
	m.metrics.RecordDone(ctx, m.name, duration, string(class))

	m.mu.Lock()
	if m.latest == call {
		m.active = false
	}
	m.mu.Unlock()

	if err != nil {
		otel.RecordClassifiedError(span, err, string(class))
		slog.InfoContext(ctx, "Mutation failed",
			"mutation", m.name,
			"duration", duration,
			"error_class", class,
			"error", err)
		return result, err
	}

	slog.DebugContext(ctx, "Mutation completed", "mutation", m.name, "duration", duration)
	return result, nil
}
