// Package otel holds the span helpers and attribute keys shared by the engine packages.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on engine spans
const (
	AttrCacheKey     = attribute.Key("cache.key")
	AttrDeduplicated = attribute.Key("cache.deduplicated")
	AttrExamID       = attribute.Key("exam.id")
	AttrAnalysisID   = attribute.Key("analysis.id")
	AttrMergeSize    = attribute.Key("merge.size")
	AttrMutationName = attribute.Key("mutation.name")
	AttrErrorClass   = attribute.Key("error.class")

	AttrHTTPMethod   = attribute.Key("http.request.method")
	AttrHTTPRoute    = attribute.Key("http.route")
	AttrHTTPStatus   = attribute.Key("http.response.status_code")
	AttrHTTPAttempts = attribute.Key("http.request.attempts")
)

// StartSpan starts a span on tracer. With a nil tracer the span already in
// ctx (usually a non-recording one) is returned and ctx is unchanged.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError marks span as failed. The status description is fixed so that
// tokens or response payloads quoted in err only reach the span event.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "operation failed")
}

// RecordClassifiedError is RecordError plus the error.class attribute used to
// split failures by how the engine reacts to them.
func RecordClassifiedError(span trace.Span, err error, class string) {
	if err == nil || span == nil {
		return
	}
	span.SetAttributes(AttrErrorClass.String(class))
	RecordError(span, err)
}
