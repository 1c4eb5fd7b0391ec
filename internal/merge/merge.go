// Package merge combines the analyses of several exams into one composite analysis.
package merge

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/examsight/examsync/internal/cache"
	"github.com/examsight/examsync/internal/examapi"
	"github.com/examsight/examsync/internal/mutation"
	"github.com/examsight/examsync/internal/otel"
	"github.com/examsight/examsync/internal/telemetry"
)

// MinExams is the smallest number of distinct exams a merge accepts
const MinExams = 2

// ExamAnalysisKey is the cache key of the exam to analysis id lookup
func ExamAnalysisKey(examID string) string {
	return "exams/" + examID + "/analysis"
}

// AnalysisKey is the cache key of an immutable analysis
func AnalysisKey(analysisID string) string {
	return "analysis/" + analysisID
}

// Coordinator resolves exams to analyses and submits the merge
type Coordinator struct {
	cache  *cache.Cache
	client examapi.Client
	merge  *mutation.Mutation[[]string, *examapi.Analysis]
	tracer trace.Tracer
}

type config struct {
	metrics        *telemetry.MutationMetrics
	tracerProvider trace.TracerProvider
}

// Option configures a Coordinator
type Option func(*config)

// WithMetrics sets the mutation metrics of the merge call
func WithMetrics(m *telemetry.MutationMetrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithTracerProvider enables spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		c.tracerProvider = tp
	}
}

// New creates a merge coordinator
func New(c *cache.Cache, client examapi.Client, opts ...Option) *Coordinator {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Coordinator{
		cache:  c,
		client: client,
		merge: mutation.Define("merge-analyses",
			func(ctx context.Context, ids []string) (*examapi.Analysis, error) {
				return client.MergeAnalyses(ctx, ids)
			},
			mutation.WithMetrics(cfg.metrics),
			mutation.WithTracerProvider(cfg.tracerProvider)),
	}
	if cfg.tracerProvider != nil {
		m.tracer = cfg.tracerProvider.Tracer("github.com/examsight/examsync/merge")
	}
	return m
}

// IsMutating reports whether a merge request is in flight
func (m *Coordinator) IsMutating() bool {
	return m.merge.IsMutating()
}

// Merge resolves every exam to its analysis concurrently, then submits one
// merge request and caches the composite analysis as immutable. Any failed
// lookup aborts the merge before it is submitted.
func (m *Coordinator) Merge(ctx context.Context, examIDs []string) (*examapi.Analysis, error) {
	ids := dedupe(examIDs)
	if len(ids) < MinExams {
		return nil, examapi.NewValidationError("exam_ids",
			fmt.Sprintf("at least %d distinct exams are required to merge, got %d", MinExams, len(ids)))
	}

	ctx, span := otel.StartSpan(ctx, m.tracer, "merge.Merge",
		trace.WithAttributes(otel.AttrMergeSize.Int(len(ids))))
	defer span.End()

	analysisIDs, err := m.resolve(ctx, ids)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	merged, err := m.merge.Trigger(ctx, analysisIDs)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	if merged.ID == "" {
		return nil, fmt.Errorf("merge response carries no analysis id")
	}

	stored, err := cache.Load(ctx, m.cache, AnalysisKey(merged.ID),
		func(context.Context) (*examapi.Analysis, error) { return merged, nil },
		cache.WithImmutable())
	if err != nil {
		return nil, fmt.Errorf("failed to cache merged analysis %s: %w", merged.ID, err)
	}

	span.SetAttributes(otel.AttrAnalysisID.String(merged.ID))
	slog.InfoContext(ctx, "Analyses merged",
		"analysis_id", merged.ID,
		"exam_count", len(ids))
	return stored, nil
}

// resolve looks up the analysis id of every exam through the cache. The
// lookups run concurrently and the first failure cancels the rest.
func (m *Coordinator) resolve(ctx context.Context, examIDs []string) ([]string, error) {
	analysisIDs := make([]string, len(examIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, examID := range examIDs {
		g.Go(func() error {
			id, err := cache.Load(gctx, m.cache, ExamAnalysisKey(examID),
				func(ctx context.Context) (string, error) {
					return m.client.GetExamAnalysisID(ctx, examID)
				})
			if err != nil {
				return fmt.Errorf("failed to resolve analysis of exam %s: %w", examID, err)
			}
			analysisIDs[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return analysisIDs, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
