// Package analysis drives a single exam from pending through analyzing to a
// terminal state, including type correction and error-class branching.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel/trace"

	"github.com/examsight/examsync/internal/cache"
	"github.com/examsight/examsync/internal/examapi"
	"github.com/examsight/examsync/internal/mutation"
	"github.com/examsight/examsync/internal/optimistic"
	"github.com/examsight/examsync/internal/otel"
	"github.com/examsight/examsync/internal/status"
	"github.com/examsight/examsync/internal/telemetry"
)

// DefaultListPrefix is the cache key prefix of exam list pages
const DefaultListPrefix = "exams?"

// Outcome is the result of an analysis request as seen by the user
type Outcome string

const (
	// OutcomeAnalyzed means the backend accepted the request
	OutcomeAnalyzed Outcome = "analyzed"

	// OutcomePaymentRequired means the account lacks credits
	OutcomePaymentRequired Outcome = "payment_required"

	// OutcomePossiblyInFlight means no response arrived; the job may still run
	OutcomePossiblyInFlight Outcome = "possibly_in_flight"

	// OutcomeFailed means the backend rejected the request
	OutcomeFailed Outcome = "failed"
)

// Messages shown through the Notifier
const (
	MessageCheckBack = "The analysis may still be running on the server. Check back in a moment."
	MessageFailed    = "The analysis could not be started. Please try again."
)

//go:generate mockgen -destination=mocks/mock_notifier.go -package=mocks -source=orchestrator.go Notifier

// Notifier receives the user-facing signals of the orchestrator
type Notifier interface {
	// UpgradeRequired asks the user to buy credits
	UpgradeRequired(ctx context.Context, examID string)

	// Alert reports a failure
	Alert(ctx context.Context, message string)

	// Info reports a non-error condition
	Info(ctx context.Context, message string)

	// Navigate moves the user to the given route of the web application
	Navigate(ctx context.Context, route string)
}

// Request describes one analysis request
type Request struct {
	ExamID string

	// ExamType is the type confirmed by the user. When empty the classifier's
	// detected type is used for the correction check.
	ExamType string

	// Force re-analyzes an exam that already finished
	Force bool
}

// Result is what happened to a request that reached the backend
type Result struct {
	Outcome  Outcome
	Response *examapi.AnalyzeResponse
	Route    string

	// Err is the backend error for every outcome except OutcomeAnalyzed
	Err error
}

type analyzeArgs struct {
	examID string
	force  bool
}

type typeArgs struct {
	examID   string
	examType string
}

// Orchestrator runs analysis requests against the cache and the backend
type Orchestrator struct {
	cache      *cache.Cache
	optimistic *optimistic.Coordinator
	notifier   Notifier
	listPrefix string
	metrics    *telemetry.AnalysisMetrics
	tracer     trace.Tracer

	analyze     *mutation.Mutation[analyzeArgs, *examapi.AnalyzeResponse]
	correctType *mutation.Mutation[typeArgs, *examapi.TypeUpdate]
}

type config struct {
	listPrefix      string
	metrics         *telemetry.AnalysisMetrics
	mutationMetrics *telemetry.MutationMetrics
	tracerProvider  trace.TracerProvider
}

// Option configures an Orchestrator
type Option func(*config)

// WithListPrefix sets the cache key prefix of exam list pages
func WithListPrefix(prefix string) Option {
	return func(c *config) {
		if prefix != "" {
			c.listPrefix = prefix
		}
	}
}

// WithMetrics sets the analysis and mutation metrics
func WithMetrics(analysis *telemetry.AnalysisMetrics, mutations *telemetry.MutationMetrics) Option {
	return func(c *config) {
		c.metrics = analysis
		c.mutationMetrics = mutations
	}
}

// WithTracerProvider enables spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		c.tracerProvider = tp
	}
}

// New creates an orchestrator
func New(c *cache.Cache, client examapi.Client, notifier Notifier, opts ...Option) *Orchestrator {
	cfg := config{listPrefix: DefaultListPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}

	mutOpts := []mutation.Option{
		mutation.WithMetrics(cfg.mutationMetrics),
		mutation.WithTracerProvider(cfg.tracerProvider),
	}

	o := &Orchestrator{
		cache:      c,
		optimistic: optimistic.New(c),
		notifier:   notifier,
		listPrefix: cfg.listPrefix,
		metrics:    cfg.metrics,
		analyze: mutation.Define("request-analysis",
			func(ctx context.Context, a analyzeArgs) (*examapi.AnalyzeResponse, error) {
				return client.AnalyzeExam(ctx, a.examID, a.force)
			}, mutOpts...),
		correctType: mutation.Define("correct-exam-type",
			func(ctx context.Context, a typeArgs) (*examapi.TypeUpdate, error) {
				return client.UpdateExamType(ctx, a.examID, a.examType)
			}, mutOpts...),
	}
	if cfg.tracerProvider != nil {
		o.tracer = cfg.tracerProvider.Tracer("github.com/examsight/examsync/analysis")
	}
	return o
}

// IsMutating reports whether an analysis request is in flight
func (o *Orchestrator) IsMutating() bool {
	return o.analyze.IsMutating()
}

// Request runs the analysis state machine for one exam. The returned error is
// non-nil only when the request is rejected before any backend call; backend
// failures are reported to the Notifier and carried in Result.Err.
func (o *Orchestrator) Request(ctx context.Context, req Request) (*Result, error) {
	ctx, span := otel.StartSpan(ctx, o.tracer, "analysis.Request",
		trace.WithAttributes(otel.AttrExamID.String(req.ExamID)))
	defer span.End()

	exam, err := o.lookup(req.ExamID)
	if err != nil {
		return nil, err
	}
	if err := o.checkStatus(exam, req.Force); err != nil {
		return nil, err
	}

	o.correctTypeIfNeeded(ctx, exam, req.ExamType)

	err = o.applyToLists(ctx, req.ExamID, func(e examapi.Exam) examapi.Exam {
		e.Status = status.Analyzing
		e.AnalysisStep = nil
		e.ErrorMessage = ""
		return e
	})
	if err != nil {
		return nil, err
	}

	resp, err := o.analyze.Trigger(ctx, analyzeArgs{examID: req.ExamID, force: req.Force})
	if err != nil {
		res := o.handleFailure(ctx, req.ExamID, err)
		otel.RecordClassifiedError(span, err, string(examapi.Classify(err)))
		o.metrics.RecordOutcome(ctx, string(res.Outcome), req.Force)
		return res, nil
	}

	if err := o.applyToLists(ctx, req.ExamID, func(e examapi.Exam) examapi.Exam {
		e.Status = status.Analyzed
		e.AnalysisStep = nil
		return e
	}); err != nil {
		slog.WarnContext(ctx, "Failed to mark exam as analyzed", "exam_id", req.ExamID, "error", err)
	}

	route := ResultRoute(resp)
	span.SetAttributes(otel.AttrAnalysisID.String(resp.AnalysisID))
	slog.InfoContext(ctx, "Analysis requested",
		"exam_id", req.ExamID,
		"analysis_id", resp.AnalysisID,
		"force", req.Force)
	o.notifier.Navigate(ctx, route)
	o.metrics.RecordOutcome(ctx, string(OutcomeAnalyzed), req.Force)

	return &Result{Outcome: OutcomeAnalyzed, Response: resp, Route: route}, nil
}

func (o *Orchestrator) handleFailure(ctx context.Context, examID string, err error) *Result {
	bg := context.WithoutCancel(ctx)

	switch examapi.Classify(err) {
	case examapi.ClassPaymentRequired:
		o.notifier.UpgradeRequired(ctx, examID)
		o.reconcile(bg)
		return &Result{Outcome: OutcomePaymentRequired, Err: err}

	case examapi.ClassPossiblyInFlight:
		// The optimistic analyzing state stays; polling reconciles it.
		slog.WarnContext(ctx, "Analysis request outcome unknown", "exam_id", examID, "error", err)
		o.notifier.Info(ctx, MessageCheckBack)
		return &Result{Outcome: OutcomePossiblyInFlight, Err: err}

	default:
		o.notifier.Alert(ctx, MessageFailed)
		o.reconcile(bg)
		return &Result{Outcome: OutcomeFailed, Err: err}
	}
}

func (o *Orchestrator) reconcile(ctx context.Context) {
	for _, key := range o.cache.Keys(o.listPrefix) {
		if err := o.optimistic.Reconcile(ctx, key); err != nil {
			slog.WarnContext(ctx, "Failed to revalidate exam list", "key", key, "error", err)
		}
	}
}

func (o *Orchestrator) correctTypeIfNeeded(ctx context.Context, exam examapi.Exam, confirmed string) {
	target := confirmed
	if target == "" {
		target = exam.DetectedType
	}
	if target == "" || target == exam.ExamType {
		return
	}

	if _, err := o.correctType.Trigger(ctx, typeArgs{examID: exam.ID, examType: target}); err != nil {
		slog.WarnContext(ctx, "Exam type correction failed, continuing with analysis",
			"exam_id", exam.ID,
			"exam_type", target,
			"error", err)
		return
	}

	if err := o.applyToLists(ctx, exam.ID, func(e examapi.Exam) examapi.Exam {
		e.ExamType = target
		return e
	}); err != nil {
		slog.WarnContext(ctx, "Failed to store corrected exam type", "exam_id", exam.ID, "error", err)
	}
}

func (*Orchestrator) checkStatus(exam examapi.Exam, force bool) error {
	switch {
	case exam.Status == status.Analyzing:
		return examapi.NewValidationError("status", fmt.Sprintf("exam %s is already being analyzed", exam.ID))
	case status.CanReanalyze(exam.Status) && !force:
		return examapi.NewValidationError("force",
			fmt.Sprintf("exam %s is %s; re-analyze it explicitly", exam.ID, exam.Status))
	}
	if err := status.ValidateTransition(exam.Status, status.Analyzing, force); err != nil {
		return examapi.NewValidationError("status", err.Error())
	}
	return nil
}

// lookup finds the exam in the cached list pages
func (o *Orchestrator) lookup(examID string) (examapi.Exam, error) {
	if examID == "" {
		return examapi.Exam{}, examapi.NewValidationError("id", "exam id is required")
	}
	for _, key := range o.cache.Keys(o.listPrefix) {
		list, ok := cache.Peek[*examapi.ExamList](o.cache, key)
		if !ok {
			continue
		}
		if exam, found := list.Find(examID); found {
			return exam, nil
		}
	}
	return examapi.Exam{}, examapi.NewValidationError("id", fmt.Sprintf("exam %s is not in any loaded list", examID))
}

// applyToLists optimistically rewrites the exam in every cached list page that holds it
func (o *Orchestrator) applyToLists(ctx context.Context, examID string, fn func(examapi.Exam) examapi.Exam) error {
	for _, key := range o.cache.Keys(o.listPrefix) {
		if !o.listHolds(key, examID) {
			continue
		}
		err := o.optimistic.Apply(ctx, key, func(current any, ok bool) (any, error) {
			list, isList := current.(*examapi.ExamList)
			if !ok || !isList {
				return nil, cache.ErrUnchanged
			}
			next, found := list.WithExam(examID, fn)
			if !found {
				return nil, cache.ErrUnchanged
			}
			return next, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) listHolds(key, examID string) bool {
	list, ok := cache.Peek[*examapi.ExamList](o.cache, key)
	if !ok {
		return false
	}
	_, found := list.Find(examID)
	return found
}

// ResultRoute builds the route of the result view for an analyze response
func ResultRoute(resp *examapi.AnalyzeResponse) string {
	if resp == nil {
		return ""
	}
	q := url.Values{}
	if resp.CacheHit != nil {
		q.Set("cache_hit", strconv.FormatBool(*resp.CacheHit))
	}
	if resp.CreditsConsumed != nil {
		q.Set("credits_consumed", strconv.Itoa(*resp.CreditsConsumed))
	}
	if resp.CreditsRemaining != nil {
		q.Set("credits_remaining", strconv.Itoa(*resp.CreditsRemaining))
	}
	route := "/analysis/" + url.PathEscape(resp.AnalysisID)
	if len(q) > 0 {
		route += "?" + q.Encode()
	}
	return route
}
