// Package engine wires the cache, polling, mutations, analysis orchestration
// and merge coordination into one session object.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/examsight/examsync/internal/analysis"
	"github.com/examsight/examsync/internal/auth"
	"github.com/examsight/examsync/internal/cache"
	"github.com/examsight/examsync/internal/examapi"
	"github.com/examsight/examsync/internal/merge"
	"github.com/examsight/examsync/internal/mutation"
	"github.com/examsight/examsync/internal/optimistic"
	"github.com/examsight/examsync/internal/otel"
	"github.com/examsight/examsync/internal/polling"
	"github.com/examsight/examsync/internal/telemetry"
)

const (
	// DefaultPageSize is used when a list is requested without a page size
	DefaultPageSize = 20

	// ListPrefix is the common prefix of every exam list key
	ListPrefix = analysis.DefaultListPrefix
)

// ListKey is the cache key of one exam list page
func ListKey(page, pageSize int) string {
	return fmt.Sprintf("%spage=%d&page_size=%d", ListPrefix, page, pageSize)
}

// Engine is one client session against the backend
type Engine struct {
	cache      *cache.Cache
	client     examapi.Client
	tokens     auth.Store
	poller     *polling.Poller
	optimistic *optimistic.Coordinator
	analysis   *analysis.Orchestrator
	merge      *merge.Coordinator

	upload *mutation.Mutation[*examapi.UploadRequest, *examapi.Exam]
	remove *mutation.Mutation[string, struct{}]

	pageSize int
	tracer   trace.Tracer
}

type config struct {
	pageSize       int
	dedupInterval  time.Duration
	pollInterval   time.Duration
	notifier       analysis.Notifier
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// Option configures an Engine
type Option func(*config)

// WithPageSize sets the default page size of exam lists
func WithPageSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithDedupInterval sets how long a fetched value is served without refetching
func WithDedupInterval(d time.Duration) Option {
	return func(c *config) {
		c.dedupInterval = d
	}
}

// WithPollInterval sets the revalidation interval used while exams are analyzing
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		c.pollInterval = d
	}
}

// WithNotifier sets who receives user-facing analysis signals
func WithNotifier(n analysis.Notifier) Option {
	return func(c *config) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithMeterProvider enables metrics
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) {
		c.meterProvider = mp
	}
}

// WithTracerProvider enables tracing
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		c.tracerProvider = tp
	}
}

// New creates an engine talking to client and storing credentials in tokens
func New(client examapi.Client, tokens auth.Store, opts ...Option) (*Engine, error) {
	cfg := config{
		pageSize:      DefaultPageSize,
		dedupInterval: cache.DefaultDedupInterval,
		pollInterval:  polling.DefaultInterval,
		notifier:      LogNotifier{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	cacheMetrics, err := telemetry.NewCacheMetrics(cfg.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache metrics: %w", err)
	}
	mutationMetrics, err := telemetry.NewMutationMetrics(cfg.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create mutation metrics: %w", err)
	}
	pollingMetrics, err := telemetry.NewPollingMetrics(cfg.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create polling metrics: %w", err)
	}
	analysisMetrics, err := telemetry.NewAnalysisMetrics(cfg.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis metrics: %w", err)
	}

	c := cache.New(
		cache.WithDedupInterval(cfg.dedupInterval),
		cache.WithMetrics(cacheMetrics),
		cache.WithTracerProvider(cfg.tracerProvider),
	)

	mutOpts := []mutation.Option{
		mutation.WithMetrics(mutationMetrics),
		mutation.WithTracerProvider(cfg.tracerProvider),
	}

	e := &Engine{
		cache:  c,
		client: client,
		tokens: tokens,
		poller: polling.NewPoller(c,
			polling.WithController(polling.NewController(polling.WithInterval(cfg.pollInterval))),
			polling.WithMetrics(pollingMetrics)),
		optimistic: optimistic.New(c),
		analysis: analysis.New(c, client, cfg.notifier,
			analysis.WithListPrefix(ListPrefix),
			analysis.WithMetrics(analysisMetrics, mutationMetrics),
			analysis.WithTracerProvider(cfg.tracerProvider)),
		merge: merge.New(c, client,
			merge.WithMetrics(mutationMetrics),
			merge.WithTracerProvider(cfg.tracerProvider)),
		upload: mutation.Define("upload-exam",
			func(ctx context.Context, req *examapi.UploadRequest) (*examapi.Exam, error) {
				return client.UploadExam(ctx, req)
			}, mutOpts...),
		remove: mutation.Define("delete-exam",
			func(ctx context.Context, id string) (struct{}, error) {
				return struct{}{}, client.DeleteExam(ctx, id)
			}, mutOpts...),
		pageSize: cfg.pageSize,
	}
	if cfg.tracerProvider != nil {
		e.tracer = cfg.tracerProvider.Tracer("github.com/examsight/examsync/engine")
	}
	return e, nil
}

// Cache returns the session cache
func (e *Engine) Cache() *cache.Cache {
	return e.cache
}

// PageSize returns the default page size
func (e *Engine) PageSize() int {
	return e.pageSize
}

// Exams returns one page of exams through the cache. A pageSize of zero uses
// the default page size.
func (e *Engine) Exams(ctx context.Context, page, pageSize int) (*examapi.ExamList, error) {
	key, err := e.listKey(page, pageSize)
	if err != nil {
		return nil, err
	}
	page, pageSize = e.normalizePage(page, pageSize)
	return cache.Load(ctx, e.cache, key, func(ctx context.Context) (*examapi.ExamList, error) {
		return e.client.ListExams(ctx, page, pageSize)
	})
}

// WatchExams loads a page of exams and keeps it revalidated while any exam
// on it is analyzing. onChange is called with every new value of the page
// until the returned subscription is stopped or ctx is done.
func (e *Engine) WatchExams(ctx context.Context, page, pageSize int, onChange func(*examapi.ExamList)) (*polling.Subscription, error) {
	list, err := e.Exams(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}
	key, _ := e.listKey(page, pageSize)

	var unsubscribe func()
	if onChange != nil {
		unsubscribe = e.cache.Subscribe(key, func(ev cache.Event) {
			if l, ok := ev.Entry.Value.(*examapi.ExamList); ok && ev.Entry.HasValue {
				onChange(l)
			}
		})
		onChange(list)
	}

	sub := e.poller.Watch(ctx, key)
	if unsubscribe != nil {
		go func() {
			<-sub.Done()
			unsubscribe()
		}()
	}
	return sub, nil
}

// Upload creates an exam and revalidates every cached list
func (e *Engine) Upload(ctx context.Context, req *examapi.UploadRequest) (*examapi.Exam, error) {
	exam, err := e.upload.Trigger(ctx, req)
	if err != nil {
		return nil, err
	}
	e.revalidateLists(ctx)
	return exam, nil
}

// Delete removes the exam from every cached list immediately and deletes it on
// the server in the background. When the server call fails the lists are
// silently revalidated, which brings the exam back. The returned channel
// yields the server result and closes.
func (e *Engine) Delete(ctx context.Context, examID string) <-chan error {
	done := make(chan error, 1)
	if examID == "" {
		done <- examapi.NewValidationError("id", "exam id is required")
		close(done)
		return done
	}

	ctx, span := otel.StartSpan(ctx, e.tracer, "engine.Delete",
		trace.WithAttributes(otel.AttrExamID.String(examID)))

	var touched []string
	for _, key := range e.cache.Keys(ListPrefix) {
		if !e.pageHolds(key, examID) {
			continue
		}
		err := e.optimistic.Apply(ctx, key, func(current any, ok bool) (any, error) {
			list, isList := current.(*examapi.ExamList)
			if !ok || !isList {
				return nil, cache.ErrUnchanged
			}
			next, found := list.Without(examID)
			if !found {
				return nil, cache.ErrUnchanged
			}
			touched = append(touched, key)
			return next, nil
		})
		if err != nil {
			span.End()
			done <- err
			close(done)
			return done
		}
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		defer span.End()

		_, err := e.remove.Trigger(bg, examID)
		if err != nil {
			otel.RecordError(span, err)
			slog.WarnContext(bg, "Background delete failed, revalidating",
				"exam_id", examID,
				"error", err)
			for _, key := range touched {
				if rerr := e.optimistic.Reconcile(bg, key); rerr != nil {
					slog.WarnContext(bg, "Failed to revalidate exam list", "key", key, "error", rerr)
				}
			}
		}
		done <- err
	}()
	return done
}

// RequestAnalysis runs the analysis state machine for one exam. When no
// cached list holds the exam, the given page (the first one when page < 1)
// is loaded first.
func (e *Engine) RequestAnalysis(ctx context.Context, page int, req analysis.Request) (*analysis.Result, error) {
	if !e.listed(req.ExamID) {
		if page < 1 {
			page = 1
		}
		if _, err := e.Exams(ctx, page, e.pageSize); err != nil {
			return nil, fmt.Errorf("failed to load exams: %w", err)
		}
	}
	return e.analysis.Request(ctx, req)
}

// Analysis returns an analysis result. Results never change, so they are
// fetched at most once per session.
func (e *Engine) Analysis(ctx context.Context, analysisID string) (*examapi.Analysis, error) {
	if analysisID == "" {
		return nil, examapi.NewValidationError("id", "analysis id is required")
	}
	return cache.Load(ctx, e.cache, merge.AnalysisKey(analysisID),
		func(ctx context.Context) (*examapi.Analysis, error) {
			return e.client.GetAnalysis(ctx, analysisID)
		}, cache.WithImmutable())
}

// Merge combines the analyses of the given exams
func (e *Engine) Merge(ctx context.Context, examIDs []string) (*examapi.Analysis, error) {
	return e.merge.Merge(ctx, examIDs)
}

// Logout removes the stored token and drops everything cached for the session
func (e *Engine) Logout(ctx context.Context) error {
	if err := e.tokens.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	e.cache.Clear()
	slog.InfoContext(ctx, "Logged out")
	return nil
}

type tokenWatcher interface {
	Watch(ctx context.Context, onChange func(token string)) error
}

// FollowLogout clears the cache when another process removes the stored
// token. It blocks until ctx is done and returns nil right away for token
// stores that cannot be watched.
func (e *Engine) FollowLogout(ctx context.Context) error {
	w, ok := e.tokens.(tokenWatcher)
	if !ok {
		return nil
	}
	err := w.Watch(ctx, func(token string) {
		if token != "" {
			return
		}
		slog.InfoContext(ctx, "Token removed by another process, clearing cache")
		e.cache.Clear()
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Pending returns the names of mutations currently in flight
func (e *Engine) Pending() []string {
	var names []string
	if e.upload.IsMutating() {
		names = append(names, e.upload.Name())
	}
	if e.remove.IsMutating() {
		names = append(names, e.remove.Name())
	}
	if e.analysis.IsMutating() {
		names = append(names, "request-analysis")
	}
	if e.merge.IsMutating() {
		names = append(names, "merge-analyses")
	}
	return names
}

// Snapshot returns the cache entries whose key starts with prefix
func (e *Engine) Snapshot(prefix string) []cache.Entry {
	keys := e.cache.Keys(prefix)
	entries := make([]cache.Entry, 0, len(keys))
	for _, key := range keys {
		if entry, ok := e.cache.Get(key); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (e *Engine) revalidateLists(ctx context.Context) {
	for _, key := range e.cache.Keys(ListPrefix) {
		if err := e.optimistic.Reconcile(ctx, key); err != nil {
			slog.WarnContext(ctx, "Failed to revalidate exam list", "key", key, "error", err)
		}
	}
}

func (e *Engine) listed(examID string) bool {
	for _, key := range e.cache.Keys(ListPrefix) {
		if e.pageHolds(key, examID) {
			return true
		}
	}
	return false
}

func (e *Engine) pageHolds(key, examID string) bool {
	list, ok := cache.Peek[*examapi.ExamList](e.cache, key)
	if !ok {
		return false
	}
	_, found := list.Find(examID)
	return found
}

func (e *Engine) normalizePage(page, pageSize int) (int, int) {
	if pageSize == 0 {
		pageSize = e.pageSize
	}
	return page, pageSize
}

func (e *Engine) listKey(page, pageSize int) (string, error) {
	page, pageSize = e.normalizePage(page, pageSize)
	if page < 1 {
		return "", examapi.NewValidationError("page", "page must be at least 1")
	}
	if pageSize < 1 {
		return "", examapi.NewValidationError("page_size", "page size must be at least 1")
	}
	return ListKey(page, pageSize), nil
}
