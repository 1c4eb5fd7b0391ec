// Package cache provides the in-memory resource cache shared by every
// component of the sync engine. Fetches of the same key are deduplicated,
// local mutations are sequenced ahead of in-flight fetches, and subscribers
// are told about every change to a key.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/examsight/examsync/internal/otel"
	"github.com/examsight/examsync/internal/telemetry"
)

// DefaultDedupInterval is how long a successful fetch satisfies later fetches of the same key
const DefaultDedupInterval = 2 * time.Second

const tracerName = "github.com/examsight/examsync/cache"

// ErrNoLoader is returned by Revalidate when the key has never been fetched
var ErrNoLoader = errors.New("no loader registered for key")

// ErrUnchanged may be returned by an Updater to leave the entry untouched.
// Mutate then reports success without superseding fetches in flight.
var ErrUnchanged = errors.New("value unchanged")

// Loader fetches the server value for a key
type Loader func(ctx context.Context) (any, error)

// Updater computes the next value from the current one. It must not modify
// current and must not call back into the cache.
type Updater func(current any, ok bool) (any, error)

// Replacement produces a new value asynchronously
type Replacement func(ctx context.Context) (any, error)

// Entry is a snapshot of a cached key
type Entry struct {
	Key       string
	Value     any
	HasValue  bool
	Err       error
	FetchedAt time.Time
	MutatedAt time.Time
	Immutable bool
}

// EventKind identifies what happened to a key
type EventKind string

const (
	// EventFetched is sent after a loader call settled and its result was stored
	EventFetched EventKind = "fetched"

	// EventMutated is sent after a local mutation
	EventMutated EventKind = "mutated"

	// EventCleared is sent when the cache is cleared
	EventCleared EventKind = "cleared"
)

// Event is delivered to subscribers of a key
type Event struct {
	Key   string
	Kind  EventKind
	Entry Entry
}

type entry struct {
	value     any
	hasValue  bool
	err       error
	fetchedAt time.Time
	mutatedAt time.Time
	immutable bool
	loader    Loader

	// seq increases with every mutation; fetches that started under an
	// older seq must not overwrite the entry.
	seq uint64
}

func (e *entry) snapshot(key string) Entry {
	return Entry{
		Key:       key,
		Value:     e.value,
		HasValue:  e.hasValue,
		Err:       e.err,
		FetchedAt: e.fetchedAt,
		MutatedAt: e.mutatedAt,
		Immutable: e.immutable,
	}
}

// Cache is a process-wide keyed store of server resources
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	subs       map[string]map[uint64]func(Event)
	nextSubID  uint64
	generation uint64
	group      singleflight.Group

	dedupInterval time.Duration
	now           func() time.Time
	metrics       *telemetry.CacheMetrics
	tracer        trace.Tracer
}

// Option configures a Cache
type Option func(*Cache)

// WithDedupInterval sets the dedup window. Zero disables it.
func WithDedupInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.dedupInterval = d
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *telemetry.CacheMetrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithTracerProvider enables spans around fetches
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Cache) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty cache
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:       make(map[string]*entry),
		subs:          make(map[string]map[uint64]func(Event)),
		dedupInterval: DefaultDedupInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a snapshot of the entry for key
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(key), true
}

// Keys returns the cached keys with the given prefix, sorted
func (c *Cache) Keys(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		if !e.hasValue && e.err == nil {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Fetch returns the value for key, calling loader when the cached value is
// missing or stale. Concurrent fetches of the same key share one loader call.
// The loader runs detached from ctx cancellation so that one caller giving up
// does not fail the others; ctx only bounds how long this caller waits.
func (c *Cache) Fetch(ctx context.Context, key string, loader Loader, opts ...FetchOption) (any, error) {
	if loader == nil {
		return nil, fmt.Errorf("fetch %s: loader is required", key)
	}
	o := applyFetchOptions(opts)

	ctx, span := otel.StartSpan(ctx, c.tracer, "cache.Fetch",
		trace.WithAttributes(otel.AttrCacheKey.String(key)))
	defer span.End()

	c.mu.Lock()
	e := c.entryLocked(key)
	e.loader = loader
	if o.immutable {
		e.immutable = true
	}
	if e.hasValue && c.freshLocked(e, o.force) {
		v := e.value
		c.mu.Unlock()
		c.metrics.RecordFetch(ctx, key, telemetry.FetchOutcomeHit)
		return v, nil
	}
	c.mu.Unlock()

	v, shared, err := c.load(ctx, key, loader)
	span.SetAttributes(otel.AttrDeduplicated.Bool(shared))
	if err != nil {
		otel.RecordError(span, err)
	}
	return v, err
}

// Revalidate re-runs the loader last used for key, bypassing the dedup window.
// Immutable entries are left untouched.
func (c *Cache) Revalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.loader == nil {
		c.mu.Unlock()
		return fmt.Errorf("revalidate %s: %w", key, ErrNoLoader)
	}
	if e.immutable && e.hasValue {
		c.mu.Unlock()
		return nil
	}
	loader := e.loader
	c.mu.Unlock()

	_, _, err := c.load(ctx, key, loader)
	return err
}

// Mutate applies updater to the cached value and stores the result. The new
// value is visible immediately and wins over any fetch already in flight.
func (c *Cache) Mutate(ctx context.Context, key string, updater Updater, opts ...MutateOption) (any, error) {
	if updater == nil {
		return nil, fmt.Errorf("mutate %s: updater is required", key)
	}
	o := applyMutateOptions(opts)

	c.mu.Lock()
	var (
		current  any
		hasValue bool
	)
	if e, ok := c.entries[key]; ok {
		current, hasValue = e.value, e.hasValue
	}
	next, err := updater(current, hasValue)
	if errors.Is(err, ErrUnchanged) {
		c.mu.Unlock()
		return current, nil
	}
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	ev := c.storeMutationLocked(key, c.entryLocked(key), next)
	c.mu.Unlock()

	c.metrics.RecordMutation(ctx, key)
	c.publish(ev)

	if o.revalidate {
		if err := c.Revalidate(ctx, key); err != nil && !errors.Is(err, ErrNoLoader) {
			return next, err
		}
	}
	return next, nil
}

// MutateAsync waits for replacement and stores its result. Fetches that
// started before MutateAsync was called never overwrite the replacement.
func (c *Cache) MutateAsync(ctx context.Context, key string, replacement Replacement, opts ...MutateOption) (any, error) {
	if replacement == nil {
		return nil, fmt.Errorf("mutate %s: replacement is required", key)
	}
	o := applyMutateOptions(opts)

	c.mu.Lock()
	c.entryLocked(key).seq++
	c.group.Forget(key)
	c.mu.Unlock()

	next, err := replacement(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	ev := c.storeMutationLocked(key, c.entryLocked(key), next)
	c.mu.Unlock()

	c.metrics.RecordMutation(ctx, key)
	c.publish(ev)

	if o.revalidate {
		if err := c.Revalidate(ctx, key); err != nil && !errors.Is(err, ErrNoLoader) {
			return next, err
		}
	}
	return next, nil
}

// Subscribe registers fn for events on key. The returned function removes it.
// Callbacks run on the goroutine that caused the event, outside any cache lock.
func (c *Cache) Subscribe(key string, fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	c.nextSubID++
	id := c.nextSubID
	if c.subs[key] == nil {
		c.subs[key] = make(map[uint64]func(Event))
	}
	c.subs[key][id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs[key], id)
			if len(c.subs[key]) == 0 {
				delete(c.subs, key)
			}
		})
	}
}

// Clear drops every entry. Writes from fetches that started before Clear are discarded.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.generation++
	keys := slices.Collect(maps.Keys(c.entries))
	for _, k := range keys {
		c.group.Forget(k)
	}
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	slog.Debug("Cache cleared", "keys", len(keys))
	for _, k := range keys {
		c.publish(Event{Key: k, Kind: EventCleared, Entry: Entry{Key: k}})
	}
}

func (c *Cache) entryLocked(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) freshLocked(e *entry, force bool) bool {
	if e.immutable {
		return true
	}
	if force || c.dedupInterval == 0 || e.err != nil || e.fetchedAt.IsZero() {
		return false
	}
	return c.now().Sub(e.fetchedAt) < c.dedupInterval
}

func (c *Cache) storeMutationLocked(key string, e *entry, value any) Event {
	e.value = value
	e.hasValue = true
	e.err = nil
	e.mutatedAt = c.now()
	e.seq++
	// Fetches scheduled after this point must start a new loader call.
	c.group.Forget(key)
	return Event{Key: key, Kind: EventMutated, Entry: e.snapshot(key)}
}

type loadResult struct {
	value   any
	err     error
	dropped bool
}

func (c *Cache) load(ctx context.Context, key string, loader Loader) (any, bool, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		return c.runLoader(context.WithoutCancel(ctx), key, loader), nil
	})

	select {
	case res := <-ch:
		lr, _ := res.Val.(loadResult)
		switch {
		case lr.dropped:
			c.metrics.RecordFetch(ctx, key, telemetry.FetchOutcomeDropped)
		case lr.err != nil:
			c.metrics.RecordFetch(ctx, key, telemetry.FetchOutcomeError)
		case res.Shared:
			c.metrics.RecordFetch(ctx, key, telemetry.FetchOutcomeShared)
		default:
			c.metrics.RecordFetch(ctx, key, telemetry.FetchOutcomeLoaded)
		}
		return lr.value, res.Shared, lr.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// runLoader calls the loader and stores its result unless a mutation or a
// Clear happened while it was running.
func (c *Cache) runLoader(ctx context.Context, key string, loader Loader) loadResult {
	c.mu.Lock()
	seq := c.entryLocked(key).seq
	gen := c.generation
	c.mu.Unlock()

	start := c.now()
	value, err := loader(ctx)
	c.metrics.RecordLoaderDuration(ctx, key, c.now().Sub(start), err == nil)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		slog.Debug("Dropping fetch result after cache clear", "key", key)
		return loadResult{value: value, err: err, dropped: true}
	}

	e := c.entryLocked(key)
	if e.seq != seq {
		current, has := e.value, e.hasValue
		c.mu.Unlock()
		slog.Debug("Dropping stale fetch result superseded by a mutation", "key", key)
		if has {
			return loadResult{value: current, dropped: true}
		}
		return loadResult{value: value, err: err, dropped: true}
	}

	if err != nil {
		e.err = err
		ev := Event{Key: key, Kind: EventFetched, Entry: e.snapshot(key)}
		c.mu.Unlock()
		c.publish(ev)
		return loadResult{err: err}
	}

	e.value = value
	e.hasValue = true
	e.err = nil
	e.fetchedAt = c.now()
	ev := Event{Key: key, Kind: EventFetched, Entry: e.snapshot(key)}
	c.mu.Unlock()

	c.publish(ev)
	return loadResult{value: value}
}

func (c *Cache) publish(ev Event) {
	c.mu.Lock()
	subs := slices.Collect(maps.Values(c.subs[ev.Key]))
	c.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
