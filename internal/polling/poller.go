package polling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/examsight/examsync/internal/cache"
	"github.com/examsight/examsync/internal/telemetry"
)

// Poller arms revalidation timers for watched cache keys
type Poller struct {
	cache      *cache.Cache
	controller *Controller
	metrics    *telemetry.PollingMetrics
}

// Option configures a Poller
type Option func(*Poller)

// WithController sets the interval controller
func WithController(c *Controller) Option {
	return func(p *Poller) {
		if c != nil {
			p.controller = c
		}
	}
}

// WithMetrics sets the polling metrics
func WithMetrics(m *telemetry.PollingMetrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// NewPoller creates a poller for the given cache
func NewPoller(c *cache.Cache, opts ...Option) *Poller {
	p := &Poller{
		cache:      c,
		controller: NewController(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscription is one watcher of a cache key. Its zero value is not usable;
// create it with Poller.Watch.
type Subscription struct {
	poller *Poller
	key    string

	// ctx carries values for revalidation calls but never cancels them
	ctx context.Context

	mu          sync.Mutex
	timer       *time.Timer
	interval    time.Duration
	suspended   bool
	stopped     bool
	unsubscribe func()
	stopWatch   func() bool
	done        chan struct{}

	// active mirrors the reported gauge and stays set while a tick runs
	active bool
}

// Watch re-evaluates the polling interval for key after every fetch and
// mutation of it, and revalidates the key while the interval is non-zero.
// The subscription stops when ctx is done or Stop is called.
func (p *Poller) Watch(ctx context.Context, key string) *Subscription {
	s := &Subscription{
		poller: p,
		key:    key,
		ctx:    context.WithoutCancel(ctx),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.unsubscribe = p.cache.Subscribe(key, s.onEvent)
	s.mu.Unlock()

	s.stopWatch = context.AfterFunc(ctx, s.Stop)

	entry, _ := p.cache.Get(key)
	s.evaluate(entry)
	return s
}

// Key returns the watched cache key
func (s *Subscription) Key() string {
	return s.key
}

// Done is closed once the subscription has stopped
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Armed reports whether a revalidation timer is pending
func (s *Subscription) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Interval returns the interval computed at the last evaluation
func (s *Subscription) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Suspend disarms the timer until Resume is called
func (s *Subscription) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.suspended {
		return
	}
	s.suspended = true
	s.disarmLocked()
	slog.Debug("Polling suspended", "key", s.key)
}

// Resume re-evaluates the cached value and re-arms the timer if needed
func (s *Subscription) Resume() {
	s.mu.Lock()
	if s.stopped || !s.suspended {
		s.mu.Unlock()
		return
	}
	s.suspended = false
	s.mu.Unlock()

	slog.Debug("Polling resumed", "key", s.key)
	entry, _ := s.poller.cache.Get(s.key)
	s.evaluate(entry)
}

// Stop cancels the pending timer and unsubscribes from the cache.
// A revalidation already in flight still completes and updates the cache.
func (s *Subscription) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.disarmLocked()
	close(s.done)
	unsubscribe := s.unsubscribe
	stopWatch := s.stopWatch
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if stopWatch != nil {
		stopWatch()
	}
}

func (s *Subscription) onEvent(ev cache.Event) {
	s.evaluate(ev.Entry)
}

func (s *Subscription) evaluate(entry cache.Entry) {
	var value any
	if entry.HasValue {
		value = entry.Value
	}
	interval := s.poller.controller.NextInterval(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = interval
	if s.stopped || s.suspended {
		return
	}
	if interval == 0 {
		if s.timer != nil {
			slog.Debug("Polling disabled, nothing in flight", "key", s.key)
		}
		s.disarmLocked()
		return
	}
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(interval, s.tick)
	if !s.active {
		s.active = true
		s.poller.metrics.RecordActive(s.ctx, s.key, true)
	}
}

func (s *Subscription) disarmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.active {
		return
	}
	s.active = false
	s.poller.metrics.RecordActive(s.ctx, s.key, false)
}

func (s *Subscription) tick() {
	s.mu.Lock()
	s.timer = nil
	if s.stopped || s.suspended {
		s.disarmLocked()
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	err := s.poller.cache.Revalidate(s.ctx, s.key)
	s.poller.metrics.RecordTick(s.ctx, s.key, err == nil)
	if err != nil && !errors.Is(err, cache.ErrNoLoader) {
		slog.Warn("Polling revalidation failed", "key", s.key, "error", err)
	}

	// Revalidation publishes an event on success and failure alike, but a
	// missing loader or a dropped fetch does not, so evaluate once more.
	entry, _ := s.poller.cache.Get(s.key)
	s.evaluate(entry)
}
