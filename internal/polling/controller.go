// Package polling decides when cached resources are re-fetched while the
// backend is still working on them, and drives those re-fetches.
package polling

import (
	"time"

	"github.com/examsight/examsync/internal/examapi"
	"github.com/examsight/examsync/internal/status"
)

// DefaultInterval is the re-fetch interval while at least one exam is analyzing
const DefaultInterval = 2 * time.Second

// Predicate reports whether a cached value still has work in flight
type Predicate func(value any) bool

// AnyAnalyzing holds when the value is an exam list with at least one exam in status analyzing
func AnyAnalyzing(value any) bool {
	var list *examapi.ExamList
	switch v := value.(type) {
	case *examapi.ExamList:
		list = v
	case examapi.ExamList:
		list = &v
	default:
		return false
	}
	return list.CountStatus(status.Analyzing) > 0
}

// Controller computes the next polling interval for a cached value
type Controller struct {
	interval  time.Duration
	predicate Predicate
}

// ControllerOption configures a Controller
type ControllerOption func(*Controller)

// WithInterval sets the interval used while the predicate holds
func WithInterval(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithPredicate replaces the AnyAnalyzing predicate
func WithPredicate(p Predicate) ControllerOption {
	return func(c *Controller) {
		if p != nil {
			c.predicate = p
		}
	}
}

// NewController creates a controller polling every DefaultInterval while any exam is analyzing
func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		interval:  DefaultInterval,
		predicate: AnyAnalyzing,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NextInterval returns the polling interval for value, or 0 when polling is disabled.
// Absent and empty collections disable polling.
func (c *Controller) NextInterval(value any) time.Duration {
	if value == nil || !c.predicate(value) {
		return 0
	}
	return c.interval
}
