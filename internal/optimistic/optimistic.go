// Package optimistic applies local cache changes ahead of server confirmation.
//
// A rejected server call is not undone with an inverse transform. The key is
// revalidated instead, so the cache converges on whatever the server holds,
// even when several optimistic updates of the same key overlap.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/examsight/examsync/internal/cache"
)

// Transform computes the optimistic value from the current cached value.
// It must return a new value and leave current untouched.
type Transform = cache.Updater

// ServerCall performs the confirming request
type ServerCall func(ctx context.Context) error

// Coordinator applies optimistic updates to a cache
type Coordinator struct {
	cache *cache.Cache
}

// New creates a coordinator for the given cache
func New(c *cache.Cache) *Coordinator {
	return &Coordinator{cache: c}
}

// Apply stores the transformed value without revalidating
func (c *Coordinator) Apply(ctx context.Context, key string, transform Transform) error {
	if _, err := c.cache.Mutate(ctx, key, transform); err != nil {
		return fmt.Errorf("optimistic update of %s: %w", key, err)
	}
	return nil
}

// Reconcile re-fetches key to discard optimistic state and restore server truth
func (c *Coordinator) Reconcile(ctx context.Context, key string) error {
	err := c.cache.Revalidate(ctx, key)
	if err != nil && !errors.Is(err, cache.ErrNoLoader) {
		return fmt.Errorf("reconcile %s: %w", key, err)
	}
	return nil
}

// Update applies transform synchronously, then runs serverCall in the
// background, detached from the caller's cancellation. If the server call
// fails the key is revalidated. The returned channel yields the server
// call's result once reconciliation has been attempted, then closes.
func (c *Coordinator) Update(ctx context.Context, key string, transform Transform, serverCall ServerCall) <-chan error {
	done := make(chan error, 1)

	if err := c.Apply(ctx, key, transform); err != nil {
		done <- err
		close(done)
		return done
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		defer close(done)

		err := serverCall(bg)
		if err == nil {
			done <- nil
			return
		}

		slog.WarnContext(bg, "Server rejected optimistic update, revalidating", "key", key, "error", err)
		if rerr := c.Reconcile(bg, key); rerr != nil {
			slog.WarnContext(bg, "Revalidation after rejected update failed", "key", key, "error", rerr)
		}
		done <- err
	}()
	return done
}
