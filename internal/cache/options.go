package cache

import (
	"context"
	"fmt"
)

type fetchOptions struct {
	immutable bool
	force     bool
}

// FetchOption configures a single Fetch call
type FetchOption func(*fetchOptions)

// WithImmutable marks the entry as immutable: once it holds a value it is
// served from the cache and never revalidated.
func WithImmutable() FetchOption {
	return func(o *fetchOptions) {
		o.immutable = true
	}
}

// WithForce skips the dedup window and always calls the loader (or joins an in-flight call)
func WithForce() FetchOption {
	return func(o *fetchOptions) {
		o.force = true
	}
}

func applyFetchOptions(opts []FetchOption) fetchOptions {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type mutateOptions struct {
	revalidate bool
}

// MutateOption configures a single Mutate or MutateAsync call
type MutateOption func(*mutateOptions)

// WithRevalidate re-runs the key's loader after the mutation is stored
func WithRevalidate() MutateOption {
	return func(o *mutateOptions) {
		o.revalidate = true
	}
}

func applyMutateOptions(opts []MutateOption) mutateOptions {
	var o mutateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Load is a typed wrapper around Cache.Fetch
func Load[T any](ctx context.Context, c *Cache, key string, loader func(context.Context) (T, error), opts ...FetchOption) (T, error) {
	var zero T
	v, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return loader(ctx)
	}, opts...)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cached value for %s has type %T, want %T", key, v, zero)
	}
	return typed, nil
}

// Peek returns the cached value for key if it holds a T
func Peek[T any](c *Cache, key string) (T, bool) {
	var zero T
	e, ok := c.Get(key)
	if !ok || !e.HasValue {
		return zero, false
	}
	typed, ok := e.Value.(T)
	return typed, ok
}

// Update is a typed wrapper around Cache.Mutate. fn receives the current
// value (zero and false when absent) and returns the replacement.
func Update[T any](ctx context.Context, c *Cache, key string, fn func(current T, ok bool) (T, error), opts ...MutateOption) (T, error) {
	var zero T
	v, err := c.Mutate(ctx, key, func(current any, ok bool) (any, error) {
		typed, isT := current.(T)
		return fn(typed, ok && isT)
	}, opts...)
	if err != nil {
		return zero, err
	}
	typed, _ := v.(T)
	return typed, nil
}
