package swcache

import (
	"context"
	"time"
)

type skipReadCtxKey struct{}

// WithSkipRead returns context with cache read ignored.
//
// With such context strategies do not serve cached responses, but still write fresh ones.
func WithSkipRead(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipReadCtxKey{}, true)
}

// SkipRead returns true if cache read is ignored in context.
func SkipRead(ctx context.Context) bool {
	_, ok := ctx.Value(skipReadCtxKey{}).(bool)

	return ok
}

// detachedContext keeps values of parent context, but not its cancellation or deadline.
//
// Cache writes and revalidation use it to complete after caller has gone.
type detachedContext struct {
	parent context.Context
}

func detach(ctx context.Context) context.Context {
	if d, ok := ctx.(detachedContext); ok {
		return d
	}

	return detachedContext{parent: ctx}
}

func (detachedContext) Deadline() (time.Time, bool) {
	return time.Time{}, false
}

func (detachedContext) Done() <-chan struct{} {
	return nil
}

func (detachedContext) Err() error {
	return nil
}

func (d detachedContext) Value(key interface{}) interface{} {
	return d.parent.Value(key)
}
