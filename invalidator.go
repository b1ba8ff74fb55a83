package swcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Invalidator is a registry of cache removal triggers.
type Invalidator struct {
	sync.Mutex

	// SkipInterval defines minimal duration between two cache invalidations (flood protection), default 15s.
	SkipInterval time.Duration

	// Callbacks contains a list of functions to call on invalidate.
	Callbacks []func(ctx context.Context) error

	// TimeNow is a clock, time.Now by default.
	TimeNow func() time.Time

	lastRun time.Time
}

// DropCaches returns invalidation callback that removes named caches from storage.
func DropCaches(s Storage, names ...string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var errs []error

		for _, n := range names {
			if err := s.Drop(ctx, n); err != nil {
				errs = append(errs, fmt.Errorf("drop %s: %w", n, err))
			}
		}

		return errors.Join(errs...)
	}
}

// Invalidate triggers all callbacks, errors of callbacks are joined.
func (i *Invalidator) Invalidate(ctx context.Context) error {
	if i.Callbacks == nil {
		return ErrNothingToInvalidate
	}

	i.Lock()
	defer i.Unlock()

	if i.SkipInterval == 0 {
		i.SkipInterval = 15 * time.Second
	}

	now := time.Now
	if i.TimeNow != nil {
		now = i.TimeNow
	}

	if !i.lastRun.IsZero() && now().Sub(i.lastRun) < i.SkipInterval {
		return fmt.Errorf("%w at %s, %s did not pass",
			ErrAlreadyInvalidated, i.lastRun.String(), i.SkipInterval.String())
	}

	i.lastRun = now()

	var errs []error

	for _, cb := range i.Callbacks {
		if err := cb(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
