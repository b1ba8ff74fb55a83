package swcache

import (
	"context"
	"net/http"
	"sync"
)

// Update describes a refreshed response that differs from cached one.
type Update struct {
	CacheName string
	URL       string

	// Changed lists checked headers with different values.
	Changed []string
}

// Broadcaster delivers cache updates to subscribers.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(ctx context.Context, u Update)
}

// Subscribe adds update listener, returned function removes it.
//
// Listeners are called synchronously and must not block.
func (b *Broadcaster) Subscribe(fn func(ctx context.Context, u Update)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[int]func(ctx context.Context, u Update))
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Notify compares cached and fresh responses and calls subscribers if they differ.
//
// It returns true if update was broadcast.
func (b *Broadcaster) Notify(ctx context.Context, p Policy, key string, cached, fresh *Response) bool {
	if b == nil || p.BroadcastUpdate == nil || cached == nil || fresh == nil {
		return false
	}

	headers := p.BroadcastUpdate.HeadersToCheck
	if len(headers) == 0 {
		headers = DefaultHeadersToCheck
	}

	changed := ChangedHeaders(cached.Header, fresh.Header, headers)
	if len(changed) == 0 {
		return false
	}

	b.mu.Lock()
	subs := make([]func(ctx context.Context, u Update), 0, len(b.subs))

	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	u := Update{CacheName: p.CacheName, URL: key, Changed: changed}

	for _, fn := range subs {
		fn(ctx, u)
	}

	return true
}

// ChangedHeaders returns headers that differ between two header sets.
//
// If none of the headers is present in both sets, responses are considered same.
func ChangedHeaders(a, b http.Header, headers []string) []string {
	var (
		changed []string
		present bool
	)

	for _, h := range headers {
		_, inA := a[http.CanonicalHeaderKey(h)]
		_, inB := b[http.CanonicalHeaderKey(h)]

		if inA && inB {
			present = true
		}

		if a.Get(h) != b.Get(h) {
			changed = append(changed, h)
		}
	}

	if !present {
		return nil
	}

	return changed
}
