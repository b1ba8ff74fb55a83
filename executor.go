package swcache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// ExecutorConfig is configuration for NewExecutor.
type ExecutorConfig struct {
	// Storage provides named caches, in-memory created by default.
	Storage Storage

	// Fetcher performs network requests, HTTPFetcher by default.
	Fetcher Fetcher

	// Broadcaster is notified when refreshed response differs from cached one, can be nil.
	Broadcaster *Broadcaster

	// DedupeConcurrent collapses concurrent network fetches of the same key into one.
	//
	// Disabled by default: each request triggers its own fetch.
	DedupeConcurrent bool

	// RevalidateTimeout bounds fetches detached from caller: background revalidation of
	// StaleWhileRevalidate and shared fetches of DedupeConcurrent, default 1m.
	RevalidateTimeout time.Duration

	// TimeNow is a clock used to stamp stored responses, time.Now by default.
	TimeNow func() time.Time

	// Logger collects messages with context.
	Logger ctxd.Logger

	// Stats tracks stats.
	Stats stats.Tracker

	// Tracer creates spans for strategy execution, global otel tracer by default.
	Tracer trace.Tracer
}

// Executor serves requests according to policy strategy.
//
// Please use NewExecutor to create instance.
type Executor struct {
	config ExecutorConfig
	log    ctxd.Logger
	stat   stats.Tracker
	tracer trace.Tracer

	sf         singleflight.Group
	background sync.WaitGroup
}

// NewExecutor creates strategy executor.
func NewExecutor(config ExecutorConfig) *Executor {
	if config.RevalidateTimeout == 0 {
		config.RevalidateTimeout = time.Minute
	}

	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}

	e := &Executor{}

	e.log = config.Logger
	if e.log == nil {
		e.log = ctxd.NoOpLogger{}
	}

	e.stat = config.Stats
	if e.stat == nil {
		e.stat = stats.NoOp{}
	}

	if config.Storage == nil {
		config.Storage = NewMemoryStorage(MemoryConfig{
			Logger:  config.Logger,
			Stats:   config.Stats,
			TimeNow: config.TimeNow,
		})
	}

	if config.Fetcher == nil {
		config.Fetcher = HTTPFetcher{}
	}

	e.tracer = config.Tracer
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/vearutop/swcache")
	}

	e.config = config

	return e
}

// CacheKey returns cache key of request.
func CacheKey(req *http.Request) string {
	return req.URL.String()
}

// Do serves request with policy strategy.
//
// Only GET requests use cache, other methods go to network.
func (e *Executor) Do(ctx context.Context, p Policy, req *http.Request) (resp *Response, err error) {
	key := CacheKey(req)

	ctx, span := e.tracer.Start(ctx, "swcache."+p.Strategy.String(), trace.WithAttributes(
		attribute.String("swcache.cache", p.CacheName),
		attribute.String("swcache.key", key),
	))

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("swcache.source", resp.Source))
		}

		span.End()
	}()

	if req.Method != http.MethodGet {
		return e.fetch(ctx, p, key, req, p.NetworkTimeout)
	}

	store, err := e.config.Storage.Open(ctx, p.CacheName, p.Expiration)
	if err != nil {
		e.log.Warn(ctx, "failed to open cache, serving without it",
			"error", err,
			"name", p.CacheName)

		store = NoOp{}
	}

	switch p.Strategy {
	case NetworkFirst:
		return e.networkFirst(ctx, p, store, key, req)
	case CacheFirst:
		return e.cacheFirst(ctx, p, store, key, req)
	case StaleWhileRevalidate:
		return e.staleWhileRevalidate(ctx, p, store, key, req)
	default:
		return nil, ctxd.NewError(ctx, "unknown strategy", "strategy", p.Strategy.String(), "name", p.CacheName)
	}
}

// Wait blocks until background revalidations are finished.
func (e *Executor) Wait() {
	e.background.Wait()
}

func (e *Executor) networkFirst(ctx context.Context, p Policy, store Store, key string, req *http.Request) (*Response, error) {
	resp, err := e.fetch(ctx, p, key, req, p.NetworkTimeout)
	if err == nil {
		e.put(ctx, p, store, key, resp)

		return resp, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cached, cerr := e.read(ctx, store, key)
	if cerr != nil {
		return nil, err
	}

	e.log.Info(ctx, "network failed, serving cached response",
		"error", err,
		"name", p.CacheName,
		"key", key)
	e.stat.Add(ctx, MetricFallback, 1, "name", p.CacheName)

	return cached, nil
}

func (e *Executor) cacheFirst(ctx context.Context, p Policy, store Store, key string, req *http.Request) (*Response, error) {
	if cached, err := e.read(ctx, store, key); err == nil {
		return cached, nil
	}

	resp, err := e.fetch(ctx, p, key, req, p.NetworkTimeout)
	if err != nil {
		return nil, err
	}

	e.put(ctx, p, store, key, resp)

	return resp, nil
}

func (e *Executor) staleWhileRevalidate(ctx context.Context, p Policy, store Store, key string, req *http.Request) (*Response, error) {
	cached, err := e.read(ctx, store, key)
	if err != nil {
		return e.networkFirst(ctx, p, store, key, req)
	}

	e.revalidate(ctx, p, store, key, req)

	return cached, nil
}

// revalidate refreshes cache entry in background, response of the caller is not affected.
func (e *Executor) revalidate(ctx context.Context, p Policy, store Store, key string, req *http.Request) {
	ctx = detach(ctx)
	req = req.Clone(ctx)

	e.stat.Add(ctx, MetricRevalidate, 1, "name", p.CacheName)
	e.background.Add(1)

	go func() {
		defer e.background.Done()

		ctx, cancel := context.WithTimeout(ctx, e.config.RevalidateTimeout)
		defer cancel()

		resp, err := e.fetch(ctx, p, key, req, 0)
		if err != nil {
			e.log.Warn(ctx, "failed to revalidate cached response in background",
				"error", err,
				"name", p.CacheName,
				"key", key)

			return
		}

		e.put(ctx, p, store, key, resp)
	}()
}

func (e *Executor) read(ctx context.Context, store Store, key string) (*Response, error) {
	cached, err := store.Read(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheItemNotFound) {
			e.log.Warn(ctx, "failed to read cache", "error", err, "key", key)
		}

		return nil, err
	}

	cached.Source = SourceCache

	return cached, nil
}

// fetch performs network request bounded by timeout.
//
// Fetcher that does not respect context is abandoned after timeout.
func (e *Executor) fetch(ctx context.Context, p Policy, key string, req *http.Request, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel func()

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		resp *Response
		err  error
	}

	done := make(chan result, 1)

	go func() {
		resp, err := e.networkFetch(ctx, key, req)
		done <- result{resp: resp, err: err}
	}()

	var (
		resp *Response
		err  error
	)

	select {
	case r := <-done:
		resp, err = r.resp, r.err
	case <-ctx.Done():
		err = ctx.Err()
	}

	e.stat.Add(ctx, MetricNetwork, 1, "name", p.CacheName)

	if err != nil {
		e.stat.Add(ctx, MetricNetworkFailed, 1, "name", p.CacheName)
		e.log.Debug(ctx, "network fetch failed", "error", err, "name", p.CacheName, "key", key)

		return nil, networkError(key, err)
	}

	resp.Source = SourceNetwork

	return resp, nil
}

func (e *Executor) networkFetch(ctx context.Context, key string, req *http.Request) (*Response, error) {
	if !e.config.DedupeConcurrent || req.Method != http.MethodGet {
		return e.config.Fetcher.Fetch(ctx, req)
	}

	// Shared fetch outlives any single caller, each caller waits with own context.
	shared := detach(ctx)

	ch := e.sf.DoChan(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(shared, e.config.RevalidateTimeout)
		defer cancel()

		return e.config.Fetcher.Fetch(ctx, req.Clone(ctx))
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}

		return r.Val.(*Response).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// put stores cacheable response, failure to store is not propagated to the caller.
//
// Write uses detached context to finish even if the caller is gone.
func (e *Executor) put(ctx context.Context, p Policy, store Store, key string, resp *Response) {
	if !p.Cacheable(resp.StatusCode) {
		e.log.Debug(ctx, "response is not cacheable",
			"name", p.CacheName,
			"key", key,
			"status", resp.StatusCode)

		return
	}

	ctx = detach(ctx)

	var prev *Response

	if p.BroadcastUpdate != nil && e.config.Broadcaster != nil {
		prev, _ = store.Read(ctx, key) //nolint:errcheck // Missing previous value is fine.
	}

	v := resp.Clone()
	v.StoredAt = e.config.TimeNow()

	if err := store.Write(ctx, key, v); err != nil {
		e.stat.Add(ctx, MetricWriteFailed, 1, "name", p.CacheName)

		if errors.Is(err, ErrStorageQuotaExceeded) {
			e.log.Warn(ctx, "cache quota exceeded, serving uncached response",
				"name", p.CacheName,
				"key", key)
		} else {
			e.log.Error(ctx, "failed to store response",
				"error", err,
				"name", p.CacheName,
				"key", key)
		}

		return
	}

	if e.config.Broadcaster.Notify(ctx, p, key, prev, v) {
		e.stat.Add(ctx, MetricBroadcast, 1, "name", p.CacheName)
	}
}
