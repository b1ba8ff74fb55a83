package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/bool64/ctxd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vearutop/swcache"
	"github.com/vearutop/swcache/sqlite"
)

// app wires cache policies, storage, background sync and connectivity monitor.
type app struct {
	cfg      config
	log      ctxd.Logger
	registry *prometheus.Registry
	stats    *tracker
	router   *swcache.Router

	storage      swcache.Storage
	memory       *swcache.MemoryStorage
	executor     *swcache.Executor
	transport    *swcache.Transport
	connectivity *swcache.Connectivity
	invalidator  *swcache.Invalidator

	closers []func() error
}

func newApp(ctx context.Context, cfg config, logger ctxd.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      logger,
		registry: prometheus.NewRegistry(),
	}

	st, err := newTracker(a.registry)
	if err != nil {
		return nil, ctxd.WrapError(ctx, err, "failed to init stats tracker")
	}

	a.stats = st

	router, err := a.loadRouter()
	if err != nil {
		return nil, err
	}

	a.router = router

	syncStore, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	keep := append(router.CacheNames(), swcache.PrecacheCacheName)

	dropped, err := swcache.Cleanup(ctx, a.storage, keep...)
	if err != nil {
		return nil, err
	}

	if len(dropped) > 0 {
		a.log.Info(ctx, "dropped outdated caches", "names", dropped)
	}

	upstream := &http.Transport{
		Proxy:                 nil,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	// Callbacks use transport, it is ready before the monitor runs.
	a.connectivity = swcache.NewConnectivity(swcache.ConnectivityConfig{
		Check:      a.reachability(upstream),
		Interval:   cfg.CheckInterval,
		Logger:     logger,
		OnRestored: []func(ctx context.Context){a.replay},
		OnOffline:  []func(ctx context.Context){a.expireStale},
	})

	network := swcache.ReportingFetcher{
		Fetcher:      swcache.HTTPFetcher{Transport: upstream, MaxBodyBytes: cfg.MaxBodyBytes},
		Connectivity: a.connectivity,
	}

	broadcaster := &swcache.Broadcaster{}
	broadcaster.Subscribe(func(ctx context.Context, u swcache.Update) {
		a.log.Info(ctx, "cached response updated", "name", u.CacheName, "url", u.URL, "changed", u.Changed)
	})

	a.executor = swcache.NewExecutor(swcache.ExecutorConfig{
		Storage:          a.storage,
		Fetcher:          network,
		Broadcaster:      broadcaster,
		DedupeConcurrent: cfg.DedupeConcurrent,
		Logger:           logger,
		Stats:            a.stats,
	})

	precache, err := a.installPrecache(ctx)
	if err != nil {
		return nil, err
	}

	a.transport, err = swcache.NewTransport(swcache.TransportConfig{
		Router:   router,
		Executor: a.executor,
		Network:  network,
		QueueTemplate: swcache.SyncQueueConfig{
			Store: syncStore,
			OnExpired: func(ctx context.Context, err *swcache.SyncExpiredError) {
				a.log.Error(ctx, "queued change was lost", "error", err, "id", err.Task.ID)
			},
		},
		Precache:       precache,
		PrecacheOrigin: cfg.PrecacheOrigin,
		Logger:         logger,
		Stats:          a.stats,
	})
	if err != nil {
		return nil, err
	}

	a.invalidator = &swcache.Invalidator{
		Callbacks: []func(ctx context.Context) error{
			swcache.DropCaches(a.storage, router.CacheNames()...),
		},
	}

	return a, nil
}

func (a *app) loadRouter() (*swcache.Router, error) {
	if a.cfg.PoliciesFile == "" {
		return swcache.NewRouter(swcache.DefaultPolicies()...)
	}

	f, err := os.Open(a.cfg.PoliciesFile)
	if err != nil {
		return nil, fmt.Errorf("open policies: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	policies, err := swcache.LoadPolicies(f)
	if err != nil {
		return nil, err
	}

	return swcache.NewRouter(policies...)
}

// openStorage opens cache storage and returns sync task store for it.
func (a *app) openStorage(ctx context.Context) (swcache.SyncStore, error) {
	if a.cfg.Storage == "sqlite" {
		s, err := sqlite.Open(a.cfg.SQLitePath, func(c *sqlite.Config) {
			c.MaxPageCount = a.cfg.SQLiteMaxPages
			c.Logger = a.log
		})
		if err != nil {
			return nil, err
		}

		a.storage = s
		a.closers = append(a.closers, s.Close)

		return s, nil
	}

	a.memory = swcache.NewMemoryStorage(swcache.MemoryConfig{
		Logger:   a.log,
		Stats:    a.stats,
		MaxBytes: a.cfg.MemoryMaxBytes,
	})
	a.storage = a.memory

	if a.cfg.SnapshotFile != "" {
		if err := a.restoreSnapshot(ctx); err != nil {
			return nil, err
		}
	}

	return &swcache.MemorySyncStore{}, nil
}

func (a *app) restoreSnapshot(ctx context.Context) error {
	f, err := os.Open(a.cfg.SnapshotFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	n, err := a.memory.Restore(f)
	if err != nil {
		return ctxd.WrapError(ctx, err, "failed to restore snapshot", "file", a.cfg.SnapshotFile)
	}

	a.log.Info(ctx, "cache snapshot restored", "entries", n, "file", a.cfg.SnapshotFile)

	return nil
}

func (a *app) dumpSnapshot(ctx context.Context) error {
	if a.memory == nil || a.cfg.SnapshotFile == "" {
		return nil
	}

	f, err := os.Create(a.cfg.SnapshotFile)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	n, err := a.memory.Dump(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return ctxd.WrapError(ctx, err, "failed to dump snapshot", "file", a.cfg.SnapshotFile)
	}

	a.log.Info(ctx, "cache snapshot saved", "entries", n, "file", a.cfg.SnapshotFile)

	return nil
}

func (a *app) installPrecache(ctx context.Context) (*swcache.Precacher, error) {
	if a.cfg.StaticDir == "" {
		return nil, nil
	}

	fsys := os.DirFS(a.cfg.StaticDir)

	manifest, err := swcache.BuildManifest(fsys, swcache.ManifestConfig{
		Transforms: []func([]swcache.ManifestEntry) []swcache.ManifestEntry{swcache.StripHTMLExtension},
	})
	if err != nil {
		return nil, err
	}

	p := &swcache.Precacher{
		Storage:  a.storage,
		FS:       fsys,
		Manifest: manifest,
		Logger:   a.log,
	}

	if _, err := p.Install(ctx); err != nil {
		return nil, err
	}

	return p, nil
}

func (a *app) reachability(rt http.RoundTripper) func(ctx context.Context) error {
	if a.cfg.CheckURL == "" {
		return nil
	}

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.cfg.CheckURL, nil)
		if err != nil {
			return err
		}

		resp, err := rt.RoundTrip(req)
		if err != nil {
			return err
		}

		return resp.Body.Close()
	}
}

// replay sends queued requests of all queues.
func (a *app) replay(ctx context.Context) {
	expired, err := a.transport.ReplayAll(ctx)
	if err != nil {
		a.log.Error(ctx, "background sync failed", "error", err)
	}

	if len(expired) > 0 {
		a.log.Warn(ctx, "expired queued requests", "count", len(expired))
	}
}

func (a *app) expireStale(ctx context.Context) {
	for _, q := range a.transport.Queues() {
		if _, err := q.ExpireStale(ctx); err != nil {
			a.log.Error(ctx, "failed to expire sync tasks", "error", err, "queue", q.Name())
		}
	}
}

// Close waits for background work and releases storage.
func (a *app) Close(ctx context.Context) error {
	a.executor.Wait()
	a.connectivity.Wait()

	var errs []error

	if err := a.dumpSnapshot(ctx); err != nil {
		errs = append(errs, err)
	}

	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
