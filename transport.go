package swcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
)

// DefaultNavigateFallback is a precached document served when navigation fails.
const DefaultNavigateFallback = "/offline.html"

// DefaultNavigateFallbackDenylist excludes internal paths and file-like paths from navigation fallback.
var DefaultNavigateFallbackDenylist = []*regexp.Regexp{
	regexp.MustCompile(`^/_`),
	regexp.MustCompile(`/[^/?]+\.[^/]+$`),
}

// TransportConfig is configuration for NewTransport.
type TransportConfig struct {
	// Router selects policy, required.
	Router *Router

	// Executor serves cacheable requests, required.
	Executor *Executor

	// Network serves requests without policy and mutating requests, required.
	Network Fetcher

	// Queues are background sync queues by name, a queue is created with
	// policy retention if missing.
	Queues map[string]*SyncQueue

	// QueueTemplate is a configuration template for automatically created queues.
	QueueTemplate SyncQueueConfig

	// Precache serves precached assets and navigation fallback, can be nil.
	Precache *Precacher

	// PrecacheOrigin is scheme and host of precached assets, e.g. https://app.example.com.
	// Empty value restricts precache to requests without host.
	PrecacheOrigin string

	// NavigateFallback is a precached URL served when navigation fails, default /offline.html.
	NavigateFallback string

	// NavigateFallbackDenylist matches paths that never get fallback document.
	NavigateFallbackDenylist []*regexp.Regexp

	// Logger collects messages with context.
	Logger ctxd.Logger

	// Stats tracks stats.
	Stats stats.Tracker
}

// Transport intercepts requests and serves them according to policies.
type Transport struct {
	config TransportConfig
	log    ctxd.Logger
	stat   stats.Tracker
}

var _ http.RoundTripper = &Transport{}

// NewTransport creates intercepting transport.
func NewTransport(config TransportConfig) (*Transport, error) {
	if config.Router == nil || config.Executor == nil || config.Network == nil {
		return nil, errors.New("router, executor and network are required")
	}

	if config.NavigateFallback == "" {
		config.NavigateFallback = DefaultNavigateFallback
	}

	if config.NavigateFallbackDenylist == nil {
		config.NavigateFallbackDenylist = DefaultNavigateFallbackDenylist
	}

	queues := make(map[string]*SyncQueue, len(config.Queues))
	for n, q := range config.Queues {
		queues[n] = q
	}

	for n, bs := range config.Router.SyncQueues() {
		if _, ok := queues[n]; ok {
			continue
		}

		qc := config.QueueTemplate
		qc.Name = n
		qc.MaxRetention = bs.MaxRetention

		if qc.Replayer == nil {
			qc.Replayer = config.Network
		}

		if qc.Logger == nil {
			qc.Logger = config.Logger
		}

		if qc.Stats == nil {
			qc.Stats = config.Stats
		}

		queues[n] = NewSyncQueue(qc)
	}

	config.Queues = queues

	t := &Transport{config: config}

	t.log = config.Logger
	if t.log == nil {
		t.log = ctxd.NoOpLogger{}
	}

	t.stat = config.Stats
	if t.stat == nil {
		t.stat = stats.NoOp{}
	}

	return t, nil
}

// Queues returns background sync queues by name.
func (t *Transport) Queues() map[string]*SyncQueue {
	return t.config.Queues
}

// ReplayAll replays all background sync queues, expired tasks of all queues are returned.
func (t *Transport) ReplayAll(ctx context.Context) ([]*SyncExpiredError, error) {
	var (
		expired []*SyncExpiredError
		errs    []error
	)

	for _, q := range t.config.Queues {
		res, err := q.Replay(ctx)
		expired = append(expired, res.Expired...)

		if err != nil {
			errs = append(errs, fmt.Errorf("replay %s: %w", q.Name(), err))
		}
	}

	return expired, errors.Join(errs...)
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.Serve(req.Context(), req)
	if err != nil {
		return nil, err
	}

	return resp.HTTPResponse(req), nil
}

// Serve handles request with precache, policy strategy, background sync and navigation fallback.
func (t *Transport) Serve(ctx context.Context, req *http.Request) (*Response, error) {
	if t.config.Precache != nil && req.Method == http.MethodGet && t.precacheOrigin(req) {
		if resp, err := t.config.Precache.Lookup(ctx, req.URL.Path); err == nil {
			return resp, nil
		}
	}

	resp, err := t.serve(ctx, req)
	if err == nil {
		return resp, nil
	}

	if fallback, ok := t.navigateFallback(ctx, req); ok {
		t.log.Info(ctx, "serving navigation fallback", "error", err, "url", req.URL.String())

		return fallback, nil
	}

	return nil, err
}

func (t *Transport) serve(ctx context.Context, req *http.Request) (*Response, error) {
	p, err := t.config.Router.Lookup(req)
	if errors.Is(err, ErrNoPolicy) {
		t.stat.Add(ctx, MetricBypass, 1)

		return t.config.Network.Fetch(ctx, req)
	}

	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		return t.config.Executor.Do(ctx, p, req)
	}

	return t.mutate(ctx, p, req)
}

// mutate sends mutating request, network failure is captured for background sync if policy has it.
func (t *Transport) mutate(ctx context.Context, p Policy, req *http.Request) (*Response, error) {
	if p.BackgroundSync == nil {
		return t.config.Executor.Do(ctx, p, req)
	}

	snap, err := SnapshotRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.config.Executor.Do(ctx, p, req)
	if err == nil || !IsNetworkError(err) || ctx.Err() != nil {
		return resp, err
	}

	q := t.config.Queues[p.BackgroundSync.QueueName]

	task, qerr := q.Enqueue(ctx, snap)
	if qerr != nil {
		t.log.Error(ctx, "failed to queue request for background sync", "error", qerr)

		return nil, err
	}

	return nil, &SyncQueuedError{TaskID: task.ID, Queue: task.Queue, Err: err}
}

func (t *Transport) precacheOrigin(req *http.Request) bool {
	if req.URL.Host == "" {
		return true
	}

	if t.config.PrecacheOrigin == "" {
		return false
	}

	return strings.EqualFold(req.URL.Scheme+"://"+req.URL.Host, strings.TrimSuffix(t.config.PrecacheOrigin, "/"))
}

func (t *Transport) navigateFallback(ctx context.Context, req *http.Request) (*Response, bool) {
	if t.config.Precache == nil || !IsNavigation(req) || !t.precacheOrigin(req) {
		return nil, false
	}

	for _, re := range t.config.NavigateFallbackDenylist {
		if re.MatchString(req.URL.Path) {
			return nil, false
		}
	}

	resp, err := t.config.Precache.Lookup(ctx, t.config.NavigateFallback)
	if err != nil {
		return nil, false
	}

	return resp, true
}

// IsNavigation checks if request loads a document.
func IsNavigation(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}

	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}

	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
