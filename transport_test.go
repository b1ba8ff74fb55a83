package swcache_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vearutop/swcache"
)

func newTransport(t *testing.T, n swcache.Fetcher, precache *swcache.Precacher) *swcache.Transport {
	t.Helper()

	r := swcache.MustNewRouter(
		swcache.Policy{
			URLPattern:     `^https://api\.ordohub\.com/tasks.*`,
			Strategy:       swcache.NetworkFirst,
			CacheName:      "tasks",
			NetworkTimeout: 100 * time.Millisecond,
			BackgroundSync: &swcache.BackgroundSync{QueueName: "tasks-sync", MaxRetention: time.Hour},
		},
		swcache.Policy{
			URLPattern: `\.html$`,
			Strategy:   swcache.NetworkFirst,
			CacheName:  "pages",
		},
	)

	tr, err := swcache.NewTransport(swcache.TransportConfig{
		Router:         r,
		Executor:       swcache.NewExecutor(swcache.ExecutorConfig{Fetcher: n}),
		Network:        n,
		Precache:       precache,
		PrecacheOrigin: "https://app.ordohub.com",
	})
	require.NoError(t, err)

	return tr
}

func TestNewTransport_required(t *testing.T) {
	_, err := swcache.NewTransport(swcache.TransportConfig{})
	assert.Error(t, err)
}

func TestTransport_Serve_backgroundSync(t *testing.T) {
	ctx := context.Background()
	n := &network{offline: true, body: `{"id":1}`}
	tr := newTransport(t, n, nil)

	require.Contains(t, tr.Queues(), "tasks-sync")

	req, err := http.NewRequest(http.MethodPost, tasksURL, strings.NewReader(`{"title":"Buy milk"}`))
	require.NoError(t, err)

	_, err = tr.Serve(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, swcache.ErrSyncQueued))
	assert.True(t, swcache.IsNetworkError(err))

	var qe *swcache.SyncQueuedError

	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "tasks-sync", qe.Queue)

	tasks, err := tr.Queues()["tasks-sync"].Tasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, qe.TaskID, tasks[0].ID)
	assert.Equal(t, `{"title":"Buy milk"}`, string(tasks[0].Request.Body))

	// Back online, queued request is replayed through network.
	n.setOffline(false)

	expired, err := tr.ReplayAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)

	tasks, err = tr.Queues()["tasks-sync"].Tasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Equal(t, 2, n.Calls())
}

func TestTransport_Serve_mutateOnline(t *testing.T) {
	n := &network{status: http.StatusCreated}
	tr := newTransport(t, n, nil)

	req, err := http.NewRequest(http.MethodPut, tasksURL+"/1", strings.NewReader(`{}`))
	require.NoError(t, err)

	resp, err := tr.Serve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	tasks, err := tr.Queues()["tasks-sync"].Tasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestTransport_Serve_bypass(t *testing.T) {
	n := &network{offline: true}
	tr := newTransport(t, n, nil)

	_, err := tr.Serve(context.Background(), get("https://example.com/data"))
	assert.True(t, swcache.IsNetworkError(err))
	assert.Equal(t, 1, n.Calls())
}

func TestTransport_Serve_precacheAndFallback(t *testing.T) {
	ctx := context.Background()
	fsys := assets()

	manifest, err := swcache.BuildManifest(fsys, swcache.ManifestConfig{Patterns: []string{"*.html"}})
	require.NoError(t, err)

	p := &swcache.Precacher{Storage: swcache.NewMemoryStorage(), FS: fsys, Manifest: manifest}
	_, err = p.Install(ctx)
	require.NoError(t, err)

	n := &network{offline: true}
	tr := newTransport(t, n, p)

	// Precached document is served without network.
	resp, err := tr.Serve(ctx, get("https://app.ordohub.com/index.html"))
	require.NoError(t, err)
	assert.Equal(t, swcache.SourcePrecache, resp.Source)
	assert.Equal(t, 0, n.Calls())

	// Navigation to unknown page gets offline document.
	req := get("https://app.ordohub.com/lists/groceries")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err = tr.Serve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "<h1>Offline</h1>", string(resp.Body))

	// File-like and internal paths are denied.
	for _, u := range []string{"https://app.ordohub.com/report.pdf", "https://app.ordohub.com/_next/data"} {
		req = get(u)
		req.Header.Set("Sec-Fetch-Mode", "navigate")

		_, err = tr.Serve(ctx, req)
		assert.True(t, swcache.IsNetworkError(err), u)
	}

	// Not a navigation.
	_, err = tr.Serve(ctx, get("https://app.ordohub.com/lists/groceries"))
	assert.True(t, swcache.IsNetworkError(err))

	// Other origin.
	req = get("https://other.example.com/lists")
	req.Header.Set("Sec-Fetch-Mode", "navigate")

	_, err = tr.Serve(ctx, req)
	assert.True(t, swcache.IsNetworkError(err))
}

func TestTransport_RoundTrip(t *testing.T) {
	var hits int64

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		rw.Header().Set("Content-Type", "application/json")
		rw.Header().Set("Keep-Alive", "timeout=5")
		_, _ = rw.Write([]byte(`[{"title":"Buy milk"}]`))
	}))
	defer srv.Close()

	r := swcache.MustNewRouter(swcache.Policy{
		URLPattern: `/tasks$`,
		Strategy:   swcache.CacheFirst,
		CacheName:  "tasks",
	})

	f := swcache.HTTPFetcher{MaxBodyBytes: 1024}

	tr, err := swcache.NewTransport(swcache.TransportConfig{
		Router:   r,
		Executor: swcache.NewExecutor(swcache.ExecutorConfig{Fetcher: f}),
		Network:  f,
	})
	require.NoError(t, err)

	client := http.Client{Transport: tr}

	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL + "/tasks")
		require.NoError(t, err)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, `[{"title":"Buy milk"}]`, string(body))
		assert.Empty(t, resp.Header.Get("Keep-Alive"))
	}

	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte(strings.Repeat("x", 100)))
	}))

	f := swcache.HTTPFetcher{MaxBodyBytes: 10}

	_, err := f.Fetch(context.Background(), get(srv.URL))

	var re *swcache.ResponseError

	assert.True(t, errors.As(err, &re))
	assert.False(t, swcache.IsNetworkError(err))

	f.MaxBodyBytes = 0

	resp, err := f.Fetch(context.Background(), get(srv.URL))
	require.NoError(t, err)
	assert.Len(t, resp.Body, 100)
	assert.Equal(t, srv.URL, resp.URL)

	srv.Close()

	_, err = f.Fetch(context.Background(), get(srv.URL))
	assert.True(t, swcache.IsNetworkError(err))
}

func TestTransport_Serve_oversizedResponseNotQueued(t *testing.T) {
	var hits int64

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		rw.WriteHeader(http.StatusCreated)
		_, _ = rw.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	ctx := context.Background()
	c := swcache.NewConnectivity(swcache.ConnectivityConfig{})
	f := swcache.ReportingFetcher{
		Fetcher:      swcache.HTTPFetcher{MaxBodyBytes: 10},
		Connectivity: c,
	}

	r := swcache.MustNewRouter(swcache.Policy{
		URLPattern:     `/tasks$`,
		Strategy:       swcache.NetworkFirst,
		CacheName:      "tasks",
		BackgroundSync: &swcache.BackgroundSync{QueueName: "tasks-sync"},
	})

	tr, err := swcache.NewTransport(swcache.TransportConfig{
		Router:   r,
		Executor: swcache.NewExecutor(swcache.ExecutorConfig{Fetcher: f}),
		Network:  f,
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/tasks", strings.NewReader(`{"title":"Buy milk"}`))
	require.NoError(t, err)

	_, err = tr.Serve(ctx, req)
	require.Error(t, err)
	assert.False(t, errors.Is(err, swcache.ErrSyncQueued))
	assert.False(t, swcache.IsNetworkError(err))

	var re *swcache.ResponseError

	assert.True(t, errors.As(err, &re))
	assert.True(t, c.Online())

	tasks, err := tr.Queues()["tasks-sync"].Tasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = tr.ReplayAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}
