package swcache_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vearutop/swcache"
)

// clock is a manually advanced time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errUnreachable = errors.New("dial tcp: connect: network is unreachable")

// network is a scripted Fetcher.
type network struct {
	calls   int64
	mu      sync.Mutex
	body    string
	status  int
	header  http.Header
	delay   time.Duration
	offline bool
	gate    chan struct{}
}

func (n *network) set(body string) {
	n.mu.Lock()
	n.body = body
	n.mu.Unlock()
}

func (n *network) setOffline(offline bool) {
	n.mu.Lock()
	n.offline = offline
	n.mu.Unlock()
}

func (n *network) Calls() int {
	return int(atomic.LoadInt64(&n.calls))
}

func (n *network) Fetch(ctx context.Context, req *http.Request) (*swcache.Response, error) {
	atomic.AddInt64(&n.calls, 1)

	n.mu.Lock()
	body, status, offline, delay, gate := n.body, n.status, n.offline, n.delay, n.gate
	header := n.header.Clone()
	n.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if offline {
		return nil, &swcache.NetworkError{URL: req.URL.String(), Err: errUnreachable}
	}

	if status == 0 {
		status = http.StatusOK
	}

	if header == nil {
		header = http.Header{}
	}

	return &swcache.Response{
		URL:        req.URL.String(),
		StatusCode: status,
		Header:     header,
		Body:       []byte(body),
	}, nil
}

func get(url string) *http.Request {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		panic(err)
	}

	return req
}
