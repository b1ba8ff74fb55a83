package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vearutop/swcache"
)

// Response headers set by proxy.
const (
	headerSource   = "X-Swcache-Source"
	headerSyncTask = "X-Swcache-Sync-Task"
)

var hopByHopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive",
	"Proxy-Authenticate", "Proxy-Authorization", "TE",
	"Trailer", "Transfer-Encoding", "Upgrade",
}

// ServeHTTP serves admin endpoints and proxies other requests through cache transport.
func (a *app) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if !r.URL.IsAbs() && strings.HasPrefix(r.URL.Path, "/-/") {
		a.serveAdmin(rw, r)

		return
	}

	if r.Method == http.MethodConnect {
		http.Error(rw, "CONNECT is not supported", http.StatusMethodNotAllowed)

		return
	}

	target, err := a.target(r)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)

		return
	}

	ctx := r.Context()

	out := r.Clone(ctx)
	out.RequestURI = ""
	out.URL = target
	out.Host = target.Host

	for _, h := range hopByHopHeaders {
		out.Header.Del(h)
	}

	resp, err := a.transport.Serve(ctx, out)
	if err != nil {
		a.writeError(rw, r, err)

		return
	}

	h := rw.Header()
	for k, v := range resp.Header {
		h[k] = v
	}

	h.Set(headerSource, resp.Source)
	rw.WriteHeader(resp.StatusCode)

	if r.Method != http.MethodHead {
		_, _ = rw.Write(resp.Body)
	}
}

// target resolves upstream URL, absolute request URL is used in forward mode.
func (a *app) target(r *http.Request) (*url.URL, error) {
	if a.cfg.Upstream == "" {
		if !r.URL.IsAbs() {
			return nil, errors.New("absolute URL expected in forward proxy mode")
		}

		u := *r.URL

		return &u, nil
	}

	base, err := url.Parse(a.cfg.Upstream)
	if err != nil {
		return nil, err
	}

	u := *r.URL
	u.Scheme = base.Scheme
	u.Host = base.Host
	u.Path = strings.TrimSuffix(base.Path, "/") + r.URL.Path
	u.RawPath = ""

	return &u, nil
}

func (a *app) writeError(rw http.ResponseWriter, r *http.Request, err error) {
	var (
		queued  *swcache.SyncQueuedError
		netErr  *swcache.NetworkError
		respErr *swcache.ResponseError
	)

	switch {
	case errors.As(err, &queued):
		rw.Header().Set(headerSyncTask, queued.TaskID)
		writeJSON(rw, http.StatusAccepted, map[string]interface{}{
			"queued": true,
			"queue":  queued.Queue,
			"id":     queued.TaskID,
		})
	case errors.As(err, &netErr) && netErr.Timeout:
		a.log.Warn(r.Context(), "upstream timeout", "error", err, "url", r.URL.String())
		http.Error(rw, err.Error(), http.StatusGatewayTimeout)
	case errors.As(err, &netErr):
		a.log.Warn(r.Context(), "upstream unreachable", "error", err, "url", r.URL.String())
		http.Error(rw, err.Error(), http.StatusBadGateway)
	case errors.As(err, &respErr):
		a.log.Warn(r.Context(), "bad upstream response", "error", err, "url", r.URL.String())
		http.Error(rw, err.Error(), http.StatusBadGateway)
	default:
		a.log.Error(r.Context(), "failed to serve request", "error", err, "url", r.URL.String())
		http.Error(rw, err.Error(), http.StatusInternalServerError)
	}
}

func (a *app) serveAdmin(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.URL.Path {
	case "/-/health":
		queues := make(map[string]int)

		for n, q := range a.transport.Queues() {
			tasks, err := q.Tasks(ctx)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)

				return
			}

			queues[n] = len(tasks)
		}

		writeJSON(rw, http.StatusOK, map[string]interface{}{
			"online": a.connectivity.Online(),
			"queues": queues,
			"totals": a.stats.Totals(),
		})
	case "/-/metrics":
		promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}).ServeHTTP(rw, r)
	case "/-/sync":
		if r.Method != http.MethodPost {
			http.Error(rw, "POST expected", http.StatusMethodNotAllowed)

			return
		}

		expired, err := a.transport.ReplayAll(ctx)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)

			return
		}

		lost := make([]string, 0, len(expired))
		for _, e := range expired {
			lost = append(lost, e.Error())
		}

		writeJSON(rw, http.StatusOK, map[string]interface{}{"expired": lost})
	case "/-/invalidate":
		if r.Method != http.MethodPost {
			http.Error(rw, "POST expected", http.StatusMethodNotAllowed)

			return
		}

		err := a.invalidator.Invalidate(ctx)

		switch {
		case errors.Is(err, swcache.ErrAlreadyInvalidated):
			http.Error(rw, err.Error(), http.StatusTooManyRequests)
		case err != nil:
			http.Error(rw, err.Error(), http.StatusInternalServerError)
		default:
			writeJSON(rw, http.StatusOK, map[string]interface{}{"invalidated": a.router.CacheNames()})
		}
	default:
		http.NotFound(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	_ = json.NewEncoder(rw).Encode(v)
}
