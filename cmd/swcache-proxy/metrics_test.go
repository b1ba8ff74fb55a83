package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vearutop/swcache"
)

func TestTracker(t *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()

	tr, err := newTracker(registry)
	require.NoError(t, err)

	tr.Add(ctx, swcache.MetricHit, 1, "name", "tasks")
	tr.Add(ctx, swcache.MetricHit, 2, "name", "tasks")
	tr.Add(ctx, swcache.MetricHit, 1, "name", "images")
	tr.Add(ctx, swcache.MetricBypass, 1)
	tr.Set(ctx, "entries", 10, "name", "tasks")
	tr.Set(ctx, "entries", 7, "name", "tasks")

	assert.Equal(t, map[string]int64{
		swcache.MetricHit:    4,
		swcache.MetricBypass: 1,
	}, tr.Totals())

	rw := httptest.NewRecorder()
	promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))

	body := rw.Body.String()
	assert.Contains(t, body, `swcache_cache_hit{name="images"} 1`)
	assert.Contains(t, body, `swcache_cache_hit{name="tasks"} 3`)
	assert.Contains(t, body, "swcache_cache_bypass 1")
	assert.Contains(t, body, `swcache_entries{name="tasks"} 7`)
}
