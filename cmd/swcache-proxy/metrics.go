package main

import (
	"context"

	prom "github.com/bool64/prom-stats"
	"github.com/bool64/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync"
)

const metricPrefix = "swcache_"

// tracker exports stats to Prometheus registry and keeps unlabeled totals for health report.
type tracker struct {
	prom   *prom.Tracker
	totals *xsync.Map
}

var _ stats.Tracker = &tracker{}

func newTracker(registry prometheus.Registerer) (*tracker, error) {
	pt, err := prom.NewStatsTracker(registry)
	if err != nil {
		return nil, err
	}

	return &tracker{prom: pt, totals: xsync.NewMap()}, nil
}

// Add increments counter.
func (t *tracker) Add(ctx context.Context, name string, increment float64, labelsAndValues ...string) {
	t.prom.Add(ctx, metricPrefix+name, increment, labelsAndValues...)
	t.total(name).Add(int64(increment))
}

// Set sets gauge value.
func (t *tracker) Set(ctx context.Context, name string, absolute float64, labelsAndValues ...string) {
	t.prom.Set(ctx, metricPrefix+name, absolute, labelsAndValues...)
}

// Totals returns counter sums over all labels, keyed by metric name.
func (t *tracker) Totals() map[string]int64 {
	res := make(map[string]int64)

	t.totals.Range(func(key string, value interface{}) bool {
		res[key] = value.(*xsync.Counter).Value()

		return true
	})

	return res
}

func (t *tracker) total(name string) *xsync.Counter {
	if v, ok := t.totals.Load(name); ok {
		return v.(*xsync.Counter)
	}

	v, _ := t.totals.LoadOrStore(name, xsync.NewCounter())

	return v.(*xsync.Counter)
}
