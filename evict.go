package swcache

import (
	"context"
)

// evictOverflow drops oldest inserted entries above MaxEntries, must be called with lock held.
func (c *Memory) evictOverflow(ctx context.Context) {
	maxEntries := c.config.Expiration.MaxEntries
	if maxEntries <= 0 {
		return
	}

	evictItems := len(c.data) - maxEntries
	if evictItems <= 0 {
		return
	}

	evicted := make([]string, 0, evictItems)

	for i := 0; i < evictItems; i++ {
		el := c.order.Front()
		if el == nil {
			break
		}

		e := el.Value.(*entry)
		evicted = append(evicted, e.Key)
		c.remove(e)
	}

	if c.log != nil {
		c.log.Debug(ctx, "evicted oldest cache items",
			"name", c.config.Name,
			"items", evicted,
		)
	}

	if c.stat != nil {
		c.stat.Add(ctx, MetricEvict, float64(len(evicted)), "name", c.config.Name)
	}
}

// overflowBytes returns size of oldest entries that writing key k would evict by MaxEntries,
// must be called with lock held.
func (c *Memory) overflowBytes(k string) int64 {
	maxEntries := c.config.Expiration.MaxEntries
	if maxEntries <= 0 {
		return 0
	}

	n := len(c.data) + 1
	if _, ok := c.data[k]; ok {
		n--
	}

	var freed int64

	for el := c.order.Front(); el != nil && n > maxEntries; el = el.Next() {
		e := el.Value.(*entry)
		if e.Key == k {
			continue
		}

		freed += e.Resp.Size()
		n--
	}

	return freed
}
