package swcache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
)

// entry is a cache entry.
type entry struct {
	Key  string
	Resp *Response

	elem *list.Element
}

// MemoryConfig controls in-memory cache instance.
type MemoryConfig struct {
	// Logger is an instance of contextualized logger, can be nil.
	Logger ctxd.Logger

	// Stats is metrics collector, can be nil.
	Stats stats.Tracker

	// Name is cache instance name, used in stats and logging.
	Name string

	// Expiration bounds cache by count and age of entries.
	Expiration Expiration

	// MaxBytes is a storage quota, writes that do not fit fail with ErrStorageQuotaExceeded.
	// Zero means no quota.
	MaxBytes int64

	// TimeNow is a clock, time.Now by default.
	TimeNow func() time.Time
}

var (
	_ Store    = &Memory{}
	_ Walker   = &Memory{}
	_ Dumper   = &Memory{}
	_ Restorer = &Memory{}
)

// Memory is an in-memory cache.
//
// Entries are kept in insertion order, rewriting a key makes it the newest.
type Memory struct {
	sync.Mutex
	data   map[string]*entry
	order  *list.List
	bytes  int64
	closed bool

	config MemoryConfig
	log    ctxd.Logger
	stat   stats.Tracker
}

// NewMemory creates an instance of in-memory cache with optional configuration.
func NewMemory(cfg ...MemoryConfig) *Memory {
	config := MemoryConfig{}

	if len(cfg) >= 1 {
		config = cfg[0]
	}

	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}

	return &Memory{
		data:   map[string]*entry{},
		order:  list.New(),
		config: config,
		stat:   config.Stats,
		log:    config.Logger,
	}
}

// Read gets value.
func (c *Memory) Read(ctx context.Context, k string) (*Response, error) {
	if SkipRead(ctx) {
		return nil, ErrCacheItemNotFound
	}

	c.Lock()
	defer c.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	e, ok := c.data[k]
	if !ok {
		if c.log != nil {
			c.log.Debug(ctx, "cache miss",
				"name", c.config.Name,
				"key", k)
		}

		if c.stat != nil {
			c.stat.Add(ctx, MetricMiss, 1, "name", c.config.Name)
		}

		return nil, ErrCacheItemNotFound
	}

	if Expired(e.Resp.StoredAt, c.config.TimeNow(), c.config.Expiration.MaxAge) {
		if c.log != nil {
			c.log.Debug(ctx, "cache key expired",
				"name", c.config.Name,
				"key", k,
				"storedAt", e.Resp.StoredAt)
		}

		if c.stat != nil {
			c.stat.Add(ctx, MetricExpired, 1, "name", c.config.Name)
		}

		c.remove(e)

		return nil, ErrCacheItemNotFound
	}

	if c.stat != nil {
		c.stat.Add(ctx, MetricHit, 1, "name", c.config.Name)
	}

	if c.log != nil {
		c.log.Debug(ctx, "cache hit",
			"name", c.config.Name,
			"key", k)
	}

	return e.Resp.Clone(), nil
}

// Write sets value.
func (c *Memory) Write(ctx context.Context, k string, v *Response) error {
	c.Lock()
	defer c.Unlock()

	if c.closed {
		if c.log != nil {
			c.log.Debug(ctx, "writing to a closed cache", "name", c.config.Name, "key", k)
		}

		return ErrClosed
	}

	v = v.Clone()
	v.Source = ""

	if v.StoredAt.IsZero() {
		v.StoredAt = c.config.TimeNow()
	}

	size := v.Size()

	if c.config.MaxBytes > 0 {
		used := c.bytes

		if prev, ok := c.data[k]; ok {
			used -= prev.Resp.Size()
		}

		used -= c.overflowBytes(k)

		if used+size > c.config.MaxBytes {
			if c.log != nil {
				c.log.Warn(ctx, "cache quota exceeded",
					"name", c.config.Name,
					"key", k,
					"size", size,
					"used", used,
					"quota", c.config.MaxBytes)
			}

			return ErrStorageQuotaExceeded
		}
	}

	if prev, ok := c.data[k]; ok {
		c.remove(prev)
	}

	e := &entry{Key: k, Resp: v}
	e.elem = c.order.PushBack(e)
	c.data[k] = e
	c.bytes += size

	if c.log != nil {
		c.log.Debug(ctx, "wrote to cache", "name", c.config.Name, "key", k, "size", size)
	}

	if c.stat != nil {
		c.stat.Add(ctx, MetricWrite, 1, "name", c.config.Name)
	}

	c.evictOverflow(ctx)

	return nil
}

// Delete removes entry.
func (c *Memory) Delete(ctx context.Context, k string) error {
	c.Lock()
	defer c.Unlock()

	if e, ok := c.data[k]; ok {
		c.remove(e)
	}

	return nil
}

// Len returns number of elements in cache.
func (c *Memory) Len(ctx context.Context) (int, error) {
	c.Lock()
	defer c.Unlock()

	return len(c.data), nil
}

// Keys returns keys from oldest to newest inserted.
func (c *Memory) Keys() []string {
	c.Lock()
	defer c.Unlock()

	keys := make([]string, 0, len(c.data))

	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).Key)
	}

	return keys
}

// RemoveAll deletes all entries.
func (c *Memory) RemoveAll() {
	c.Lock()
	c.data = make(map[string]*entry)
	c.order.Init()
	c.bytes = 0
	c.Unlock()
}

// Close disables cache instance.
func (c *Memory) Close() {
	c.RemoveAll()

	c.Lock()
	c.closed = true
	c.Unlock()
}

// Walk walks cached entries from oldest to newest.
func (c *Memory) Walk(walkFn func(key string, value *Response) error) (int, error) {
	c.Lock()
	entries := make([]*entry, 0, len(c.data))

	for el := c.order.Front(); el != nil; el = el.Next() {
		entries = append(entries, el.Value.(*entry))
	}
	c.Unlock()

	n := 0

	for _, e := range entries {
		if err := walkFn(e.Key, e.Resp.Clone()); err != nil {
			return n, err
		}

		n++
	}

	return n, nil
}

func (c *Memory) remove(e *entry) {
	c.order.Remove(e.elem)
	delete(c.data, e.Key)
	c.bytes -= e.Resp.Size()
}
