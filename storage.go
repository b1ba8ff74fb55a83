package swcache

import (
	"context"
	"sort"
	"sync"

	"github.com/bool64/ctxd"
)

var _ Storage = &MemoryStorage{}

// MemoryStorage is a registry of in-memory caches.
type MemoryStorage struct {
	mu     sync.Mutex
	caches map[string]*Memory
	config MemoryConfig
}

// NewMemoryStorage creates storage, config is a template for every opened cache.
//
// MaxBytes of config is applied per cache.
func NewMemoryStorage(cfg ...MemoryConfig) *MemoryStorage {
	s := &MemoryStorage{caches: make(map[string]*Memory)}

	if len(cfg) >= 1 {
		s.config = cfg[0]
	}

	return s
}

// Open returns named cache, creating it if necessary.
//
// Expiration of an existing cache is updated.
func (s *MemoryStorage) Open(ctx context.Context, name string, exp Expiration) (Store, error) {
	return s.open(ctx, name, exp), nil
}

func (s *MemoryStorage) open(ctx context.Context, name string, exp Expiration) *Memory {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.caches[name]; ok {
		c.Lock()
		c.config.Expiration = exp
		c.evictOverflow(ctx)
		c.Unlock()

		return c
	}

	cfg := s.config
	cfg.Name = name
	cfg.Expiration = exp

	c := NewMemory(cfg)
	s.caches[name] = c

	return c
}

// Drop removes named cache with all entries.
func (s *MemoryStorage) Drop(_ context.Context, name string) error {
	s.mu.Lock()
	c, ok := s.caches[name]
	delete(s.caches, name)
	s.mu.Unlock()

	if ok {
		c.Close()
	}

	return nil
}

// Names lists known caches in alphabetical order.
func (s *MemoryStorage) Names(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.caches))
	for n := range s.caches {
		names = append(names, n)
	}

	sort.Strings(names)

	return names, nil
}

// Cleanup drops caches that are not listed in keep and returns names of dropped caches.
func Cleanup(ctx context.Context, s Storage, keep ...string) ([]string, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, ctxd.WrapError(ctx, err, "failed to list caches")
	}

	k := make(map[string]bool, len(keep))
	for _, n := range keep {
		k[n] = true
	}

	var dropped []string

	for _, n := range names {
		if k[n] {
			continue
		}

		if err := s.Drop(ctx, n); err != nil {
			return dropped, ctxd.WrapError(ctx, err, "failed to drop outdated cache", "name", n)
		}

		dropped = append(dropped, n)
	}

	return dropped, nil
}
