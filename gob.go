package swcache

import (
	"context"
	"encoding/gob"
	"errors"
	"io"
)

type gobEntry struct {
	Cache string
	Key   string
	Resp  Response
}

// Dump saves cached entries from oldest to newest and returns a number of processed entries.
func (c *Memory) Dump(w io.Writer) (int, error) {
	encoder := gob.NewEncoder(w)

	return c.Walk(func(key string, value *Response) error {
		return encoder.Encode(gobEntry{Cache: c.config.Name, Key: key, Resp: *value})
	})
}

// Restore loads cached entries and returns number of processed entries.
//
// Entries are written in dump order, so insertion order and count bounds are preserved.
func (c *Memory) Restore(r io.Reader) (int, error) {
	decoder := gob.NewDecoder(r)
	n := 0

	for {
		var e gobEntry

		err := decoder.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return n, err
		}

		c.restoreEntry(e.Key, e.Resp)

		n++
	}

	return n, nil
}

// Dump saves entries of all caches.
func (s *MemoryStorage) Dump(w io.Writer) (int, error) {
	s.mu.Lock()
	caches := make([]*Memory, 0, len(s.caches))

	for _, c := range s.caches {
		caches = append(caches, c)
	}
	s.mu.Unlock()

	encoder := gob.NewEncoder(w)
	total := 0

	for _, c := range caches {
		n, err := c.Walk(func(key string, value *Response) error {
			return encoder.Encode(gobEntry{Cache: c.config.Name, Key: key, Resp: *value})
		})
		total += n

		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// Restore loads entries of all caches, caches are created with unbounded expiration
// until opened with policy bounds.
func (s *MemoryStorage) Restore(r io.Reader) (int, error) {
	decoder := gob.NewDecoder(r)
	n := 0

	for {
		var e gobEntry

		err := decoder.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return n, err
		}

		s.mu.Lock()
		c, ok := s.caches[e.Cache]
		if !ok {
			cfg := s.config
			cfg.Name = e.Cache
			c = NewMemory(cfg)
			s.caches[e.Cache] = c
		}
		s.mu.Unlock()

		c.restoreEntry(e.Key, e.Resp)

		n++
	}

	return n, nil
}

func (c *Memory) restoreEntry(key string, resp Response) {
	c.Lock()
	defer c.Unlock()

	if prev, ok := c.data[key]; ok {
		c.remove(prev)
	}

	e := &entry{Key: key, Resp: &resp}
	e.elem = c.order.PushBack(e)
	c.data[key] = e
	c.bytes += resp.Size()

	c.evictOverflow(context.Background())
}
