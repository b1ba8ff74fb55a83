package swcache

import (
	"context"
	"io"
	"time"
)

// Reader reads from cache.
type Reader interface {
	// Read returns cached response or ErrCacheItemNotFound.
	//
	// Entries older than max age of the cache are treated as missing and evicted.
	Read(ctx context.Context, key string) (*Response, error)
}

// Writer writes to cache.
type Writer interface {
	// Write stores response in cache with a given key.
	//
	// ErrStorageQuotaExceeded is returned if there is no room for the entry.
	Write(ctx context.Context, key string, value *Response) error
}

// Deleter deletes from cache.
type Deleter interface {
	// Delete removes entry, missing entry is not an error.
	Delete(ctx context.Context, key string) error
}

// ReadWriter reads from and writes to cache.
type ReadWriter interface {
	Reader
	Writer
}

// Store is a named cache with atomic per key operations.
type Store interface {
	ReadWriter
	Deleter

	// Len returns number of stored entries, including not yet evicted expired ones.
	Len(ctx context.Context) (int, error)
}

// Storage is a registry of named caches.
type Storage interface {
	// Open returns named cache, creating it if necessary.
	Open(ctx context.Context, name string, exp Expiration) (Store, error)

	// Drop removes named cache with all entries.
	Drop(ctx context.Context, name string) error

	// Names lists known caches.
	Names(ctx context.Context) ([]string, error)
}

// Walker calls function for every entry in cache and fails on first error returned by that function.
//
// Count of processed entries is returned.
type Walker interface {
	Walk(func(key string, value *Response) error) (int, error)
}

// Dumper dumps cache entries in binary format.
type Dumper interface {
	Dump(w io.Writer) (int, error)
}

// Restorer restores cache entries from binary dump.
type Restorer interface {
	Restore(r io.Reader) (int, error)
}

// Expired checks if entry stored at storedAt is older than maxAge at now, zero maxAge never expires.
func Expired(storedAt, now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}

	return now.Sub(storedAt) > maxAge
}
