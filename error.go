package swcache

import (
	"errors"
	"fmt"

	"github.com/swaggest/usecase/status"
)

// SentinelError is an error.
type SentinelError string

const (
	// ErrNetwork indicates network failure: timeout or unreachable upstream.
	ErrNetwork = SentinelError("network error")

	// ErrStorageQuotaExceeded indicates cache storage has no room for a new entry.
	ErrStorageQuotaExceeded = SentinelError("storage quota exceeded")

	// ErrSyncExpired indicates background sync task was dropped after its retention window.
	ErrSyncExpired = SentinelError("sync task expired")

	// ErrSyncQueued indicates mutating request failed and was captured for background sync.
	ErrSyncQueued = SentinelError("request queued for background sync")

	// ErrNoPolicy indicates no policy matched request URL.
	ErrNoPolicy = SentinelError("no cache policy")

	// ErrNothingToInvalidate indicates no callbacks were added to Invalidator.
	ErrNothingToInvalidate = SentinelError("nothing to invalidate")

	// ErrAlreadyInvalidated indicates recent invalidation.
	ErrAlreadyInvalidated = SentinelError("already invalidated")

	// ErrClosed indicates storage was closed.
	ErrClosed = SentinelError("storage is closed")
)

// ErrCacheItemNotFound indicates missing cache entry.
var ErrCacheItemNotFound = status.Wrap(SentinelError("missing cache item"), status.NotFound)

// Error implements error.
func (e SentinelError) Error() string {
	return string(e)
}

// NetworkError describes failed network fetch.
type NetworkError struct {
	URL     string
	Timeout bool
	Err     error
}

// Error implements error.
func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: timeout fetching %s: %v", ErrNetwork, e.URL, e.Err)
	}

	return fmt.Sprintf("%s: fetching %s: %v", ErrNetwork, e.URL, e.Err)
}

// Unwrap returns cause.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is matches ErrNetwork.
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// IsNetworkError checks if error is caused by network failure.
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// ResponseError describes upstream response that was received but could not be read.
//
// Request has reached upstream, so it is not a network failure.
type ResponseError struct {
	URL string
	Err error
}

// Error implements error.
func (e *ResponseError) Error() string {
	return fmt.Sprintf("reading response of %s: %v", e.URL, e.Err)
}

// Unwrap returns cause.
func (e *ResponseError) Unwrap() error {
	return e.Err
}

// SyncExpiredError reports a background sync task that was dropped without successful replay.
type SyncExpiredError struct {
	Task SyncTask
}

// Error implements error.
func (e *SyncExpiredError) Error() string {
	return fmt.Sprintf("%s: %s %s enqueued at %s in %s",
		ErrSyncExpired, e.Task.Request.Method, e.Task.Request.URL,
		e.Task.EnqueuedAt.Format("2006-01-02T15:04:05Z07:00"), e.Task.Queue)
}

// Is matches ErrSyncExpired.
func (e *SyncExpiredError) Is(target error) bool {
	return target == ErrSyncExpired
}

// SyncQueuedError is returned for a mutating request that failed on network and was captured for replay.
type SyncQueuedError struct {
	TaskID string
	Queue  string
	Err    error
}

// Error implements error.
func (e *SyncQueuedError) Error() string {
	return fmt.Sprintf("%s %s as %s: %v", ErrSyncQueued, e.Queue, e.TaskID, e.Err)
}

// Unwrap returns network failure.
func (e *SyncQueuedError) Unwrap() error {
	return e.Err
}

// Is matches ErrSyncQueued.
func (e *SyncQueuedError) Is(target error) bool {
	return target == ErrSyncQueued
}
