package swcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	"github.com/google/uuid"
)

// SyncState is a state of background sync task.
type SyncState int

// Sync task states, terminal states are never stored.
const (
	StatePending SyncState = iota
	StateRetrying
	StateSucceeded
	StateExpired
)

// String returns state name.
func (s SyncState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// DefaultMaxRetention is a default retention window of sync task.
const DefaultMaxRetention = 24 * time.Hour

// RequestSnapshot is a replayable copy of a request.
type RequestSnapshot struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// SnapshotRequest reads request body and restores it for further use.
func SnapshotRequest(req *http.Request) (RequestSnapshot, error) {
	s := RequestSnapshot{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
	}

	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()

		if err != nil {
			return s, fmt.Errorf("reading request body: %w", err)
		}

		s.Body = body
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	return s, nil
}

// NewRequest creates request from snapshot.
func (s RequestSnapshot) NewRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if s.Body != nil {
		body = bytes.NewReader(s.Body)
	}

	req, err := http.NewRequestWithContext(ctx, s.Method, s.URL, body)
	if err != nil {
		return nil, err
	}

	req.Header = s.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}

	return req, nil
}

// SyncTask is a failed mutating request waiting for replay.
type SyncTask struct {
	ID                string
	Queue             string
	Request           RequestSnapshot
	EnqueuedAt        time.Time
	RetentionDeadline time.Time
	State             SyncState
	Attempts          int
}

// SyncStore persists sync tasks.
type SyncStore interface {
	// Append adds task to the end of its queue.
	Append(ctx context.Context, task SyncTask) error

	// List returns tasks of queue in enqueue order.
	List(ctx context.Context, queue string) ([]SyncTask, error)

	// Update replaces stored task with the same ID.
	Update(ctx context.Context, task SyncTask) error

	// Remove deletes task, missing task is not an error.
	Remove(ctx context.Context, id string) error
}

// SyncQueueConfig is configuration for NewSyncQueue.
type SyncQueueConfig struct {
	// Name identifies the queue.
	Name string

	// MaxRetention is a time to keep task for replay, default 24h.
	MaxRetention time.Duration

	// Store persists tasks, in-memory by default.
	Store SyncStore

	// Replayer performs replay requests, HTTPFetcher by default.
	Replayer Fetcher

	// OnExpired is called for every task dropped after retention window.
	OnExpired func(ctx context.Context, err *SyncExpiredError)

	// TimeNow is a clock, time.Now by default.
	TimeNow func() time.Time

	// Logger collects messages with context.
	Logger ctxd.Logger

	// Stats tracks stats.
	Stats stats.Tracker
}

// ReplayResult summarizes a replay run.
type ReplayResult struct {
	Succeeded []SyncTask
	Expired   []*SyncExpiredError

	// Dropped are tasks with request that could not be rebuilt for replay.
	Dropped []SyncTask

	// Remaining is a count of tasks left for the next replay.
	Remaining int
}

// SyncQueue keeps failed mutating requests and replays them when connectivity is restored.
//
// Please use NewSyncQueue to create instance.
type SyncQueue struct {
	mu sync.Mutex

	// replaying serializes Replay and ExpireStale, Enqueue is not blocked by network.
	replaying sync.Mutex

	config SyncQueueConfig
	log    ctxd.Logger
	stat   stats.Tracker
}

// NewSyncQueue creates background sync queue.
func NewSyncQueue(config SyncQueueConfig) *SyncQueue {
	if config.MaxRetention == 0 {
		config.MaxRetention = DefaultMaxRetention
	}

	if config.Store == nil {
		config.Store = &MemorySyncStore{}
	}

	if config.Replayer == nil {
		config.Replayer = HTTPFetcher{}
	}

	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}

	q := &SyncQueue{config: config}

	q.log = config.Logger
	if q.log == nil {
		q.log = ctxd.NoOpLogger{}
	}

	q.stat = config.Stats
	if q.stat == nil {
		q.stat = stats.NoOp{}
	}

	return q
}

// Name returns queue name.
func (q *SyncQueue) Name() string {
	return q.config.Name
}

// Enqueue adds pending task for request snapshot.
func (q *SyncQueue) Enqueue(ctx context.Context, req RequestSnapshot) (SyncTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.config.TimeNow()
	task := SyncTask{
		ID:                uuid.NewString(),
		Queue:             q.config.Name,
		Request:           req,
		EnqueuedAt:        now,
		RetentionDeadline: now.Add(q.config.MaxRetention),
		State:             StatePending,
	}

	if err := q.config.Store.Append(ctx, task); err != nil {
		return task, ctxd.WrapError(ctx, err, "failed to enqueue sync task", "queue", q.config.Name)
	}

	q.log.Info(ctx, "request queued for background sync",
		"queue", q.config.Name,
		"id", task.ID,
		"method", req.Method,
		"url", req.URL)
	q.stat.Add(ctx, MetricSyncEnqueued, 1, "name", q.config.Name)

	return task, nil
}

// Tasks returns stored tasks in enqueue order.
func (q *SyncQueue) Tasks(ctx context.Context) ([]SyncTask, error) {
	return q.config.Store.List(ctx, q.config.Name)
}

// Replay sends stored tasks in enqueue order.
//
// Task is removed after successful replay, any HTTP response is a success.
// Task past its retention deadline is expired and reported.
// Task with request that can not be rebuilt is dropped and reported.
// First network failure stops replay, remaining tasks are only checked for expiration.
func (q *SyncQueue) Replay(ctx context.Context) (ReplayResult, error) {
	q.replaying.Lock()
	defer q.replaying.Unlock()

	var res ReplayResult

	tasks, err := q.config.Store.List(ctx, q.config.Name)
	if err != nil {
		return res, ctxd.WrapError(ctx, err, "failed to list sync tasks", "queue", q.config.Name)
	}

	offline := false

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if q.expired(task) {
			if err := q.expire(ctx, task, &res); err != nil {
				return res, err
			}

			continue
		}

		if offline {
			res.Remaining++

			continue
		}

		req, err := task.Request.NewRequest(ctx)
		if err != nil {
			if err := q.drop(ctx, task, err, &res); err != nil {
				return res, err
			}

			continue
		}

		_, replayErr := q.config.Replayer.Fetch(ctx, req)
		if replayErr == nil || !IsNetworkError(replayErr) {
			if replayErr != nil {
				q.log.Warn(ctx, "replayed request reached upstream with failed response",
					"error", replayErr,
					"queue", q.config.Name,
					"id", task.ID)
			}

			task.State = StateSucceeded

			if err := q.config.Store.Remove(ctx, task.ID); err != nil {
				return res, ctxd.WrapError(ctx, err, "failed to remove replayed task", "id", task.ID)
			}

			res.Succeeded = append(res.Succeeded, task)

			q.stat.Add(ctx, MetricSyncReplayed, 1, "name", q.config.Name)

			continue
		}

		q.log.Warn(ctx, "failed to replay request, will retry",
			"error", replayErr,
			"queue", q.config.Name,
			"id", task.ID)
		q.stat.Add(ctx, MetricSyncFailed, 1, "name", q.config.Name)

		task.State = StateRetrying
		task.Attempts++

		if err := q.config.Store.Update(ctx, task); err != nil {
			return res, ctxd.WrapError(ctx, err, "failed to update sync task", "id", task.ID)
		}

		offline = true
		res.Remaining++
	}

	return res, nil
}

func (q *SyncQueue) drop(ctx context.Context, task SyncTask, cause error, res *ReplayResult) error {
	if err := q.config.Store.Remove(ctx, task.ID); err != nil {
		return ctxd.WrapError(ctx, err, "failed to remove invalid task", "id", task.ID)
	}

	q.log.Error(ctx, "dropped sync task with invalid request",
		"error", cause,
		"queue", q.config.Name,
		"id", task.ID)
	q.stat.Add(ctx, MetricSyncDropped, 1, "name", q.config.Name)

	res.Dropped = append(res.Dropped, task)

	return nil
}

// ExpireStale drops tasks past retention deadline without replaying others.
func (q *SyncQueue) ExpireStale(ctx context.Context) ([]*SyncExpiredError, error) {
	q.replaying.Lock()
	defer q.replaying.Unlock()

	var res ReplayResult

	tasks, err := q.config.Store.List(ctx, q.config.Name)
	if err != nil {
		return nil, ctxd.WrapError(ctx, err, "failed to list sync tasks", "queue", q.config.Name)
	}

	for _, task := range tasks {
		if !q.expired(task) {
			continue
		}

		if err := q.expire(ctx, task, &res); err != nil {
			return res.Expired, err
		}
	}

	return res.Expired, nil
}

func (q *SyncQueue) expired(task SyncTask) bool {
	return !q.config.TimeNow().Before(task.RetentionDeadline)
}

func (q *SyncQueue) expire(ctx context.Context, task SyncTask, res *ReplayResult) error {
	if err := q.config.Store.Remove(ctx, task.ID); err != nil {
		return ctxd.WrapError(ctx, err, "failed to remove expired task", "id", task.ID)
	}

	task.State = StateExpired
	expErr := &SyncExpiredError{Task: task}
	res.Expired = append(res.Expired, expErr)

	q.log.Warn(ctx, "sync task expired, change was not saved",
		"queue", q.config.Name,
		"id", task.ID,
		"method", task.Request.Method,
		"url", task.Request.URL,
		"attempts", task.Attempts)
	q.stat.Add(ctx, MetricSyncExpired, 1, "name", q.config.Name)

	if q.config.OnExpired != nil {
		q.config.OnExpired(ctx, expErr)
	}

	return nil
}

// MemorySyncStore keeps sync tasks in memory.
type MemorySyncStore struct {
	mu    sync.Mutex
	tasks []SyncTask
}

var _ SyncStore = &MemorySyncStore{}

// Append adds task.
func (s *MemorySyncStore) Append(_ context.Context, task SyncTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = append(s.tasks, task)

	return nil
}

// List returns tasks of queue in enqueue order.
func (s *MemorySyncStore) List(_ context.Context, queue string) ([]SyncTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []SyncTask

	for _, t := range s.tasks {
		if t.Queue == queue {
			res = append(res, t)
		}
	}

	return res, nil
}

// Update replaces task with the same ID.
func (s *MemorySyncStore) Update(_ context.Context, task SyncTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tasks {
		if t.ID == task.ID {
			s.tasks[i] = task

			return nil
		}
	}

	return fmt.Errorf("sync task %s not found", task.ID)
}

// Remove deletes task.
func (s *MemorySyncStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tasks {
		if t.ID == id {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)

			return nil
		}
	}

	return nil
}
