package sqlite

import (
	"context"
	"fmt"

	"github.com/vearutop/swcache"
)

// Append adds task to the end of its queue.
func (s *Storage) Append(ctx context.Context, task swcache.SyncTask) error {
	header, err := encodeHeader(task.Request.Header)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO sync_tasks (id, queue, method, url, header, body, enqueued_at, retention_deadline, state, attempts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Queue, task.Request.Method, task.Request.URL, header, task.Request.Body,
		toMillis(task.EnqueuedAt), toMillis(task.RetentionDeadline), int(task.State), task.Attempts,
	)
	if err != nil {
		return fmt.Errorf("insert sync task: %w", quotaError(err))
	}

	return nil
}

// List returns tasks of queue in enqueue order.
func (s *Storage) List(ctx context.Context, queue string) ([]swcache.SyncTask, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, queue, method, url, header, body, enqueued_at, retention_deadline, state, attempts
		 FROM sync_tasks WHERE queue = ? ORDER BY seq`,
		queue,
	)
	if err != nil {
		return nil, fmt.Errorf("query sync tasks: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var tasks []swcache.SyncTask

	for rows.Next() {
		var (
			t                    swcache.SyncTask
			header               []byte
			enqueuedAt, deadline int64
			state                int
		)

		if err := rows.Scan(&t.ID, &t.Queue, &t.Request.Method, &t.Request.URL, &header, &t.Request.Body,
			&enqueuedAt, &deadline, &state, &t.Attempts); err != nil {
			return nil, fmt.Errorf("scan sync task: %w", err)
		}

		if t.Request.Header, err = decodeHeader(header); err != nil {
			return nil, err
		}

		t.EnqueuedAt = fromMillis(enqueuedAt)
		t.RetentionDeadline = fromMillis(deadline)
		t.State = swcache.SyncState(state)

		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

// Update stores state and attempts of task.
func (s *Storage) Update(ctx context.Context, task swcache.SyncTask) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE sync_tasks SET state = ?, attempts = ? WHERE id = ?`,
		int(task.State), task.Attempts, task.ID,
	)
	if err != nil {
		return fmt.Errorf("update sync task: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("sync task %s not found", task.ID)
	}

	return nil
}

// Remove deletes task.
func (s *Storage) Remove(ctx context.Context, id string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sync_tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete sync task: %w", err)
	}

	return nil
}
