package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vearutop/swcache"
)

// cacheStore is a named cache in SQLite storage.
type cacheStore struct {
	s    *Storage
	name string
	exp  swcache.Expiration
}

var _ swcache.Store = &cacheStore{}

// Read gets value, expired entry is deleted and reported as missing.
func (c *cacheStore) Read(ctx context.Context, key string) (*swcache.Response, error) {
	if swcache.SkipRead(ctx) {
		return nil, swcache.ErrCacheItemNotFound
	}

	var (
		resp     swcache.Response
		header   []byte
		storedAt int64
	)

	err := c.s.sqlDB.QueryRowContext(ctx,
		`SELECT url, status, header, body, stored_at FROM cache_entries WHERE cache_name = ? AND key = ?`,
		c.name, key,
	).Scan(&resp.URL, &resp.StatusCode, &header, &resp.Body, &storedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, swcache.ErrCacheItemNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", key, c.name, err)
	}

	resp.StoredAt = fromMillis(storedAt)

	if swcache.Expired(resp.StoredAt, c.s.config.TimeNow(), c.exp.MaxAge) {
		c.s.log.Debug(ctx, "cache key expired", "name", c.name, "key", key)

		if err := c.Delete(ctx, key); err != nil {
			return nil, err
		}

		return nil, swcache.ErrCacheItemNotFound
	}

	if resp.Header, err = decodeHeader(header); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Write upserts value as the newest entry and evicts oldest entries above max entries.
func (c *cacheStore) Write(ctx context.Context, key string, v *swcache.Response) error {
	header, err := encodeHeader(v.Header)
	if err != nil {
		return err
	}

	storedAt := v.StoredAt
	if storedAt.IsZero() {
		storedAt = c.s.config.TimeNow()
	}

	body := v.Body
	if body == nil {
		body = []byte{}
	}

	tx, err := c.s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cache_entries (cache_name, key, seq, url, status, header, body, stored_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM cache_entries), ?, ?, ?, ?, ?)
		 ON CONFLICT(cache_name, key) DO UPDATE SET
		   seq = excluded.seq,
		   url = excluded.url,
		   status = excluded.status,
		   header = excluded.header,
		   body = excluded.body,
		   stored_at = excluded.stored_at`,
		c.name, key, v.URL, v.StatusCode, header, body, toMillis(storedAt),
	)
	if err != nil {
		return fmt.Errorf("write %s to %s: %w", key, c.name, quotaError(err))
	}

	if err := c.evictOverflow(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write to %s: %w", c.name, quotaError(err))
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// evictOverflow deletes oldest inserted entries above max entries.
func (c *cacheStore) evictOverflow(ctx context.Context, db execer) error {
	if c.exp.MaxEntries <= 0 {
		return nil
	}

	res, err := db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE cache_name = ? AND key IN (
		   SELECT key FROM cache_entries WHERE cache_name = ? ORDER BY seq DESC LIMIT -1 OFFSET ?
		 )`,
		c.name, c.name, c.exp.MaxEntries,
	)
	if err != nil {
		return fmt.Errorf("evict from %s: %w", c.name, err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		c.s.log.Debug(ctx, "evicted oldest cache items", "name", c.name, "count", n)
	}

	return nil
}

// Delete removes entry.
func (c *cacheStore) Delete(ctx context.Context, key string) error {
	if _, err := c.s.sqlDB.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE cache_name = ? AND key = ?`, c.name, key,
	); err != nil {
		return fmt.Errorf("delete %s from %s: %w", key, c.name, err)
	}

	return nil
}

// Len returns number of entries.
func (c *cacheStore) Len(ctx context.Context) (int, error) {
	var n int

	if err := c.s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE cache_name = ?`, c.name,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, err)
	}

	return n, nil
}

// Walk walks entries from oldest to newest.
func (c *cacheStore) Walk(walkFn func(key string, value *swcache.Response) error) (int, error) {
	ctx := context.Background()

	rows, err := c.s.sqlDB.QueryContext(ctx,
		`SELECT key, url, status, header, body, stored_at FROM cache_entries WHERE cache_name = ? ORDER BY seq`,
		c.name,
	)
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", c.name, err)
	}

	type item struct {
		key  string
		resp *swcache.Response
	}

	var items []item

	for rows.Next() {
		var (
			it       = item{resp: &swcache.Response{}}
			header   []byte
			storedAt int64
		)

		if err := rows.Scan(&it.key, &it.resp.URL, &it.resp.StatusCode, &header, &it.resp.Body, &storedAt); err != nil {
			_ = rows.Close()

			return 0, fmt.Errorf("scan %s: %w", c.name, err)
		}

		it.resp.StoredAt = fromMillis(storedAt)

		if it.resp.Header, err = decodeHeader(header); err != nil {
			_ = rows.Close()

			return 0, err
		}

		items = append(items, it)
	}

	if err := rows.Close(); err != nil {
		return 0, err
	}

	// Rows are released before callbacks, so callbacks may use the single connection.
	n := 0

	for _, it := range items {
		if err := walkFn(it.key, it.resp); err != nil {
			return n, err
		}

		n++
	}

	return n, nil
}
