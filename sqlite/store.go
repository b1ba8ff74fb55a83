// Package sqlite provides a SQLite-backed cache and sync queue storage.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed" // Schema.
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/bool64/ctxd"
	"github.com/vearutop/swcache"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

// Config controls storage.
type Config struct {
	// MaxPageCount limits database size in pages, writes beyond fail with swcache.ErrStorageQuotaExceeded.
	// Zero means no limit.
	MaxPageCount int

	// TimeNow is a clock, time.Now by default.
	TimeNow func() time.Time

	// Logger collects messages with context.
	Logger ctxd.Logger
}

// Storage persists named caches and sync tasks in SQLite.
type Storage struct {
	sqlDB  *sql.DB
	config Config
	log    ctxd.Logger
}

var (
	_ swcache.Storage   = &Storage{}
	_ swcache.SyncStore = &Storage{}
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite storage and applies schema.
func Open(path string, options ...func(cfg *Config)) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cfg := Config{}
	for _, o := range options {
		o(&cfg)
	}

	if cfg.TimeNow == nil {
		cfg.TimeNow = time.Now
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// Single connection keeps pragmas and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()

		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()

		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if cfg.MaxPageCount > 0 {
		if _, err := sqlDB.Exec(fmt.Sprintf("PRAGMA max_page_count = %d", cfg.MaxPageCount)); err != nil {
			_ = sqlDB.Close()

			return nil, fmt.Errorf("set max page count: %w", err)
		}
	}

	s := &Storage{sqlDB: sqlDB, config: cfg}

	s.log = cfg.Logger
	if s.log == nil {
		s.log = ctxd.NoOpLogger{}
	}

	return s, nil
}

// Close closes the SQLite handle.
func (s *Storage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}

	return s.sqlDB.Close()
}

// Open returns named cache and records its expiration.
func (s *Storage) Open(ctx context.Context, name string, exp swcache.Expiration) (swcache.Store, error) {
	if name == "" {
		return nil, fmt.Errorf("cache name is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO caches (name, max_entries, max_age_ms) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET max_entries = excluded.max_entries, max_age_ms = excluded.max_age_ms`,
		name, exp.MaxEntries, exp.MaxAge.Milliseconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("register cache %s: %w", name, quotaError(err))
	}

	c := &cacheStore{s: s, name: name, exp: exp}

	// Bounds may have been lowered since entries were written.
	if err := c.evictOverflow(ctx, s.sqlDB); err != nil {
		return nil, err
	}

	return c, nil
}

// Drop removes named cache with all entries.
func (s *Storage) Drop(ctx context.Context, name string) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_name = ?`, name); err != nil {
		return fmt.Errorf("delete entries of %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete cache %s: %w", name, err)
	}

	return tx.Commit()
}

// Names lists known caches in alphabetical order.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM caches ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query caches: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var names []string

	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan cache name: %w", err)
		}

		names = append(names, n)
	}

	return names, rows.Err()
}

// quotaError maps SQLite full database error to swcache.ErrStorageQuotaExceeded.
func quotaError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3lib.SQLITE_FULL {
		return fmt.Errorf("%w: %v", swcache.ErrStorageQuotaExceeded, err)
	}

	return err
}

func encodeHeader(h http.Header) ([]byte, error) {
	if h == nil {
		h = http.Header{}
	}

	return json.Marshal(h)
}

func decodeHeader(data []byte) (http.Header, error) {
	h := http.Header{}
	if len(data) == 0 {
		return h, nil
	}

	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}

	return h, nil
}
