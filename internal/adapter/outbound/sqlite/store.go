// Package sqlite provides a SQLite-backed key-value store for session state.
// Several processes may share one database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/projectm/lms-session/internal/port/outbound"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// DefaultPollInterval is how often Watch re-reads the table.
const DefaultPollInterval = time.Second

// Store implements outbound.WatchableStore on a SQLite database.
type Store struct {
	db           *sql.DB
	logger       *slog.Logger
	pollInterval time.Duration
}

// Open opens or creates the database at path and ensures the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	// One connection serializes writers inside the process; busy_timeout
	// covers writers in other processes.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, logger: logger, pollInterval: DefaultPollInterval}, nil
}

// SetPollInterval changes how often Watch polls. Must be called before Watch.
func (s *Store) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		WHERE kv.value <> excluded.value`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes the given keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Watch polls the table and reports keys whose value changed, including
// changes written by other processes.
func (s *Store) Watch(ctx context.Context, fn func(key string)) error {
	last, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				next, err := s.snapshot(ctx)
				if err != nil {
					if ctx.Err() == nil {
						s.logger.Warn("session database poll failed", "error", err)
					}
					continue
				}
				for k, v := range next {
					if old, ok := last[k]; !ok || old != v {
						fn(k)
					}
				}
				for k := range last {
					if _, ok := next[k]; !ok {
						fn(k)
					}
				}
				last = next
			}
		}
	}()
	return nil
}

func (s *Store) snapshot(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM kv")
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ outbound.WatchableStore = (*Store)(nil)
