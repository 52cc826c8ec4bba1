// Package store persists the bot's scan state: per-subreddit cursors, per-user
// daily wish records and the per-subreddit reputation cache. It is the only
// component that touches the database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database holding all persistent bot state.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite is a single-writer engine; keep one connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("Failed to close database after migration error", "error", closeErr)
		}
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	PRAGMA journal_mode=WAL;
	PRAGMA busy_timeout=5000;

	CREATE TABLE IF NOT EXISTS subreddits (
		name           TEXT PRIMARY KEY,
		last_post_id   TEXT,
		last_scan_time INTEGER
	);

	CREATE TABLE IF NOT EXISTS wished_users (
		username    TEXT PRIMARY KEY,
		wished_date TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reputation_cache (
		subreddit     TEXT PRIMARY KEY,
		total_score   INTEGER NOT NULL,
		comment_count INTEGER NOT NULL,
		computed_at   INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// isBusy reports whether err is transient lock contention worth retrying.
// Other database faults (constraint violations, malformed queries) are not.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

// execRetry runs a write statement, retrying on lock contention only.
func (s *Store) execRetry(ctx context.Context, query string, args ...any) error {
	return retry.Do(
		func() error {
			_, err := s.db.ExecContext(ctx, query, args...)
			if err != nil && !isBusy(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying database write after lock contention", "attempt", n, "error", err)
		}),
	)
}

// EnsureSubreddit creates a cursor row for a newly configured subreddit.
// Existing rows are left untouched.
func (s *Store) EnsureSubreddit(ctx context.Context, name string) error {
	return s.execRetry(ctx, `INSERT OR IGNORE INTO subreddits (name) VALUES (?)`, name)
}

// Cursor returns the scan resume point for a subreddit: the last post ID
// recorded as a high-water mark, and when the subreddit was last scanned.
// An unknown subreddit yields zero values.
func (s *Store) Cursor(ctx context.Context, name string) (lastPostID string, lastScan time.Time, err error) {
	var (
		postID   sql.NullString
		scanUnix sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT last_post_id, last_scan_time FROM subreddits WHERE name = ?`, name).
		Scan(&postID, &scanUnix)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("load cursor for %s: %w", name, err)
	}

	if scanUnix.Valid {
		lastScan = time.Unix(scanUnix.Int64, 0).UTC()
	}
	return postID.String, lastScan, nil
}

// AdvanceCursor records the new high-water mark for a subreddit and stamps
// the scan time. An empty postID keeps the existing mark, so an empty feed
// never moves the cursor backward.
func (s *Store) AdvanceCursor(ctx context.Context, name, postID string, scannedAt time.Time) error {
	return s.execRetry(ctx,
		`UPDATE subreddits
		 SET last_post_id = COALESCE(NULLIF(?, ''), last_post_id), last_scan_time = ?
		 WHERE name = ?`,
		postID, scannedAt.UTC().Unix(), name)
}

// MarkWished records that a user was wished on the given calendar day,
// overwriting any stale record.
func (s *Store) MarkWished(ctx context.Context, username, day string) error {
	return s.execRetry(ctx,
		`INSERT OR REPLACE INTO wished_users (username, wished_date) VALUES (?, ?)`,
		username, day)
}

// HasBeenWished reports whether a user was already wished on the given day.
// A record for an earlier day is deleted as a side effect and reported as
// "not wished".
func (s *Store) HasBeenWished(ctx context.Context, username, day string) (bool, error) {
	var wishedDate string
	err := s.db.QueryRowContext(ctx,
		`SELECT wished_date FROM wished_users WHERE username = ?`, username).
		Scan(&wishedDate)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up wish record for %s: %w", username, err)
	}

	if wishedDate == day {
		return true, nil
	}

	// Stale record from a previous day; remove it lazily.
	if err := s.execRetry(ctx, `DELETE FROM wished_users WHERE username = ?`, username); err != nil {
		s.logger.Warn("Failed to delete stale wish record", "username", username, "error", err)
	}
	return false, nil
}

// ClearExpiredWishes deletes every wish record dated before the given day.
func (s *Store) ClearExpiredWishes(ctx context.Context, day string) error {
	return s.execRetry(ctx, `DELETE FROM wished_users WHERE wished_date < ?`, day)
}

// Reputation returns the cached (totalScore, commentCount) for a subreddit.
// ok is false when there is no cache entry or the entry is older than ttl.
func (s *Store) Reputation(ctx context.Context, subreddit string, ttl time.Duration, now time.Time) (totalScore, commentCount int, ok bool, err error) {
	var computedAt int64
	err = s.db.QueryRowContext(ctx,
		`SELECT total_score, comment_count, computed_at FROM reputation_cache WHERE subreddit = ?`, subreddit).
		Scan(&totalScore, &commentCount, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("load reputation for %s: %w", subreddit, err)
	}

	if now.UTC().Sub(time.Unix(computedAt, 0)) > ttl {
		return 0, 0, false, nil
	}
	return totalScore, commentCount, true, nil
}

// SaveReputation overwrites the cached reputation tuple for a subreddit.
func (s *Store) SaveReputation(ctx context.Context, subreddit string, totalScore, commentCount int, computedAt time.Time) error {
	return s.execRetry(ctx,
		`INSERT OR REPLACE INTO reputation_cache (subreddit, total_score, comment_count, computed_at)
		 VALUES (?, ?, ?, ?)`,
		subreddit, totalScore, commentCount, computedAt.UTC().Unix())
}
