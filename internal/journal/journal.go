package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"linewire/internal/wire"
)

// ErrLocked reports that another process holds the journal write lock.
var ErrLocked = errors.New("journal locked by another process")

// received_at is compared lexicographically by Prune, so it is stored in a
// fixed-width UTC layout: RFC3339Nano drops trailing fractional zeros, which
// would misorder timestamps within the same second.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    received_at TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_received_at ON events(received_at);
`

// Entry is one recorded event.
type Entry struct {
	ID         int64
	ReceivedAt time.Time
	Type       string
	Payload    json.RawMessage
}

// Store manages journal persistence backed by SQLite. A Store opened for
// writing holds an exclusive file lock so at most one listener records at a
// time; readers take no lock — WAL mode already serves them while a writer
// is active.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

// Open initializes or connects to the journal for writing.
func Open(path string) (*Store, error) {
	return open(path, true)
}

// OpenReadOnly connects to an existing journal for listing.
func OpenReadOnly(path string) (*Store, error) {
	return open(path, false)
}

func open(path string, writable bool) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	var lock *flock.Flock
	if writable {
		lock = flock.New(path + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire journal lock: %w", err)
		}
		if !locked {
			return nil, ErrLocked
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		unlock(lock)
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			unlock(lock)
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		unlock(lock)
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: path, lock: lock}, nil
}

func unlock(lock *flock.Flock) {
	if lock != nil {
		_ = lock.Unlock()
	}
}

// Close releases the database and, for writers, the file lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); err == nil {
			err = unlockErr
		}
	}
	return err
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Record appends one event and returns its row id.
func (s *Store) Record(ctx context.Context, ev wire.Event) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO events (received_at, event_type, payload) VALUES (?, ?, ?)`,
		time.Now().UTC().Format(timeLayout),
		ev.Type,
		string(ev.Data),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, received_at, event_type, payload FROM events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var receivedAt, payload string
		if err := rows.Scan(&entry.ID, &receivedAt, &entry.Type, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, receivedAt)
		if err != nil {
			return nil, fmt.Errorf("parse received_at %q: %w", receivedAt, err)
		}
		entry.ReceivedAt = ts
		if payload != "" {
			entry.Payload = json.RawMessage(payload)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}

// Count reports the number of recorded events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// Prune removes entries received before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM events WHERE received_at < ?`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return removed, nil
}
