// Package sqlitestore provides a SQLite-backed storage backend.
//
// Values live in the slots table. Every write also appends a row to
// slot_changes tagged with the writing instance's origin, in the same
// transaction. Each open Store polls slot_changes for rows from other
// origins and delivers them as storage events, so processes sharing one
// database file observe each other's writes.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vango-dev/prefsync/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS slots (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS slot_changes (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	origin     TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL DEFAULT '',
	present    INTEGER NOT NULL,
	changed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_slot_changes_changed_at ON slot_changes(changed_at);
`

const (
	// DefaultPollInterval is how often other origins' changes are read.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultRetention is how long change rows are kept.
	DefaultRetention = time.Hour
)

// Store persists slots in SQLite. It implements storage.Backend.
type Store struct {
	sqlDB        *sql.DB
	origin       string
	pollInterval time.Duration
	retention    time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	subs    map[uint64]func(storage.Event)
	nextID  uint64
	lastSeq int64
	closed  bool

	stop chan struct{}
	done chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets how often the change log is polled.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithRetention sets how long change rows are kept before pruning.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithLogger sets the logger used for poll errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// Open opens (creating if needed) the database at path and starts
// polling for changes.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlitestore: path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlitestore: ping: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlitestore: apply schema: %w", err)
	}

	s := &Store{
		sqlDB:        sqlDB,
		origin:       uuid.NewString(),
		pollInterval: DefaultPollInterval,
		retention:    DefaultRetention,
		logger:       slog.Default(),
		subs:         make(map[uint64]func(storage.Event)),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Only changes made after opening are delivered.
	if err := sqlDB.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM slot_changes`).Scan(&s.lastSeq); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlitestore: read change cursor: %w", err)
	}

	go s.run()
	return s, nil
}

// Origin returns the identifier stamped on this store's change rows.
func (s *Store) Origin() string {
	return s.origin
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.check(ctx); err != nil {
		return "", false, err
	}
	var value string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM slots WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlitestore: get %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements storage.Store.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	now := toMillis(time.Now())
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO slots (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now,
		); err != nil {
			return fmt.Errorf("sqlitestore: set %q: %w", key, err)
		}
		return s.logChange(ctx, tx, key, value, true, now)
	})
}

// Remove implements storage.Store.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	now := toMillis(time.Now())
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM slots WHERE key = ?`, key)
		if err != nil {
			return fmt.Errorf("sqlitestore: remove %q: %w", key, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return s.logChange(ctx, tx, key, "", false, now)
	})
}

func (s *Store) logChange(ctx context.Context, tx *sql.Tx, key, value string, present bool, now int64) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO slot_changes (origin, key, value, present, changed_at) VALUES (?, ?, ?, ?, ?)`,
		s.origin, key, value, present, now,
	); err != nil {
		return fmt.Errorf("sqlitestore: log change %q: %w", key, err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return nil
}

// Subscribe implements storage.Notifier.
func (s *Store) Subscribe(fn func(storage.Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Available reports whether the store is open.
func (s *Store) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close stops polling and closes the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.subs = nil
	s.mu.Unlock()

	close(s.stop)
	<-s.done
	return s.sqlDB.Close()
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

func (s *Store) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.poll(); err != nil {
				s.logger.Warn("sqlitestore: poll failed", slog.Any("error", err))
			}
		}
	}
}

// poll delivers change rows written by other origins since the last poll
// and prunes rows older than the retention window.
func (s *Store) poll() error {
	s.mu.Lock()
	last := s.lastSeq
	s.mu.Unlock()

	rows, err := s.sqlDB.Query(
		`SELECT seq, origin, key, value, present FROM slot_changes WHERE seq > ? ORDER BY seq`,
		last,
	)
	if err != nil {
		return fmt.Errorf("query changes: %w", err)
	}

	var pending []storage.Event
	for rows.Next() {
		var (
			seq     int64
			ev      storage.Event
			present int64
		)
		if err := rows.Scan(&seq, &ev.Origin, &ev.Key, &ev.Value, &present); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan change: %w", err)
		}
		ev.Present = present != 0
		last = seq
		if ev.Origin != s.origin {
			pending = append(pending, ev)
		}
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("close rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate changes: %w", err)
	}

	s.mu.Lock()
	s.lastSeq = last
	fns := make([]func(storage.Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, ev := range pending {
		for _, fn := range fns {
			fn(ev)
		}
	}

	cutoff := toMillis(time.Now().Add(-s.retention))
	if _, err := s.sqlDB.Exec(`DELETE FROM slot_changes WHERE changed_at < ?`, cutoff); err != nil {
		return fmt.Errorf("prune changes: %w", err)
	}
	return nil
}
