// Package session implements the Session Store of spec §4.3: owner-scoped
// CRUD over external session identifiers, backed by a single SQLite file,
// plus the in-process FIFO lock manager and TTL sweep that live alongside
// it.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/anthropics/claude-cli-gateway/contracts"
	"github.com/anthropics/claude-cli-gateway/internal/audit"
)

// Store is the SQLite-backed SessionStore, grounded on
// other_examples/zkoranges-go-claw__store.go's Open/configurePragmas shape
// (WAL journaling, a 5s busy timeout baked into the DSN, single writer).
type Store struct {
	db                *sql.DB
	maxSessionsPerKey int
	log               *slog.Logger

	locks *lockTable
}

// Config bundles the store's tunables (spec §6 Config fields).
type Config struct {
	Path              string
	MaxSessionsPerKey int
}

// Open creates or opens the SQLite database at cfg.Path and ensures its
// schema exists.
func Open(cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("session store: path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("session store: create directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("session store: open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, maxSessionsPerKey: cfg.MaxSessionsPerKey, log: log, locks: newLockTable()}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;"} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("session store: set pragma %q: %w", pragma, err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			upstream_session_id TEXT NOT NULL,
			owner_fingerprint TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_accessed_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_fingerprint);
		CREATE INDEX IF NOT EXISTS idx_sessions_last_accessed ON sessions(last_accessed_at);
	`)
	if err != nil {
		return fmt.Errorf("session store: create schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new session owned by owner, rejecting with
// session_limit once owner already holds maxSessionsPerKey sessions.
func (s *Store) Create(ctx context.Context, upstreamToken string, owner contracts.OwnerFingerprint) (contracts.Session, error) {
	count, err := s.countByOwner(ctx, owner)
	if err != nil {
		return contracts.Session{}, err
	}
	if count >= s.maxSessionsPerKey {
		return contracts.Session{}, contracts.NewSessionLimitError(fmt.Sprintf("owner already holds %d sessions, at limit %d", count, s.maxSessionsPerKey))
	}

	now := time.Now().UTC()
	sess := contracts.Session{
		ID:                contracts.SessionID(uuid.NewString()),
		UpstreamSessionID: upstreamToken,
		OwnerFingerprint:  owner,
		CreatedAt:         now,
		LastAccessedAt:    now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, upstream_session_id, owner_fingerprint, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?);
	`, string(sess.ID), sess.UpstreamSessionID, string(sess.OwnerFingerprint), sess.CreatedAt, sess.LastAccessedAt)
	if err != nil {
		return contracts.Session{}, fmt.Errorf("session store: insert: %w", err)
	}
	return sess, nil
}

// Get fetches a session by ID, scoped to owner. A session that exists but
// belongs to a different owner is indistinguishable from a missing one.
func (s *Store) Get(ctx context.Context, id contracts.SessionID, owner contracts.OwnerFingerprint) (contracts.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, upstream_session_id, owner_fingerprint, created_at, last_accessed_at
		FROM sessions WHERE id = ? AND owner_fingerprint = ?;
	`, string(id), string(owner))
	return scanSession(row)
}

// Touch advances lastAccessedAt to now. It does not validate ownership: it
// is called internally on the dispatch path after ownership has already
// been checked by Get.
func (s *Store) Touch(ctx context.Context, id contracts.SessionID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_accessed_at = ? WHERE id = ?;`, time.Now().UTC(), string(id))
	if err != nil {
		return fmt.Errorf("session store: touch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return contracts.NewSessionNotFoundError(fmt.Sprintf("session %s not found", id))
	}
	return nil
}

// Delete removes a session owned by owner and purges any in-memory lock
// held for it.
func (s *Store) Delete(ctx context.Context, id contracts.SessionID, owner contracts.OwnerFingerprint) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND owner_fingerprint = ?;`, string(id), string(owner))
	if err != nil {
		return fmt.Errorf("session store: delete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return contracts.NewSessionNotFoundError(fmt.Sprintf("session %s not found", id))
	}
	s.locks.purge(id)
	audit.Event(ctx, s.log, "session.deleted", "sessionID", string(id))
	return nil
}

// List returns every session owned by owner.
func (s *Store) List(ctx context.Context, owner contracts.OwnerFingerprint) ([]contracts.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, upstream_session_id, owner_fingerprint, created_at, last_accessed_at
		FROM sessions WHERE owner_fingerprint = ? ORDER BY created_at ASC;
	`, string(owner))
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}
	defer rows.Close()

	var out []contracts.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Stats returns a global introspection snapshot across all owners.
func (s *Store) Stats(ctx context.Context) (contracts.SessionStats, error) {
	var stats contracts.SessionStats
	var oldest sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1), MIN(created_at) FROM sessions;`).Scan(&stats.TotalSessions, &oldest)
	if err != nil {
		return contracts.SessionStats{}, fmt.Errorf("session store: stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestCreated = oldest.Time
	}
	return stats, nil
}

// Acquire takes the in-process exclusive lock for id, per spec §4.3's FIFO
// waiter queue, and returns a release function the caller must invoke on
// every exit path.
func (s *Store) Acquire(ctx context.Context, id contracts.SessionID) (func(), error) {
	return s.locks.acquire(ctx, id)
}

func (s *Store) countByOwner(ctx context.Context, owner contracts.OwnerFingerprint) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE owner_fingerprint = ?;`, string(owner)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("session store: count by owner: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (contracts.Session, error) {
	var sess contracts.Session
	var id, upstream, owner string
	err := row.Scan(&id, &upstream, &owner, &sess.CreatedAt, &sess.LastAccessedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Session{}, contracts.NewSessionNotFoundError("session not found")
		}
		return contracts.Session{}, fmt.Errorf("session store: scan: %w", err)
	}
	sess.ID = contracts.SessionID(id)
	sess.UpstreamSessionID = upstream
	sess.OwnerFingerprint = contracts.OwnerFingerprint(owner)
	return sess, nil
}
