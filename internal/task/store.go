// Package task implements the Task Store of spec §4.4: a persisted record
// of background CLI executions submitted out-of-band from the
// request/response cycle, with startup orphan recovery and a terminal-row
// TTL sweep.
package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/anthropics/claude-cli-gateway/contracts"
	"github.com/anthropics/claude-cli-gateway/internal/audit"
)

// Store is the SQLite-backed TaskStore. Cancellation handles are kept only
// in memory: a task whose process restarts loses its live handle, which is
// exactly why orphan recovery exists.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	mu      sync.Mutex
	cancels map[contracts.TaskID]chan struct{}
}

// Config bundles the store's tunables.
type Config struct {
	Path string
}

// Open creates or opens the SQLite database at cfg.Path and ensures its
// schema exists, grounded on the same WAL/busy-timeout DSN pattern as the
// Session Store (other_examples/zkoranges-go-claw__store.go).
func Open(cfg Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("task store: path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("task store: create directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("task store: open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, log: log, cancels: make(map[contracts.TaskID]chan struct{})}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;"} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("task store: set pragma %q: %w", pragma, err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL CHECK(status IN ('running','completed','failed')),
			owner_fingerprint TEXT NOT NULL,
			prompt TEXT NOT NULL,
			model TEXT,
			allowed_tools TEXT,
			working_directory TEXT,
			session_id TEXT,
			max_turns INTEGER,
			result TEXT,
			failure_reason TEXT,
			upstream_session_id TEXT,
			created_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME,
			duration_ms INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_fingerprint);
		CREATE INDEX IF NOT EXISTS idx_tasks_status_completed ON tasks(status, completed_at);
	`)
	if err != nil {
		return fmt.Errorf("task store: create schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a running task row and registers a fresh cancel handle
// for it.
func (s *Store) Create(ctx context.Context, opts contracts.RunOptions, owner contracts.OwnerFingerprint) (contracts.Task, contracts.CancelHandle, error) {
	allowedTools, err := json.Marshal(opts.AllowedTools)
	if err != nil {
		return contracts.Task{}, nil, fmt.Errorf("task store: marshal allowedTools: %w", err)
	}

	now := time.Now().UTC()
	task := contracts.Task{
		ID:               contracts.TaskID(uuid.NewString()),
		OwnerFingerprint: owner,
		Status:           contracts.TaskRunning,
		Options:          opts,
		CreatedAt:        now,
		StartedAt:        now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, status, owner_fingerprint, prompt, model, allowed_tools,
			working_directory, session_id, max_turns, created_at, started_at
		) VALUES (?, 'running', ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`,
		string(task.ID), string(owner), opts.Prompt, nullableString(opts.Model), string(allowedTools),
		nullableString(opts.WorkingDirectory), nullableString(opts.ResumeSessionID), nullableInt(opts.MaxTurns),
		task.CreatedAt, task.StartedAt,
	)
	if err != nil {
		return contracts.Task{}, nil, fmt.Errorf("task store: insert: %w", err)
	}

	cancel := make(chan struct{})
	s.mu.Lock()
	s.cancels[task.ID] = cancel
	s.mu.Unlock()

	return task, cancel, nil
}

// Get reads a task row scoped to owner.
func (s *Store) Get(ctx context.Context, id contracts.TaskID, owner contracts.OwnerFingerprint) (contracts.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, owner_fingerprint, prompt, model, allowed_tools, working_directory,
			session_id, max_turns, result, failure_reason, upstream_session_id,
			created_at, started_at, completed_at, duration_ms
		FROM tasks WHERE id = ? AND owner_fingerprint = ?;
	`, string(id), string(owner))
	return scanTask(row)
}

// Cancel fires the task's in-memory cancel handle (if the process that
// created it is still the one serving this request) and then attempts the
// running→failed(cancelled) transition. It returns false if the task is
// absent or already terminal.
func (s *Store) Cancel(ctx context.Context, id contracts.TaskID) (bool, error) {
	s.mu.Lock()
	if ch, ok := s.cancels[id]; ok {
		close(ch)
		delete(s.cancels, id)
	}
	s.mu.Unlock()

	ok, err := s.transition(ctx, id, nil, nil, nil, strPtr(contracts.FailureReasonCancelled))
	if err != nil {
		return false, err
	}
	if ok {
		audit.Event(ctx, s.log, "task.cancelled", "taskID", string(id))
	}
	return ok, nil
}

// SetCompleted performs the running→completed transition. sessionID is the
// external session created for a brand-new conversation; callers pass ""
// when the task resumed an existing session, whose session_id column is
// already set and left untouched.
func (s *Store) SetCompleted(ctx context.Context, id contracts.TaskID, result string, sessionID string, upstreamSessionID string) error {
	s.clearCancel(id)
	var sessionIDPtr *string
	if sessionID != "" {
		sessionIDPtr = strPtr(sessionID)
	}
	ok, err := s.transition(ctx, id, strPtr(result), sessionIDPtr, strPtr(upstreamSessionID), nil)
	if err != nil {
		return err
	}
	if !ok {
		return s.notFoundOrNoop(ctx, id)
	}
	audit.Event(ctx, s.log, "task.completed", "taskID", string(id))
	return nil
}

// SetFailed performs the running→failed transition with the given reason.
func (s *Store) SetFailed(ctx context.Context, id contracts.TaskID, reason string) error {
	s.clearCancel(id)
	ok, err := s.transition(ctx, id, nil, nil, nil, strPtr(reason))
	if err != nil {
		return err
	}
	if !ok {
		return s.notFoundOrNoop(ctx, id)
	}
	audit.Event(ctx, s.log, "task.failed", "taskID", string(id), "reason", reason)
	return nil
}

// MarkOrphanedFailed rewrites every row still status=running (left behind
// by a process that crashed or was killed) to failed: server_restart. It
// must run at startup before the pool admits any new work (spec §4.4).
func (s *Store) MarkOrphanedFailed(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'failed',
			failure_reason = ?,
			completed_at = ?,
			duration_ms = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER)
		WHERE status = 'running';
	`, contracts.FailureReasonServerRestart, now, now)
	if err != nil {
		return 0, fmt.Errorf("task store: mark orphaned: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		audit.Event(ctx, s.log, "task.orphan_recovery", "count", n)
	}
	return int(n), nil
}

// transition performs the CAS-guarded running→terminal update, grounded
// on other_examples/zkoranges-go-claw__store.go's transitionTaskTx: read
// startedAt, compute durationMillis, update only WHERE status='running'.
func (s *Store) transition(ctx context.Context, id contracts.TaskID, result, sessionID, upstreamSessionID, failureReason *string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("task store: begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var startedAt sql.NullTime
	var status string
	err = tx.QueryRowContext(ctx, `SELECT started_at, status FROM tasks WHERE id = ?;`, string(id)).Scan(&startedAt, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("task store: select for transition: %w", err)
	}
	if status != string(contracts.TaskRunning) {
		return false, nil
	}

	now := time.Now().UTC()
	var durationMillis int64
	if startedAt.Valid {
		durationMillis = now.Sub(startedAt.Time).Milliseconds()
	}

	toStatus := contracts.TaskCompleted
	if failureReason != nil {
		toStatus = contracts.TaskFailed
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, result = ?, session_id = COALESCE(?, session_id),
			upstream_session_id = ?, failure_reason = ?,
			completed_at = ?, duration_ms = ?
		WHERE id = ? AND status = 'running';
	`, string(toStatus), nullablePtr(result), nullablePtr(sessionID), nullablePtr(upstreamSessionID), nullablePtr(failureReason), now, durationMillis, string(id))
	if err != nil {
		return false, fmt.Errorf("task store: update transition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("task store: transition rows affected: %w", err)
	}
	if affected != 1 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("task store: commit transition: %w", err)
	}
	return true, nil
}

func (s *Store) notFoundOrNoop(ctx context.Context, id contracts.TaskID) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?;`, string(id)).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.NewTaskNotFoundError(fmt.Sprintf("task %s not found", id))
		}
		return fmt.Errorf("task store: existence check: %w", err)
	}
	return nil // already terminal: idempotent no-op
}

func (s *Store) clearCancel(id contracts.TaskID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (contracts.Task, error) {
	var (
		t                                                                    contracts.Task
		id, status, owner, prompt, allowedToolsJSON                          string
		model, workingDirectory, sessionID, result, failureReason, upstream  sql.NullString
		maxTurns, durationMillis                                             sql.NullInt64
		startedAt, completedAt                                               sql.NullTime
	)
	err := row.Scan(
		&id, &status, &owner, &prompt, &model, &allowedToolsJSON, &workingDirectory,
		&sessionID, &maxTurns, &result, &failureReason, &upstream,
		&t.CreatedAt, &startedAt, &completedAt, &durationMillis,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Task{}, contracts.NewTaskNotFoundError("task not found")
		}
		return contracts.Task{}, fmt.Errorf("task store: scan: %w", err)
	}

	t.ID = contracts.TaskID(id)
	t.Status = contracts.TaskStatus(status)
	t.OwnerFingerprint = contracts.OwnerFingerprint(owner)
	t.Options.Prompt = prompt
	t.Options.Model = model.String
	t.Options.WorkingDirectory = workingDirectory.String
	t.Options.ResumeSessionID = sessionID.String
	t.Options.MaxTurns = int(maxTurns.Int64)
	_ = json.Unmarshal([]byte(allowedToolsJSON), &t.Options.AllowedTools)
	t.Result = result.String
	t.FailureReason = failureReason.String
	t.UpstreamSessionID = upstream.String
	if startedAt.Valid {
		t.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = completedAt.Time
	}
	t.DurationMillis = durationMillis.Int64
	return t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullablePtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func strPtr(s string) *string { return &s }
