package task

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/anthropics/claude-cli-gateway/contracts"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "tasks.db")}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CreateGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := contracts.OwnerFingerprint("owner-1")

	task, cancel, err := s.Create(ctx, contracts.RunOptions{Prompt: "hello", Model: "claude"}, owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected non-empty task ID")
	}
	if cancel == nil {
		t.Fatal("expected non-nil cancel handle")
	}
	if task.Status != contracts.TaskRunning {
		t.Fatalf("expected running status, got %v", task.Status)
	}

	got, err := s.Get(ctx, task.ID, owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Options.Prompt != "hello" {
		t.Fatalf("unexpected prompt: %q", got.Options.Prompt)
	}
}

func TestStore_GetWrongOwnerNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task, _, err := s.Create(ctx, contracts.RunOptions{Prompt: "hello"}, contracts.OwnerFingerprint("owner-a"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Get(ctx, task.ID, contracts.OwnerFingerprint("owner-b")); !isKind(err, contracts.KindTaskNotFound) {
		t.Fatalf("expected task_not_found for mismatched owner, got %v", err)
	}
}

func TestStore_SetCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := contracts.OwnerFingerprint("owner-1")

	task, _, err := s.Create(ctx, contracts.RunOptions{Prompt: "hello"}, owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.SetCompleted(ctx, task.ID, "the answer", "", "upstream-tok"); err != nil {
		t.Fatalf("set completed: %v", err)
	}

	got, err := s.Get(ctx, task.ID, owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != contracts.TaskCompleted {
		t.Fatalf("expected completed, got %v", got.Status)
	}
	if got.Result != "the answer" {
		t.Fatalf("unexpected result: %q", got.Result)
	}
	if got.UpstreamSessionID != "upstream-tok" {
		t.Fatalf("unexpected upstream session id: %q", got.UpstreamSessionID)
	}
	if got.DurationMillis < 0 {
		t.Fatalf("expected non-negative duration, got %d", got.DurationMillis)
	}
}

func TestStore_SetCompletedRecordsNewSessionID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := contracts.OwnerFingerprint("owner-1")

	task, _, err := s.Create(ctx, contracts.RunOptions{Prompt: "hello"}, owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetCompleted(ctx, task.ID, "the answer", "session-xyz", "upstream-tok"); err != nil {
		t.Fatalf("set completed: %v", err)
	}

	got, err := s.Get(ctx, task.ID, owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Options.ResumeSessionID != "session-xyz" {
		t.Fatalf("expected the newly created session id to be recorded, got %q", got.Options.ResumeSessionID)
	}
}

func TestStore_SetCompletedTwiceIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := contracts.OwnerFingerprint("owner-1")

	task, _, err := s.Create(ctx, contracts.RunOptions{Prompt: "hello"}, owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetCompleted(ctx, task.ID, "first", "", ""); err != nil {
		t.Fatalf("set completed 1: %v", err)
	}
	// A second terminal transition on an already-terminal row is a silent
	// no-op, not an error: the row still exists, it just isn't running.
	if err := s.SetCompleted(ctx, task.ID, "second", "", ""); err != nil {
		t.Fatalf("set completed 2 should be a no-op, got: %v", err)
	}
	got, err := s.Get(ctx, task.ID, owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result != "first" {
		t.Fatalf("expected first result to stick, got %q", got.Result)
	}
}

func TestStore_SetCompletedUnknownTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SetCompleted(ctx, contracts.TaskID("does-not-exist"), "x", "", "")
	if !isKind(err, contracts.KindTaskNotFound) {
		t.Fatalf("expected task_not_found, got %v", err)
	}
}

func TestStore_Cancel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := contracts.OwnerFingerprint("owner-1")

	task, cancel, err := s.Create(ctx, contracts.RunOptions{Prompt: "hello"}, owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := s.Cancel(ctx, task.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !ok {
		t.Fatal("expected cancel to report success on a running task")
	}

	select {
	case <-cancel:
	default:
		t.Fatal("expected cancel handle to be closed")
	}

	got, err := s.Get(ctx, task.ID, owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != contracts.TaskFailed || got.FailureReason != contracts.FailureReasonCancelled {
		t.Fatalf("expected failed(cancelled), got status=%v reason=%q", got.Status, got.FailureReason)
	}

	// Cancelling an already-terminal task is a no-op.
	ok, err = s.Cancel(ctx, task.ID)
	if err != nil {
		t.Fatalf("cancel 2: %v", err)
	}
	if ok {
		t.Fatal("expected second cancel on terminal task to report no-op")
	}
}

func TestStore_MarkOrphanedFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := contracts.OwnerFingerprint("owner-1")

	running, _, err := s.Create(ctx, contracts.RunOptions{Prompt: "a"}, owner)
	if err != nil {
		t.Fatalf("create running: %v", err)
	}
	done, _, err := s.Create(ctx, contracts.RunOptions{Prompt: "b"}, owner)
	if err != nil {
		t.Fatalf("create done: %v", err)
	}
	if err := s.SetCompleted(ctx, done.ID, "ok", "", ""); err != nil {
		t.Fatalf("set completed: %v", err)
	}

	n, err := s.MarkOrphanedFailed(ctx)
	if err != nil {
		t.Fatalf("mark orphaned: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 orphan recovered, got %d", n)
	}

	got, err := s.Get(ctx, running.ID, owner)
	if err != nil {
		t.Fatalf("get running: %v", err)
	}
	if got.Status != contracts.TaskFailed || got.FailureReason != contracts.FailureReasonServerRestart {
		t.Fatalf("expected failed(server_restart), got status=%v reason=%q", got.Status, got.FailureReason)
	}

	gotDone, err := s.Get(ctx, done.ID, owner)
	if err != nil {
		t.Fatalf("get done: %v", err)
	}
	if gotDone.Result != "ok" {
		t.Fatalf("orphan recovery must not touch already-terminal rows, got result %q", gotDone.Result)
	}
}

func TestStore_SweepDeletesOldTerminalRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := contracts.OwnerFingerprint("owner-1")

	task, _, err := s.Create(ctx, contracts.RunOptions{Prompt: "a"}, owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetCompleted(ctx, task.ID, "ok", "", ""); err != nil {
		t.Fatalf("set completed: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE tasks SET completed_at = ? WHERE id = ?;`, time.Now().Add(-2*time.Hour), string(task.ID)); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	n, err := s.sweepTerminal(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row swept, got %d", n)
	}
	if _, err := s.Get(ctx, task.ID, owner); !isKind(err, contracts.KindTaskNotFound) {
		t.Fatalf("expected task to be gone after sweep, got %v", err)
	}
}

func isKind(err error, kind contracts.ErrorKind) bool {
	var ce *contracts.Error
	return errors.As(err, &ce) && ce.Kind == kind
}
