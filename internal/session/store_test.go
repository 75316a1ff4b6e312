package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/anthropics/claude-cli-gateway/contracts"
)

func newTestStore(t *testing.T, maxPerKey int) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "sessions.db"), MaxSessionsPerKey: maxPerKey}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CreateGetDelete(t *testing.T) {
	s := newTestStore(t, 5)
	ctx := context.Background()
	owner := contracts.OwnerFingerprint("owner-1")

	sess, err := s.Create(ctx, "upstream-token", owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected non-empty session ID")
	}

	got, err := s.Get(ctx, sess.ID, owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UpstreamSessionID != "upstream-token" {
		t.Fatalf("unexpected upstream token: %q", got.UpstreamSessionID)
	}

	if err := s.Delete(ctx, sess.ID, owner); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, sess.ID, owner); !isKind(err, contracts.KindSessionNotFound) {
		t.Fatalf("expected session_not_found after delete, got %v", err)
	}
}

func TestStore_GetWrongOwnerNotFound(t *testing.T) {
	s := newTestStore(t, 5)
	ctx := context.Background()

	sess, err := s.Create(ctx, "tok", contracts.OwnerFingerprint("owner-a"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Get(ctx, sess.ID, contracts.OwnerFingerprint("owner-b")); !isKind(err, contracts.KindSessionNotFound) {
		t.Fatalf("expected session_not_found for mismatched owner, got %v", err)
	}
}

func TestStore_QuotaEnforced(t *testing.T) {
	s := newTestStore(t, 2)
	ctx := context.Background()
	owner := contracts.OwnerFingerprint("owner-quota")

	if _, err := s.Create(ctx, "a", owner); err != nil {
		t.Fatalf("create 1: %v", err)
	}
	if _, err := s.Create(ctx, "b", owner); err != nil {
		t.Fatalf("create 2: %v", err)
	}
	if _, err := s.Create(ctx, "c", owner); !isKind(err, contracts.KindSessionLimit) {
		t.Fatalf("expected session_limit on third create, got %v", err)
	}
}

func TestStore_ListScopedToOwner(t *testing.T) {
	s := newTestStore(t, 5)
	ctx := context.Background()

	if _, err := s.Create(ctx, "a", contracts.OwnerFingerprint("owner-x")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, "b", contracts.OwnerFingerprint("owner-y")); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := s.List(ctx, contracts.OwnerFingerprint("owner-x"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 session for owner-x, got %d", len(list))
	}
}

func TestStore_TouchUpdatesLastAccessed(t *testing.T) {
	s := newTestStore(t, 5)
	ctx := context.Background()
	owner := contracts.OwnerFingerprint("owner-touch")

	sess, err := s.Create(ctx, "a", owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := s.Touch(ctx, sess.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := s.Get(ctx, sess.ID, owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.LastAccessedAt.After(sess.LastAccessedAt) {
		t.Fatalf("expected lastAccessedAt to advance: before=%v after=%v", sess.LastAccessedAt, got.LastAccessedAt)
	}
}

func TestStore_SweepDeletesExpired(t *testing.T) {
	s := newTestStore(t, 5)
	ctx := context.Background()
	owner := contracts.OwnerFingerprint("owner-sweep")

	sess, err := s.Create(ctx, "a", owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Force the row to look old without waiting out a real TTL.
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_accessed_at = ? WHERE id = ?;`, time.Now().Add(-time.Hour), string(sess.ID)); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	n, err := s.sweepExpired(ctx, time.Minute)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired row swept, got %d", n)
	}
	if _, err := s.Get(ctx, sess.ID, owner); !isKind(err, contracts.KindSessionNotFound) {
		t.Fatalf("expected session to be gone after sweep, got %v", err)
	}
}

func isKind(err error, kind contracts.ErrorKind) bool {
	var ce *contracts.Error
	return errors.As(err, &ce) && ce.Kind == kind
}
