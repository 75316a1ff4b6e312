package contracts

import (
	"context"
	"log/slog"
)

// Runner spawns and supervises one CLI invocation (spec §4.1).
type Runner interface {
	Run(ctx context.Context, opts RunOptions, log *slog.Logger) (RunResult, error)
}

// Pool is the bounded-concurrency admission queue and retry policy in front
// of a Runner (spec §4.2, §6).
type Pool interface {
	Submit(ctx context.Context, opts RunOptions, reqID ReqID) (RunResult, error)
	Stats() PoolStats
	Healthy() bool
	Shutdown() int
}

// SessionStore is owner-scoped CRUD over Session, plus per-session
// exclusive locking (spec §4.3, §6).
type SessionStore interface {
	Create(ctx context.Context, upstreamToken string, owner OwnerFingerprint) (Session, error)
	Get(ctx context.Context, id SessionID, owner OwnerFingerprint) (Session, error)
	Touch(ctx context.Context, id SessionID) error
	Delete(ctx context.Context, id SessionID, owner OwnerFingerprint) error
	List(ctx context.Context, owner OwnerFingerprint) ([]Session, error)
	Stats(ctx context.Context) (SessionStats, error)

	Acquire(ctx context.Context, id SessionID) (release func(), err error)
}

// TaskStore is the persisted record of background executions (spec §4.4, §6).
type TaskStore interface {
	Create(ctx context.Context, opts RunOptions, owner OwnerFingerprint) (Task, CancelHandle, error)
	Get(ctx context.Context, id TaskID, owner OwnerFingerprint) (Task, error)
	Cancel(ctx context.Context, id TaskID) (bool, error)
	SetCompleted(ctx context.Context, id TaskID, result string, sessionID string, upstreamSessionID string) error
	SetFailed(ctx context.Context, id TaskID, reason string) error
	MarkOrphanedFailed(ctx context.Context) (int, error)
}
