package task

import (
	"context"
	"log/slog"

	"github.com/anthropics/claude-cli-gateway/contracts"
)

// Executor runs a background task end to end: resolve its session (if
// any), submit to the Worker Pool, and record the outcome. It is the glue
// spec §4.4 "Execution" describes, kept out of Store itself so the store
// stays a plain persistence boundary.
type Executor struct {
	tasks    contracts.TaskStore
	sessions contracts.SessionStore
	pool     contracts.Pool
	log      *slog.Logger
}

// NewExecutor builds an Executor over the given collaborators.
func NewExecutor(tasks contracts.TaskStore, sessions contracts.SessionStore, pool contracts.Pool, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{tasks: tasks, sessions: sessions, pool: pool, log: log}
}

// Run executes one task's body in the caller's goroutine: it is meant to
// be launched with `go executor.Run(...)` by whatever created the task.
func (e *Executor) Run(ctx context.Context, t contracts.Task, cancel contracts.CancelHandle, reqID contracts.ReqID) {
	opts := t.Options
	opts.Cancel = cancel

	if opts.ResumeSessionID != "" {
		sess, err := e.sessions.Get(ctx, contracts.SessionID(opts.ResumeSessionID), t.OwnerFingerprint)
		if err != nil {
			e.log.WarnContext(ctx, "background task's session lookup failed", "taskID", string(t.ID), "error", err)
			if setErr := e.tasks.SetFailed(ctx, t.ID, "error:"+err.Error()); setErr != nil {
				e.log.ErrorContext(ctx, "failed to record task failure", "taskID", string(t.ID), "error", setErr)
			}
			return
		}
		opts.ResumeSessionID = sess.UpstreamSessionID
		_ = e.sessions.Touch(ctx, sess.ID)
	}

	result, err := e.pool.Submit(ctx, opts, reqID)
	select {
	case <-cancel:
		// Cancel() already recorded the terminal state; exit silently
		// per spec §4.4.
		return
	default:
	}

	if err != nil {
		e.log.WarnContext(ctx, "background task failed", "taskID", string(t.ID), "error", err)
		if setErr := e.tasks.SetFailed(ctx, t.ID, "error:"+err.Error()); setErr != nil {
			e.log.ErrorContext(ctx, "failed to record task failure", "taskID", string(t.ID), "error", setErr)
		}
		return
	}

	var newSessionID string
	if result.UpstreamSessionID != "" && opts.ResumeSessionID == "" {
		sess, createErr := e.sessions.Create(ctx, result.UpstreamSessionID, t.OwnerFingerprint)
		if createErr != nil {
			e.log.WarnContext(ctx, "failed to persist new session for background task", "taskID", string(t.ID), "error", createErr)
		} else {
			newSessionID = string(sess.ID)
		}
	}

	if setErr := e.tasks.SetCompleted(ctx, t.ID, result.Result, newSessionID, result.UpstreamSessionID); setErr != nil {
		e.log.ErrorContext(ctx, "failed to record task completion", "taskID", string(t.ID), "error", setErr)
	}
}
