// Package contracts defines the core types, error taxonomy, and interfaces
// shared by every component of the dispatch engine.
package contracts

import "time"

// RunOptions is the input to the Runner and, transitively, to the Worker
// Pool's Submit.
type RunOptions struct {
	Prompt           string
	Model            string
	AllowedTools     []string
	WorkingDirectory string
	ResumeSessionID  string
	MaxTurns         int
	Stream           bool
	OnChunk          func(StreamChunk)
	Timeout          time.Duration
	Cancel           <-chan struct{}
}

// StreamChunkKind identifies the kind of streamed delta delivered to
// RunOptions.OnChunk.
type StreamChunkKind string

const (
	StreamChunkDelta StreamChunkKind = "delta"
	StreamChunkEnd   StreamChunkKind = "end"
)

// StreamChunk is a single unit of streamed output. Kind distinguishes an
// in-progress text delta from the terminal chunk of a stream.
type StreamChunk struct {
	Kind       StreamChunkKind
	Text       string
	StopReason string
}

// RunResult is the output of a successful Runner.Run.
type RunResult struct {
	Result            string
	UpstreamSessionID string
	RawOutput         string
	Model             string
}

// SessionID is an opaque, unpredictable external session identifier (a v4 UUID).
type SessionID string

// OwnerFingerprint is the SHA-256 digest of a caller's credential. Raw
// credentials are never stored alongside it.
type OwnerFingerprint string

// Session is the persisted mapping from an external session ID to the
// upstream (CLI-native) session token that resumes it.
type Session struct {
	ID                SessionID
	UpstreamSessionID string
	OwnerFingerprint  OwnerFingerprint
	CreatedAt         time.Time
	LastAccessedAt    time.Time
}

// TaskID identifies a persisted background job.
type TaskID string

// TaskStatus is the lifecycle state of a background Task.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Standard failure reasons recorded on a terminal Task. A reason of the form
// "error:<msg>" carries an ad hoc message for kinds not covered here.
const (
	FailureReasonCancelled     = "cancelled"
	FailureReasonTimeout       = "timeout"
	FailureReasonServerRestart = "server_restart"
)

// Task is a persisted record of a long-running background job submitted
// through the Worker Pool out-of-band from the request/response cycle.
type Task struct {
	ID                TaskID
	OwnerFingerprint  OwnerFingerprint
	Status            TaskStatus
	Options           RunOptions
	Result            string
	UpstreamSessionID string
	FailureReason     string
	CreatedAt         time.Time
	StartedAt         time.Time
	CompletedAt       time.Time
	DurationMillis    int64
}

// CancelHandle is the cooperative cancellation handle threaded through a
// submission: the Worker Pool, the Runner, and the Task Store all observe
// the same channel closing.
type CancelHandle = <-chan struct{}

// ReqID is an opaque identifier used for log correlation across a
// submission's suspension points.
type ReqID string

// PoolStats is the introspection snapshot returned by Pool.Stats.
type PoolStats struct {
	Outstanding  int
	Running      int
	Concurrency  int
	MaxQueueSize int
	Paused       bool
}

// SessionStats is the introspection snapshot returned by SessionStore.Stats.
type SessionStats struct {
	TotalSessions int
	OldestCreated time.Time
}
