package httpapi

import (
	"time"

	"github.com/anthropics/claude-cli-gateway/contracts"
)

// RunRequest is the wire shape of POST /v1/runs, mapping directly onto
// contracts.RunOptions (spec §6's Core API surface).
type RunRequest struct {
	Prompt           string   `json:"prompt"`
	Model            string   `json:"model,omitempty"`
	AllowedTools     []string `json:"allowedTools,omitempty"`
	WorkingDirectory string   `json:"workingDirectory,omitempty"`
	SessionID        string   `json:"sessionId,omitempty"`
	MaxTurns         int      `json:"maxTurns,omitempty"`
}

// RunResponse is the wire shape of a successful run.
type RunResponse struct {
	Result    string `json:"result"`
	SessionID string `json:"sessionId,omitempty"`
}

// SessionResponse is the wire shape of a Session, omitting the upstream
// token (spec §4.3: never returned to callers).
type SessionResponse struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

func sessionResponse(s contracts.Session) SessionResponse {
	return SessionResponse{ID: string(s.ID), CreatedAt: s.CreatedAt, LastAccessedAt: s.LastAccessedAt}
}

// TaskResponse is the wire shape of a Task.
type TaskResponse struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	Result            string    `json:"result,omitempty"`
	FailureReason     string    `json:"failureReason,omitempty"`
	SessionID         string    `json:"sessionId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	StartedAt         time.Time `json:"startedAt,omitempty"`
	CompletedAt       time.Time `json:"completedAt,omitempty"`
	DurationMillis    int64     `json:"durationMillis,omitempty"`
}

func taskResponse(t contracts.Task) TaskResponse {
	return TaskResponse{
		ID:             string(t.ID),
		Status:         string(t.Status),
		Result:         t.Result,
		FailureReason:  t.FailureReason,
		SessionID:      t.Options.ResumeSessionID,
		CreatedAt:      t.CreatedAt,
		StartedAt:      t.StartedAt,
		CompletedAt:    t.CompletedAt,
		DurationMillis: t.DurationMillis,
	}
}

// ErrorDTO is the wire shape of an error response.
type ErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// runOptionsFromRequest maps the wire request onto RunOptions, falling
// back to defaults.Model/defaults.WorkspaceDir when the request omits
// them (spec §6: "applied when the request omits them").
func runOptionsFromRequest(req RunRequest, defaults RunnerDefaults) contracts.RunOptions {
	model := req.Model
	if model == "" {
		model = defaults.Model
	}
	workdir := req.WorkingDirectory
	if workdir == "" {
		workdir = defaults.WorkspaceDir
	}
	return contracts.RunOptions{
		Prompt:           req.Prompt,
		Model:            model,
		AllowedTools:     req.AllowedTools,
		WorkingDirectory: workdir,
		ResumeSessionID:  req.SessionID,
		MaxTurns:         req.MaxTurns,
	}
}
