package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/anthropics/claude-cli-gateway/contracts"
	"github.com/anthropics/claude-cli-gateway/internal/task"
)

// maxRequestBodySize caps incoming request bodies, matching the teacher's
// api/handlers.go io.LimitReader guard.
const maxRequestBodySize = 4 * 1024 * 1024

// RunnerDefaults carries the defaults spec §6 says are "applied when a
// request omits them": defaultModel and defaultWorkspaceDir. Kept as a
// small local type rather than importing the config package directly, so
// this reference binding only depends on the values it actually needs.
type RunnerDefaults struct {
	Model        string
	WorkspaceDir string
}

// Handlers implements the Core API of spec §6 as plain JSON endpoints. It
// is a thin reference binding, not one of the three out-of-scope protocol
// surfaces: no auth, no per-protocol rendering.
type Handlers struct {
	pool     contracts.Pool
	sessions contracts.SessionStore
	tasks    contracts.TaskStore
	executor *task.Executor
	defaults RunnerDefaults
}

// NewHandlers builds the Handlers over the core's collaborators.
func NewHandlers(pool contracts.Pool, sessions contracts.SessionStore, tasks contracts.TaskStore, executor *task.Executor, defaults RunnerDefaults) *Handlers {
	return &Handlers{pool: pool, sessions: sessions, tasks: tasks, executor: executor, defaults: defaults}
}

// HandleSubmitRun handles POST /v1/runs: a synchronous submission through
// the Worker Pool (spec §1 dataflow).
func (h *Handlers) HandleSubmitRun(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFingerprint(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	req, err := decodeBody[RunRequest](r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if req.Prompt == "" {
		WriteError(w, contracts.NewInvalidRequestError("prompt must not be empty"))
		return
	}

	opts := runOptionsFromRequest(req, h.defaults)

	var release func()
	if opts.ResumeSessionID != "" {
		sess, err := h.sessions.Get(r.Context(), contracts.SessionID(opts.ResumeSessionID), owner)
		if err != nil {
			WriteError(w, err)
			return
		}
		release, err = h.sessions.Acquire(r.Context(), sess.ID)
		if err != nil {
			WriteError(w, err)
			return
		}
		defer release()
		opts.ResumeSessionID = sess.UpstreamSessionID
	}

	result, err := h.pool.Submit(r.Context(), opts, contracts.ReqID(uuid.NewString()))
	if err != nil {
		WriteError(w, err)
		return
	}

	resp := RunResponse{Result: result.Result}
	if result.UpstreamSessionID != "" {
		sess, err := h.sessions.Create(r.Context(), result.UpstreamSessionID, owner)
		if err == nil {
			resp.SessionID = string(sess.ID)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp)
}

// HandleGetSession handles GET /v1/sessions/{id}.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFingerprint(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	sess, err := h.sessions.Get(r.Context(), contracts.SessionID(r.PathValue("id")), owner)
	if err != nil {
		WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, sessionResponse(sess))
}

// HandleDeleteSession handles DELETE /v1/sessions/{id}.
func (h *Handlers) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFingerprint(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := h.sessions.Delete(r.Context(), contracts.SessionID(r.PathValue("id")), owner); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListSessions handles GET /v1/sessions.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFingerprint(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	list, err := h.sessions.List(r.Context(), owner)
	if err != nil {
		WriteError(w, err)
		return
	}
	resp := make([]SessionResponse, len(list))
	for i, s := range list {
		resp[i] = sessionResponse(s)
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp)
}

// HandleCreateTask handles POST /v1/tasks: an asynchronous submission
// tracked by the Task Store and run in the background (spec §4.4).
func (h *Handlers) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFingerprint(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	req, err := decodeBody[RunRequest](r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if req.Prompt == "" {
		WriteError(w, contracts.NewInvalidRequestError("prompt must not be empty"))
		return
	}

	opts := runOptionsFromRequest(req, h.defaults)
	t, cancel, err := h.tasks.Create(r.Context(), opts, owner)
	if err != nil {
		WriteError(w, err)
		return
	}

	// The task must outlive this request, so its executor runs detached
	// from r.Context()'s cancellation while keeping its values.
	go h.executor.Run(context.WithoutCancel(r.Context()), t, cancel, contracts.ReqID(uuid.NewString()))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, taskResponse(t))
}

// HandleGetTask handles GET /v1/tasks/{id}.
func (h *Handlers) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFingerprint(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	t, err := h.tasks.Get(r.Context(), contracts.TaskID(r.PathValue("id")), owner)
	if err != nil {
		WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, taskResponse(t))
}

// HandleCancelTask handles POST /v1/tasks/{id}/cancel.
func (h *Handlers) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	ok, err := h.tasks.Cancel(r.Context(), contracts.TaskID(r.PathValue("id")))
	if err != nil {
		WriteError(w, err)
		return
	}
	if !ok {
		WriteError(w, contracts.NewTaskNotFoundError(fmt.Sprintf("task %s not found or already terminal", r.PathValue("id"))))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody[T any](r *http.Request) (T, error) {
	var zero T
	limited := io.LimitReader(r.Body, maxRequestBodySize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return zero, contracts.NewInvalidRequestError("failed to read request body")
	}
	if len(body) > maxRequestBodySize {
		return zero, contracts.NewInvalidRequestError("request body too large")
	}
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return zero, contracts.NewInvalidRequestError("invalid JSON: " + err.Error())
	}
	return v, nil
}

// ownerFingerprint derives the SHA-256 digest of the caller's credential
// (spec §4.3's ownerFingerprint). This reference surface performs no
// authentication of the credential's validity, only fingerprinting, per
// spec.md's Non-goals and SPEC_FULL §5.
func ownerFingerprint(r *http.Request) (contracts.OwnerFingerprint, error) {
	cred := r.Header.Get("Authorization")
	if cred == "" {
		cred = r.Header.Get("X-API-Key")
	}
	if cred == "" {
		return "", contracts.NewAuthError("missing credential")
	}
	sum := sha256.Sum256([]byte(cred))
	return contracts.OwnerFingerprint(hex.EncodeToString(sum[:])), nil
}
