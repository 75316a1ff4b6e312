package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/anthropics/claude-cli-gateway/contracts"
	"github.com/anthropics/claude-cli-gateway/internal/session"
	"github.com/anthropics/claude-cli-gateway/internal/task"
)

type fakePool struct {
	result    contracts.RunResult
	err       error
	submitted contracts.RunOptions
}

func (p *fakePool) Submit(ctx context.Context, opts contracts.RunOptions, reqID contracts.ReqID) (contracts.RunResult, error) {
	p.submitted = opts
	return p.result, p.err
}
func (p *fakePool) Stats() contracts.PoolStats { return contracts.PoolStats{} }
func (p *fakePool) Healthy() bool              { return true }
func (p *fakePool) Shutdown() int              { return 0 }

func newTestServer(t *testing.T, pool contracts.Pool) (*Server, *session.Store, *task.Store) {
	t.Helper()
	sessions, err := session.Open(session.Config{Path: filepath.Join(t.TempDir(), "sessions.db"), MaxSessionsPerKey: 10}, nil)
	if err != nil {
		t.Fatalf("open sessions: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })

	tasks, err := task.Open(task.Config{Path: filepath.Join(t.TempDir(), "tasks.db")}, nil)
	if err != nil {
		t.Fatalf("open tasks: %v", err)
	}
	t.Cleanup(func() { _ = tasks.Close() })

	executor := task.NewExecutor(tasks, sessions, pool, nil)
	return NewServer("", 0, pool, sessions, tasks, executor, RunnerDefaults{}), sessions, tasks
}

func newTestServerWithDefaults(t *testing.T, pool contracts.Pool, defaults RunnerDefaults) (*Server, *session.Store, *task.Store) {
	t.Helper()
	sessions, err := session.Open(session.Config{Path: filepath.Join(t.TempDir(), "sessions.db"), MaxSessionsPerKey: 10}, nil)
	if err != nil {
		t.Fatalf("open sessions: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })

	tasks, err := task.Open(task.Config{Path: filepath.Join(t.TempDir(), "tasks.db")}, nil)
	if err != nil {
		t.Fatalf("open tasks: %v", err)
	}
	t.Cleanup(func() { _ = tasks.Close() })

	executor := task.NewExecutor(tasks, sessions, pool, nil)
	return NewServer("", 0, pool, sessions, tasks, executor, defaults), sessions, tasks
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer test-credential")
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleSubmitRun_HappyPath(t *testing.T) {
	pool := &fakePool{result: contracts.RunResult{Result: "hello", UpstreamSessionID: "upstream-1"}}
	s, _, _ := newTestServer(t, pool)

	rec := doRequest(t, s, "POST", "/v1/runs", RunRequest{Prompt: "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Result != "hello" {
		t.Fatalf("unexpected result: %q", resp.Result)
	}
	if resp.SessionID == "" {
		t.Fatal("expected a session to be created for the returned upstream token")
	}
}

func TestHandleSubmitRun_MissingPrompt(t *testing.T) {
	s, _, _ := newTestServer(t, &fakePool{})
	rec := doRequest(t, s, "POST", "/v1/runs", RunRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleSubmitRun_MissingCredential(t *testing.T) {
	s, _, _ := newTestServer(t, &fakePool{})
	req := httptest.NewRequest("POST", "/v1/runs", bytes.NewReader([]byte(`{"prompt":"hi"}`)))
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleGetSession_NotFound(t *testing.T) {
	s, _, _ := newTestServer(t, &fakePool{})
	rec := doRequest(t, s, "GET", "/v1/sessions/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleCreateTask_AndGet(t *testing.T) {
	pool := &fakePool{result: contracts.RunResult{Result: "done"}}
	s, _, _ := newTestServer(t, pool)

	rec := doRequest(t, s, "POST", "/v1/tasks", RunRequest{Prompt: "background work"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created TaskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Status != string(contracts.TaskRunning) {
		t.Fatalf("expected running, got %q", created.Status)
	}

	rec = doRequest(t, s, "GET", "/v1/tasks/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleCancelTask_UnknownNotFound(t *testing.T) {
	s, _, _ := newTestServer(t, &fakePool{})
	rec := doRequest(t, s, "POST", "/v1/tasks/does-not-exist/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleSubmitRun_AppliesRunnerDefaultsWhenOmitted(t *testing.T) {
	pool := &fakePool{result: contracts.RunResult{Result: "hello"}}
	defaults := RunnerDefaults{Model: "claude-default", WorkspaceDir: "/srv/default-workspace"}
	s, _, _ := newTestServerWithDefaults(t, pool, defaults)

	rec := doRequest(t, s, "POST", "/v1/runs", RunRequest{Prompt: "hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if pool.submitted.Model != defaults.Model {
		t.Fatalf("expected default model %q, got %q", defaults.Model, pool.submitted.Model)
	}
	if pool.submitted.WorkingDirectory != defaults.WorkspaceDir {
		t.Fatalf("expected default workspace %q, got %q", defaults.WorkspaceDir, pool.submitted.WorkingDirectory)
	}
}

func TestHandleSubmitRun_RequestOverridesRunnerDefaults(t *testing.T) {
	pool := &fakePool{result: contracts.RunResult{Result: "hello"}}
	defaults := RunnerDefaults{Model: "claude-default", WorkspaceDir: "/srv/default-workspace"}
	s, _, _ := newTestServerWithDefaults(t, pool, defaults)

	rec := doRequest(t, s, "POST", "/v1/runs", RunRequest{Prompt: "hi", Model: "claude-explicit", WorkingDirectory: "/tmp/explicit"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if pool.submitted.Model != "claude-explicit" {
		t.Fatalf("expected explicit model to win, got %q", pool.submitted.Model)
	}
	if pool.submitted.WorkingDirectory != "/tmp/explicit" {
		t.Fatalf("expected explicit workspace to win, got %q", pool.submitted.WorkingDirectory)
	}
}
