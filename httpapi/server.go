package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/anthropics/claude-cli-gateway/contracts"
	"github.com/anthropics/claude-cli-gateway/internal/task"
)

// Server is the reference HTTP binding over the Core API (spec §6,
// SPEC_FULL §5). Grounded on the teacher's api/server.go route table and
// timeout defaults.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	pool       contracts.Pool
}

// writeTimeoutSlack is added on top of the Worker Pool's request+queue
// timeout sum so a submission whose queue wait and execution stay within
// those timeouts can still write its response before the HTTP server cuts
// the connection.
const writeTimeoutSlack = 15 * time.Second

// NewServer builds a Server listening on addr. writeTimeout is the Worker
// Pool's request+queue timeout sum (spec §4.2, §6), since POST /v1/runs
// blocks on pool.Submit for the whole call; NewServer adds
// writeTimeoutSlack on top of it. A non-positive writeTimeout falls back
// to a flat 30s.
func NewServer(addr string, writeTimeout time.Duration, pool contracts.Pool, sessions contracts.SessionStore, tasks contracts.TaskStore, executor *task.Executor, cfg RunnerDefaults) *Server {
	handlers := NewHandlers(pool, sessions, tasks, executor, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/runs", handlers.HandleSubmitRun)
	mux.HandleFunc("GET /v1/sessions", handlers.HandleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", handlers.HandleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", handlers.HandleDeleteSession)
	mux.HandleFunc("POST /v1/tasks", handlers.HandleCreateTask)
	mux.HandleFunc("GET /v1/tasks/{id}", handlers.HandleGetTask)
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", handlers.HandleCancelTask)

	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	} else {
		writeTimeout += writeTimeoutSlack
	}

	return &Server{
		handlers: handlers,
		pool:     pool,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: writeTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// ListenAndServe blocks until the server is stopped or an error occurs.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains the Worker Pool and then shuts down the HTTP server
// within ctx's deadline, matching the teacher's graceful-shutdown shape.
// It returns the number of queued submissions the pool discarded.
func (s *Server) Shutdown(ctx context.Context) (int, error) {
	discarded := s.pool.Shutdown()
	return discarded, s.httpServer.Shutdown(ctx)
}
