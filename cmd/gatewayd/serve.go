package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anthropics/claude-cli-gateway/config"
	"github.com/anthropics/claude-cli-gateway/httpapi"
	"github.com/anthropics/claude-cli-gateway/internal/gwlog"
	"github.com/anthropics/claude-cli-gateway/internal/pool"
	"github.com/anthropics/claude-cli-gateway/internal/runner"
	"github.com/anthropics/claude-cli-gateway/internal/session"
	"github.com/anthropics/claude-cli-gateway/internal/task"
)

// shutdownGrace bounds how long the HTTP server's Shutdown waits for open
// connections after a SIGINT/SIGTERM, once the Worker Pool has drained.
const shutdownGrace = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "load config and run the gateway's HTTP surface",
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return err
	}

	log := gwlog.New(flagVerbose)
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := runner.New(cfg.Runner.CLIPath)
	p := pool.New(r, pool.Config{
		Concurrency:    cfg.Pool.WorkerConcurrency,
		MaxQueueSize:   cfg.Pool.MaxQueueSize,
		RequestTimeout: cfg.Pool.RequestTimeout(),
		QueueTimeout:   cfg.Pool.QueueTimeout(),
	}, log)

	sessions, err := session.Open(session.Config{Path: cfg.Storage.DBPath, MaxSessionsPerKey: cfg.Session.MaxSessionsPerKey}, log)
	if err != nil {
		return err
	}
	defer sessions.Close()

	tasks, err := task.Open(task.Config{Path: cfg.Storage.DBPath}, log)
	if err != nil {
		return err
	}
	defer tasks.Close()

	recovered, err := tasks.MarkOrphanedFailed(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		log.InfoContext(ctx, "recovered orphaned tasks", "count", recovered)
	}

	executor := task.NewExecutor(tasks, sessions, p, log)
	writeTimeout := cfg.Pool.RequestTimeout() + cfg.Pool.QueueTimeout()
	defaults := httpapi.RunnerDefaults{Model: cfg.Runner.DefaultModel, WorkspaceDir: cfg.Runner.DefaultWorkspaceDir}
	server := httpapi.NewServer(cfg.Server.Addr, writeTimeout, p, sessions, tasks, executor, defaults)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(ctx, "gatewayd listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sessions.RunSweep(ctx, cfg.Session.CleanupInterval(), cfg.Session.TTL())
		return nil
	})
	g.Go(func() error {
		tasks.RunSweep(ctx, cfg.Session.CleanupInterval())
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		discarded, err := server.Shutdown(shutdownCtx)
		log.InfoContext(ctx, "gatewayd shutting down", "discardedWaiters", discarded)
		return err
	})

	return g.Wait()
}
