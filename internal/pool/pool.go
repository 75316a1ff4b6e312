// Package pool implements the bounded-concurrency admission queue in front
// of the CLI runner: at most concurrency executions run at once and at most
// maxQueueSize submissions wait behind them (spec §4.2). A waiter whose
// queue wait exceeds queueTimeout when it is picked up fails without
// running, and each execution is bounded by requestTimeout. No separate
// timer enforces a combined requestTimeout+queueTimeout ceiling: a waiter
// still blocked for a concurrency slot is not interrupted by it.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anthropics/claude-cli-gateway/contracts"
)

// Pool is the Worker Pool of spec §4.2. It gates contracts.Runner.Run calls
// behind a bounded-concurrency admission queue, grounded on the bounded
// errgroup.Group pattern from CZERTAINLY-Seeker's internal/parallel/map.go
// (errgroup.SetLimit as the concurrency gate, rather than a hand-rolled
// semaphore) and generalized from DAG task nodes to single CLI submissions.
type Pool struct {
	runner         contracts.Runner
	concurrency    int
	maxQueueSize   int
	requestTimeout time.Duration
	queueTimeout   time.Duration
	log            *slog.Logger

	g *errgroup.Group

	mu        sync.Mutex
	outstanding int
	running     int
	shutting    bool

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	shutdownDone chan struct{}
	discarded    int
}

// Config bundles the pool's tunables (spec §6 Config fields).
type Config struct {
	Concurrency    int
	MaxQueueSize   int
	RequestTimeout time.Duration
	QueueTimeout   time.Duration
}

// New builds a Pool that dispatches through runner.
func New(runner contracts.Runner, cfg Config, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	g := &errgroup.Group{}
	g.SetLimit(cfg.Concurrency)
	return &Pool{
		runner:         runner,
		concurrency:    cfg.Concurrency,
		maxQueueSize:   cfg.MaxQueueSize,
		requestTimeout: cfg.RequestTimeout,
		queueTimeout:   cfg.QueueTimeout,
		log:            log,
		g:              g,
		shutdownCh:     make(chan struct{}),
		shutdownDone:   make(chan struct{}),
	}
}

// Submit is the pool's single external entry point: non-streaming
// submissions are retried per spec §4.2, streaming submissions bypass
// retry and fail fast.
func (p *Pool) Submit(ctx context.Context, opts contracts.RunOptions, reqID contracts.ReqID) (contracts.RunResult, error) {
	if opts.Stream {
		return p.admitAndRun(ctx, opts, reqID)
	}
	return p.submitWithRetry(ctx, opts, reqID)
}

// admitAndRun performs one admission+scheduling+execution attempt: it
// enforces the maxQueueSize bound, blocks for a concurrency slot behind
// p.g's limit, then (having been "picked up") checks the queue wait time
// before invoking the runner with opts.timeout = requestTimeout.
func (p *Pool) admitAndRun(ctx context.Context, opts contracts.RunOptions, reqID contracts.ReqID) (contracts.RunResult, error) {
	if err := canceled(opts.Cancel); err != nil {
		return contracts.RunResult{}, err
	}

	p.mu.Lock()
	if p.shutting {
		p.mu.Unlock()
		return contracts.RunResult{}, contracts.Aborted("shutdown")
	}
	// maxQueueSize bounds waiters only: a submission is admitted whenever
	// fewer than maxQueueSize submissions are queued behind the
	// concurrency limit, regardless of how many are currently running.
	if waiting := p.outstanding - p.running; waiting >= p.maxQueueSize {
		p.mu.Unlock()
		return contracts.RunResult{}, contracts.NewQueueFullError(fmt.Sprintf("pool has %d waiters, at capacity %d", waiting, p.maxQueueSize))
	}
	p.outstanding++
	p.mu.Unlock()

	enqueuedAt := time.Now()
	defer func() {
		p.mu.Lock()
		p.outstanding--
		p.mu.Unlock()
	}()

	type outcome struct {
		result contracts.RunResult
		err    error
	}
	done := make(chan outcome, 1)

	p.g.Go(func() error {
		select {
		case <-p.shutdownCh:
			done <- outcome{err: contracts.Aborted("shutdown")}
			return nil
		default:
		}
		if err := canceled(opts.Cancel); err != nil {
			done <- outcome{err: err}
			return nil
		}
		if waited := time.Since(enqueuedAt); waited > p.queueTimeout {
			done <- outcome{err: contracts.NewQueueTimeoutError(fmt.Sprintf("queued %s, exceeded queueTimeout of %s", waited.Round(time.Millisecond), p.queueTimeout))}
			return nil
		}

		p.mu.Lock()
		p.running++
		p.mu.Unlock()
		defer func() {
			p.mu.Lock()
			p.running--
			p.mu.Unlock()
		}()

		runCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
		runOpts := opts
		runOpts.Timeout = p.requestTimeout
		result, err := p.runner.Run(runCtx, runOpts, p.log.With("reqID", reqID))
		done <- outcome{result: result, err: err}
		return nil
	})

	select {
	case o := <-done:
		return o.result, o.err
	case <-opts.Cancel:
		return contracts.RunResult{}, contracts.Aborted("client_disconnect")
	}
}

// Stats returns the introspection snapshot of spec §4.2.
func (p *Pool) Stats() contracts.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return contracts.PoolStats{
		Outstanding:  p.outstanding,
		Running:      p.running,
		Concurrency:  p.concurrency,
		MaxQueueSize: p.maxQueueSize,
		Paused:       p.shutting,
	}
}

// Healthy reports whether outstanding submissions (running + waiting) are
// below 90% of maxQueueSize.
func (p *Pool) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.outstanding) < 0.9*float64(p.maxQueueSize)
}

// Shutdown stops admitting new work, discards waiters that have not yet
// started executing, and blocks until every in-flight executor has
// returned. It is idempotent: concurrent or repeated calls all observe the
// same discarded count and return only once the drain is complete.
func (p *Pool) Shutdown() int {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.shutting = true
		p.discarded = p.outstanding - p.running
		p.mu.Unlock()

		close(p.shutdownCh)
		_ = p.g.Wait()
		close(p.shutdownDone)
	})
	<-p.shutdownDone
	return p.discarded
}

func canceled(cancel contracts.CancelHandle) error {
	if cancel == nil {
		return nil
	}
	select {
	case <-cancel:
		return contracts.Aborted("cancelled before start")
	default:
		return nil
	}
}
