package pool

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/anthropics/claude-cli-gateway/contracts"
)

// maxAttempts is the total number of admitAndRun attempts a non-streaming
// submission gets, including the first (spec §4.2: "up to 3 attempts total").
const maxAttempts = 3

// newRetryBackOff builds the inter-attempt sleep schedule of spec §4.2.
// backoff.ExponentialBackOff with InitialInterval=1s, Multiplier=2,
// RandomizationFactor=0.15 reproduces [1000, 2000, 4000]ms ±15% exactly.
// The constructor has already reset the current interval to its own 500ms
// default, so Reset is called again once InitialInterval is set.
func newRetryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0.15
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// submitWithRetry wraps admitAndRun with spec §4.2's retry policy: retry
// iff the error is retryable (contracts.Retryable), checking the
// cancellation handle before each attempt and during each backoff sleep.
func (p *Pool) submitWithRetry(ctx context.Context, opts contracts.RunOptions, reqID contracts.ReqID) (contracts.RunResult, error) {
	b := newRetryBackOff()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := canceled(opts.Cancel); err != nil {
			return contracts.RunResult{}, err
		}

		result, err := p.admitAndRun(ctx, opts, reqID)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == maxAttempts || !contracts.Retryable(err) {
			return contracts.RunResult{}, err
		}

		delay := b.NextBackOff()
		p.log.WarnContext(ctx, "retrying submission after transient failure", "reqID", reqID, "attempt", attempt, "delay", delay, "error", err)
		if err := sleepOrCancel(delay, opts.Cancel); err != nil {
			return contracts.RunResult{}, err
		}
	}
	return contracts.RunResult{}, lastErr
}

// sleepOrCancel blocks for d unless cancel fires first, in which case it
// returns an aborted cli_error without waiting out the remainder of d.
func sleepOrCancel(d time.Duration, cancel contracts.CancelHandle) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-cancel:
		return contracts.Aborted("cancelled during retry backoff")
	}
}
