package task

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/claude-cli-gateway/internal/audit"
)

// terminalRetention is how long a completed or failed task row is kept
// around for callers to poll before the sweep deletes it (spec §4.4).
const terminalRetention = time.Hour

// RunSweep loops until ctx is done, deleting terminal task rows older than
// terminalRetention every interval.
func (s *Store) RunSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sweepTerminal(ctx)
			if err != nil {
				s.log.ErrorContext(ctx, "task sweep failed", "error", err)
				continue
			}
			if n > 0 {
				audit.Event(ctx, s.log, "task.sweep", "expired", n)
			}
		}
	}
}

func (s *Store) sweepTerminal(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-terminalRetention)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN ('completed', 'failed') AND completed_at < ?;
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("task store: sweep terminal: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
