package session

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/claude-cli-gateway/internal/audit"
	"github.com/anthropics/claude-cli-gateway/contracts"
)

// RunSweep loops until ctx is done, deleting sessions whose lastAccessedAt
// has aged past ttl every interval, and purging any in-memory lock held
// for a deleted session (spec §4.3 "TTL sweep").
func (s *Store) RunSweep(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sweepExpired(ctx, ttl)
			if err != nil {
				s.log.ErrorContext(ctx, "session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				audit.Event(ctx, s.log, "session.sweep", "expired", n)
			}
		}
	}
}

func (s *Store) sweepExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE last_accessed_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session sweep: select expired: %w", err)
	}
	var expired []contracts.SessionID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("session sweep: scan expired: %w", err)
		}
		expired = append(expired, contracts.SessionID(id))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	if len(expired) == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_accessed_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session sweep: delete expired: %w", err)
	}
	n, _ := res.RowsAffected()

	for _, id := range expired {
		s.locks.purge(id)
	}
	return int(n), nil
}
