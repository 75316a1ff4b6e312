// Package audit logs terminal lifecycle events — task completion, orphan
// recovery, session deletion — at a fixed, greppable severity distinct from
// the component's own routine debug logging.
package audit

import (
	"context"
	"log/slog"
)

// Event logs an audit-worthy state transition. attrs are alternating
// key/value pairs passed straight through to slog.
func Event(ctx context.Context, log *slog.Logger, event string, attrs ...any) {
	log.InfoContext(ctx, event, append([]any{"audit", true}, attrs...)...)
}
