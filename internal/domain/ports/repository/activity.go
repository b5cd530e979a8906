package repository

import "context"

// ActivityLogRepository records one human-readable audit line per rule or
// grant mutation. Writes are fire-and-forget from the engine's perspective:
// callers log failures and move on.
type ActivityLogRepository interface {
	Record(ctx context.Context, tx Tx, actor, action, subject, detail string) error
}
