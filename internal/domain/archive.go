package domain

import "context"

// ResultArchive is an optional persistent sink for terminal task results. The
// runtime writes to it best-effort; the read side serves the client-facing
// HTTP surface.
type ResultArchive interface {
	Ping(ctx context.Context) error
	InsertResult(ctx context.Context, result *TaskResult) error
	GetResultByTaskID(ctx context.Context, taskID string) (*TaskResult, error)
	GetRecentResults(ctx context.Context, limit int32) ([]*TaskResult, error)
}
