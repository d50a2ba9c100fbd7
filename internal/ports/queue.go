package ports

import "context"

// JobQueue hands admitted job ids from the API to the orchestration worker.
type JobQueue interface {
	// Push enqueues a job id for tracking.
	Push(ctx context.Context, jobID string) error
	// Pop blocks until a job id is available or the context is cancelled.
	// An empty id with nil error means a benign wakeup; callers loop.
	Pop(ctx context.Context) (string, error)
}
