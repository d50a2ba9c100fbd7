package ports

import (
	"context"

	"postaty/internal/models"
)

// JobStore persists render jobs. Mutating operations are called only by the
// orchestration core (single writer per job); the terminal marks report
// whether this call won the transition so crash-recovery replays stay safe.
type JobStore interface {
	Create(ctx context.Context, job *models.RenderJob) error
	Get(ctx context.Context, jobID string) (*models.RenderJob, error)
	GetOwned(ctx context.Context, ownerID, jobID string) (*models.RenderJob, error)
	ListByOwner(ctx context.Context, ownerID string, status models.JobStatus, limit int) ([]models.RenderJob, error)

	// ListUnsettled returns ids of all jobs that still need work: jobs not
	// yet terminal, plus terminal jobs whose ledger/notification settlement
	// has not been confirmed. Used to resume tracking after a restart.
	ListUnsettled(ctx context.Context) ([]string, error)

	MarkDispatched(ctx context.Context, jobID, trackingHandle, resourceLocator string, retryCount int) error
	MarkRendering(ctx context.Context, jobID string) error
	UpdateProgress(ctx context.Context, jobID string, progress float64) error
	MarkFinalizing(ctx context.Context, jobID, outputKey string) error

	MarkComplete(ctx context.Context, jobID, outputURL string) (won bool, err error)
	MarkFailed(ctx context.Context, jobID, failureCode, errText string) (won bool, err error)
	MarkCancelled(ctx context.Context, jobID string) (won bool, err error)

	// MarkSettled records that ledger reconciliation and notification
	// emission ran for this terminal job.
	MarkSettled(ctx context.Context, jobID string) error

	// RequestCancel sets the cooperative cancellation flag. It fails with a
	// conflict if the job is already terminal.
	RequestCancel(ctx context.Context, ownerID, jobID string) error
}
