package ports

import (
	"context"

	"postaty/internal/models"
)

// SubmitRequest is one render invocation covering the whole job. The fleet
// parallelizes over the partition plan internally; the core never addresses
// individual partitions after submission.
type SubmitRequest struct {
	JobID          string
	SourceAssetURL string
	ImageURLs      []string
	AudioURL       string
	OutputKind     string
	FPS            int
	Params         map[string]any
	Partitions     []models.FramePartition
	OutputKey      string
}

// Dispatch is the tracking handle the fleet returns for a submitted job.
type Dispatch struct {
	TrackingHandle  string
	ResourceLocator string
}

// PollStatus is the fleet's aggregate view of a running job.
type PollStatus struct {
	Done            bool
	Progress        float64
	OutputKey       string
	OutputSizeBytes int64
	// FatalError is non-empty when the fleet hit a non-retryable rendering
	// error. The job will not recover; polling should stop.
	FatalError string
}

// FleetClient invokes the external render fleet. Both calls carry timeouts;
// transport errors are transient and subject to the orchestrator's retry
// budgets.
type FleetClient interface {
	Submit(ctx context.Context, req SubmitRequest) (Dispatch, error)
	Poll(ctx context.Context, d Dispatch) (PollStatus, error)
}
