package models

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a render job.
type JobStatus string

// Render job status constants. Terminal states admit no further
// transitions.
const (
	// JobStatusQueued indicates the job is admitted and waiting for dispatch.
	JobStatusQueued JobStatus = "queued"
	// JobStatusDispatched indicates the fleet accepted the render invocation.
	JobStatusDispatched JobStatus = "dispatched"
	// JobStatusRendering indicates the fleet acknowledged execution start.
	JobStatusRendering JobStatus = "rendering"
	// JobStatusFinalizing indicates the rendered output is being committed
	// to durable storage.
	JobStatusFinalizing JobStatus = "finalizing"
	// JobStatusComplete indicates the output is stored and reachable.
	JobStatusComplete JobStatus = "complete"
	// JobStatusFailed indicates the job ended with an error.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the owner cancelled the job before it
	// finished.
	JobStatusCancelled JobStatus = "cancelled"
)

// jobTransitions encodes the allowed forward edges of the job state
// machine. Cancellation is handled separately: it is reachable from any
// non-terminal state.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusDispatched, JobStatusFailed},
	JobStatusDispatched: {JobStatusRendering, JobStatusFailed},
	JobStatusRendering:  {JobStatusFinalizing, JobStatusFailed},
	JobStatusFinalizing: {JobStatusComplete, JobStatusFailed},
}

// String returns the string representation of the job status.
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusComplete, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal edge of
// the state machine.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == JobStatusCancelled {
		return true
	}
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseJobStatus converts a string to a JobStatus.
func ParseJobStatus(str string) (JobStatus, error) {
	switch JobStatus(str) {
	case JobStatusQueued, JobStatusDispatched, JobStatusRendering,
		JobStatusFinalizing, JobStatusComplete, JobStatusFailed, JobStatusCancelled:
		return JobStatus(str), nil
	default:
		return "", fmt.Errorf("invalid job status: %s", str)
	}
}

// RenderJob is one rendering request and its tracked lifecycle. The spec is
// immutable after admission; all other mutable fields are written only by
// the orchestration core under the single-writer-per-job discipline.
type RenderJob struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	Spec            RenderSpec `json:"spec"`
	Status          JobStatus  `json:"status"`
	Progress        float64    `json:"progress"`
	RetryCount      int        `json:"retry_count"`
	Cost            int64      `json:"cost"`
	TrackingHandle  string     `json:"-"`
	ResourceLocator string     `json:"-"`
	OutputKey       string     `json:"-"`
	OutputURL       string     `json:"output_url,omitempty"`
	ErrorText       string     `json:"error,omitempty"`
	FailureCode     string     `json:"failure_code,omitempty"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	DispatchedAt    *time.Time `json:"dispatched_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}
