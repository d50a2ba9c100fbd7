package models

import "testing"

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusComplete, JobStatusFailed, JobStatusCancelled}
	active := []JobStatus{JobStatusQueued, JobStatusDispatched, JobStatusRendering, JobStatusFinalizing}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		{JobStatusQueued, JobStatusDispatched, true},
		{JobStatusDispatched, JobStatusRendering, true},
		{JobStatusRendering, JobStatusFinalizing, true},
		{JobStatusFinalizing, JobStatusComplete, true},

		// Failure is reachable from every active state.
		{JobStatusQueued, JobStatusFailed, true},
		{JobStatusDispatched, JobStatusFailed, true},
		{JobStatusRendering, JobStatusFailed, true},
		{JobStatusFinalizing, JobStatusFailed, true},

		// No skipping ahead.
		{JobStatusQueued, JobStatusRendering, false},
		{JobStatusQueued, JobStatusComplete, false},
		{JobStatusDispatched, JobStatusFinalizing, false},
		{JobStatusRendering, JobStatusComplete, false},

		// No going back.
		{JobStatusRendering, JobStatusDispatched, false},
		{JobStatusFinalizing, JobStatusRendering, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s: expected allowed=%v, got %v", tt.from, tt.to, tt.allowed, got)
		}
	}
}

func TestCancelReachableFromAnyNonTerminal(t *testing.T) {
	for _, s := range []JobStatus{JobStatusQueued, JobStatusDispatched, JobStatusRendering, JobStatusFinalizing} {
		if !s.CanTransitionTo(JobStatusCancelled) {
			t.Errorf("expected cancellation to be reachable from %s", s)
		}
	}
	for _, s := range []JobStatus{JobStatusComplete, JobStatusFailed, JobStatusCancelled} {
		if s.CanTransitionTo(JobStatusCancelled) {
			t.Errorf("expected cancellation to be unreachable from terminal %s", s)
		}
	}
}

func TestTerminalStatesAreFrozen(t *testing.T) {
	all := []JobStatus{
		JobStatusQueued, JobStatusDispatched, JobStatusRendering,
		JobStatusFinalizing, JobStatusComplete, JobStatusFailed, JobStatusCancelled,
	}
	for _, from := range []JobStatus{JobStatusComplete, JobStatusFailed, JobStatusCancelled} {
		for _, to := range all {
			if from.CanTransitionTo(to) {
				t.Errorf("terminal %s must not transition to %s", from, to)
			}
		}
	}
}

func TestParseJobStatus(t *testing.T) {
	for _, s := range []string{"queued", "dispatched", "rendering", "finalizing", "complete", "failed", "cancelled"} {
		got, err := ParseJobStatus(s)
		if err != nil {
			t.Errorf("ParseJobStatus(%q) returned error: %v", s, err)
		}
		if got.String() != s {
			t.Errorf("ParseJobStatus(%q) = %s", s, got)
		}
	}

	if _, err := ParseJobStatus("exploded"); err == nil {
		t.Error("expected error for unknown status")
	}
}
