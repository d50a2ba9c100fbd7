package models

import "time"

// NotificationKind categorizes a user-facing notification.
type NotificationKind string

// Notification kinds emitted by the orchestrator. Cancellation produces no
// notification: the owner asked for it, no surprise needed.
const (
	NotificationRenderComplete NotificationKind = "render_complete"
	NotificationRenderFailed   NotificationKind = "render_failed"
)

// Notification is one entry of a user's feed. At most one notification
// exists per (job, kind) pair.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	JobID     string           `json:"job_id"`
	Kind      NotificationKind `json:"kind"`
	CreatedAt time.Time        `json:"created_at"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
}
