package ports

import (
	"context"

	"postaty/internal/models"
)

// NotificationSink is the append-only per-user notification feed. Append is
// idempotent by (job, kind).
type NotificationSink interface {
	Append(ctx context.Context, userID, jobID string, kind models.NotificationKind) error
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
}
