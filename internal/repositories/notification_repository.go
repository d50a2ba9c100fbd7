package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"postaty/internal/httpkit"
	"postaty/internal/models"
	apperrors "postaty/internal/pkg/errors"
)

// NotificationRepository implements the per-user notification feed on
// Postgres. A unique index on (job_id, kind) makes Append idempotent.
type NotificationRepository struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Append(ctx context.Context, userID, jobID string, kind models.NotificationKind) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notifications (id, user_id, job_id, kind, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, "ntf_"+uuid.NewString(), userID, jobID, kind, time.Now().UTC())
	if err != nil && httpkit.IsUniqueViolation(err) {
		// Re-delivery of the same terminal event; keep the original.
		return nil
	}
	return err
}

func (r *NotificationRepository) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := `
		SELECT id, user_id, job_id, kind, created_at, read_at
		FROM notifications
		WHERE user_id=$1
	`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var kind string
		if err := rows.Scan(&n.ID, &n.UserID, &n.JobID, &kind, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, err
		}
		n.Kind = models.NotificationKind(kind)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationRepository) MarkRead(ctx context.Context, userID, notificationID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications SET read_at=now()
		WHERE id=$1 AND user_id=$2 AND read_at IS NULL
	`, notificationID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already read; only the former is an error.
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM notifications WHERE id=$1 AND user_id=$2)`,
			notificationID, userID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return apperrors.NotFound("notification", notificationID)
		}
	}
	return nil
}
