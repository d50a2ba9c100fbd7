package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "postaty/internal/pkg/errors"

	"postaty/internal/models"
)

// JobRepository persists render jobs in Postgres. Terminal transitions are
// conditional updates guarded on non-terminal status, so a replayed
// transition after crash recovery is a no-op instead of a double write.
type JobRepository struct {
	db *pgxpool.Pool
}

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, owner_id, spec_json, status, progress, retry_count, cost,
	COALESCE(tracking_handle,''), COALESCE(resource_locator,''), COALESCE(output_key,''),
	COALESCE(output_url,''), COALESCE(error_text,''), COALESCE(failure_code,''),
	cancel_requested, created_at, dispatched_at, completed_at`

func (r *JobRepository) Create(ctx context.Context, job *models.RenderJob) error {
	specJSON, err := json.Marshal(job.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO render_jobs (id, owner_id, spec_json, status, progress, retry_count, cost, created_at)
		VALUES ($1,$2,$3,$4,0,0,$5,$6)
	`, job.ID, job.OwnerID, specJSON, job.Status, job.Cost, job.CreatedAt)
	return err
}

func (r *JobRepository) Get(ctx context.Context, jobID string) (*models.RenderJob, error) {
	row := r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM render_jobs WHERE id=$1`, jobID)
	return scanJob(row, jobID)
}

func (r *JobRepository) GetOwned(ctx context.Context, ownerID, jobID string) (*models.RenderJob, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM render_jobs WHERE id=$1 AND owner_id=$2`, jobID, ownerID)
	return scanJob(row, jobID)
}

func (r *JobRepository) ListByOwner(ctx context.Context, ownerID string, status models.JobStatus, limit int) ([]models.RenderJob, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status != "" {
		rows, err = r.db.Query(ctx, `
			SELECT `+jobColumns+` FROM render_jobs
			WHERE owner_id=$1 AND status=$2
			ORDER BY created_at DESC LIMIT $3
		`, ownerID, status, limit)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT `+jobColumns+` FROM render_jobs
			WHERE owner_id=$1
			ORDER BY created_at DESC LIMIT $2
		`, ownerID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RenderJob
	for rows.Next() {
		job, err := scanJob(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func (r *JobRepository) ListUnsettled(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM render_jobs
		WHERE status NOT IN ('complete','failed','cancelled') OR settled_at IS NULL
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *JobRepository) MarkDispatched(ctx context.Context, jobID, trackingHandle, resourceLocator string, retryCount int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE render_jobs
		SET status='dispatched', tracking_handle=$2, resource_locator=$3, retry_count=$4, dispatched_at=now()
		WHERE id=$1 AND status IN ('queued','dispatched')
	`, jobID, trackingHandle, resourceLocator, retryCount)
	return err
}

func (r *JobRepository) MarkRendering(ctx context.Context, jobID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE render_jobs SET status='rendering' WHERE id=$1 AND status='dispatched'
	`, jobID)
	return err
}

func (r *JobRepository) UpdateProgress(ctx context.Context, jobID string, progress float64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE render_jobs SET progress=$2 WHERE id=$1 AND status='rendering'
	`, jobID, progress)
	return err
}

func (r *JobRepository) MarkFinalizing(ctx context.Context, jobID, outputKey string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE render_jobs SET status='finalizing', output_key=$2, progress=1
		WHERE id=$1 AND status='rendering'
	`, jobID, outputKey)
	return err
}

func (r *JobRepository) MarkComplete(ctx context.Context, jobID, outputURL string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE render_jobs
		SET status='complete', output_url=$2, progress=1, completed_at=now()
		WHERE id=$1 AND status NOT IN ('complete','failed','cancelled')
	`, jobID, outputURL)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *JobRepository) MarkFailed(ctx context.Context, jobID, failureCode, errText string) (bool, error) {
	if len(errText) > 2000 {
		errText = errText[:2000]
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE render_jobs
		SET status='failed', failure_code=$2, error_text=$3, completed_at=now()
		WHERE id=$1 AND status NOT IN ('complete','failed','cancelled')
	`, jobID, failureCode, errText)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *JobRepository) MarkCancelled(ctx context.Context, jobID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE render_jobs
		SET status='cancelled', completed_at=now()
		WHERE id=$1 AND status NOT IN ('complete','failed','cancelled')
	`, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *JobRepository) MarkSettled(ctx context.Context, jobID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE render_jobs SET settled_at=now() WHERE id=$1 AND settled_at IS NULL
	`, jobID)
	return err
}

func (r *JobRepository) RequestCancel(ctx context.Context, ownerID, jobID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE render_jobs SET cancel_requested=true
		WHERE id=$1 AND owner_id=$2 AND status NOT IN ('complete','failed','cancelled')
	`, jobID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing flagged: either the job is unknown or it already finished.
	if _, err := r.GetOwned(ctx, ownerID, jobID); err != nil {
		return err
	}
	return apperrors.Conflict("job already reached a terminal state")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner, jobID string) (*models.RenderJob, error) {
	var (
		job      models.RenderJob
		specJSON []byte
		status   string
	)

	err := row.Scan(
		&job.ID, &job.OwnerID, &specJSON, &status, &job.Progress, &job.RetryCount, &job.Cost,
		&job.TrackingHandle, &job.ResourceLocator, &job.OutputKey,
		&job.OutputURL, &job.ErrorText, &job.FailureCode,
		&job.CancelRequested, &job.CreatedAt, &job.DispatchedAt, &job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("job", jobID)
		}
		return nil, err
	}

	job.Status = models.JobStatus(status)
	if err := json.Unmarshal(specJSON, &job.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	return &job, nil
}
