package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"postaty/internal/httpkit"
	"postaty/internal/models"
	apperrors "postaty/internal/pkg/errors"
)

// LedgerRepository implements the credit ledger on Postgres. Two invariants
// are enforced in the schema, not in code paths:
//   - unique (job_id, reason): at most one reserve per job
//   - unique (job_id) where reason in (commit, refund): at most one
//     settlement per job
//
// Commit and Refund therefore stay idempotent under duplicate delivery of a
// terminal transition: the second insert hits the index and becomes a no-op.
type LedgerRepository struct {
	db *pgxpool.Pool
}

func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Reserve(ctx context.Context, userID, jobID string, amount int64) error {
	if amount <= 0 {
		return apperrors.Validationf("reserve amount must be positive, got %d", amount)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize admissions per user so two concurrent reservations cannot
	// both pass the balance check.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return err
	}

	var balance int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta),0) FROM credit_ledger WHERE user_id=$1`, userID,
	).Scan(&balance); err != nil {
		return err
	}

	if balance < amount {
		return apperrors.InsufficientCredits(balance, amount)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credit_ledger (id, user_id, job_id, delta, reason, created_at)
		VALUES ($1,$2,$3,$4,'reserve',$5)
	`, newEntryID(), userID, jobID, -amount, time.Now().UTC())
	if err != nil {
		if httpkit.IsUniqueViolation(err) {
			// Reserve already recorded for this job.
			return nil
		}
		return err
	}

	return tx.Commit(ctx)
}

func (r *LedgerRepository) Commit(ctx context.Context, jobID string) error {
	// A commit realizes the hold: delta 0, the reserve stands as the charge.
	return r.settle(ctx, jobID, models.LedgerCommit)
}

func (r *LedgerRepository) Refund(ctx context.Context, jobID string) error {
	return r.settle(ctx, jobID, models.LedgerRefund)
}

func (r *LedgerRepository) settle(ctx context.Context, jobID string, reason models.LedgerReason) error {
	var (
		userID  string
		reserve int64
	)
	err := r.db.QueryRow(ctx, `
		SELECT user_id, delta FROM credit_ledger WHERE job_id=$1 AND reason='reserve'
	`, jobID).Scan(&userID, &reserve)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.Internalf("no reserve entry for job %s", jobID)
		}
		return err
	}

	var delta int64
	if reason == models.LedgerRefund {
		delta = -reserve // reserve is negative; the refund returns it
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO credit_ledger (id, user_id, job_id, delta, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, newEntryID(), userID, jobID, delta, reason, time.Now().UTC())
	if err != nil && httpkit.IsUniqueViolation(err) {
		// Already settled (commit or refund); duplicate delivery is fine.
		return nil
	}
	return err
}

func (r *LedgerRepository) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta),0) FROM credit_ledger WHERE user_id=$1`, userID,
	).Scan(&balance)
	return balance, err
}

func (r *LedgerRepository) Entries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, COALESCE(job_id,''), delta, reason, created_at
		FROM credit_ledger
		WHERE user_id=$1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var reason string
		if err := rows.Scan(&e.ID, &e.UserID, &e.JobID, &e.Delta, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reason = models.LedgerReason(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Grant appends purchased or promotional credits outside any job.
func (r *LedgerRepository) Grant(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return apperrors.Validationf("grant amount must be positive, got %d", amount)
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO credit_ledger (id, user_id, delta, reason, created_at)
		VALUES ($1,$2,$3,'grant',$4)
	`, newEntryID(), userID, amount, time.Now().UTC())
	return err
}

func newEntryID() string {
	return "led_" + uuid.NewString()
}
