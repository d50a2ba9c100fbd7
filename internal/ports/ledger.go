package ports

import (
	"context"

	"postaty/internal/models"
)

// CreditLedger is the durable store of balance-affecting entries. For any
// job there is at most one reserve and at most one of commit/refund;
// Commit and Refund are idempotent and safe to call more than once.
type CreditLedger interface {
	// Reserve atomically checks the available balance and appends a hold of
	// -amount for the job. Admissions for the same user are serialized so
	// two concurrent reservations cannot both pass the balance check.
	Reserve(ctx context.Context, userID, jobID string, amount int64) error

	// Commit converts the job's reserve into a realized charge. No-op if a
	// commit or refund already exists for the job.
	Commit(ctx context.Context, jobID string) error

	// Refund reverses the job's reserve. No-op if a refund or commit
	// already exists for the job.
	Refund(ctx context.Context, jobID string) error

	// Grant appends purchased or promotional credits outside any job.
	Grant(ctx context.Context, userID string, amount int64) error

	Balance(ctx context.Context, userID string) (int64, error)
	Entries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
}
