package models

import "time"

// LedgerReason categorizes a credit ledger entry.
type LedgerReason string

// Ledger entry reasons. For any job there is at most one reserve and at
// most one of commit/refund, never both; the repository enforces this with
// unique indexes.
const (
	// LedgerReserve is a provisional hold against the balance (negative delta).
	LedgerReserve LedgerReason = "reserve"
	// LedgerCommit converts a prior reserve into a realized charge
	// (zero delta, the hold stands).
	LedgerCommit LedgerReason = "commit"
	// LedgerRefund reverses a prior reserve (positive delta).
	LedgerRefund LedgerReason = "refund"
	// LedgerGrant adds purchased or promotional credits (no job attached).
	LedgerGrant LedgerReason = "grant"
	// LedgerAdjust is a manual balance correction (no job attached).
	LedgerAdjust LedgerReason = "adjust"
)

// LedgerEntry is one balance-affecting event. The user balance is the sum
// of deltas over all entries.
type LedgerEntry struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	JobID     string       `json:"job_id,omitempty"`
	Delta     int64        `json:"delta"`
	Reason    LedgerReason `json:"reason"`
	CreatedAt time.Time    `json:"created_at"`
}
