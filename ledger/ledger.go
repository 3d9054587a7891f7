// Package ledger provides the append-only payment record store with
// windowed sum/count aggregation. Four interchangeable backends satisfy the
// same contract: in-memory, SQLite, PostgreSQL and Redis. Records are never
// mutated after insert; totals and counts exclude failed and refunded
// records and all amounts are exact integers regardless of magnitude.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Direction of a payment relative to this instance.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// Status of a payment record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// countsTowardTotals reports whether records with this status are included
// in Total and Count aggregates.
func countsTowardTotals(s Status) bool {
	return s == StatusPending || s == StatusConfirmed
}

// Record is one append-only ledger entry. Amount is an exact integer in
// asset base units, kept as a decimal string so values beyond 2^53 survive
// every backend unchanged.
type Record struct {
	ID           string            `json:"id"`
	Direction    Direction         `json:"direction"`
	Counterparty string            `json:"counterparty"`
	Amount       string            `json:"amount"`
	Network      string            `json:"network"`
	SettlementID string            `json:"settlementId,omitempty"`
	Resource     string            `json:"resource,omitempty"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Filter narrows a Query. Zero values mean "no constraint"; Counterparty
// matching is case-insensitive. Limit 0 means no limit.
type Filter struct {
	Direction    Direction
	Status       Status
	Counterparty string
	Network      string
	Since        time.Time
	Limit        int
	Offset       int
}

// Ledger is the storage capability shared by all backends.
//
// Record appends; entries are immutable afterwards. Total and Count
// aggregate records with status pending or confirmed, optionally limited to
// a trailing window (0 = all time); Total additionally accepts a
// counterparty scope ("" = all). Query returns matching records newest
// first. Concurrent Record calls must all be durably visible to subsequent
// aggregate reads.
type Ledger interface {
	Record(ctx context.Context, rec Record) error
	Total(ctx context.Context, direction Direction, window time.Duration, counterparty string) (*big.Int, error)
	Count(ctx context.Context, direction Direction, window time.Duration) (int, error)
	Query(ctx context.Context, filter Filter) ([]Record, error)
	Clear(ctx context.Context) error
}

// normalize fills defaults and checks the amount. Every backend calls it
// before persisting.
func normalize(rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	switch rec.Direction {
	case Outgoing, Incoming:
	default:
		return fmt.Errorf("invalid direction %q", rec.Direction)
	}
	switch rec.Status {
	case StatusPending, StatusConfirmed, StatusFailed, StatusRefunded:
	default:
		return fmt.Errorf("invalid status %q", rec.Status)
	}
	amount, ok := new(big.Int).SetString(rec.Amount, 10)
	if !ok {
		return fmt.Errorf("malformed amount %q", rec.Amount)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative amount %q", rec.Amount)
	}
	return nil
}

// windowStart converts a trailing window into an inclusive lower bound.
// A zero window means no bound.
func windowStart(window time.Duration) (time.Time, bool) {
	if window <= 0 {
		return time.Time{}, false
	}
	return time.Now().UTC().Add(-window), true
}
