package ledger

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryLedger is the in-process backend. Suitable for single-instance
// deployments and tests; state is lost on restart.
type MemoryLedger struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

var _ Ledger = (*MemoryLedger)(nil)

func (l *MemoryLedger) Record(_ context.Context, rec Record) error {
	if err := normalize(&rec); err != nil {
		return err
	}
	if rec.Metadata != nil {
		copied := make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			copied[k] = v
		}
		rec.Metadata = copied
	}
	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) Total(_ context.Context, direction Direction, window time.Duration, counterparty string) (*big.Int, error) {
	since, bounded := windowStart(window)

	l.mu.RLock()
	defer l.mu.RUnlock()

	total := new(big.Int)
	for _, rec := range l.records {
		if rec.Direction != direction || !countsTowardTotals(rec.Status) {
			continue
		}
		if bounded && rec.CreatedAt.Before(since) {
			continue
		}
		if counterparty != "" && !strings.EqualFold(rec.Counterparty, counterparty) {
			continue
		}
		amount, _ := new(big.Int).SetString(rec.Amount, 10)
		total.Add(total, amount)
	}
	return total, nil
}

func (l *MemoryLedger) Count(_ context.Context, direction Direction, window time.Duration) (int, error) {
	since, bounded := windowStart(window)

	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, rec := range l.records {
		if rec.Direction != direction || !countsTowardTotals(rec.Status) {
			continue
		}
		if bounded && rec.CreatedAt.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

func (l *MemoryLedger) Query(_ context.Context, filter Filter) ([]Record, error) {
	l.mu.RLock()
	matched := make([]Record, 0)
	for _, rec := range l.records {
		if filter.Direction != "" && rec.Direction != filter.Direction {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.Counterparty != "" && !strings.EqualFold(rec.Counterparty, filter.Counterparty) {
			continue
		}
		if filter.Network != "" && rec.Network != filter.Network {
			continue
		}
		if !filter.Since.IsZero() && rec.CreatedAt.Before(filter.Since) {
			continue
		}
		// Results must not alias the stored record's metadata; the store
		// is never mutated after insert.
		if rec.Metadata != nil {
			copied := make(map[string]string, len(rec.Metadata))
			for k, v := range rec.Metadata {
				copied[k] = v
			}
			rec.Metadata = copied
		}
		matched = append(matched, rec)
	}
	l.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []Record{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (l *MemoryLedger) Clear(_ context.Context) error {
	l.mu.Lock()
	l.records = nil
	l.mu.Unlock()
	return nil
}
