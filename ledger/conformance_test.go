package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"
)

// runConformance exercises the Ledger contract. Every backend test calls it
// so the backends cannot drift apart.
func runConformance(t *testing.T, open func(t *testing.T) Ledger) {
	t.Helper()
	ctx := context.Background()

	t.Run("RecordAndQuery", func(t *testing.T) {
		l := open(t)
		rec := Record{
			Direction:    Outgoing,
			Counterparty: "0xRecipient",
			Amount:       "50000",
			Network:      "eip155:84532",
			Resource:     "/api/data",
			Status:       StatusConfirmed,
		}
		if err := l.Record(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}

		records, err := l.Query(ctx, Filter{Direction: Outgoing})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}
		got := records[0]
		if got.ID == "" {
			t.Error("expected generated id")
		}
		if got.CreatedAt.IsZero() {
			t.Error("expected creation timestamp")
		}
		if got.Amount != "50000" || got.Counterparty != "0xRecipient" || got.Status != StatusConfirmed {
			t.Errorf("record did not round-trip: %+v", got)
		}
	})

	t.Run("TotalsExcludeFailedAndRefunded", func(t *testing.T) {
		l := open(t)
		for _, tc := range []struct {
			amount string
			status Status
		}{
			{"100", StatusConfirmed},
			{"200", StatusPending},
			{"400", StatusFailed},
			{"800", StatusRefunded},
		} {
			if err := l.Record(ctx, Record{
				Direction:    Outgoing,
				Counterparty: "0xabc",
				Amount:       tc.amount,
				Network:      "eip155:1",
				Status:       tc.status,
			}); err != nil {
				t.Fatalf("record %s: %v", tc.amount, err)
			}
		}

		total, err := l.Total(ctx, Outgoing, 0, "")
		if err != nil {
			t.Fatalf("total: %v", err)
		}
		if total.Cmp(big.NewInt(300)) != 0 {
			t.Errorf("expected total 300 (pending+confirmed only), got %s", total)
		}

		count, err := l.Count(ctx, Outgoing, 0)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != 2 {
			t.Errorf("expected count 2, got %d", count)
		}
	})

	t.Run("DirectionsAreIndependent", func(t *testing.T) {
		l := open(t)
		mustRecord(t, l, Record{Direction: Outgoing, Counterparty: "a", Amount: "10", Network: "n", Status: StatusConfirmed})
		mustRecord(t, l, Record{Direction: Incoming, Counterparty: "b", Amount: "25", Network: "n", Status: StatusConfirmed})

		out, _ := l.Total(ctx, Outgoing, 0, "")
		in, _ := l.Total(ctx, Incoming, 0, "")
		if out.Cmp(big.NewInt(10)) != 0 || in.Cmp(big.NewInt(25)) != 0 {
			t.Errorf("expected 10/25, got %s/%s", out, in)
		}
	})

	t.Run("WindowedAggregation", func(t *testing.T) {
		l := open(t)
		old := Record{
			Direction: Outgoing, Counterparty: "a", Amount: "1000", Network: "n",
			Status: StatusConfirmed, CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
		}
		fresh := Record{
			Direction: Outgoing, Counterparty: "a", Amount: "5", Network: "n",
			Status: StatusConfirmed,
		}
		mustRecord(t, l, old)
		mustRecord(t, l, fresh)

		total, err := l.Total(ctx, Outgoing, time.Hour, "")
		if err != nil {
			t.Fatalf("total: %v", err)
		}
		if total.Cmp(big.NewInt(5)) != 0 {
			t.Errorf("expected windowed total 5, got %s", total)
		}

		count, err := l.Count(ctx, Outgoing, time.Hour)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != 1 {
			t.Errorf("expected windowed count 1, got %d", count)
		}

		all, _ := l.Total(ctx, Outgoing, 0, "")
		if all.Cmp(big.NewInt(1005)) != 0 {
			t.Errorf("expected unwindowed total 1005, got %s", all)
		}
	})

	t.Run("CounterpartyScopeCaseInsensitive", func(t *testing.T) {
		l := open(t)
		mustRecord(t, l, Record{Direction: Outgoing, Counterparty: "0xABCDEF", Amount: "7", Network: "n", Status: StatusConfirmed})
		mustRecord(t, l, Record{Direction: Outgoing, Counterparty: "0x123456", Amount: "9", Network: "n", Status: StatusConfirmed})

		total, err := l.Total(ctx, Outgoing, 0, "0xabcdef")
		if err != nil {
			t.Fatalf("total: %v", err)
		}
		if total.Cmp(big.NewInt(7)) != 0 {
			t.Errorf("expected scoped total 7, got %s", total)
		}

		records, err := l.Query(ctx, Filter{Counterparty: "0XABCDEF"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(records) != 1 {
			t.Errorf("expected 1 scoped record, got %d", len(records))
		}
	})

	t.Run("QueryOrderAndPagination", func(t *testing.T) {
		l := open(t)
		base := time.Now().UTC().Add(-time.Minute)
		for i := 0; i < 5; i++ {
			mustRecord(t, l, Record{
				ID:        fmt.Sprintf("rec-%d", i),
				Direction: Outgoing, Counterparty: "a", Amount: "1", Network: "n",
				Status: StatusConfirmed, CreatedAt: base.Add(time.Duration(i) * time.Second),
			})
		}

		records, err := l.Query(ctx, Filter{Direction: Outgoing})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(records) != 5 {
			t.Fatalf("expected 5 records, got %d", len(records))
		}
		for i := 1; i < len(records); i++ {
			if records[i].CreatedAt.After(records[i-1].CreatedAt) {
				t.Fatalf("records not newest-first at %d", i)
			}
		}
		if records[0].ID != "rec-4" {
			t.Errorf("expected newest record first, got %s", records[0].ID)
		}

		page, err := l.Query(ctx, Filter{Direction: Outgoing, Limit: 2, Offset: 1})
		if err != nil {
			t.Fatalf("query page: %v", err)
		}
		if len(page) != 2 || page[0].ID != "rec-3" || page[1].ID != "rec-2" {
			t.Errorf("unexpected page: %+v", page)
		}
	})

	t.Run("LargeAmountsRoundTripExactly", func(t *testing.T) {
		l := open(t)
		// 2^63 + 3, beyond both float64 and int64.
		huge := "9223372036854775811"
		mustRecord(t, l, Record{Direction: Incoming, Counterparty: "a", Amount: huge, Network: "n", Status: StatusConfirmed})
		mustRecord(t, l, Record{Direction: Incoming, Counterparty: "a", Amount: huge, Network: "n", Status: StatusConfirmed})

		total, err := l.Total(ctx, Incoming, 0, "")
		if err != nil {
			t.Fatalf("total: %v", err)
		}
		want, _ := new(big.Int).SetString("18446744073709551622", 10)
		if total.Cmp(want) != 0 {
			t.Errorf("expected exact total %s, got %s", want, total)
		}

		records, _ := l.Query(ctx, Filter{Direction: Incoming, Limit: 1})
		if records[0].Amount != huge {
			t.Errorf("amount mangled in round-trip: %s", records[0].Amount)
		}
	})

	t.Run("MetadataIsolatedFromStore", func(t *testing.T) {
		l := open(t)
		meta := map[string]string{"invoice": "inv-1"}
		mustRecord(t, l, Record{
			Direction: Incoming, Counterparty: "a", Amount: "4", Network: "n",
			Status: StatusConfirmed, Metadata: meta,
		})
		meta["invoice"] = "tampered-after-insert"

		records, err := l.Query(ctx, Filter{Direction: Incoming})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if got := records[0].Metadata["invoice"]; got != "inv-1" {
			t.Fatalf("insert must copy metadata, got %q", got)
		}

		records[0].Metadata["invoice"] = "tampered-after-query"
		again, _ := l.Query(ctx, Filter{Direction: Incoming})
		if got := again[0].Metadata["invoice"]; got != "inv-1" {
			t.Errorf("query results must not alias stored metadata, got %q", got)
		}
	})

	t.Run("RejectsMalformedRecords", func(t *testing.T) {
		l := open(t)
		bad := []Record{
			{Direction: "sideways", Counterparty: "a", Amount: "1", Network: "n", Status: StatusConfirmed},
			{Direction: Outgoing, Counterparty: "a", Amount: "1", Network: "n", Status: "unknown"},
			{Direction: Outgoing, Counterparty: "a", Amount: "1.5", Network: "n", Status: StatusConfirmed},
			{Direction: Outgoing, Counterparty: "a", Amount: "-1", Network: "n", Status: StatusConfirmed},
		}
		for i, rec := range bad {
			if err := l.Record(ctx, rec); err == nil {
				t.Errorf("case %d: expected rejection", i)
			}
		}
	})

	t.Run("ConcurrentAppends", func(t *testing.T) {
		l := open(t)
		const n = 50
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func() {
				defer wg.Done()
				_ = l.Record(ctx, Record{
					Direction: Outgoing, Counterparty: "worker", Amount: "3",
					Network: "n", Status: StatusConfirmed,
				})
			}()
		}
		wg.Wait()

		count, err := l.Count(ctx, Outgoing, 0)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != n {
			t.Errorf("expected %d records after concurrent appends, got %d", n, count)
		}
		total, _ := l.Total(ctx, Outgoing, 0, "")
		if total.Cmp(big.NewInt(3*n)) != 0 {
			t.Errorf("expected total %d, got %s", 3*n, total)
		}
		records, _ := l.Query(ctx, Filter{Direction: Outgoing})
		if len(records) != n {
			t.Errorf("expected %d queried records, got %d", n, len(records))
		}
	})

	t.Run("Clear", func(t *testing.T) {
		l := open(t)
		mustRecord(t, l, Record{Direction: Outgoing, Counterparty: "a", Amount: "1", Network: "n", Status: StatusConfirmed})
		if err := l.Clear(ctx); err != nil {
			t.Fatalf("clear: %v", err)
		}
		count, _ := l.Count(ctx, Outgoing, 0)
		if count != 0 {
			t.Errorf("expected empty ledger after clear, got %d", count)
		}
	})
}

func mustRecord(t *testing.T, l Ledger, rec Record) {
	t.Helper()
	if err := l.Record(context.Background(), rec); err != nil {
		t.Fatalf("record: %v", err)
	}
}
