package ledger

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteLedgerConformance(t *testing.T) {
	runConformance(t, func(t *testing.T) Ledger {
		path := filepath.Join(t.TempDir(), "ledger.db")
		l, err := NewSQLiteLedger(context.Background(), path)
		if err != nil {
			t.Fatalf("open sqlite ledger: %v", err)
		}
		t.Cleanup(func() { l.Close() })
		return l
	})
}
