package ledger

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

// SQLiteLedger is the embedded SQL backend: durable, single-process, no
// external server. Uses the CGo-free modernc.org/sqlite driver.
type SQLiteLedger struct {
	sqlLedger
}

var _ Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger opens (and creates when missing) a SQLite-backed ledger
// at path. Use ":memory:" for an ephemeral database.
func NewSQLiteLedger(ctx context.Context, path string) (*SQLiteLedger, error) {
	// A single connection serializes writers; SQLite rejects concurrent
	// write transactions on separate connections.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	l := &SQLiteLedger{sqlLedger{db: db, dialect: sqliteDialect}}
	if err := l.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the underlying database handle.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
