package ledger

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
)

// PostgresLedger is the client-server SQL backend, for deployments sharing
// one ledger across processes.
type PostgresLedger struct {
	sqlLedger
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger opens a PostgreSQL-backed ledger from a DSN and creates
// the schema when missing.
func NewPostgresLedger(ctx context.Context, dsn string) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresLedgerFromDB(ctx, db)
}

// NewPostgresLedgerFromDB wraps an existing database handle. The caller
// keeps ownership of the handle.
func NewPostgresLedgerFromDB(ctx context.Context, db *sql.DB) (*PostgresLedger, error) {
	l := &PostgresLedger{sqlLedger{db: db, dialect: postgresDialect}}
	if err := l.init(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Close closes the underlying database handle.
func (l *PostgresLedger) Close() error {
	return l.db.Close()
}
