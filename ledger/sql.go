package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Shared row plumbing for the SQL backends. Amounts live in a TEXT column
// and are summed in Go with big.Int: SQL numeric types on some backends
// round past 2^53, and the contract requires exact arithmetic.

type sqlDialect struct {
	placeholder func(i int) string
	createDDL   []string
}

var postgresDialect = sqlDialect{
	placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
	createDDL: []string{
		`CREATE TABLE IF NOT EXISTS payment_records (
			id            TEXT PRIMARY KEY,
			direction     TEXT NOT NULL,
			counterparty  TEXT NOT NULL,
			amount        TEXT NOT NULL,
			network       TEXT NOT NULL,
			settlement_id TEXT NOT NULL DEFAULT '',
			resource      TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			metadata      TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_records_direction ON payment_records (direction)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_records_created_at ON payment_records (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_records_counterparty ON payment_records (LOWER(counterparty))`,
		`CREATE INDEX IF NOT EXISTS idx_payment_records_status ON payment_records (status)`,
	},
}

var sqliteDialect = sqlDialect{
	placeholder: func(int) string { return "?" },
	createDDL: []string{
		`CREATE TABLE IF NOT EXISTS payment_records (
			id            TEXT PRIMARY KEY,
			direction     TEXT NOT NULL,
			counterparty  TEXT NOT NULL,
			amount        TEXT NOT NULL,
			network       TEXT NOT NULL,
			settlement_id TEXT NOT NULL DEFAULT '',
			resource      TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			created_at    TIMESTAMP NOT NULL,
			metadata      TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_records_direction ON payment_records (direction)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_records_created_at ON payment_records (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_records_counterparty ON payment_records (counterparty COLLATE NOCASE)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_records_status ON payment_records (status)`,
	},
}

// sqlLedger implements Ledger over a database/sql handle.
type sqlLedger struct {
	db      *sql.DB
	dialect sqlDialect
}

func (l *sqlLedger) init(ctx context.Context) error {
	for _, ddl := range l.dialect.createDDL {
		if _, err := l.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (l *sqlLedger) Record(ctx context.Context, rec Record) error {
	if err := normalize(&rec); err != nil {
		return err
	}
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	p := l.dialect.placeholder
	query := fmt.Sprintf(`
		INSERT INTO payment_records
			(id, direction, counterparty, amount, network, settlement_id, resource, status, created_at, metadata)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		p(1), p(2), p(3), p(4), p(5), p(6), p(7), p(8), p(9), p(10))

	_, err = l.db.ExecContext(ctx, query,
		rec.ID, string(rec.Direction), rec.Counterparty, rec.Amount, rec.Network,
		rec.SettlementID, rec.Resource, string(rec.Status), rec.CreatedAt.UTC(), string(metadataJSON))
	return err
}

func (l *sqlLedger) Total(ctx context.Context, direction Direction, window time.Duration, counterparty string) (*big.Int, error) {
	p := l.dialect.placeholder
	args := []any{string(direction)}
	query := fmt.Sprintf(
		`SELECT amount FROM payment_records
		 WHERE direction = %s AND status IN ('pending', 'confirmed')`, p(1))

	if since, bounded := windowStart(window); bounded {
		args = append(args, since)
		query += fmt.Sprintf(" AND created_at >= %s", p(len(args)))
	}
	if counterparty != "" {
		args = append(args, strings.ToLower(counterparty))
		query += fmt.Sprintf(" AND LOWER(counterparty) = %s", p(len(args)))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	total := new(big.Int)
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return nil, err
		}
		value, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt amount %q", amount)
		}
		total.Add(total, value)
	}
	return total, rows.Err()
}

func (l *sqlLedger) Count(ctx context.Context, direction Direction, window time.Duration) (int, error) {
	p := l.dialect.placeholder
	args := []any{string(direction)}
	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM payment_records
		 WHERE direction = %s AND status IN ('pending', 'confirmed')`, p(1))

	if since, bounded := windowStart(window); bounded {
		args = append(args, since)
		query += fmt.Sprintf(" AND created_at >= %s", p(len(args)))
	}

	var count int
	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (l *sqlLedger) Query(ctx context.Context, filter Filter) ([]Record, error) {
	p := l.dialect.placeholder
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, p(len(args))))
	}

	if filter.Direction != "" {
		add("direction = %s", string(filter.Direction))
	}
	if filter.Status != "" {
		add("status = %s", string(filter.Status))
	}
	if filter.Counterparty != "" {
		add("LOWER(counterparty) = %s", strings.ToLower(filter.Counterparty))
	}
	if filter.Network != "" {
		add("network = %s", filter.Network)
	}
	if !filter.Since.IsZero() {
		add("created_at >= %s", filter.Since.UTC())
	}

	query := `SELECT id, direction, counterparty, amount, network, settlement_id, resource, status, created_at, metadata
		FROM payment_records`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT %s", p(len(args)))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET %s", p(len(args)))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			rec         Record
			direction   string
			status      string
			metadataRaw string
		)
		if err := rows.Scan(&rec.ID, &direction, &rec.Counterparty, &rec.Amount, &rec.Network,
			&rec.SettlementID, &rec.Resource, &status, &rec.CreatedAt, &metadataRaw); err != nil {
			return nil, err
		}
		rec.Direction = Direction(direction)
		rec.Status = Status(status)
		rec.CreatedAt = rec.CreatedAt.UTC()
		if metadataRaw != "" && metadataRaw != "{}" {
			_ = json.Unmarshal([]byte(metadataRaw), &rec.Metadata)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (l *sqlLedger) Clear(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM payment_records`)
	return err
}
