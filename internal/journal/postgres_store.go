package journal

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS lending_operations (
    reference TEXT PRIMARY KEY,
    backend TEXT NOT NULL,
    operation TEXT NOT NULL,
    loan_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS lending_operations_loan_idx ON lending_operations (loan_id);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Put(ctx context.Context, rec Record) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO lending_operations (reference, backend, operation, loan_id, status, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (reference) DO UPDATE
SET status = EXCLUDED.status,
    error = EXCLUDED.error,
    loan_id = CASE WHEN EXCLUDED.loan_id <> '' THEN EXCLUDED.loan_id ELSE lending_operations.loan_id END,
    updated_at = EXCLUDED.updated_at
`, rec.Reference, rec.Backend, rec.Operation, rec.LoanID, string(rec.Status), rec.Error, rec.CreatedAt, rec.UpdatedAt)
	return err
}

const selectColumns = `SELECT reference, backend, operation, loan_id, status, error, created_at, updated_at FROM lending_operations`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec    Record
		status string
	)
	err := row.Scan(&rec.Reference, &rec.Backend, &rec.Operation, &rec.LoanID, &status, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	rec.Status = Status(status)
	return rec, err
}

func (p *PostgresStore) Get(ctx context.Context, reference string) (*Record, error) {
	rec, err := scanRecord(p.pool.QueryRow(ctx, selectColumns+` WHERE reference = $1`, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresStore) ByLoan(ctx context.Context, loanID string) ([]Record, error) {
	rows, err := p.pool.Query(ctx, selectColumns+` WHERE loan_id = $1 ORDER BY created_at`, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
