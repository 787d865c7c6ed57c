package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps gateway responses in the gateway_idempotency table,
// one row per route and client key. Expired rows are invisible to Get and
// removed by Purge.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

const idempotencySchema = `
CREATE TABLE IF NOT EXISTS gateway_idempotency (
    route       TEXT        NOT NULL,
    client_key  TEXT        NOT NULL,
    status_code INT         NOT NULL,
    response    BYTEA       NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    expires_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (route, client_key)
);
CREATE INDEX IF NOT EXISTS gateway_idempotency_expires_at ON gateway_idempotency (expires_at);
`

// NewPostgresStore opens its own pool on dsn and creates the table.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("idempotency: postgres dsn is empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("idempotency: postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("idempotency: postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, idempotencySchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("idempotency: create table: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// splitKey undoes Scoped. Keys saved without a route land under "".
func splitKey(key string) (route, clientKey string) {
	route, clientKey, ok := strings.Cut(key, ":")
	if !ok {
		return "", key
	}
	return route, clientKey
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	route, clientKey := splitKey(key)
	var rec Record
	err := p.pool.QueryRow(ctx, `
SELECT status_code, response, created_at, expires_at
FROM gateway_idempotency
WHERE route = $1 AND client_key = $2 AND expires_at > $3`,
		route, clientKey, p.now()).Scan(&rec.StatusCode, &rec.Response, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: get %s: %w", key, err)
	}
	return &rec, nil
}

// Save overwrites any previous row for the key, expired or not.
func (p *PostgresStore) Save(ctx context.Context, key string, record Record) error {
	route, clientKey := splitKey(key)
	_, err := p.pool.Exec(ctx, `
INSERT INTO gateway_idempotency (route, client_key, status_code, response, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (route, client_key) DO UPDATE
SET status_code = EXCLUDED.status_code,
    response    = EXCLUDED.response,
    created_at  = EXCLUDED.created_at,
    expires_at  = EXCLUDED.expires_at`,
		route, clientKey, record.StatusCode, record.Response, record.CreatedAt, record.ExpiresAt)
	if err != nil {
		return fmt.Errorf("idempotency: save %s: %w", key, err)
	}
	return nil
}

// Purge deletes rows that expired before the given time.
func (p *PostgresStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM gateway_idempotency WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("idempotency: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
