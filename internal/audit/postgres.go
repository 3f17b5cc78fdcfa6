package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS grid_audit_log (
	id            TEXT PRIMARY KEY,
	action        TEXT NOT NULL,
	severity      TEXT NOT NULL,
	identifier    TEXT NOT NULL DEFAULT '',
	ordinal       INTEGER NOT NULL DEFAULT 0,
	record        JSONB,
	batch_id      TEXT NOT NULL DEFAULT '',
	success       BOOLEAN NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	rows_affected INTEGER NOT NULL DEFAULT 0,
	ip_address    TEXT NOT NULL DEFAULT '',
	user_agent    TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_grid_audit_log_created_at ON grid_audit_log(created_at DESC);
`

// PostgresStore persists entries to PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, verifies the connection and creates the table.
func OpenPostgres(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse audit dsn: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect audit db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	e = prepare(ctx, e)

	var record []byte
	if e.Record != nil {
		var err error
		if record, err = json.Marshal(e.Record); err != nil {
			return fmt.Errorf("encode audit record: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO grid_audit_log (id, action, severity, identifier, ordinal, record, batch_id,
			success, error, attempts, rows_affected, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, string(e.Action), string(e.Severity), e.Identifier, e.Ordinal, record, e.BatchID,
		e.Success, e.Error, e.Attempts, e.RowsAffected, e.IPAddress, e.UserAgent, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns matching entries, newest first.
func (s *PostgresStore) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	query := `SELECT id, action, severity, identifier, ordinal, record, batch_id, success, error,
		attempts, rows_affected, ip_address, user_agent, created_at FROM grid_audit_log`
	args := []any{}
	if f.Action != "" {
		query += ` WHERE action = $1`
		args = append(args, string(f.Action))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, f.limit())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e      Entry
			record []byte
		)
		err := row.Scan(&e.ID, &e.Action, &e.Severity, &e.Identifier, &e.Ordinal, &record, &e.BatchID,
			&e.Success, &e.Error, &e.Attempts, &e.RowsAffected, &e.IPAddress, &e.UserAgent, &e.CreatedAt)
		if err != nil {
			return e, err
		}
		if record != nil {
			if err := json.Unmarshal(record, &e.Record); err != nil {
				return e, fmt.Errorf("decode audit record: %w", err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect audit entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
