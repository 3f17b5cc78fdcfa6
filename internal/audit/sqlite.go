package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id            TEXT PRIMARY KEY,
	action        TEXT NOT NULL,
	severity      TEXT NOT NULL,
	identifier    TEXT NOT NULL DEFAULT '',
	ordinal       INTEGER NOT NULL DEFAULT 0,
	record        TEXT,
	batch_id      TEXT NOT NULL DEFAULT '',
	success       INTEGER NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	rows_affected INTEGER NOT NULL DEFAULT 0,
	ip_address    TEXT NOT NULL DEFAULT '',
	user_agent    TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);
`

// Fixed width so created_at sorts as text.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists entries to a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the audit database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	e = prepare(ctx, e)

	var record []byte
	if e.Record != nil {
		var err error
		if record, err = json.Marshal(e.Record); err != nil {
			return fmt.Errorf("encode audit record: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, severity, identifier, ordinal, record, batch_id,
			success, error, attempts, rows_affected, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Action), string(e.Severity), e.Identifier, e.Ordinal, nullString(record), e.BatchID,
		e.Success, e.Error, e.Attempts, e.RowsAffected, e.IPAddress, e.UserAgent,
		e.CreatedAt.UTC().Format(sqliteTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns matching entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	query := `SELECT id, action, severity, identifier, ordinal, record, batch_id, success, error,
		attempts, rows_affected, ip_address, user_agent, created_at FROM audit_log`
	args := []any{}
	if f.Action != "" {
		query += ` WHERE action = ?`
		args = append(args, string(f.Action))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, f.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			record  sql.NullString
			created string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Severity, &e.Identifier, &e.Ordinal, &record, &e.BatchID,
			&e.Success, &e.Error, &e.Attempts, &e.RowsAffected, &e.IPAddress, &e.UserAgent, &created); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if record.Valid {
			if err := json.Unmarshal([]byte(record.String), &e.Record); err != nil {
				return nil, fmt.Errorf("decode audit record: %w", err)
			}
		}
		if e.CreatedAt, err = time.Parse(sqliteTimeFormat, created); err != nil {
			return nil, fmt.Errorf("parse audit time: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
