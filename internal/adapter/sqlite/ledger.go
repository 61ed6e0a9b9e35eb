// Package sqlite persists the REM fingerprint ledger.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

// Ledger records which input fingerprint produced each REM output.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path. ":memory:" is accepted
// for tests.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening ledger: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and each ":memory:"
	// connection would otherwise see its own empty database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging ledger: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating ledger: %w", err)
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS rem_outputs (
			output_path TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			params TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Lookup returns the entry for output. ok is false when none exists.
func (l *Ledger) Lookup(ctx context.Context, output string) (domain.LedgerEntry, bool, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT output_path, fingerprint, params, created_at FROM rem_outputs WHERE output_path = ?`, output)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerEntry{}, false, nil
	}
	if err != nil {
		return domain.LedgerEntry{}, false, fmt.Errorf("ledger lookup %s: %w", output, err)
	}
	return e, true, nil
}

// Record inserts or replaces the entry for e.OutputPath.
func (l *Ledger) Record(ctx context.Context, e domain.LedgerEntry) error {
	params, err := json.Marshal(e.Params)
	if err != nil {
		return fmt.Errorf("ledger encode params: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO rem_outputs (output_path, fingerprint, params, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(output_path) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			params = excluded.params,
			created_at = excluded.created_at`,
		e.OutputPath, e.Fingerprint, string(params), e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("ledger record %s: %w", e.OutputPath, err)
	}
	return nil
}

// Forget removes the entry for output, if any.
func (l *Ledger) Forget(ctx context.Context, output string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM rem_outputs WHERE output_path = ?`, output); err != nil {
		return fmt.Errorf("ledger forget %s: %w", output, err)
	}
	return nil
}

// List returns every entry ordered by output path.
func (l *Ledger) List(ctx context.Context) ([]domain.LedgerEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT output_path, fingerprint, params, created_at FROM rem_outputs ORDER BY output_path`)
	if err != nil {
		return nil, fmt.Errorf("ledger list: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger list: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (domain.LedgerEntry, error) {
	var (
		e         domain.LedgerEntry
		params    string
		createdAt string
	)
	if err := s.Scan(&e.OutputPath, &e.Fingerprint, &params, &createdAt); err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
		return e, fmt.Errorf("decode params: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return e, fmt.Errorf("decode created_at: %w", err)
	}
	e.CreatedAt = t
	return e, nil
}
