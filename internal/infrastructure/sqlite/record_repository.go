package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TechDevGroup/obs-impl/internal/record"
	"github.com/TechDevGroup/obs-impl/internal/store"
)

// recordColumns is the list of columns to select for record queries.
const recordColumns = `name, flags, data, created_at, updated_at`

// recordRepository implements store.Store using SQLite.
type recordRepository struct {
	db  *sql.DB
	now func() time.Time
}

func newRecordRepository(db *sql.DB) *recordRepository {
	return &recordRepository{db: db, now: time.Now}
}

// Ensure recordRepository implements store.Store.
var _ store.Store = (*recordRepository)(nil)

func scanRecord(scanner interface{ Scan(...any) error }) (*RecordModel, error) {
	var m RecordModel
	err := scanner.Scan(&m.Name, &m.Flags, &m.Data, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func (r *recordRepository) List(ctx context.Context) ([]record.Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM stage_records ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []record.Record
	for rows.Next() {
		m, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec, err := m.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return out, nil
}

func (r *recordRepository) Get(ctx context.Context, name string) (record.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM stage_records WHERE name = ?`, name)
	m, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %q: %w", name, err)
	}
	return m.toRecord()
}

// Put upserts by name, keeping the original created_at.
func (r *recordRepository) Put(ctx context.Context, rec record.Record) error {
	return r.put(ctx, r.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *recordRepository) put(ctx context.Context, db execer, rec record.Record) error {
	m, err := toRecordModel(rec, r.now())
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO stage_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			flags = excluded.flags,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		m.Name, m.Flags, m.Data, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save record %q: %w", m.Name, err)
	}
	return nil
}

func (r *recordRepository) Delete(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM stage_records WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete record %q: %w", name, err)
	}
	return nil
}

// ReplaceAll swaps the table contents in one transaction.
func (r *recordRepository) ReplaceAll(ctx context.Context, recs []record.Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stage_records`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to clear records: %w", err)
	}
	for _, rec := range recs {
		if err := r.put(ctx, tx, rec); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}

// Close is a no-op; the DB owns the connection.
func (r *recordRepository) Close() error { return nil }
