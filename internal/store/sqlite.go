package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLite implements Store over a local SQLite database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath and runs any pending
// schema migrations.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	s := &SQLite{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrating schema")
	}
	return s, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, table, id string) (*Record, error) {
	t, err := tableFor(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, data FROM %s WHERE id = ?`, t.Name)
	record := &Record{}
	err = s.db.QueryRowContext(ctx, query, id).Scan(&record.ID, &record.Data)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "%s/%s", table, id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying record")
	}
	return record, nil
}

// Put implements Store.
func (s *SQLite) Put(ctx context.Context, table string, record *Record) error {
	t, err := tableFor(table)
	if err != nil {
		return err
	}
	if !s.IsAvailable() {
		return ErrStorageUnavailable
	}

	columns := []string{"id", "data"}
	args := []any{record.ID, record.Data}
	for _, column := range t.Columns {
		value, ok := record.Index[column.Name]
		if !ok {
			return errors.Errorf("record for %s is missing index value %s", table, column.Name)
		}
		columns = append(columns, column.Name)
		args = append(args, value)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	// REPLACE INTO handles both insert and update cases.
	query := fmt.Sprintf(
		`REPLACE INTO %s (%s) VALUES (%s)`,
		t.Name, strings.Join(columns, ", "), placeholders,
	)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "writing record")
	}
	return nil
}

// Delete implements Store. Deleting a missing id is a no-op.
func (s *SQLite) Delete(ctx context.Context, table, id string) error {
	t, err := tableFor(table)
	if err != nil {
		return err
	}
	if !s.IsAvailable() {
		return ErrStorageUnavailable
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t.Name)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return errors.Wrap(err, "deleting record")
	}
	return nil
}

// QueryByIndex implements Store.
func (s *SQLite) QueryByIndex(ctx context.Context, table, field string, value any) ([]*Record, error) {
	t, err := tableFor(table)
	if err != nil {
		return nil, err
	}
	if !t.HasColumn(field) {
		return nil, errors.Wrapf(ErrUnknownIndex, "%s.%s", table, field)
	}

	query := fmt.Sprintf(
		`SELECT id, data FROM %s WHERE %s = ? ORDER BY %s`,
		t.Name, field, t.OrderBy,
	)
	rows, err := s.db.QueryContext(ctx, query, value)
	if err != nil {
		return nil, errors.Wrap(err, "querying records")
	}
	defer rows.Close()
	return scanRecords(rows)
}

// List implements Store.
func (s *SQLite) List(ctx context.Context, table string) ([]*Record, error) {
	t, err := tableFor(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, data FROM %s ORDER BY %s`, t.Name, t.OrderBy)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "querying records")
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ClearAll implements Store.
func (s *SQLite) ClearAll(ctx context.Context) error {
	if !s.IsAvailable() {
		return ErrStorageUnavailable
	}
	for _, t := range Tables {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, t.Name)); err != nil {
			return errors.Wrapf(err, "clearing table %s", t.Name)
		}
	}
	log.Debug().Msg("cleared all tables")
	return nil
}

// IsAvailable implements Store. The database can become unusable after open,
// e.g. when the file is removed or the disk is full.
func (s *SQLite) IsAvailable() bool {
	return s.db.Ping() == nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		record := &Record{}
		if err := rows.Scan(&record.ID, &record.Data); err != nil {
			return nil, errors.Wrap(err, "scanning record row")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating record rows")
	}
	return records, nil
}
