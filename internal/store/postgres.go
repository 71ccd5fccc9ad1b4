package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Postgres implements Store over a PostgreSQL database, for users who point
// the client at a shared server instead of the local SQLite file.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and runs any pending schema migrations.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}

	s := &Postgres{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "migrating schema")
	}
	return s, nil
}

// Get implements Store.
func (s *Postgres) Get(ctx context.Context, table, id string) (*Record, error) {
	t, err := tableFor(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, data FROM %s WHERE id = $1`, t.Name)
	record := &Record{}
	err = s.pool.QueryRow(ctx, query, id).Scan(&record.ID, &record.Data)
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "%s/%s", table, id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying record")
	}
	return record, nil
}

// Put implements Store.
func (s *Postgres) Put(ctx context.Context, table string, record *Record) error {
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

	placeholders := make([]string, len(columns))
	updates := make([]string, 0, len(columns)-1)
	for i, column := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if column != "id" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", column, column))
		}
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s`,
		t.Name, strings.Join(columns, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "),
	)
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return errors.Wrap(err, "writing record")
	}
	return nil
}

// Delete implements Store. Deleting a missing id is a no-op.
func (s *Postgres) Delete(ctx context.Context, table, id string) error {
	t, err := tableFor(table)
	if err != nil {
		return err
	}
	if !s.IsAvailable() {
		return ErrStorageUnavailable
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t.Name)
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return errors.Wrap(err, "deleting record")
	}
	return nil
}

// QueryByIndex implements Store.
func (s *Postgres) QueryByIndex(ctx context.Context, table, field string, value any) ([]*Record, error) {
	t, err := tableFor(table)
	if err != nil {
		return nil, err
	}
	if !t.HasColumn(field) {
		return nil, errors.Wrapf(ErrUnknownIndex, "%s.%s", table, field)
	}

	query := fmt.Sprintf(
		`SELECT id, data FROM %s WHERE %s = $1 ORDER BY %s`,
		t.Name, field, t.OrderBy,
	)
	rows, err := s.pool.Query(ctx, query, value)
	if err != nil {
		return nil, errors.Wrap(err, "querying records")
	}
	defer rows.Close()
	return scanPostgresRecords(rows)
}

// List implements Store.
func (s *Postgres) List(ctx context.Context, table string) ([]*Record, error) {
	t, err := tableFor(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, data FROM %s ORDER BY %s`, t.Name, t.OrderBy)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "querying records")
	}
	defer rows.Close()
	return scanPostgresRecords(rows)
}

// ClearAll implements Store.
func (s *Postgres) ClearAll(ctx context.Context) error {
	if !s.IsAvailable() {
		return ErrStorageUnavailable
	}
	for _, t := range Tables {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, t.Name)); err != nil {
			return errors.Wrapf(err, "clearing table %s", t.Name)
		}
	}
	return nil
}

// IsAvailable implements Store.
func (s *Postgres) IsAvailable() bool {
	return s.pool.Ping(context.Background()) == nil
}

// Close implements Store.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version BIGINT NOT NULL)`)
	if err != nil {
		return errors.Wrap(err, "creating schema_version table")
	}

	current := 0
	err = s.pool.QueryRow(ctx, `SELECT version FROM schema_version`).Scan(&current)
	if err != nil && err != pgx.ErrNoRows {
		return errors.Wrap(err, "reading schema version")
	}
	if err == pgx.ErrNoRows {
		if _, err := s.pool.Exec(ctx, `INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return errors.Wrap(err, "initializing schema version")
		}
	}

	migrations := []struct {
		version int
		apply   func(ctx context.Context, tx pgx.Tx) error
	}{
		{version: 1, apply: createInitialPostgresSchema},
		{version: 2, apply: rewritePostgresBranchInitialInput},
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return errors.Wrap(err, "beginning transaction")
		}
		if err := m.apply(ctx, tx); err != nil {
			tx.Rollback(ctx)
			return errors.Wrapf(err, "applying migration %d", m.version)
		}
		if _, err := tx.Exec(ctx, `UPDATE schema_version SET version = $1`, m.version); err != nil {
			tx.Rollback(ctx)
			return errors.Wrapf(err, "bumping schema version to %d", m.version)
		}
		if err := tx.Commit(ctx); err != nil {
			return errors.Wrapf(err, "committing migration %d", m.version)
		}
		log.Debug().Int("version", m.version).Msg("applied schema migration")
		current = m.version
	}
	return nil
}

func createInitialPostgresSchema(ctx context.Context, tx pgx.Tx) error {
	for _, t := range Tables {
		columns := "id TEXT PRIMARY KEY, data TEXT NOT NULL"
		for _, column := range t.Columns {
			columns += fmt.Sprintf(", %s %s NOT NULL", column.Name, postgresColumnType(column.Type))
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, t.Name, columns)); err != nil {
			return errors.Wrapf(err, "creating table %s", t.Name)
		}
		for _, column := range t.Columns {
			indexName := fmt.Sprintf("idx_%s_%s", t.Name, column.Name)
			query := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`, indexName, t.Name, column.Name)
			if _, err := tx.Exec(ctx, query); err != nil {
				return errors.Wrapf(err, "creating index %s", indexName)
			}
		}
	}
	return nil
}

func rewritePostgresBranchInitialInput(ctx context.Context, tx pgx.Tx) error {
	rows, err := tx.Query(ctx, `SELECT id, data FROM branches`)
	if err != nil {
		return errors.Wrap(err, "querying branches")
	}

	type rewrite struct {
		id   string
		data []byte
	}
	var rewrites []rewrite
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			rows.Close()
			return errors.Wrap(err, "scanning branch row")
		}
		migrated, changed, err := migrateBranchDocument(data)
		if err != nil {
			rows.Close()
			return errors.Wrapf(err, "migrating branch %s", id)
		}
		if changed {
			rewrites = append(rewrites, rewrite{id: id, data: migrated})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterating branch rows")
	}

	for _, r := range rewrites {
		if _, err := tx.Exec(ctx, `UPDATE branches SET data = $1 WHERE id = $2`, r.data, r.id); err != nil {
			return errors.Wrapf(err, "rewriting branch %s", r.id)
		}
	}
	return nil
}

func scanPostgresRecords(rows pgx.Rows) ([]*Record, error) {
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

func postgresColumnType(sqliteType string) string {
	if sqliteType == "INTEGER" {
		return "BIGINT"
	}
	return sqliteType
}
