package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// schemaVersion is the version the code expects. Databases at an older
// version are upgraded step by step on open.
const schemaVersion = 2

// A migration upgrades the schema by exactly one version. Each step runs in
// its own transaction together with the version bump, so a failed step leaves
// no partial state behind.
type migration struct {
	version int
	apply   func(tx *sql.Tx) error
}

var sqliteMigrations = []migration{
	{version: 1, apply: createInitialSchema},
	{version: 2, apply: rewriteBranchInitialInput},
}

func (s *SQLite) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	if err != nil {
		return errors.Wrap(err, "creating schema_version table")
	}

	current := 0
	err = s.db.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "reading schema version")
	}
	if err == sql.ErrNoRows {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return errors.Wrap(err, "initializing schema version")
		}
	}

	for _, m := range sqliteMigrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "beginning transaction")
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "applying migration %d", m.version)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, m.version); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "bumping schema version to %d", m.version)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "committing migration %d", m.version)
		}
		log.Debug().Int("version", m.version).Msg("applied schema migration")
		current = m.version
	}
	return nil
}

func createInitialSchema(tx *sql.Tx) error {
	for _, t := range Tables {
		columns := "id TEXT PRIMARY KEY, data TEXT NOT NULL"
		for _, column := range t.Columns {
			columns += fmt.Sprintf(", %s %s NOT NULL", column.Name, column.Type)
		}
		if _, err := tx.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, t.Name, columns)); err != nil {
			return errors.Wrapf(err, "creating table %s", t.Name)
		}
		for _, column := range t.Columns {
			indexName := fmt.Sprintf("idx_%s_%s", t.Name, column.Name)
			query := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`, indexName, t.Name, column.Name)
			if _, err := tx.Exec(query); err != nil {
				return errors.Wrapf(err, "creating index %s", indexName)
			}
		}
	}
	return nil
}

// rewriteBranchInitialInput migrates branch documents from the deprecated
// single initialInput field to the mentionedTexts list.
func rewriteBranchInitialInput(tx *sql.Tx) error {
	rows, err := tx.Query(`SELECT id, data FROM branches`)
	if err != nil {
		return errors.Wrap(err, "querying branches")
	}
	defer rows.Close()

	type rewrite struct {
		id   string
		data []byte
	}
	var rewrites []rewrite
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return errors.Wrap(err, "scanning branch row")
		}
		migrated, changed, err := migrateBranchDocument(data)
		if err != nil {
			return errors.Wrapf(err, "migrating branch %s", id)
		}
		if changed {
			rewrites = append(rewrites, rewrite{id: id, data: migrated})
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterating branch rows")
	}

	for _, r := range rewrites {
		if _, err := tx.Exec(`UPDATE branches SET data = ? WHERE id = ?`, r.data, r.id); err != nil {
			return errors.Wrapf(err, "rewriting branch %s", r.id)
		}
	}
	return nil
}

// migrateBranchDocument folds a non-empty initialInput into mentionedTexts
// when the latter is absent, and drops the deprecated field.
func migrateBranchDocument(data []byte) ([]byte, bool, error) {
	document := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, false, errors.Wrap(err, "unmarshaling branch document")
	}
	raw, ok := document["initialInput"]
	if !ok {
		return data, false, nil
	}

	var initialInput string
	if err := json.Unmarshal(raw, &initialInput); err != nil {
		return nil, false, errors.Wrap(err, "unmarshaling initialInput")
	}
	if _, ok := document["mentionedTexts"]; !ok && initialInput != "" {
		mentioned, err := json.Marshal([]string{initialInput})
		if err != nil {
			return nil, false, errors.Wrap(err, "marshaling mentionedTexts")
		}
		document["mentionedTexts"] = mentioned
	}
	delete(document, "initialInput")

	migrated, err := json.Marshal(document)
	if err != nil {
		return nil, false, errors.Wrap(err, "marshaling branch document")
	}
	return migrated, true, nil
}
