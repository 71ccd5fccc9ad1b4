package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateBranchDocument(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantChanged bool
		want        string
	}{
		{
			name:        "initialInput folded into mentionedTexts",
			input:       `{"id":"b1","initialInput":"selected text"}`,
			wantChanged: true,
			want:        `{"id":"b1","mentionedTexts":["selected text"]}`,
		},
		{
			name:        "empty initialInput dropped without queueing",
			input:       `{"id":"b1","initialInput":""}`,
			wantChanged: true,
			want:        `{"id":"b1"}`,
		},
		{
			name:        "existing mentionedTexts win over initialInput",
			input:       `{"id":"b1","initialInput":"old","mentionedTexts":["a","b"]}`,
			wantChanged: true,
			want:        `{"id":"b1","mentionedTexts":["a","b"]}`,
		},
		{
			name:        "already migrated document untouched",
			input:       `{"id":"b1","mentionedTexts":["a"]}`,
			wantChanged: false,
			want:        `{"id":"b1","mentionedTexts":["a"]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed, err := migrateBranchDocument([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.wantChanged, changed)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

// Opening a database stuck at schema version 1 must upgrade its branch
// documents exactly once, atomically.
func TestSQLiteMigrationLadder(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "bgpt.db")

	// Build a v1-shaped database by hand.
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE schema_version (version INTEGER NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO schema_version (version) VALUES (1)`)
	require.NoError(t, err)
	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, createInitialSchema(tx))
	require.NoError(t, tx.Commit())
	_, err = db.Exec(
		`INSERT INTO branches (id, data, conversation_id, position) VALUES (?, ?, ?, ?)`,
		"b1", `{"id":"b1","conversationId":"c1","position":0,"initialInput":"seed"}`, "c1", 0,
	)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	defer s.Close()

	record, err := s.Get(ctx, TableBranches, "b1")
	require.NoError(t, err)
	document := map[string]json.RawMessage{}
	require.NoError(t, json.Unmarshal(record.Data, &document))
	assert.NotContains(t, document, "initialInput")
	var mentioned []string
	require.NoError(t, json.Unmarshal(document["mentionedTexts"], &mentioned))
	assert.Equal(t, []string{"seed"}, mentioned)
}
