package store

import (
	"context"

	"github.com/pkg/errors"
)

// Table names.
const (
	TableConversations = "conversations"
	TableBranches      = "branches"
	TableMessages      = "messages"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStorageUnavailable is returned when the underlying engine cannot accept writes.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrUnknownTable is returned for a table name that was never declared.
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnknownIndex is returned for an index field that was never declared on the table.
	ErrUnknownIndex = errors.New("unknown index field")
)

// Record holds one persisted entity: a JSON document keyed by ID, plus the
// secondary index values extracted from the document by the caller.
type Record struct {
	ID    string
	Data  []byte
	Index map[string]any
}

// Column describes one secondary index column of a table.
type Column struct {
	Name string
	Type string
}

// Table describes a table's secondary indexes and its scan order.
type Table struct {
	Name    string
	Columns []Column
	OrderBy string
}

// HasColumn reports whether name is a declared index column.
func (t *Table) HasColumn(name string) bool {
	for _, column := range t.Columns {
		if column.Name == name {
			return true
		}
	}
	return false
}

// Tables declares the schema shared by every engine.
var Tables = []*Table{
	{
		Name:    TableConversations,
		Columns: []Column{{Name: "update_timestamp", Type: "INTEGER"}},
		OrderBy: "update_timestamp DESC",
	},
	{
		Name: TableBranches,
		Columns: []Column{
			{Name: "conversation_id", Type: "TEXT"},
			{Name: "position", Type: "INTEGER"},
		},
		OrderBy: "position ASC",
	},
	{
		Name: TableMessages,
		Columns: []Column{
			{Name: "branch_id", Type: "TEXT"},
			{Name: "timestamp", Type: "INTEGER"},
		},
		OrderBy: "timestamp ASC",
	},
}

// tableFor resolves a declared table by name.
func tableFor(name string) (*Table, error) {
	for _, table := range Tables {
		if table.Name == name {
			return table, nil
		}
	}
	return nil, errors.Wrap(ErrUnknownTable, name)
}

// Store is the persistence engine behind the repository. Implementations must
// survive restarts (except Memory), order QueryByIndex/List results per the
// table's OrderBy, and report write failures rather than swallowing them.
type Store interface {
	// Get returns the record with the given id, or an error wrapping ErrNotFound.
	Get(ctx context.Context, table, id string) (*Record, error)
	// Put inserts or overwrites a record by primary key.
	Put(ctx context.Context, table string, record *Record) error
	// Delete removes a record. Deleting a missing id is a no-op.
	Delete(ctx context.Context, table, id string) error
	// QueryByIndex returns all records whose index field equals value, ordered.
	QueryByIndex(ctx context.Context, table, field string, value any) ([]*Record, error)
	// List returns every record of a table, ordered.
	List(ctx context.Context, table string) ([]*Record, error)
	// ClearAll wipes all tables.
	ClearAll(ctx context.Context) error
	// IsAvailable probes whether the engine can currently accept writes.
	IsAvailable() bool
	// Close releases the engine's resources.
	Close() error
}
