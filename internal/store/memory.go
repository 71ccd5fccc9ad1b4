package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Memory implements Store in process memory. It backs tests and ephemeral
// runs, and its availability can be toggled to exercise storage failure paths.
type Memory struct {
	mu        sync.RWMutex
	tables    map[string]map[string]*Record
	available bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	tables := map[string]map[string]*Record{}
	for _, t := range Tables {
		tables[t.Name] = map[string]*Record{}
	}
	return &Memory{tables: tables, available: true}
}

// SetAvailable toggles the availability probe.
func (s *Memory) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
}

// Get implements Store.
func (s *Memory) Get(ctx context.Context, table, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.records(table)
	if err != nil {
		return nil, err
	}
	record, ok := records[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s/%s", table, id)
	}
	return copyRecord(record), nil
}

// Put implements Store.
func (s *Memory) Put(ctx context.Context, table string, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.records(table)
	if err != nil {
		return err
	}
	if !s.available {
		return ErrStorageUnavailable
	}
	records[record.ID] = copyRecord(record)
	return nil
}

// Delete implements Store.
func (s *Memory) Delete(ctx context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.records(table)
	if err != nil {
		return err
	}
	if !s.available {
		return ErrStorageUnavailable
	}
	delete(records, id)
	return nil
}

// QueryByIndex implements Store.
func (s *Memory) QueryByIndex(ctx context.Context, table, field string, value any) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := tableFor(table)
	if err != nil {
		return nil, err
	}
	if !t.HasColumn(field) {
		return nil, errors.Wrapf(ErrUnknownIndex, "%s.%s", table, field)
	}

	var matches []*Record
	for _, record := range s.tables[table] {
		if indexValuesEqual(record.Index[field], value) {
			matches = append(matches, copyRecord(record))
		}
	}
	sortRecords(t, matches)
	return matches, nil
}

// List implements Store.
func (s *Memory) List(ctx context.Context, table string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := tableFor(table)
	if err != nil {
		return nil, err
	}
	var records []*Record
	for _, record := range s.tables[table] {
		records = append(records, copyRecord(record))
	}
	sortRecords(t, records)
	return records, nil
}

// ClearAll implements Store.
func (s *Memory) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.available {
		return ErrStorageUnavailable
	}
	for name := range s.tables {
		s.tables[name] = map[string]*Record{}
	}
	return nil
}

// IsAvailable implements Store.
func (s *Memory) IsAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// Close implements Store.
func (s *Memory) Close() error {
	return nil
}

func (s *Memory) records(table string) (map[string]*Record, error) {
	records, ok := s.tables[table]
	if !ok {
		return nil, errors.Wrap(ErrUnknownTable, table)
	}
	return records, nil
}

func copyRecord(record *Record) *Record {
	data := make([]byte, len(record.Data))
	copy(data, record.Data)
	index := make(map[string]any, len(record.Index))
	for key, value := range record.Index {
		index[key] = value
	}
	return &Record{ID: record.ID, Data: data, Index: index}
}

func sortRecords(t *Table, records []*Record) {
	parts := strings.Fields(t.OrderBy)
	field := parts[0]
	descending := len(parts) > 1 && strings.EqualFold(parts[1], "DESC")
	sort.SliceStable(records, func(i, j int) bool {
		less := compareIndexValues(records[i].Index[field], records[j].Index[field]) < 0
		if descending {
			return !less && compareIndexValues(records[i].Index[field], records[j].Index[field]) != 0
		}
		return less
	})
}

func compareIndexValues(a, b any) int {
	if sa, ok := a.(string); ok {
		sb, _ := b.(string)
		return strings.Compare(sa, sb)
	}
	na, nb := toInt64(a), toInt64(b)
	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	default:
		return 0
	}
}

func indexValuesEqual(a, b any) bool {
	return compareIndexValues(a, b) == 0
}

func toInt64(value any) int64 {
	switch v := value.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}
