package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteForTest(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "bgpt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newMemoryForTest(t *testing.T) Store {
	t.Helper()
	return NewMemory()
}

// Both engines must behave identically through the Store interface.
func forEachEngine(t *testing.T, test func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { test(t, newSQLiteForTest(t)) })
	t.Run("memory", func(t *testing.T) { test(t, newMemoryForTest(t)) })
}

func conversationTestRecord(id string, updateTimestamp int64) *Record {
	return &Record{
		ID:    id,
		Data:  []byte(`{"id":"` + id + `"}`),
		Index: map[string]any{"update_timestamp": updateTimestamp},
	}
}

func branchTestRecord(id, conversationID string, position int) *Record {
	return &Record{
		ID:    id,
		Data:  []byte(`{"id":"` + id + `"}`),
		Index: map[string]any{"conversation_id": conversationID, "position": position},
	}
}

func messageTestRecord(id, branchID string, timestamp int64) *Record {
	return &Record{
		ID:    id,
		Data:  []byte(`{"id":"` + id + `"}`),
		Index: map[string]any{"branch_id": branchID, "timestamp": timestamp},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		record := conversationTestRecord("c1", 100)
		require.NoError(t, s.Put(ctx, TableConversations, record))

		got, err := s.Get(ctx, TableConversations, "c1")
		require.NoError(t, err)
		assert.Equal(t, "c1", got.ID)
		assert.JSONEq(t, `{"id":"c1"}`, string(got.Data))
	})
}

func TestPutOverwritesByPrimaryKey(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, TableConversations, conversationTestRecord("c1", 100)))

		updated := &Record{
			ID:    "c1",
			Data:  []byte(`{"id":"c1","name":"renamed"}`),
			Index: map[string]any{"update_timestamp": int64(200)},
		}
		require.NoError(t, s.Put(ctx, TableConversations, updated))

		got, err := s.Get(ctx, TableConversations, "c1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"c1","name":"renamed"}`, string(got.Data))

		records, err := s.List(ctx, TableConversations)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})
}

func TestGetMissingRecord(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store) {
		_, err := s.Get(context.Background(), TableConversations, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDeleteIsIdempotent(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, TableConversations, conversationTestRecord("c1", 100)))
		require.NoError(t, s.Delete(ctx, TableConversations, "c1"))
		require.NoError(t, s.Delete(ctx, TableConversations, "c1"))

		_, err := s.Get(ctx, TableConversations, "c1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestQueryByIndexOrdersBranchesByPosition(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, TableBranches, branchTestRecord("b2", "c1", 2)))
		require.NoError(t, s.Put(ctx, TableBranches, branchTestRecord("b0", "c1", 0)))
		require.NoError(t, s.Put(ctx, TableBranches, branchTestRecord("b1", "c1", 1)))
		require.NoError(t, s.Put(ctx, TableBranches, branchTestRecord("other", "c2", 0)))

		records, err := s.QueryByIndex(ctx, TableBranches, "conversation_id", "c1")
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "b0", records[0].ID)
		assert.Equal(t, "b1", records[1].ID)
		assert.Equal(t, "b2", records[2].ID)
	})
}

func TestQueryByIndexOrdersMessagesByTimestamp(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, TableMessages, messageTestRecord("m2", "b1", 300)))
		require.NoError(t, s.Put(ctx, TableMessages, messageTestRecord("m0", "b1", 100)))
		require.NoError(t, s.Put(ctx, TableMessages, messageTestRecord("m1", "b1", 200)))

		records, err := s.QueryByIndex(ctx, TableMessages, "branch_id", "b1")
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "m0", records[0].ID)
		assert.Equal(t, "m1", records[1].ID)
		assert.Equal(t, "m2", records[2].ID)
	})
}

func TestListOrdersConversationsByRecency(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, TableConversations, conversationTestRecord("old", 100)))
		require.NoError(t, s.Put(ctx, TableConversations, conversationTestRecord("new", 300)))
		require.NoError(t, s.Put(ctx, TableConversations, conversationTestRecord("mid", 200)))

		records, err := s.List(ctx, TableConversations)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "new", records[0].ID)
		assert.Equal(t, "mid", records[1].ID)
		assert.Equal(t, "old", records[2].ID)
	})
}

func TestClearAll(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, TableConversations, conversationTestRecord("c1", 100)))
		require.NoError(t, s.Put(ctx, TableBranches, branchTestRecord("b1", "c1", 0)))
		require.NoError(t, s.Put(ctx, TableMessages, messageTestRecord("m1", "b1", 100)))

		require.NoError(t, s.ClearAll(ctx))

		for _, table := range []string{TableConversations, TableBranches, TableMessages} {
			records, err := s.List(ctx, table)
			require.NoError(t, err)
			assert.Empty(t, records)
		}
	})
}

func TestUnknownTableAndIndex(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.Get(ctx, "nope", "id")
		assert.ErrorIs(t, err, ErrUnknownTable)

		_, err = s.QueryByIndex(ctx, TableBranches, "favorite", "x")
		assert.ErrorIs(t, err, ErrUnknownIndex)
	})
}

func TestMemoryUnavailableRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Put(ctx, TableConversations, conversationTestRecord("c1", 100)))

	s.SetAvailable(false)
	assert.False(t, s.IsAvailable())
	assert.ErrorIs(t, s.Put(ctx, TableConversations, conversationTestRecord("c2", 200)), ErrStorageUnavailable)
	assert.ErrorIs(t, s.Delete(ctx, TableConversations, "c1"), ErrStorageUnavailable)
	assert.ErrorIs(t, s.ClearAll(ctx), ErrStorageUnavailable)

	// Reads still work, and the failed writes changed nothing.
	got, err := s.Get(ctx, TableConversations, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)

	s.SetAvailable(true)
	assert.NoError(t, s.Put(ctx, TableConversations, conversationTestRecord("c2", 200)))
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "bgpt.db")

	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, TableConversations, conversationTestRecord("c1", 100)))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, TableConversations, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)
}
