package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bgpt/internal/store"
)

func newRepositoryForTest(t *testing.T) *Repository {
	t.Helper()
	return New(store.NewMemory())
}

func mustCreateConversation(t *testing.T, repo *Repository) *Conversation {
	t.Helper()
	conversation := NewConversation()
	require.NoError(t, repo.CreateConversation(context.Background(), conversation))
	return conversation
}

func mustCreateBranch(t *testing.T, repo *Repository, conversationID string, position int) *Branch {
	t.Helper()
	branch := NewBranch(conversationID, "test-model", position)
	require.NoError(t, repo.CreateBranch(context.Background(), branch))
	return branch
}

func mustCreateMessage(t *testing.T, repo *Repository, branchID, role, content string, timestamp int64) *Message {
	t.Helper()
	message := NewMessage(branchID, role, content)
	message.Timestamp = timestamp
	require.NoError(t, repo.CreateMessage(context.Background(), message))
	return message
}

func TestConversationRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newRepositoryForTest(t)

	conversation := mustCreateConversation(t, repo)
	got, err := repo.GetConversation(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.ID, got.ID)
	assert.Empty(t, got.BranchIDs)
	assert.Equal(t, conversation.CreationTimestamp, got.CreationTimestamp)
}

func TestUpdateConversationMergesOnlyMaskedFields(t *testing.T) {
	ctx := context.Background()
	repo := newRepositoryForTest(t)

	conversation := mustCreateConversation(t, repo)
	_, err := repo.UpdateConversation(ctx, &UpdateConversationRequest{
		Conversation: &Conversation{ID: conversation.ID, Tags: []string{"go", "chat"}},
		UpdateMask:   []string{"tags"},
	})
	require.NoError(t, err)

	// A concurrent-style update of a disjoint field must not clobber tags.
	_, err = repo.UpdateConversation(ctx, &UpdateConversationRequest{
		Conversation: &Conversation{ID: conversation.ID, Name: "Named"},
		UpdateMask:   []string{"name"},
	})
	require.NoError(t, err)

	got, err := repo.GetConversation(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "Named", got.Name)
	assert.Equal(t, []string{"go", "chat"}, got.Tags)
	assert.GreaterOrEqual(t, got.UpdateTimestamp, conversation.UpdateTimestamp)
}

func TestUpdateConversationIgnoresUnmaskedFields(t *testing.T) {
	ctx := context.Background()
	repo := newRepositoryForTest(t)

	conversation := mustCreateConversation(t, repo)
	_, err := repo.UpdateConversation(ctx, &UpdateConversationRequest{
		Conversation: &Conversation{ID: conversation.ID, Name: "sneaky", Tags: []string{"x"}},
		UpdateMask:   []string{"tags"},
	})
	require.NoError(t, err)

	got, err := repo.GetConversation(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Name)
	assert.Equal(t, []string{"x"}, got.Tags)
}

func TestUpdateMissingConversationIsNoOp(t *testing.T) {
	repo := newRepositoryForTest(t)
	updated, err := repo.UpdateConversation(context.Background(), &UpdateConversationRequest{
		Conversation: &Conversation{ID: "missing", Name: "x"},
		UpdateMask:   []string{"name"},
	})
	require.NoError(t, err)
	assert.Nil(t, updated)
}

func TestUpdateBranchMergesOnlyMaskedFields(t *testing.T) {
	ctx := context.Background()
	repo := newRepositoryForTest(t)

	conversation := mustCreateConversation(t, repo)
	branch := mustCreateBranch(t, repo, conversation.ID, 0)
	message := mustCreateMessage(t, repo, branch.ID, RoleUser, "hello", 100)

	_, err := repo.UpdateBranch(ctx, &UpdateBranchRequest{
		Branch:     &Branch{ID: branch.ID, Messages: []*Message{message}},
		UpdateMask: []string{"messages"},
	})
	require.NoError(t, err)

	// Model selection lands close in time; it must not clobber messages.
	_, err = repo.UpdateBranch(ctx, &UpdateBranchRequest{
		Branch:     &Branch{ID: branch.ID, Model: "another-model"},
		UpdateMask: []string{"model"},
	})
	require.NoError(t, err)

	got, err := repo.GetBranch(ctx, branch.ID)
	require.NoError(t, err)
	assert.Equal(t, "another-model", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)
}

func TestUpdateBranchCanClearMentionedTexts(t *testing.T) {
	ctx := context.Background()
	repo := newRepositoryForTest(t)

	conversation := mustCreateConversation(t, repo)
	branch := mustCreateBranch(t, repo, conversation.ID, 0)
	branch.MentionedTexts = []string{"a", "b"}
	_, err := repo.UpdateBranch(ctx, &UpdateBranchRequest{
		Branch:     branch,
		UpdateMask: []string{"mentioned_texts"},
	})
	require.NoError(t, err)

	branch.MentionedTexts = []string{}
	_, err = repo.UpdateBranch(ctx, &UpdateBranchRequest{
		Branch:     branch,
		UpdateMask: []string{"mentioned_texts"},
	})
	require.NoError(t, err)

	got, err := repo.GetBranch(ctx, branch.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MentionedTexts)
}

func TestListBranchesOrdersByPosition(t *testing.T) {
	ctx := context.Background()
	repo := newRepositoryForTest(t)

	conversation := mustCreateConversation(t, repo)
	b2 := mustCreateBranch(t, repo, conversation.ID, 2)
	b0 := mustCreateBranch(t, repo, conversation.ID, 0)
	b1 := mustCreateBranch(t, repo, conversation.ID, 1)

	branches, err := repo.ListBranches(ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, branches, 3)
	assert.Equal(t, []string{b0.ID, b1.ID, b2.ID}, []string{branches[0].ID, branches[1].ID, branches[2].ID})
}

func TestListMessagesOrdersByTimestamp(t *testing.T) {
	ctx := context.Background()
	repo := newRepositoryForTest(t)

	conversation := mustCreateConversation(t, repo)
	branch := mustCreateBranch(t, repo, conversation.ID, 0)
	mustCreateMessage(t, repo, branch.ID, RoleAssistant, "second", 200)
	mustCreateMessage(t, repo, branch.ID, RoleUser, "first", 100)

	messages, err := repo.ListMessages(ctx, branch.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
}

func TestDeleteBranchCascadesMessages(t *testing.T) {
	ctx := context.Background()
	repo := newRepositoryForTest(t)

	conversation := mustCreateConversation(t, repo)
	branch := mustCreateBranch(t, repo, conversation.ID, 0)
	mustCreateMessage(t, repo, branch.ID, RoleUser, "hello", 100)
	mustCreateMessage(t, repo, branch.ID, RoleAssistant, "hi", 200)

	require.NoError(t, repo.DeleteBranch(ctx, branch.ID))

	_, err := repo.GetBranch(ctx, branch.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	messages, err := repo.ListMessages(ctx, branch.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestDeleteConversationCascadesBranchesAndMessages(t *testing.T) {
	ctx := context.Background()
	repo := newRepositoryForTest(t)

	conversation := mustCreateConversation(t, repo)
	var branchIDs []string
	for i := 0; i < 3; i++ {
		branch := mustCreateBranch(t, repo, conversation.ID, i)
		branchIDs = append(branchIDs, branch.ID)
		mustCreateMessage(t, repo, branch.ID, RoleUser, "hello", int64(100+i))
		mustCreateMessage(t, repo, branch.ID, RoleAssistant, "hi", int64(200+i))
	}

	require.NoError(t, repo.DeleteConversation(ctx, conversation.ID))

	_, err := repo.GetConversation(ctx, conversation.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	branches, err := repo.ListBranches(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Empty(t, branches)
	// No orphaned messages remain queryable by the old branch ids.
	for _, branchID := range branchIDs {
		messages, err := repo.ListMessages(ctx, branchID)
		require.NoError(t, err)
		assert.Empty(t, messages)
	}
}

func TestDeleteMissingEntitiesAreNoOps(t *testing.T) {
	ctx := context.Background()
	repo := newRepositoryForTest(t)
	assert.NoError(t, repo.DeleteConversation(ctx, "missing"))
	assert.NoError(t, repo.DeleteBranch(ctx, "missing"))
	assert.NoError(t, repo.DeleteMessage(ctx, "missing"))
}

func TestRepackPositions(t *testing.T) {
	ctx := context.Background()
	repo := newRepositoryForTest(t)

	conversation := mustCreateConversation(t, repo)
	b0 := mustCreateBranch(t, repo, conversation.ID, 0)
	b1 := mustCreateBranch(t, repo, conversation.ID, 1)
	b2 := mustCreateBranch(t, repo, conversation.ID, 2)

	require.NoError(t, repo.DeleteBranch(ctx, b1.ID))
	require.NoError(t, repo.RepackPositions(ctx, conversation.ID))

	branches, err := repo.ListBranches(ctx, conversation.ID)
	require.NoError(t, err)
	require.Len(t, branches, 2)
	// Former position 0 stays first, former position 2 becomes second.
	assert.Equal(t, b0.ID, branches[0].ID)
	assert.Equal(t, 0, branches[0].Position)
	assert.Equal(t, b2.ID, branches[1].ID)
	assert.Equal(t, 1, branches[1].Position)
}

func TestListConversationsOrdersByRecency(t *testing.T) {
	ctx := context.Background()
	repo := newRepositoryForTest(t)

	older := mustCreateConversation(t, repo)
	newer := mustCreateConversation(t, repo)
	// Touch the older one so it becomes the most recent.
	_, err := repo.UpdateConversation(ctx, &UpdateConversationRequest{
		Conversation: &Conversation{ID: older.ID, Name: "touched"},
		UpdateMask:   []string{"name"},
	})
	require.NoError(t, err)

	conversations, err := repo.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, older.ID, conversations[0].ID)
	assert.Equal(t, newer.ID, conversations[1].ID)
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newRepositoryForTest(t)

	conversation := mustCreateConversation(t, repo)
	branch := mustCreateBranch(t, repo, conversation.ID, 0)
	mustCreateMessage(t, repo, branch.ID, RoleUser, "hello", 100)

	export, err := repo.ExportData(ctx)
	require.NoError(t, err)
	require.Len(t, export.Conversations, 1)
	require.Len(t, export.Branches, 1)
	require.Len(t, export.Messages, 1)

	restored := newRepositoryForTest(t)
	require.NoError(t, restored.ImportData(ctx, export))

	got, err := restored.GetConversation(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.ID, got.ID)
	messages, err := restored.ListMessages(ctx, branch.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Content)
}

func TestStorageUnavailablePropagates(t *testing.T) {
	ctx := context.Background()
	memory := store.NewMemory()
	repo := New(memory)

	memory.SetAvailable(false)
	err := repo.CreateConversation(ctx, NewConversation())
	assert.ErrorIs(t, err, store.ErrStorageUnavailable)
}
