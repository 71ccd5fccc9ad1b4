package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"bgpt/internal/store"
)

// CreateConversation writes a new conversation to the store.
func (r *Repository) CreateConversation(ctx context.Context, conversation *Conversation) error {
	if conversation == nil {
		return errors.New("conversation cannot be nil")
	}
	record, err := conversationRecord(conversation)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, store.TableConversations, record)
}

// GetConversation returns a conversation, or an error wrapping store.ErrNotFound.
func (r *Repository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	record, err := r.store.Get(ctx, store.TableConversations, id)
	if err != nil {
		return nil, err
	}
	return conversationFromRecord(record)
}

// ListConversations returns all conversations, most recently updated first.
func (r *Repository) ListConversations(ctx context.Context) ([]*Conversation, error) {
	records, err := r.store.List(ctx, store.TableConversations)
	if err != nil {
		return nil, err
	}
	conversations := make([]*Conversation, 0, len(records))
	for _, record := range records {
		conversation, err := conversationFromRecord(record)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conversation)
	}
	return conversations, nil
}

// UpdateConversationRequest updates the fields named by UpdateMask.
type UpdateConversationRequest struct {
	Conversation *Conversation
	UpdateMask   []string
}

// UpdateConversation merges the masked fields into the stored conversation.
// Omitted fields retain their prior value. Updating a missing id is a no-op.
func (r *Repository) UpdateConversation(ctx context.Context, request *UpdateConversationRequest) (*Conversation, error) {
	if request.Conversation == nil {
		return nil, errors.New("conversation cannot be nil")
	}

	existing, err := r.GetConversation(ctx, request.Conversation.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "retrieving existing conversation")
	}

	if shouldUpdate(request.UpdateMask, "name") {
		existing.Name = request.Conversation.Name
	}
	if shouldUpdate(request.UpdateMask, "tags") {
		existing.Tags = request.Conversation.Tags
	}
	if shouldUpdate(request.UpdateMask, "branch_ids") {
		existing.BranchIDs = request.Conversation.BranchIDs
	}
	existing.UpdateTimestamp = time.Now().UnixMicro()

	record, err := conversationRecord(existing)
	if err != nil {
		return nil, err
	}
	if err := r.store.Put(ctx, store.TableConversations, record); err != nil {
		return nil, err
	}
	return existing, nil
}

// DeleteConversation removes a conversation, all its branches, and all their
// messages. Deleting a missing id is a no-op.
func (r *Repository) DeleteConversation(ctx context.Context, id string) error {
	branches, err := r.ListBranches(ctx, id)
	if err != nil {
		return err
	}
	for _, branch := range branches {
		if err := r.DeleteBranch(ctx, branch.ID); err != nil {
			return errors.Wrapf(err, "deleting branch %s", branch.ID)
		}
	}
	return r.store.Delete(ctx, store.TableConversations, id)
}
