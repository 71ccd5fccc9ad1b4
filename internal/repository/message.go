package repository

import (
	"context"

	"github.com/pkg/errors"

	"bgpt/internal/store"
)

// CreateMessage writes a new message to the store.
func (r *Repository) CreateMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return errors.New("message cannot be nil")
	}
	record, err := messageRecord(message)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, store.TableMessages, record)
}

// GetMessage returns a message, or an error wrapping store.ErrNotFound.
func (r *Repository) GetMessage(ctx context.Context, id string) (*Message, error) {
	record, err := r.store.Get(ctx, store.TableMessages, id)
	if err != nil {
		return nil, err
	}
	return messageFromRecord(record)
}

// ListMessages returns the messages of a branch ordered by timestamp.
func (r *Repository) ListMessages(ctx context.Context, branchID string) ([]*Message, error) {
	records, err := r.store.QueryByIndex(ctx, store.TableMessages, "branch_id", branchID)
	if err != nil {
		return nil, err
	}
	messages := make([]*Message, 0, len(records))
	for _, record := range records {
		message, err := messageFromRecord(record)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// DeleteMessage removes a message. Deleting a missing id is a no-op.
func (r *Repository) DeleteMessage(ctx context.Context, id string) error {
	return r.store.Delete(ctx, store.TableMessages, id)
}
