package repository

import (
	"context"

	"github.com/pkg/errors"
)

// Export holds a full dump of the three entity tables.
type Export struct {
	Conversations []*Conversation `json:"conversations"`
	Branches      []*Branch       `json:"branches"`
	Messages      []*Message      `json:"messages"`
}

// ExportData dumps every conversation, branch and message.
func (r *Repository) ExportData(ctx context.Context) (*Export, error) {
	conversations, err := r.ListConversations(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing conversations")
	}

	export := &Export{
		Conversations: conversations,
		Branches:      []*Branch{},
		Messages:      []*Message{},
	}
	for _, conversation := range conversations {
		branches, err := r.ListBranches(ctx, conversation.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "listing branches of %s", conversation.ID)
		}
		export.Branches = append(export.Branches, branches...)
		for _, branch := range branches {
			messages, err := r.ListMessages(ctx, branch.ID)
			if err != nil {
				return nil, errors.Wrapf(err, "listing messages of %s", branch.ID)
			}
			export.Messages = append(export.Messages, messages...)
		}
	}
	return export, nil
}

// ImportData writes a previously exported dump. Referenced records land
// before referencing ones: messages, then branches, then conversations.
func (r *Repository) ImportData(ctx context.Context, export *Export) error {
	if export == nil {
		return errors.New("export cannot be nil")
	}
	for _, message := range export.Messages {
		if err := r.CreateMessage(ctx, message); err != nil {
			return errors.Wrapf(err, "importing message %s", message.ID)
		}
	}
	for _, branch := range export.Branches {
		if err := r.CreateBranch(ctx, branch); err != nil {
			return errors.Wrapf(err, "importing branch %s", branch.ID)
		}
	}
	for _, conversation := range export.Conversations {
		if err := r.CreateConversation(ctx, conversation); err != nil {
			return errors.Wrapf(err, "importing conversation %s", conversation.ID)
		}
	}
	return nil
}

// ClearAll wipes every table.
func (r *Repository) ClearAll(ctx context.Context) error {
	return r.store.ClearAll(ctx)
}
