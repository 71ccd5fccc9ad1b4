// Package fork implements the branching model: new branches seeded by a text
// selection from an existing branch's message, and reference queueing onto
// existing branches. Forking never copies messages; the two branches are
// related only through the queued reference.
package fork

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"bgpt/internal/repository"
)

var (
	// ErrEmptySelection is returned when the selected text is empty or blank.
	ErrEmptySelection = errors.New("selected text is empty")
	// ErrProtectedBranch is returned when deleting the position-0 branch.
	ErrProtectedBranch = errors.New("first branch cannot be deleted")
	// ErrLastBranch is returned when deleting a conversation's only branch.
	ErrLastBranch = errors.New("conversation must keep at least one branch")
)

// Engine implements branch creation, reference forking and branch deletion
// on top of the repository.
type Engine struct {
	repo *repository.Repository
}

// New engine over the given repository.
func New(repo *repository.Repository) *Engine {
	return &Engine{repo: repo}
}

// NewConversation creates a conversation together with its seed branch at
// position 0. The branch is written first so a reader never observes a
// conversation referencing a missing branch.
func (e *Engine) NewConversation(ctx context.Context, model string) (*repository.Conversation, *repository.Branch, error) {
	conversation := repository.NewConversation()
	branch := repository.NewBranch(conversation.ID, model, 0)
	conversation.BranchIDs = []string{branch.ID}

	if err := e.repo.CreateBranch(ctx, branch); err != nil {
		return nil, nil, errors.Wrap(err, "creating branch")
	}
	if err := e.repo.CreateConversation(ctx, conversation); err != nil {
		return nil, nil, errors.Wrap(err, "creating conversation")
	}
	return conversation, branch, nil
}

// BranchToNew creates a sibling branch seeded by selectedText. The new branch
// starts with no messages and position equal to the current branch count; the
// selection is queued as a pending reference, not turned into a message.
func (e *Engine) BranchToNew(ctx context.Context, conversationID, sourceBranchID, sourceMessageID, selectedText string) (*repository.Branch, error) {
	if strings.TrimSpace(selectedText) == "" {
		return nil, ErrEmptySelection
	}

	conversation, err := e.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "retrieving conversation")
	}
	source, err := e.repo.GetBranch(ctx, sourceBranchID)
	if err != nil {
		return nil, errors.Wrap(err, "retrieving source branch")
	}
	if source.ConversationID != conversationID {
		return nil, errors.Errorf("branch %s does not belong to conversation %s", sourceBranchID, conversationID)
	}
	if _, err := e.repo.GetMessage(ctx, sourceMessageID); err != nil {
		return nil, errors.Wrap(err, "retrieving source message")
	}

	branches, err := e.repo.ListBranches(ctx, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "listing branches")
	}

	branch := repository.NewBranch(conversationID, source.Model, len(branches))
	branch.MentionedTexts = []string{selectedText}
	branch.BranchSourceBranchID = sourceBranchID
	branch.BranchSourceMessageID = sourceMessageID
	branch.BranchSelectedText = selectedText
	if err := e.repo.CreateBranch(ctx, branch); err != nil {
		return nil, errors.Wrap(err, "creating branch")
	}

	conversation.BranchIDs = append(conversation.BranchIDs, branch.ID)
	request := &repository.UpdateConversationRequest{
		Conversation: conversation,
		UpdateMask:   []string{"branch_ids"},
	}
	if _, err := e.repo.UpdateConversation(ctx, request); err != nil {
		return nil, errors.Wrap(err, "updating conversation branch ids")
	}

	log.Debug().
		Str("conversation_id", conversationID).
		Str("source_branch_id", sourceBranchID).
		Str("branch_id", branch.ID).
		Int("position", branch.Position).
		Msg("forked new branch")
	return branch, nil
}

// BranchToExisting queues selectedText as a pending reference on the target
// branch. References accumulate until the next outgoing message folds them in.
func (e *Engine) BranchToExisting(ctx context.Context, targetBranchID, selectedText string) error {
	if strings.TrimSpace(selectedText) == "" {
		return ErrEmptySelection
	}

	target, err := e.repo.GetBranch(ctx, targetBranchID)
	if err != nil {
		return errors.Wrap(err, "retrieving target branch")
	}

	target.MentionedTexts = append(target.MentionedTexts, selectedText)
	request := &repository.UpdateBranchRequest{
		Branch:     target,
		UpdateMask: []string{"mentioned_texts"},
	}
	if _, err := e.repo.UpdateBranch(ctx, request); err != nil {
		return errors.Wrap(err, "updating target branch")
	}
	return nil
}

// DeleteBranch removes a branch and its messages, detaches it from the owning
// conversation and repacks the surviving siblings' positions. The position-0
// branch and a conversation's only branch are protected; deleting those goes
// through whole-conversation deletion.
func (e *Engine) DeleteBranch(ctx context.Context, branchID string) error {
	branch, err := e.repo.GetBranch(ctx, branchID)
	if err != nil {
		return errors.Wrap(err, "retrieving branch")
	}
	if branch.Position == 0 {
		return ErrProtectedBranch
	}

	siblings, err := e.repo.ListBranches(ctx, branch.ConversationID)
	if err != nil {
		return errors.Wrap(err, "listing branches")
	}
	if len(siblings) <= 1 {
		return ErrLastBranch
	}

	if err := e.repo.DeleteBranch(ctx, branchID); err != nil {
		return errors.Wrap(err, "deleting branch")
	}

	conversation, err := e.repo.GetConversation(ctx, branch.ConversationID)
	if err != nil {
		return errors.Wrap(err, "retrieving conversation")
	}
	branchIDs := make([]string, 0, len(conversation.BranchIDs))
	for _, id := range conversation.BranchIDs {
		if id != branchID {
			branchIDs = append(branchIDs, id)
		}
	}
	conversation.BranchIDs = branchIDs
	request := &repository.UpdateConversationRequest{
		Conversation: conversation,
		UpdateMask:   []string{"branch_ids"},
	}
	if _, err := e.repo.UpdateConversation(ctx, request); err != nil {
		return errors.Wrap(err, "updating conversation branch ids")
	}

	return e.repo.RepackPositions(ctx, branch.ConversationID)
}
