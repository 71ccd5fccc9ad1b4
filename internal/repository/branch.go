package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"bgpt/internal/store"
)

// CreateBranch writes a new branch to the store.
func (r *Repository) CreateBranch(ctx context.Context, branch *Branch) error {
	if branch == nil {
		return errors.New("branch cannot be nil")
	}
	record, err := branchRecord(branch)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, store.TableBranches, record)
}

// GetBranch returns a branch, or an error wrapping store.ErrNotFound.
func (r *Repository) GetBranch(ctx context.Context, id string) (*Branch, error) {
	record, err := r.store.Get(ctx, store.TableBranches, id)
	if err != nil {
		return nil, err
	}
	return branchFromRecord(record)
}

// ListBranches returns the branches of a conversation ordered by position.
func (r *Repository) ListBranches(ctx context.Context, conversationID string) ([]*Branch, error) {
	records, err := r.store.QueryByIndex(ctx, store.TableBranches, "conversation_id", conversationID)
	if err != nil {
		return nil, err
	}
	branches := make([]*Branch, 0, len(records))
	for _, record := range records {
		branch, err := branchFromRecord(record)
		if err != nil {
			return nil, err
		}
		branches = append(branches, branch)
	}
	return branches, nil
}

// UpdateBranchRequest updates the fields named by UpdateMask.
type UpdateBranchRequest struct {
	Branch     *Branch
	UpdateMask []string
}

// UpdateBranch merges the masked fields into the stored branch. Omitted
// fields retain their prior value, so concurrent updates of disjoint fields
// do not clobber each other. Updating a missing id is a no-op.
func (r *Repository) UpdateBranch(ctx context.Context, request *UpdateBranchRequest) (*Branch, error) {
	if request.Branch == nil {
		return nil, errors.New("branch cannot be nil")
	}

	existing, err := r.GetBranch(ctx, request.Branch.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "retrieving existing branch")
	}

	if shouldUpdate(request.UpdateMask, "title") {
		existing.Title = request.Branch.Title
	}
	if shouldUpdate(request.UpdateMask, "model") {
		existing.Model = request.Branch.Model
	}
	if shouldUpdate(request.UpdateMask, "messages") {
		existing.Messages = request.Branch.Messages
	}
	if shouldUpdate(request.UpdateMask, "mentioned_texts") {
		existing.MentionedTexts = request.Branch.MentionedTexts
	}
	if shouldUpdate(request.UpdateMask, "position") {
		existing.Position = request.Branch.Position
	}
	if shouldUpdate(request.UpdateMask, "branch_source") {
		existing.BranchSourceBranchID = request.Branch.BranchSourceBranchID
		existing.BranchSourceMessageID = request.Branch.BranchSourceMessageID
		existing.BranchSelectedText = request.Branch.BranchSelectedText
	}
	existing.UpdateTimestamp = time.Now().UnixMicro()

	record, err := branchRecord(existing)
	if err != nil {
		return nil, err
	}
	if err := r.store.Put(ctx, store.TableBranches, record); err != nil {
		return nil, err
	}
	return existing, nil
}

// DeleteBranch removes a branch and all its messages. It does not touch the
// owning conversation's BranchIDs and does not enforce last-branch or
// position-0 protection; those rules belong to the callers. Deleting a
// missing id is a no-op.
func (r *Repository) DeleteBranch(ctx context.Context, id string) error {
	messages, err := r.ListMessages(ctx, id)
	if err != nil {
		return err
	}
	for _, message := range messages {
		if err := r.store.Delete(ctx, store.TableMessages, message.ID); err != nil {
			return errors.Wrapf(err, "deleting message %s", message.ID)
		}
	}
	return r.store.Delete(ctx, store.TableBranches, id)
}

// RepackPositions rewrites the positions of a conversation's surviving
// branches to a contiguous 0..n-1 sequence, preserving relative order.
func (r *Repository) RepackPositions(ctx context.Context, conversationID string) error {
	branches, err := r.ListBranches(ctx, conversationID)
	if err != nil {
		return err
	}
	for i, branch := range branches {
		if branch.Position == i {
			continue
		}
		branch.Position = i
		request := &UpdateBranchRequest{Branch: branch, UpdateMask: []string{"position"}}
		if _, err := r.UpdateBranch(ctx, request); err != nil {
			return errors.Wrapf(err, "repacking branch %s", branch.ID)
		}
	}
	return nil
}
