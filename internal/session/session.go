// Package session orchestrates one conversation turn: folding queued
// references into the outgoing user message, streaming the assistant
// response, and persisting both in a crash-consistent order.
package session

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"bgpt/internal/fork"
	"bgpt/internal/llm"
	"bgpt/internal/repository"
)

var (
	// ErrStreamAborted is returned when the user cancels an in-flight
	// completion. Nothing is persisted; the branch state returns to idle.
	ErrStreamAborted = errors.New("stream aborted")
	// ErrStreamFailed is returned on a network or backend error mid-stream.
	ErrStreamFailed = errors.New("stream failed")
	// ErrBusy is returned when a branch already has a completion in flight.
	ErrBusy = errors.New("branch is already streaming")
)

type branchState int

const (
	stateIdle branchState = iota
	stateStreaming
)

// Controller drives per-branch chat sessions. Branches are independent and
// may stream concurrently; within one branch a single completion runs at a
// time and messages persist in strict order.
type Controller struct {
	repo   *repository.Repository
	client llm.Client

	// Model used for title generation; falls back to the branch model.
	titleModel string

	mu     sync.Mutex
	states map[string]branchState

	titleWG sync.WaitGroup
}

// New controller over the given repository and completion client.
func New(repo *repository.Repository, client llm.Client, titleModel string) *Controller {
	return &Controller{
		repo:       repo,
		client:     client,
		titleModel: titleModel,
		states:     map[string]branchState{},
	}
}

// SendResult holds the two messages persisted by a completed send.
type SendResult struct {
	UserMessage      *repository.Message
	AssistantMessage *repository.Message
}

// Send folds the branch's queued references into typed, persists the user
// message, streams the assistant response through sink, and persists the
// assistant message once the stream completes. Cancelling ctx mid-stream
// discards the partial buffer and persists nothing further.
func (c *Controller) Send(ctx context.Context, branchID, typed string, sink func(chunk string)) (*SendResult, error) {
	if err := c.begin(branchID); err != nil {
		return nil, err
	}
	defer c.end(branchID)

	branch, err := c.repo.GetBranch(ctx, branchID)
	if err != nil {
		return nil, errors.Wrap(err, "retrieving branch")
	}

	content := fork.ComposeContent(branch.MentionedTexts, typed)
	userMessage := repository.NewMessage(branchID, repository.RoleUser, content)
	mask := []string{"messages", "mentioned_texts"}
	if len(branch.Messages) == 0 && branch.BranchSourceBranchID != "" {
		// The fork seed's provenance lands on the branch's first message.
		userMessage.BranchSourceBranchID = branch.BranchSourceBranchID
		userMessage.BranchSourceMessageID = branch.BranchSourceMessageID
		userMessage.BranchSelectedText = branch.BranchSelectedText
		branch.BranchSourceBranchID = ""
		branch.BranchSourceMessageID = ""
		branch.BranchSelectedText = ""
		mask = append(mask, "branch_source")
	}

	// The message record lands before the branch references it, so a
	// mid-failure never loses the message.
	if err := c.repo.CreateMessage(ctx, userMessage); err != nil {
		return nil, errors.Wrap(err, "persisting user message")
	}
	branch.Messages = append(branch.Messages, userMessage)
	branch.MentionedTexts = []string{}
	request := &repository.UpdateBranchRequest{
		Branch:     branch,
		UpdateMask: mask,
	}
	if _, err := c.repo.UpdateBranch(ctx, request); err != nil {
		return nil, errors.Wrap(err, "updating branch")
	}

	c.maybeGenerateTitle(branch, userMessage)

	buffer, err := c.stream(ctx, branch, sink)
	if err != nil {
		return nil, err
	}

	assistantMessage := repository.NewMessage(branchID, repository.RoleAssistant, buffer)
	if err := c.repo.CreateMessage(ctx, assistantMessage); err != nil {
		return nil, errors.Wrap(err, "persisting assistant message")
	}
	branch.Messages = append(branch.Messages, assistantMessage)
	request = &repository.UpdateBranchRequest{
		Branch:     branch,
		UpdateMask: []string{"messages"},
	}
	if _, err := c.repo.UpdateBranch(ctx, request); err != nil {
		return nil, errors.Wrap(err, "updating branch")
	}

	return &SendResult{UserMessage: userMessage, AssistantMessage: assistantMessage}, nil
}

// stream consumes the completion chunk by chunk, honoring cancellation at
// each chunk boundary. The partial buffer is surfaced through sink and
// discarded on any failure; the stream is closed on every exit path.
func (c *Controller) stream(ctx context.Context, branch *repository.Branch, sink func(chunk string)) (string, error) {
	stream, err := c.client.StreamCompletion(ctx, &llm.CompletionRequest{
		Model:    branch.Model,
		Messages: c.history(branch),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ErrStreamAborted
		}
		return "", errors.Wrapf(ErrStreamFailed, "starting stream: %v", err)
	}
	defer stream.Close()

	buffer := ""
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("branch_id", branch.ID).Int("buffered", len(buffer)).Msg("stream aborted")
			return "", ErrStreamAborted
		default:
		}

		event, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return buffer, nil
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return "", ErrStreamAborted
			}
			return "", errors.Wrapf(ErrStreamFailed, "receiving chunk: %v", err)
		}

		buffer += event.Token
		if sink != nil && event.Token != "" {
			sink(event.Token)
		}
	}
}

// history builds the completion payload from the branch's messages.
func (c *Controller) history(branch *repository.Branch) []*llm.Message {
	messages := make([]*llm.Message, 0, len(branch.Messages))
	for _, message := range branch.Messages {
		messages = append(messages, &llm.Message{Role: message.Role, Content: message.Content})
	}
	return messages
}

// Wait blocks until outstanding background work (title generation) finishes.
func (c *Controller) Wait() {
	c.titleWG.Wait()
}

func (c *Controller) begin(branchID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.states[branchID] == stateStreaming {
		return ErrBusy
	}
	c.states[branchID] = stateStreaming
	return nil
}

func (c *Controller) end(branchID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[branchID] = stateIdle
}
