// Package llm abstracts the upstream completion API as a token-streaming
// black box with a one-shot variant for short generations.
package llm

import (
	"context"
)

// Message is one turn of the request payload.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest describes one completion call.
type CompletionRequest struct {
	Model    string
	Messages []*Message
}

// StreamEvent is one incremental chunk of a streamed completion.
type StreamEvent struct {
	Token        string
	FinishReason string
}

// Stream is a finite, non-restartable sequence of completion chunks.
// Recv returns io.EOF when the stream ends; Close must be called on every
// exit path to release the underlying connection.
type Stream interface {
	Recv() (*StreamEvent, error)
	Close()
}

// Client is the completion-service collaborator.
type Client interface {
	// StreamCompletion starts a streaming completion. Cancellation flows
	// through ctx and must interrupt the stream promptly.
	StreamCompletion(ctx context.Context, request *CompletionRequest) (Stream, error)
	// Complete runs a single-shot completion and returns the final text.
	Complete(ctx context.Context, request *CompletionRequest) (string, error)
}
