package llm

import (
	"context"
	"fmt"
	"io"

	"github.com/liushuangls/go-anthropic/v2"
)

const anthropicMaxTokens = 4096

// AnthropicClient implements Client against the native Anthropic API, for
// users who bring an Anthropic key instead of an OpenAI-compatible one.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient instantiates a client for the given key.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{client: anthropic.NewClient(apiKey)}
}

// anthropicStreamWrapper adapts the callback-based Anthropic stream to the
// pull-based Stream interface. The producing goroutine closes tokens once the
// upstream call returns, then parks the terminal result on err; it is bound
// to a derived context so Close interrupts it.
type anthropicStreamWrapper struct {
	tokens chan string
	err    chan error
	cancel context.CancelFunc
}

func (s *anthropicStreamWrapper) Close() { s.cancel() }

// Recv drains buffered tokens to exhaustion before consulting the terminal
// result, so a completion is never cut short by its own producer finishing
// first.
func (s *anthropicStreamWrapper) Recv() (*StreamEvent, error) {
	token, ok := <-s.tokens
	if ok {
		return &StreamEvent{Token: token}, nil
	}
	if err := <-s.err; err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// StreamCompletion implements Client.
func (c *AnthropicClient) StreamCompletion(ctx context.Context, request *CompletionRequest) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	wrapper := &anthropicStreamWrapper{
		tokens: make(chan string, 100),
		err:    make(chan error, 1),
		cancel: cancel,
	}
	anthropicRequest := anthropic.MessagesStreamRequest{
		MessagesRequest: anthropic.MessagesRequest{
			Model:     anthropic.Model(request.Model),
			Messages:  toAnthropicMessages(request.Messages),
			MaxTokens: anthropicMaxTokens,
		},
		OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
			if data.Delta.Text == nil {
				return
			}
			// The consumer may have gone away; never block past Close.
			select {
			case wrapper.tokens <- *data.Delta.Text:
			case <-ctx.Done():
			}
		},
	}

	go func() {
		_, err := c.client.CreateMessagesStream(ctx, anthropicRequest)
		close(wrapper.tokens)
		wrapper.err <- err
	}()
	return wrapper, nil
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, request *CompletionRequest) (string, error) {
	response, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(request.Model),
		Messages:  toAnthropicMessages(request.Messages),
		MaxTokens: anthropicMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("creating completion: %w", err)
	}
	return response.GetFirstContentText(), nil
}

func toAnthropicMessages(messages []*Message) []anthropic.Message {
	converted := make([]anthropic.Message, 0, len(messages))
	for _, message := range messages {
		switch message.Role {
		case "assistant":
			converted = append(converted, anthropic.NewAssistantTextMessage(message.Content))
		default:
			// Anthropic has no system role in the messages list.
			converted = append(converted, anthropic.NewUserTextMessage(message.Content))
		}
	}
	return converted
}
