package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Client against any OpenAI-compatible endpoint,
// OpenRouter included.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient instantiates a client for the given key and host.
func NewOpenAIClient(apiKey, apiHost string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if apiHost != "" {
		config.BaseURL = apiHost
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(config)}
}

type chatCompletionStreamWrapper struct {
	stream *openai.ChatCompletionStream
}

func (s *chatCompletionStreamWrapper) Close() { s.stream.Close() }
func (s *chatCompletionStreamWrapper) Recv() (*StreamEvent, error) {
	response, err := s.stream.Recv()
	if err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("ChatCompletionResponse returned no choice: %+v", response)
	}
	return &StreamEvent{
		Token:        response.Choices[0].Delta.Content,
		FinishReason: string(response.Choices[0].FinishReason),
	}, nil
}

// StreamCompletion implements Client.
func (c *OpenAIClient) StreamCompletion(ctx context.Context, request *CompletionRequest) (Stream, error) {
	openAIRequest := openai.ChatCompletionRequest{
		Model:    request.Model,
		Stream:   true,
		Messages: toOpenAIMessages(request.Messages),
	}
	stream, err := c.client.CreateChatCompletionStream(ctx, openAIRequest)
	if err != nil {
		return nil, fmt.Errorf("creating completion stream: %w", err)
	}
	return &chatCompletionStreamWrapper{stream}, nil
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, request *CompletionRequest) (string, error) {
	openAIRequest := openai.ChatCompletionRequest{
		Model:    request.Model,
		Messages: toOpenAIMessages(request.Messages),
	}
	response, err := c.client.CreateChatCompletion(ctx, openAIRequest)
	if err != nil {
		return "", fmt.Errorf("creating completion: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("ChatCompletionResponse returned no choice: %+v", response)
	}
	return response.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []*Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, message := range messages {
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    message.Role,
			Content: message.Content,
		})
	}
	return converted
}
