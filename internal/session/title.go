package session

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"bgpt/internal/llm"
	"bgpt/internal/repository"
)

const (
	titlePrompt = "Based on this user message, generate a short, descriptive title (max 5 words). " +
		"Only respond with the title, nothing else.\n\nUser: "
	titlePromptMessageLimit = 500
	titleLengthLimit        = 50
	titleTimeout            = 30 * time.Second

	// Placeholder used when the model returns nothing usable.
	fallbackTitle = "New Conversation"
)

// maybeGenerateTitle names the conversation after its very first exchange:
// the first user message persisted in the position-0 branch, when the
// conversation is still unnamed. The generation runs in the background and
// its failure is swallowed; a missing title is never a user-facing error.
func (c *Controller) maybeGenerateTitle(branch *repository.Branch, userMessage *repository.Message) {
	if branch.Position != 0 || len(branch.Messages) != 1 {
		return
	}

	c.titleWG.Add(1)
	go func() {
		defer c.titleWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		conversation, err := c.repo.GetConversation(ctx, branch.ConversationID)
		if err != nil {
			log.Debug().Err(err).Str("conversation_id", branch.ConversationID).Msg("title generation: retrieving conversation")
			return
		}
		if conversation.Name != "" {
			return
		}

		model := c.titleModel
		if model == "" {
			model = branch.Model
		}
		title, err := generateTitle(ctx, c.client, model, userMessage.Content)
		if err != nil {
			log.Debug().Err(err).Str("conversation_id", conversation.ID).Msg("title generation failed")
			return
		}

		conversation.Name = title
		request := &repository.UpdateConversationRequest{
			Conversation: conversation,
			UpdateMask:   []string{"name"},
		}
		if _, err := c.repo.UpdateConversation(ctx, request); err != nil {
			log.Debug().Err(err).Str("conversation_id", conversation.ID).Msg("title generation: persisting name")
		}
	}()
}

// generateTitle asks the model for a short descriptive title and cleans up
// the response: trimmed, surrounding quotes stripped, capped in length.
func generateTitle(ctx context.Context, client llm.Client, model, userMessage string) (string, error) {
	userMessage = truncateRunes(userMessage, titlePromptMessageLimit)
	request := &llm.CompletionRequest{
		Model:    model,
		Messages: []*llm.Message{{Role: repository.RoleUser, Content: titlePrompt + userMessage}},
	}
	response, err := client.Complete(ctx, request)
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(response)
	title = strings.Trim(title, `"'`)
	title = truncateRunes(title, titleLengthLimit)
	if title == "" {
		title = fallbackTitle
	}
	return title, nil
}

// truncateRunes caps s at limit runes, never splitting a multi-byte rune.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
