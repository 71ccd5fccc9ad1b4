package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"bgpt/internal/store"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation is the top-level container grouping the branches of one topic.
type Conversation struct {
	// ID of this conversation.
	ID string `json:"id"`
	// Branch ids in display order.
	BranchIDs []string `json:"branchIds"`
	// User-set or auto-generated name.
	Name string `json:"name,omitempty"`
	// Optional labels.
	Tags []string `json:"tags,omitempty"`
	// Time at which the conversation was created.
	CreationTimestamp int64 `json:"createdAt"`
	// Time at which the conversation was updated.
	UpdateTimestamp int64 `json:"updatedAt"`
}

// Branch is one strand of dialogue within a conversation.
type Branch struct {
	// ID of this branch.
	ID string `json:"id"`
	// Owning conversation.
	ConversationID string `json:"conversationId"`
	// The messages of this branch, in order.
	Messages []*Message `json:"messages"`
	// Model identifier used for completions on this branch.
	Model string `json:"model"`
	// Optional title.
	Title string `json:"title,omitempty"`
	// Time at which the branch was created.
	CreationTimestamp int64 `json:"createdAt"`
	// Time at which the branch was updated.
	UpdateTimestamp int64 `json:"updatedAt"`
	// Zero-based order among sibling branches.
	Position int `json:"position"`
	// Referenced texts queued for the next outgoing message.
	MentionedTexts []string `json:"mentionedTexts,omitempty"`
	// Provenance of the fork seed, pending until the branch's first message
	// is sent. Set together by the fork engine, cleared once stamped onto
	// that message.
	BranchSourceBranchID  string `json:"branchSourceBranchId,omitempty"`
	BranchSourceMessageID string `json:"branchSourceMessageId,omitempty"`
	BranchSelectedText    string `json:"branchSelectedText,omitempty"`
}

// Message is a single turn within a branch.
type Message struct {
	// ID of this message.
	ID string `json:"id"`
	// Owning branch.
	BranchID string `json:"branchId"`
	// One of user, assistant, system.
	Role string `json:"role"`
	// Message content.
	Content string `json:"content"`
	// Time at which the message was created.
	Timestamp int64 `json:"timestamp"`
	// Provenance of a fork seed: the branch the selection was made in,
	// the message it was taken from, and the selected span itself.
	// Set together, and only on the first message of a forked branch.
	BranchSourceBranchID  string `json:"branchSourceBranchId,omitempty"`
	BranchSourceMessageID string `json:"branchSourceMessageId,omitempty"`
	BranchSelectedText    string `json:"branchSelectedText,omitempty"`
}

// NewConversation instantiates a conversation with fresh id and timestamps.
func NewConversation() *Conversation {
	now := time.Now().UnixMicro()
	return &Conversation{
		ID:                uuid.New().String(),
		BranchIDs:         []string{},
		CreationTimestamp: now,
		UpdateTimestamp:   now,
	}
}

// NewBranch instantiates a branch for the given conversation.
func NewBranch(conversationID, model string, position int) *Branch {
	now := time.Now().UnixMicro()
	return &Branch{
		ID:                uuid.New().String(),
		ConversationID:    conversationID,
		Messages:          []*Message{},
		Model:             model,
		CreationTimestamp: now,
		UpdateTimestamp:   now,
		Position:          position,
		MentionedTexts:    []string{},
	}
}

// NewMessage instantiates a message for the given branch.
func NewMessage(branchID, role, content string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		BranchID:  branchID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMicro(),
	}
}

// Repository exposes typed operations over the entity store. The store is
// injected so callers can substitute engines.
type Repository struct {
	store store.Store
}

// New repository over the given store.
func New(s store.Store) *Repository {
	return &Repository{store: s}
}

// Store returns the underlying entity store.
func (r *Repository) Store() store.Store {
	return r.store
}

func shouldUpdate(mask []string, field string) bool {
	for _, f := range mask {
		if f == field {
			return true
		}
	}
	return false
}

func conversationRecord(conversation *Conversation) (*store.Record, error) {
	data, err := json.Marshal(conversation)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling conversation")
	}
	return &store.Record{
		ID:   conversation.ID,
		Data: data,
		Index: map[string]any{
			"update_timestamp": conversation.UpdateTimestamp,
		},
	}, nil
}

func branchRecord(branch *Branch) (*store.Record, error) {
	data, err := json.Marshal(branch)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling branch")
	}
	return &store.Record{
		ID:   branch.ID,
		Data: data,
		Index: map[string]any{
			"conversation_id": branch.ConversationID,
			"position":        branch.Position,
		},
	}, nil
}

func messageRecord(message *Message) (*store.Record, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling message")
	}
	return &store.Record{
		ID:   message.ID,
		Data: data,
		Index: map[string]any{
			"branch_id": message.BranchID,
			"timestamp": message.Timestamp,
		},
	}, nil
}

func conversationFromRecord(record *store.Record) (*Conversation, error) {
	conversation := &Conversation{}
	if err := json.Unmarshal(record.Data, conversation); err != nil {
		return nil, errors.Wrap(err, "unmarshaling conversation")
	}
	return conversation, nil
}

func branchFromRecord(record *store.Record) (*Branch, error) {
	branch := &Branch{}
	if err := json.Unmarshal(record.Data, branch); err != nil {
		return nil, errors.Wrap(err, "unmarshaling branch")
	}
	return branch, nil
}

func messageFromRecord(record *store.Record) (*Message, error) {
	message := &Message{}
	if err := json.Unmarshal(record.Data, message); err != nil {
		return nil, errors.Wrap(err, "unmarshaling message")
	}
	return message, nil
}
