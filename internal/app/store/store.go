/*
Package store defines the durable conversation repository consumed by the gateway.

Conversations are two-participant threads carrying a denormalized pointer to their most recent
message; messages are immutable and append-only. Backends live in their own packages (db for
PostgreSQL, mongodb for MongoDB); this package also ships an in-memory implementation used in
development and tests.
*/
package store

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned when a conversation does not exist or the identity is not one of its participants.
	ErrNotFound = errors.New("conversation not found")

	// ErrDuplicate is returned by AppendMessage when a message with the same id is already stored.
	ErrDuplicate = errors.New("message already exists")
)

// Conversation is a two-participant thread.
type Conversation struct {
	ID            string    `json:"id"`
	Participants  []string  `json:"participants"`
	LastMessageID string    `json:"lastMessageId,omitempty"`
	LastMessageAt time.Time `json:"lastMessageAt,omitzero"`
	CreatedAt     time.Time `json:"createdAt"`
}

// HasParticipant reports whether identity takes part in the conversation.
func (c Conversation) HasParticipant(identity string) bool {
	return slices.Contains(c.Participants, identity)
}

// Message is a single immutable chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationStore is the persistence interface used by the message pipeline.
type ConversationStore interface {
	// FindConversation returns the conversation id if participant is one of its members, or ErrNotFound.
	FindConversation(ctx context.Context, id, participant string) (Conversation, error)

	// AppendMessage durably stores msg. The caller assigns ID and CreatedAt; a second append
	// with the same ID returns ErrDuplicate and leaves the stored message untouched.
	AppendMessage(ctx context.Context, msg Message) (Message, error)

	// UpdateConversationPointer sets the conversation's latest message pointer and activity time.
	UpdateConversationPointer(ctx context.Context, conversationID, messageID string, at time.Time) error
}

// IDAllocator is implemented by stores whose message ids have a backend-specific shape.
type IDAllocator interface {
	NewMessageID() string
}
