package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"duochat/internal/app/user"
)

// Memory is an in-process ConversationStore and user.Directory.
type Memory struct {
	mu sync.RWMutex

	conversations map[string]Conversation
	messages      map[string][]Message
	messageIDs    map[string]struct{}
	users         map[string]user.User
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
		messageIDs:    make(map[string]struct{}),
		users:         make(map[string]user.User),
	}
}

// PutUser adds or replaces a user profile.
func (m *Memory) PutUser(u user.User) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[u.ID] = u
}

// FindUser implements user.Directory.
func (m *Memory) FindUser(_ context.Context, id string) (user.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

// CreateConversation registers a new conversation between a and b.
func (m *Memory) CreateConversation(a, b string) Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := Conversation{
		ID:           uuid.NewString(),
		Participants: []string{a, b},
		CreatedAt:    time.Now().UTC(),
	}
	m.conversations[c.ID] = c
	return c
}

// Conversation returns the stored conversation regardless of participant.
func (m *Memory) Conversation(id string) (Conversation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	return c, ok
}

// Messages returns a copy of the conversation's history in insertion order.
func (m *Memory) Messages(conversationID string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Message(nil), m.messages[conversationID]...)
}

func (m *Memory) FindConversation(_ context.Context, id, participant string) (Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok || !c.HasParticipant(participant) {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) AppendMessage(_ context.Context, msg Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return Message{}, ErrNotFound
	}
	if _, dup := m.messageIDs[msg.ID]; dup {
		return Message{}, ErrDuplicate
	}

	m.messageIDs[msg.ID] = struct{}{}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return msg, nil
}

func (m *Memory) UpdateConversationPointer(_ context.Context, conversationID, messageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.LastMessageID = messageID
	c.LastMessageAt = at
	m.conversations[conversationID] = c
	return nil
}
