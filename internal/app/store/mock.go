package store

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockConversationStore struct {
	mock.Mock
}

func (m *MockConversationStore) FindConversation(ctx context.Context, id, participant string) (Conversation, error) {
	args := m.Called(ctx, id, participant)
	return args.Get(0).(Conversation), args.Error(1)
}

func (m *MockConversationStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockConversationStore) UpdateConversationPointer(ctx context.Context, conversationID, messageID string, at time.Time) error {
	args := m.Called(ctx, conversationID, messageID, at)
	return args.Error(0)
}
