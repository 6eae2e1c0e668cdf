package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duochat/internal/app/user"
)

func TestMemory_FindConversation(t *testing.T) {
	m := NewMemory()
	c := m.CreateConversation("alice", "bob")

	got, err := m.FindConversation(context.Background(), c.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.True(t, got.HasParticipant("bob"))

	_, err = m.FindConversation(context.Background(), c.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotFound, "non-participants must not see the conversation")

	_, err = m.FindConversation(context.Background(), "missing", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_AppendMessage(t *testing.T) {
	m := NewMemory()
	c := m.CreateConversation("alice", "bob")
	ctx := context.Background()

	first := Message{ID: "m1", ConversationID: c.ID, SenderID: "alice", Text: "hi", CreatedAt: time.Now()}
	stored, err := m.AppendMessage(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first, stored)

	_, err = m.AppendMessage(ctx, Message{ID: "m1", ConversationID: c.ID, Text: "again"})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = m.AppendMessage(ctx, Message{ID: "m2", ConversationID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.AppendMessage(ctx, Message{ID: "m3", ConversationID: c.ID, SenderID: "bob", Text: "hello"})
	require.NoError(t, err)

	history := m.Messages(c.ID)
	require.Len(t, history, 2)
	assert.Equal(t, "hi", history[0].Text)
	assert.Equal(t, "hello", history[1].Text)
}

func TestMemory_UpdateConversationPointer(t *testing.T) {
	m := NewMemory()
	c := m.CreateConversation("alice", "bob")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.UpdateConversationPointer(context.Background(), c.ID, "m1", at))

	got, ok := m.Conversation(c.ID)
	require.True(t, ok)
	assert.Equal(t, "m1", got.LastMessageID)
	assert.Equal(t, at, got.LastMessageAt)

	assert.ErrorIs(t, m.UpdateConversationPointer(context.Background(), "missing", "m1", at), ErrNotFound)
}

func TestMemory_FindUser(t *testing.T) {
	m := NewMemory()
	m.PutUser(user.User{ID: "alice", Name: "Alice"})

	u, err := m.FindUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Name)

	_, err = m.FindUser(context.Background(), "bob")
	assert.ErrorIs(t, err, user.ErrNotFound)
}
