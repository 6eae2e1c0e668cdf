package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"duochat/internal/app/store"
	"duochat/internal/app/user"
)

// newTestStore connects to DUOCHAT_TEST_MONGO_URI and uses a throwaway database that is dropped
// after the test. The test is skipped when the variable is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	uri := os.Getenv("DUOCHAT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("DUOCHAT_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	client, database, err := Connect(ctx, Config{
		URI:      uri,
		Database: "duochat_test_" + primitive.NewObjectID().Hex(),
		MaxRetry: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = database.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	st := NewStore(database)
	require.NoError(t, st.EnsureIndexes(ctx))
	return st
}

func seedChat(t *testing.T, st *Store) (a, b userDoc, chatID primitive.ObjectID) {
	t.Helper()
	ctx := context.Background()

	a = userDoc{ID: primitive.NewObjectID(), ClerkID: "user_alice", Name: "Alice", Email: "alice@example.com"}
	b = userDoc{ID: primitive.NewObjectID(), Name: "Bob"}
	_, err := st.users.InsertMany(ctx, []any{a, b})
	require.NoError(t, err)

	chatID = primitive.NewObjectID()
	_, err = st.chats.InsertOne(ctx, chatDoc{
		ID:           chatID,
		Participants: []primitive.ObjectID{a.ID, b.ID},
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	return a, b, chatID
}

func TestStore_Integration(t *testing.T) {
	st := newTestStore(t)
	a, b, chatID := seedChat(t, st)
	ctx := context.Background()

	conv, err := st.FindConversation(ctx, chatID.Hex(), b.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID.Hex(), b.ID.Hex()}, conv.Participants)

	_, err = st.FindConversation(ctx, chatID.Hex(), primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, store.ErrNotFound, "non-participants cannot see the chat")

	msg := store.Message{
		ID:             st.NewMessageID(),
		ConversationID: chatID.Hex(),
		SenderID:       a.ID.Hex(),
		Text:           "hi",
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
	_, err = st.AppendMessage(ctx, msg)
	require.NoError(t, err)

	_, err = st.AppendMessage(ctx, msg)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	require.NoError(t, st.UpdateConversationPointer(ctx, chatID.Hex(), msg.ID, msg.CreatedAt))
	conv, err = st.FindConversation(ctx, chatID.Hex(), a.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, msg.ID, conv.LastMessageID)
	assert.True(t, msg.CreatedAt.Equal(conv.LastMessageAt))

	err = st.UpdateConversationPointer(ctx, primitive.NewObjectID().Hex(), msg.ID, msg.CreatedAt)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_UserLookup(t *testing.T) {
	st := newTestStore(t)
	a, _, _ := seedChat(t, st)
	ctx := context.Background()

	got, err := st.FindUser(ctx, a.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)

	got, err = st.FindUserBySubject(ctx, "user_alice")
	require.NoError(t, err)
	assert.Equal(t, a.ID.Hex(), got.ID)

	got, err = st.FindUserBySubject(ctx, a.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, a.ID.Hex(), got.ID, "subjects that are user ids resolve directly")

	_, err = st.FindUserBySubject(ctx, "user_ghost")
	assert.ErrorIs(t, err, user.ErrNotFound)
}
