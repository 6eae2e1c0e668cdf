package chat

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"duochat/internal/app/store"
	"duochat/internal/pkg/auth/jwt"
	"duochat/internal/pkg/errs"
)

func TestSession_SlowSendDoesNotExpireConnection(t *testing.T) {
	const readTimeout = 300 * time.Millisecond

	conv := store.Conversation{ID: "c1", Participants: []string{alice.ID, bob.ID}}

	st := &store.MockConversationStore{}
	st.On("FindConversation", mock.Anything, conv.ID, alice.ID).After(2 * readTimeout).Return(conv, nil)
	st.On("AppendMessage", mock.Anything, mock.Anything).
		Return(store.Message{ID: "m1", ConversationID: conv.ID, SenderID: alice.ID, Text: "hi"}, nil)
	st.On("UpdateConversationPointer", mock.Anything, conv.ID, "m1", mock.Anything).Return(nil)

	m := NewManager(testConfig(), Deps{Store: st, Verifier: jwt.NewVerifier(managerSecret)})
	t.Cleanup(m.Shutdown)

	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		s := m.Attach(conn, alice)
		s.readTimeout = readTimeout

		go s.WritePump()
		s.ReadPump()
	}))
	t.Cleanup(srv.Close)

	conn, res, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	_ = res.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	read := func() frame {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}

	require.Equal(t, EventOnlineUsers, read().Type)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    EventSendMessage,
		"payload": map[string]string{"conversationId": conv.ID, "text": "hi"},
	}))
	require.Equal(t, EventNewMessage, read().Type)

	// The send outlasted the read timeout; the session must still read the next frame.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "typing"}))
	f := read()
	require.Equal(t, EventError, f.Type)
	assert.Equal(t, errs.ErrUnsupportedEvent, decodeError(t, f).Code)
}
