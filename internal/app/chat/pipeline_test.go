package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"duochat/internal/app/store"
	"duochat/internal/app/user"
	"duochat/internal/pkg/errs"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyMessage(ctx context.Context, view MessageView, participants []string) error {
	args := m.Called(ctx, view, participants)
	return args.Error(0)
}

var (
	alice = user.User{ID: "alice", Name: "Alice", Email: "alice@example.com"}
	bob   = user.User{ID: "bob", Name: "Bob", Email: "bob@example.com"}
)

func testPipelineConfig() PipelineConfig {
	return PipelineConfig{
		StoreTimeout:    time.Second,
		StoreRetries:    2,
		RetryBase:       time.Millisecond,
		MaxContentBytes: 20,
	}
}

type harness struct {
	mem    *store.Memory
	router *Router
	pipe   *Pipeline
	conv   store.Conversation
	alice  *Session
	bob    *Session
}

func newHarness(t *testing.T, notifier MessageNotifier) *harness {
	t.Helper()

	mem := store.NewMemory()
	mem.PutUser(alice)
	mem.PutUser(bob)

	h := &harness{
		mem:    mem,
		router: NewRouter(4),
		conv:   mem.CreateConversation(alice.ID, bob.ID),
		alice:  testSession("a1", alice.ID),
		bob:    testSession("b1", bob.ID),
	}
	h.pipe = NewPipeline(mem, mem, h.router, notifier, testPipelineConfig())
	h.router.Register(h.alice)
	h.router.Register(h.bob)
	return h
}

func TestPipeline_ScenarioDirectAndPersonalDelivery(t *testing.T) {
	h := newHarness(t, nil)
	h.router.Join(h.alice, h.conv.ID)
	h.router.Join(h.bob, h.conv.ID)

	hi, err := h.pipe.Send(context.Background(), alice, SendMessagePayload{ConversationID: h.conv.ID, Text: "hi"})
	require.NoError(t, err)

	received := framesOfType(drainFrames(t, h.bob), EventNewMessage)
	require.Len(t, received, 1)
	view := decodeMessage(t, received[0])
	assert.Equal(t, "hi", view.Text)
	assert.Equal(t, alice, view.Sender, "sender is enriched from the directory")
	assert.Equal(t, hi.ID, view.ID)

	conv, _ := h.mem.Conversation(h.conv.ID)
	assert.Equal(t, hi.ID, conv.LastMessageID)
	assert.True(t, hi.CreatedAt.Equal(conv.LastMessageAt))
	assert.Len(t, framesOfType(drainFrames(t, h.alice), EventNewMessage), 1, "joined and personal paths collapse to one delivery")

	// Alice closes the conversation view but stays connected.
	h.router.Leave(h.alice, h.conv.ID)

	_, err = h.pipe.Send(context.Background(), bob, SendMessagePayload{ConversationID: h.conv.ID, Text: "hello"})
	require.NoError(t, err)

	received = framesOfType(drainFrames(t, h.alice), EventNewMessage)
	require.Len(t, received, 1, "personal channel reaches alice")
	assert.Equal(t, "hello", decodeMessage(t, received[0]).Text)
	assert.Equal(t, bob.ID, decodeMessage(t, received[0]).Sender.ID)
}

func TestPipeline_SuccessfulSendIsDurable(t *testing.T) {
	h := newHarness(t, nil)
	watcher := testSession("w1", "walter")
	h.router.Register(watcher)
	h.router.Join(watcher, h.conv.ID)

	before := time.Now().Add(-time.Second)
	msg, err := h.pipe.Send(context.Background(), alice, SendMessagePayload{ConversationID: h.conv.ID, Text: "  padded  "})
	require.NoError(t, err)

	history := h.mem.Messages(h.conv.ID)
	require.Len(t, history, 1)
	assert.Equal(t, msg, history[0])
	assert.Equal(t, "padded", msg.Text, "text is trimmed")
	assert.True(t, msg.CreatedAt.After(before), "timestamp is server assigned")

	for _, s := range []*Session{h.alice, h.bob, watcher} {
		assert.Len(t, framesOfType(drainFrames(t, s), EventNewMessage), 1, "session %s", s.ID)
	}
}

func TestPipeline_Validation(t *testing.T) {
	tcases := []struct {
		name string
		req  SendMessagePayload
		code int
	}{
		{name: "missing conversation", req: SendMessagePayload{Text: "hi"}, code: errs.ErrInvalidParams},
		{name: "empty text", req: SendMessagePayload{ConversationID: "c", Text: ""}, code: errs.ErrMessageEmpty},
		{name: "blank text", req: SendMessagePayload{ConversationID: "c", Text: " \n\t "}, code: errs.ErrMessageEmpty},
		{name: "too long", req: SendMessagePayload{ConversationID: "c", Text: strings.Repeat("x", 21)}, code: errs.ErrMessageContentTooLong},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			st := &store.MockConversationStore{}
			pipe := NewPipeline(st, nil, NewRouter(1), nil, testPipelineConfig())

			_, err := pipe.Send(context.Background(), alice, tc.req)

			assert.Equal(t, tc.code, errs.CodeOf(err))
			st.AssertNotCalled(t, "FindConversation", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPipeline_NotAuthorizedHasNoSideEffects(t *testing.T) {
	st := &store.MockConversationStore{}
	st.On("FindConversation", mock.Anything, "c1", "mallory").Return(store.Conversation{}, store.ErrNotFound)

	router := NewRouter(2)
	victim := testSession("a1", "alice")
	router.Register(victim)
	router.Join(victim, "c1")

	notifier := &mockNotifier{}
	pipe := NewPipeline(st, nil, router, notifier, testPipelineConfig())

	_, err := pipe.Send(context.Background(), user.User{ID: "mallory"}, SendMessagePayload{ConversationID: "c1", Text: "hi"})

	assert.Equal(t, errs.ErrNotAuthorized, errs.CodeOf(err))
	st.AssertNumberOfCalls(t, "FindConversation", 1)
	st.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "UpdateConversationPointer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "NotifyMessage", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, drainFrames(t, victim))
}

func TestPipeline_PersistFailureIsRetriedThenSurfaced(t *testing.T) {
	conv := store.Conversation{ID: "c1", Participants: []string{"alice", "bob"}}
	st := &store.MockConversationStore{}
	st.On("FindConversation", mock.Anything, "c1", "alice").Return(conv, nil)
	st.On("AppendMessage", mock.Anything, mock.Anything).Return(store.Message{}, errors.New("connection reset"))

	router := NewRouter(2)
	b := testSession("b1", "bob")
	router.Register(b)

	pipe := NewPipeline(st, nil, router, nil, testPipelineConfig())
	_, err := pipe.Send(context.Background(), alice, SendMessagePayload{ConversationID: "c1", Text: "hi"})

	assert.Equal(t, errs.ErrPersistence, errs.CodeOf(err))
	st.AssertNumberOfCalls(t, "AppendMessage", 3)
	st.AssertNotCalled(t, "UpdateConversationPointer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, drainFrames(t, b), "no partial broadcast")
}

func TestPipeline_LostAppendResponseIsNotDuplicated(t *testing.T) {
	conv := store.Conversation{ID: "c1", Participants: []string{"alice", "bob"}}
	st := &store.MockConversationStore{}
	st.On("FindConversation", mock.Anything, "c1", "alice").Return(conv, nil)
	st.On("AppendMessage", mock.Anything, mock.Anything).Return(store.Message{}, context.DeadlineExceeded).Once()
	st.On("AppendMessage", mock.Anything, mock.Anything).Return(store.Message{}, store.ErrDuplicate).Once()
	st.On("UpdateConversationPointer", mock.Anything, "c1", mock.Anything, mock.Anything).Return(nil)

	router := NewRouter(2)
	b := testSession("b1", "bob")
	router.Register(b)

	pipe := NewPipeline(st, nil, router, nil, testPipelineConfig())
	msg, err := pipe.Send(context.Background(), alice, SendMessagePayload{ConversationID: "c1", Text: "hi"})
	require.NoError(t, err)

	appended := st.Calls[1].Arguments.Get(1).(store.Message)
	retried := st.Calls[2].Arguments.Get(1).(store.Message)
	assert.Equal(t, appended.ID, retried.ID, "the retry reuses the server assigned id")
	assert.Equal(t, appended.ID, msg.ID)
	assert.Len(t, framesOfType(drainFrames(t, b), EventNewMessage), 1)
}

func TestPipeline_MetadataFailureStillBroadcasts(t *testing.T) {
	conv := store.Conversation{ID: "c1", Participants: []string{"alice", "bob"}}
	st := &store.MockConversationStore{}
	st.On("FindConversation", mock.Anything, "c1", "alice").Return(conv, nil)
	st.On("AppendMessage", mock.Anything, mock.Anything).Return(store.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Text: "hi"}, nil)
	st.On("UpdateConversationPointer", mock.Anything, "c1", "m1", mock.Anything).Return(errors.New("write conflict"))

	router := NewRouter(2)
	b := testSession("b1", "bob")
	router.Register(b)

	pipe := NewPipeline(st, nil, router, nil, testPipelineConfig())
	msg, err := pipe.Send(context.Background(), alice, SendMessagePayload{ConversationID: "c1", Text: "hi"})

	require.NoError(t, err, "the sender is not told about a stale pointer")
	assert.Equal(t, "hi", msg.Text)
	st.AssertNumberOfCalls(t, "UpdateConversationPointer", 3)
	assert.Len(t, framesOfType(drainFrames(t, b), EventNewMessage), 1)
}

func TestPipeline_LookupOutageIsPersistenceError(t *testing.T) {
	st := &store.MockConversationStore{}
	st.On("FindConversation", mock.Anything, "c1", "alice").Return(store.Conversation{}, errors.New("no reachable servers"))

	pipe := NewPipeline(st, nil, NewRouter(1), nil, testPipelineConfig())
	_, err := pipe.Send(context.Background(), alice, SendMessagePayload{ConversationID: "c1", Text: "hi"})

	assert.Equal(t, errs.ErrPersistence, errs.CodeOf(err))
	st.AssertNumberOfCalls(t, "FindConversation", 3)
	st.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything)
}

func TestPipeline_CancelledSessionStillPersists(t *testing.T) {
	h := newHarness(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.pipe.Send(ctx, alice, SendMessagePayload{ConversationID: h.conv.ID, Text: "bye"})
	require.NoError(t, err)
	assert.Len(t, h.mem.Messages(h.conv.ID), 1)
}

func TestPipeline_RecipientPresenceIsNotRequired(t *testing.T) {
	h := newHarness(t, nil)
	h.router.Unregister(h.alice)

	_, err := h.pipe.Send(context.Background(), bob, SendMessagePayload{ConversationID: h.conv.ID, Text: "are you there?"})
	require.NoError(t, err)

	history := h.mem.Messages(h.conv.ID)
	require.Len(t, history, 1)
	assert.Equal(t, "are you there?", history[0].Text)
}

func TestPipeline_SenderProfileFallback(t *testing.T) {
	mem := store.NewMemory()
	conv := mem.CreateConversation("alice", "bob")

	dir := &user.MockDirectory{}
	dir.On("FindUser", mock.Anything, "alice").Return(user.User{}, errors.New("directory down"))

	router := NewRouter(2)
	b := testSession("b1", "bob")
	router.Register(b)

	pipe := NewPipeline(mem, dir, router, nil, testPipelineConfig())
	_, err := pipe.Send(context.Background(), alice, SendMessagePayload{ConversationID: conv.ID, Text: "hi"})
	require.NoError(t, err)

	received := framesOfType(drainFrames(t, b), EventNewMessage)
	require.Len(t, received, 1)
	assert.Equal(t, alice, decodeMessage(t, received[0]).Sender, "handshake profile is used")
}

func TestPipeline_Notifier(t *testing.T) {
	notifier := &mockNotifier{}
	notifier.On("NotifyMessage", mock.Anything, mock.Anything, []string{"alice", "bob"}).Return(errors.New("nats down"))

	h := newHarness(t, notifier)
	_, err := h.pipe.Send(context.Background(), alice, SendMessagePayload{ConversationID: h.conv.ID, Text: "hi"})

	require.NoError(t, err, "notifier failures are logged only")
	notifier.AssertNumberOfCalls(t, "NotifyMessage", 1)
	view := notifier.Calls[0].Arguments.Get(1).(MessageView)
	assert.Equal(t, "hi", view.Text)
}

func TestPipeline_PerConversationOrder(t *testing.T) {
	h := newHarness(t, nil)
	watcher := testSession("w1", "walter")
	h.router.Register(watcher)
	h.router.Join(watcher, h.conv.ID)

	const perSender = 40

	var wg sync.WaitGroup
	for _, sender := range []user.User{alice, bob} {
		sender := sender
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := h.pipe.Send(context.Background(), sender, SendMessagePayload{
					ConversationID: h.conv.ID,
					Text:           fmt.Sprintf("%s-%d", sender.ID, i),
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	var stored []string
	for _, m := range h.mem.Messages(h.conv.ID) {
		stored = append(stored, m.ID)
	}
	require.Len(t, stored, 2*perSender)

	for _, s := range []*Session{h.alice, h.bob, watcher} {
		var seen []string
		for _, f := range framesOfType(drainFrames(t, s), EventNewMessage) {
			seen = append(seen, decodeMessage(t, f).ID)
		}
		assert.Equal(t, stored, seen, "session %s observes append order", s.ID)
	}

	conv, _ := h.mem.Conversation(h.conv.ID)
	assert.Equal(t, stored[len(stored)-1], conv.LastMessageID, "pointer names the last appended message")
	assert.Equal(t, 0, h.pipe.locks.len())
}

func TestPipeline_SenderLookupRunsOutsideConversationLock(t *testing.T) {
	mem := store.NewMemory()
	conv := mem.CreateConversation(alice.ID, bob.ID)

	looked := make(chan struct{}, 1)
	dir := &user.MockDirectory{}
	dir.On("FindUser", mock.Anything, alice.ID).
		Run(func(mock.Arguments) { looked <- struct{}{} }).
		Return(alice, nil)

	pipe := NewPipeline(mem, dir, NewRouter(2), nil, testPipelineConfig())

	unlock := pipe.locks.Lock(conv.ID)
	done := make(chan error, 1)
	go func() {
		_, err := pipe.Send(context.Background(), alice, SendMessagePayload{ConversationID: conv.ID, Text: "hi"})
		done <- err
	}()

	select {
	case <-looked:
	case <-time.After(2 * time.Second):
		unlock()
		t.Fatal("sender profile lookup waited for the conversation lock")
	}
	assert.Empty(t, mem.Messages(conv.ID))

	unlock()
	require.NoError(t, <-done)
	assert.Len(t, mem.Messages(conv.ID), 1)
}
