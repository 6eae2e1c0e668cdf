/*
Package chat contains the core logic of the real-time messaging gateway.

This file defines the Session struct, representing one authenticated WebSocket connection. It
manages the connection's read and write loops, heartbeats, the outbound queue, and the set of
conversations the session has joined.
*/
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"duochat/internal/app/user"
	"duochat/internal/metrics"
	"duochat/internal/pkg/errs"
	"duochat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxFrameSize = 16384

	// capacity of the outbound queue; a session that falls this far behind is evicted.
	sendQueueSize = 256
)

// Session represents one authenticated WebSocket connection bound to a single identity.
type Session struct {
	// ID uniquely identifies the connection.
	ID string

	// associated user, resolved at handshake.
	user user.User

	// underlying WebSocket connection object. Nil only in tests.
	conn *websocket.Conn

	// readTimeout is how long the read loop waits for the next frame or pong.
	readTimeout time.Duration

	manager *Manager

	// ctx is cancelled when the session is torn down.
	ctx    context.Context
	cancel context.CancelFunc

	// a buffered channel used to queue frames waiting to be sent to the client.
	send chan []byte

	// done is closed once the session stops accepting frames.
	done      chan struct{}
	closeOnce sync.Once
	closeMsg  []byte

	// attached is set once the session is registered with the router and the registry.
	attached     bool
	teardownOnce sync.Once

	// mu protects rooms and closed.
	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool

	// structured logger with session context.
	logger zerolog.Logger
}

func newSession(id string, u user.User, conn *websocket.Conn, m *Manager) *Session {
	parent := context.Background()
	if m != nil {
		parent = m.ctx
	}
	ctx, cancel := context.WithCancel(parent)

	return &Session{
		ID:          id,
		user:        u,
		conn:        conn,
		readTimeout: pongWait,
		manager:     m,
		ctx:         ctx,
		cancel:      cancel,
		send:        make(chan []byte, sendQueueSize),
		done:        make(chan struct{}),
		rooms:       make(map[string]struct{}),
		logger: logx.Logger().With().
			Str("session_id", id).
			Str("user_id", u.ID).
			Logger(),
	}
}

// User returns the identity bound to the session.
func (s *Session) User() user.User {
	return s.user
}

// Rooms returns the conversations the session has joined.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	return out
}

// Done is closed once the session stops accepting frames.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// enqueue hands a frame to the write loop without blocking. A full queue marks the session as a
// slow consumer and closes it.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- frame:
		return true
	default:
		s.logger.Warn().Int("queue_len", len(s.send)).Msg("Session send queue full, evicting slow consumer.")
		metrics.SlowConsumers.Inc()
		s.Close(websocket.CloseTryAgainLater, "slow consumer")
		return false
	}
}

// Close stops the session from accepting frames and asks the write loop to send a close frame
// with the given code. The read loop then fails and tears the session down.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closeMsg = websocket.FormatCloseMessage(code, reason)
		close(s.done)
	})
}

// sendEvent encodes event and queues it for this session only.
func (s *Session) sendEvent(event OutboundEvent) bool {
	frame, err := encodeEvent(event)
	if err != nil {
		s.logger.Error().Err(err).Str("event", string(event.Type)).Msg("Error marshaling event for session")
		return false
	}
	return s.enqueue(frame)
}

// SendError sends a private error event. Non-CustomErrors are reported as ErrUnknown without details.
func (s *Session) SendError(err error, tempID string) {
	var customErr *errs.CustomError
	if !errors.As(err, &customErr) {
		s.logger.Error().Err(err).Msg("Unexpected error reported to session")
		customErr = errs.NewError(errs.ErrUnknown)
	}

	s.sendEvent(OutboundEvent{
		Type: EventError,
		Payload: ErrorPayload{
			Code:    customErr.Code,
			Message: customErr.Message,
			TempID:  tempID,
		},
	})
}

// ReadPump handles reading frames from the WebSocket connection.
// It handles heartbeats (Pong), event dispatch, and tears the session down when the connection ends.
func (s *Session) ReadPump() {
	defer s.manager.Teardown(s)

	s.conn.SetReadLimit(maxFrameSize)

	if err := s.extendReadDeadline(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	s.conn.SetPongHandler(func(string) error {
		return s.extendReadDeadline()
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info().Err(err).Msg("Error reading frame (client close/going away)")
			}
			return
		}

		s.handleFrame(frame)
	}
}

// handleFrame decodes an inbound frame and dispatches it. Every event type is handled
// explicitly; anything else is rejected with a private error.
func (s *Session) handleFrame(frame []byte) {
	var event InboundEvent
	if err := json.Unmarshal(frame, &event); err != nil {
		s.logger.Warn().Err(err).Int("frame_bytes", len(frame)).Msg("Client sent invalid JSON")
		s.SendError(errs.NewError(errs.ErrInvalidEvent), "")
		return
	}

	switch event.Type {
	case EventJoinRoom, EventLeaveRoom:
		var payload RoomPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil || payload.ConversationID == "" {
			s.SendError(errs.NewError(errs.ErrInvalidEvent), event.TempID)
			return
		}

		if event.Type == EventJoinRoom {
			s.manager.router.Join(s, payload.ConversationID)
		} else {
			s.manager.router.Leave(s, payload.ConversationID)
		}

	case EventSendMessage:
		var payload SendMessagePayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			s.SendError(errs.NewError(errs.ErrInvalidEvent), event.TempID)
			return
		}

		if !s.manager.allowSend(s.user.ID) {
			s.SendError(errs.NewError(errs.ErrRateLimitExceeded), event.TempID)
			return
		}

		_, err := s.manager.pipeline.Send(s.ctx, s.user, payload)

		// Pongs are not read while a send is in flight.
		if derr := s.extendReadDeadline(); derr != nil {
			s.logger.Debug().Err(derr).Msg("Failed to extend read deadline after send")
		}

		if err != nil {
			s.SendError(err, event.TempID)
		}

	default:
		s.logger.Warn().Str("event", string(event.Type)).Msg("Client sent unsupported event type")
		s.SendError(errs.NewError(errs.ErrUnsupportedEvent, string(event.Type)), event.TempID)
	}
}

func (s *Session) extendReadDeadline() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
}

// WritePump writes queued frames to the WebSocket connection and keeps it alive with pings.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit so ReadPump unblocks.
		if err := s.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			s.logger.Debug().Err(err).Msg("Session connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame := <-s.send:
			if !s.write(websocket.TextMessage, frame) {
				return
			}

		case <-s.done:
			s.drain()
			s.write(websocket.CloseMessage, s.closeMsg)
			return

		case <-ticker.C:
			if !s.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// drain flushes frames queued before the session was closed.
func (s *Session) drain() {
	for {
		select {
		case frame := <-s.send:
			if !s.write(websocket.TextMessage, frame) {
				return
			}
		default:
			return
		}
	}
}

// write sends one frame with a deadline. It returns false if the write loop should terminate.
func (s *Session) write(messageType int, data []byte) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := s.conn.WriteMessage(messageType, data); err != nil {
		s.logger.Debug().Err(err).Int("message_type", messageType).Msg("Error writing frame")
		return false
	}

	return true
}
