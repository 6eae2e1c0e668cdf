/*
Package chat contains the core logic of the real-time messaging gateway.

This file defines the wire protocol: the closed set of client-to-server events, the
server-to-client events, and their JSON payloads.
*/
package chat

import (
	"encoding/json"
	"time"

	"duochat/internal/app/store"
	"duochat/internal/app/user"
)

// EventType names a WebSocket event.
type EventType string

// Client-to-server events.
const (
	EventJoinRoom    EventType = "join-room"
	EventLeaveRoom   EventType = "leave-room"
	EventSendMessage EventType = "send-message"
)

// Server-to-client events.
const (
	EventOnlineUsers EventType = "online-users"
	EventUserOnline  EventType = "user-online"
	EventUserOffline EventType = "user-offline"
	EventNewMessage  EventType = "new-message"
	EventError       EventType = "error"
)

// InboundEvent is the envelope of every frame a client sends.
type InboundEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// TempID is an optional client-side correlation id echoed back on errors.
	TempID string `json:"tempId,omitempty"`
}

// RoomPayload is the payload of join-room and leave-room.
type RoomPayload struct {
	ConversationID string `json:"conversationId"`
}

// SendMessagePayload is the payload of send-message.
type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

// OutboundEvent is the envelope of every frame the server sends.
type OutboundEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type OnlineUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

type PresencePayload struct {
	UserID string `json:"userId"`
}

// MessageView is a stored message with its sender resolved to a display profile.
type MessageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         user.User `json:"sender"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

type NewMessagePayload struct {
	Message MessageView `json:"message"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TempID  string `json:"tempId,omitempty"`
}

// NewMessageView pairs msg with the resolved sender profile.
func NewMessageView(msg store.Message, sender user.User) MessageView {
	return MessageView{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         sender,
		Text:           msg.Text,
		CreatedAt:      msg.CreatedAt,
	}
}

func onlineUsersEvent(ids []string) OutboundEvent {
	return OutboundEvent{Type: EventOnlineUsers, Payload: OnlineUsersPayload{UserIDs: ids}}
}

func presenceEvent(identity string, online bool) OutboundEvent {
	eventType := EventUserOffline
	if online {
		eventType = EventUserOnline
	}
	return OutboundEvent{Type: eventType, Payload: PresencePayload{UserID: identity}}
}

func newMessageEvent(view MessageView) OutboundEvent {
	return OutboundEvent{Type: EventNewMessage, Payload: NewMessagePayload{Message: view}}
}

func encodeEvent(event OutboundEvent) ([]byte, error) {
	return json.Marshal(event)
}
