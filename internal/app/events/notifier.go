/*
Package events publishes broadcast chat messages to NATS for downstream consumers such as push
delivery or search indexing.
*/
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"duochat/internal/app/chat"
)

// Header names set on every published message.
const (
	HeaderMessageID      = "Nats-Msg-Id"
	HeaderConversationID = "Duochat-Conversation-Id"
)

// Envelope is the JSON body of a published message.
type Envelope struct {
	Message      chat.MessageView `json:"message"`
	Participants []string         `json:"participants"`
}

// Config represents the NATS connection settings.
type Config struct {
	URL           string
	Subject       string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Notifier implements chat.MessageNotifier over a core NATS connection.
type Notifier struct {
	nc      *nats.Conn
	subject string
}

// Connect dials NATS. The connection reconnects indefinitely.
func Connect(cfg Config) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url missing")
	}
	if cfg.Subject == "" {
		return nil, errors.New("nats subject missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	)
	if err != nil {
		return nil, err
	}

	return &Notifier{nc: nc, subject: cfg.Subject}, nil
}

// NotifyMessage publishes view to the configured subject.
func (n *Notifier) NotifyMessage(ctx context.Context, view chat.MessageView, participants []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := buildMsg(n.subject, view, participants)
	if err != nil {
		return err
	}

	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Ping reports an error unless the connection is established.
func (n *Notifier) Ping(context.Context) error {
	if !n.nc.IsConnected() {
		return fmt.Errorf("nats connection %s", n.nc.Status())
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (n *Notifier) Close() error {
	return n.nc.Drain()
}

func buildMsg(subject string, view chat.MessageView, participants []string) (*nats.Msg, error) {
	data, err := json.Marshal(Envelope{Message: view, Participants: participants})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(HeaderMessageID, view.ID)
	msg.Header.Set(HeaderConversationID, view.ConversationID)
	return msg, nil
}
