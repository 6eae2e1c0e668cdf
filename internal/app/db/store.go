package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"duochat/internal/app/store"
	"duochat/internal/app/user"
)

// Store is the PostgreSQL conversation store and user directory.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an initialized pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// FindConversation returns the conversation if participant is one of its two members.
func (s *Store) FindConversation(ctx context.Context, id, participant string) (store.Conversation, error) {
	var (
		conv          store.Conversation
		a, b          string
		lastMessageID *string
		lastMessageAt *time.Time
	)

	err := s.pool.QueryRow(ctx, `
		SELECT id, participant_a, participant_b, last_message_id, last_message_at, created_at
		FROM conversations
		WHERE id = $1 AND $2 IN (participant_a, participant_b)
	`, id, participant).Scan(&conv.ID, &a, &b, &lastMessageID, &lastMessageAt, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Conversation{}, store.ErrNotFound
		}
		return store.Conversation{}, fmt.Errorf("find conversation: %w", err)
	}

	conv.Participants = []string{a, b}
	if lastMessageID != nil {
		conv.LastMessageID = *lastMessageID
	}
	if lastMessageAt != nil {
		conv.LastMessageAt = *lastMessageAt
	}
	return conv, nil
}

// AppendMessage inserts msg. The BIGSERIAL seq column breaks created_at ties by insertion order.
func (s *Store) AppendMessage(ctx context.Context, msg store.Message) (store.Message, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, text, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Text, msg.CreatedAt)
	switch {
	case err == nil:
		return msg, nil
	case IsUniqueViolation(err):
		return store.Message{}, store.ErrDuplicate
	case IsForeignKeyViolation(err):
		return store.Message{}, store.ErrNotFound
	default:
		return store.Message{}, fmt.Errorf("append message: %w", err)
	}
}

// UpdateConversationPointer moves the conversation's latest message pointer.
func (s *Store) UpdateConversationPointer(ctx context.Context, conversationID, messageID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET last_message_id = $2, last_message_at = $3
		WHERE id = $1
	`, conversationID, messageID, at)
	if err != nil {
		return fmt.Errorf("update conversation pointer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FindUser implements user.Directory.
func (s *Store) FindUser(ctx context.Context, id string) (user.User, error) {
	var u user.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, avatar FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.Avatar)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}
