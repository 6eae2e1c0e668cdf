/*
Package mongodb implements the conversation store on MongoDB.

It reads and writes the document layout of the chat application's existing database: the
"chats" collection (participants, lastMessage, lastMessageAt), the append-only "messages"
collection indexed by {chat, createdAt}, and the "users" collection holding display profiles.
Identities and message ids are ObjectID hex strings.
*/
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"duochat/internal/pkg/logx"
)

const (
	chatsCollection    = "chats"
	messagesCollection = "messages"
	usersCollection    = "users"

	defaultMaxRetry = 5
	retryDelay      = 500 * time.Millisecond
)

// Config represents the MongoDB connection settings.
type Config struct {
	URI         string
	Database    string
	MaxPoolSize uint64
	MaxRetry    int
}

// Connect opens a client, retrying transient failures, and returns the configured database.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	if cfg.URI == "" {
		return nil, nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		return nil, nil, errors.New("mongo database is required")
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = defaultMaxRetry
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	var (
		cli *mongo.Client
		err error
	)
	for i := 0; i < cfg.MaxRetry; i++ {
		cli, err = connect(ctx, opts)
		if err == nil || ctx.Err() != nil {
			break
		}

		logx.Warn("MongoDB connection attempt failed, retrying", "attempt", i+1, "error", err.Error())

		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", ctx.Err())
		case <-time.After(retryDelay):
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	return cli, cli.Database(cfg.Database), nil
}

func connect(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}
