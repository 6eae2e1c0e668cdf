// Package cache mirrors gateway presence into Redis so other services can see who is online.
package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "duochat:presence:"

// onlineSetKey holds the identities currently online.
const onlineSetKey = keyPrefix + "online"

// presenceKey: duochat:presence:<identity>, value is the gateway id holding the identity.
func presenceKey(identity string) string { return keyPrefix + identity }

// Presence is a presence mirror backed by Redis.
type Presence struct {
	client    *redis.Client
	gatewayID string
}

// NewPresence connects to redisURL and verifies the connection.
func NewPresence(ctx context.Context, redisURL, gatewayID string) (*Presence, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Presence{client: client, gatewayID: gatewayID}, nil
}

// SetOnline records identity as online.
func (p *Presence) SetOnline(ctx context.Context, identity string) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, presenceKey(identity), p.gatewayID, 0)
		pipe.SAdd(ctx, onlineSetKey, identity)
		return nil
	})
	return err
}

// SetOffline removes identity from the online records.
func (p *Presence) SetOffline(ctx context.Context, identity string) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, presenceKey(identity))
		pipe.SRem(ctx, onlineSetKey, identity)
		return nil
	})
	return err
}

// Online returns the identities currently marked online.
func (p *Presence) Online(ctx context.Context) ([]string, error) {
	return p.client.SMembers(ctx, onlineSetKey).Result()
}

// Reset drops every presence record. Used at startup to discard state left by a crashed process.
func (p *Presence) Reset(ctx context.Context) error {
	ids, err := p.Online(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, presenceKey(id))
	}
	keys = append(keys, onlineSetKey)

	return p.client.Del(ctx, keys...).Err()
}

func (p *Presence) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Presence) Close() error {
	return p.client.Close()
}
