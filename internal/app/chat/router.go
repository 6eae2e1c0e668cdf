/*
Package chat contains the core logic of the real-time messaging gateway.

This file defines the Router, which keeps two kinds of channels: one per conversation (sessions
that explicitly joined it) and one per identity (every open session of that user). Both tables are
partitioned by key hash so unrelated conversations and identities never contend on a lock.
*/
package chat

import (
	"sync"

	"github.com/rs/zerolog"

	"duochat/internal/metrics"
	"duochat/internal/pkg/logx"
)

type channelShard struct {
	mu       sync.RWMutex
	channels map[string]map[string]*Session
}

// channelTable maps a channel key to the sessions subscribed to it.
type channelTable struct {
	shards []*channelShard
}

func newChannelTable(shardCount int) *channelTable {
	t := &channelTable{shards: make([]*channelShard, shardCount)}
	for i := range t.shards {
		t.shards[i] = &channelShard{channels: make(map[string]map[string]*Session)}
	}
	return t
}

func (t *channelTable) shardFor(key string) *channelShard {
	return t.shards[shardIndex(key, len(t.shards))]
}

func (t *channelTable) add(key string, s *Session) {
	shard := t.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	members, ok := shard.channels[key]
	if !ok {
		members = make(map[string]*Session)
		shard.channels[key] = members
	}
	members[s.ID] = s
}

func (t *channelTable) remove(key string, s *Session) {
	shard := t.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	members, ok := shard.channels[key]
	if !ok {
		return
	}
	delete(members, s.ID)
	if len(members) == 0 {
		delete(shard.channels, key)
	}
}

// collect adds the members of key to targets, keyed by session id.
func (t *channelTable) collect(key string, targets map[string]*Session) {
	shard := t.shardFor(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	for id, s := range shard.channels[key] {
		targets[id] = s
	}
}

func (t *channelTable) count(key string) int {
	shard := t.shardFor(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	return len(shard.channels[key])
}

// all returns every session in the table.
func (t *channelTable) all() map[string]*Session {
	out := make(map[string]*Session)
	for _, shard := range t.shards {
		shard.mu.RLock()
		for _, members := range shard.channels {
			for id, s := range members {
				out[id] = s
			}
		}
		shard.mu.RUnlock()
	}
	return out
}

// Router performs subscription bookkeeping and fan-out.
type Router struct {
	// conversations holds the conversation channels, keyed by conversation id.
	conversations *channelTable

	// identities holds the personal channels, keyed by identity. Every registered session is in
	// exactly one personal channel, so this table doubles as the set of all sessions.
	identities *channelTable

	logger zerolog.Logger
}

// NewRouter creates a Router whose tables are split into shardCount partitions.
func NewRouter(shardCount int) *Router {
	shardCount = normalizeShards(shardCount)

	return &Router{
		conversations: newChannelTable(shardCount),
		identities:    newChannelTable(shardCount),
		logger:        logx.Component("Router"),
	}
}

// Register subscribes s to its personal channel.
func (r *Router) Register(s *Session) {
	r.identities.add(s.user.ID, s)
}

// Unregister removes s from its personal channel and every conversation it joined.
// Later Join calls for s are ignored.
func (r *Router) Unregister(s *Session) {
	s.mu.Lock()
	s.closed = true
	rooms := s.rooms
	s.rooms = make(map[string]struct{})
	s.mu.Unlock()

	for conversationID := range rooms {
		r.conversations.remove(conversationID, s)
	}
	r.identities.remove(s.user.ID, s)
}

// Join subscribes s to a conversation channel. Membership is not checked here; it is enforced
// when a message is sent.
func (r *Router) Join(s *Session, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, ok := s.rooms[conversationID]; ok {
		return
	}

	s.rooms[conversationID] = struct{}{}
	r.conversations.add(conversationID, s)

	s.logger.Debug().Str("conversation_id", conversationID).Msg("Joined conversation.")
}

// Leave unsubscribes s from a conversation channel.
func (r *Router) Leave(s *Session, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[conversationID]; !ok {
		return
	}

	delete(s.rooms, conversationID)
	r.conversations.remove(conversationID, s)

	s.logger.Debug().Str("conversation_id", conversationID).Msg("Left conversation.")
}

// BroadcastToConversation delivers event to every session joined to conversationID.
func (r *Router) BroadcastToConversation(conversationID string, event OutboundEvent) int {
	return r.Publish(event, conversationID)
}

// BroadcastToIdentity delivers event to every open session of identity.
func (r *Router) BroadcastToIdentity(identity string, event OutboundEvent) int {
	return r.Publish(event, "", identity)
}

// BroadcastAllExcept delivers event to every open session except the one with exceptSessionID.
func (r *Router) BroadcastAllExcept(exceptSessionID string, event OutboundEvent) int {
	targets := r.identities.all()
	delete(targets, exceptSessionID)

	return r.deliver(event, targets)
}

// Publish delivers event to the conversation channel (if conversationID is not empty) and to the
// personal channel of every identity. Targets are merged by session id, so a session reachable
// through several channels receives the event once. It returns the number of sessions reached.
func (r *Router) Publish(event OutboundEvent, conversationID string, identities ...string) int {
	targets := make(map[string]*Session)

	if conversationID != "" {
		r.conversations.collect(conversationID, targets)
	}
	for _, identity := range identities {
		r.identities.collect(identity, targets)
	}

	return r.deliver(event, targets)
}

func (r *Router) deliver(event OutboundEvent, targets map[string]*Session) int {
	if len(targets) == 0 {
		return 0
	}

	frame, err := encodeEvent(event)
	if err != nil {
		r.logger.Error().Err(err).Str("event", string(event.Type)).Msg("Error marshaling event for broadcast.")
		return 0
	}

	delivered := 0
	for _, s := range targets {
		if s.enqueue(frame) {
			delivered++
		}
	}

	metrics.FanoutDeliveries.Add(float64(delivered))
	return delivered
}

// Sessions returns every registered session.
func (r *Router) Sessions() []*Session {
	all := r.identities.all()

	out := make([]*Session, 0, len(all))
	for _, s := range all {
		out = append(out, s)
	}
	return out
}

// ConversationSize returns the number of sessions joined to conversationID.
func (r *Router) ConversationSize(conversationID string) int {
	return r.conversations.count(conversationID)
}

// IdentitySize returns the number of open sessions of identity.
func (r *Router) IdentitySize(identity string) int {
	return r.identities.count(identity)
}
