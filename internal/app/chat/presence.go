/*
Package chat contains the core logic of the real-time messaging gateway.

This file defines the PresenceRegistry, the sole source of truth for which identities are
online. It maps each identity to the set of its open session ids and reports transitions only
on the first and last session, so reconnect churn never produces presence events.
*/
package chat

import (
	"slices"
	"sync"
	"sync/atomic"
)

// PresenceObserver is called on every online/offline transition. It runs while the identity's
// shard lock is held, so transitions for one identity are observed in order; it must not call
// back into the registry.
type PresenceObserver func(identity, sessionID string, online bool)

type presenceShard struct {
	mu       sync.RWMutex
	sessions map[string]map[string]struct{}
}

// PresenceRegistry tracks open sessions per identity, partitioned by identity hash.
type PresenceRegistry struct {
	shards   []*presenceShard
	observer PresenceObserver

	// online counts identities with at least one session.
	online atomic.Int64
}

// NewPresenceRegistry creates a registry with shardCount partitions. observer may be nil.
func NewPresenceRegistry(shardCount int, observer PresenceObserver) *PresenceRegistry {
	shardCount = normalizeShards(shardCount)

	p := &PresenceRegistry{
		shards:   make([]*presenceShard, shardCount),
		observer: observer,
	}
	for i := range p.shards {
		p.shards[i] = &presenceShard{sessions: make(map[string]map[string]struct{})}
	}
	return p
}

func (p *PresenceRegistry) shardFor(identity string) *presenceShard {
	return p.shards[shardIndex(identity, len(p.shards))]
}

// MarkOnline records sessionID for identity. It reports true only when identity goes from
// offline to online; repeating a call for the same session is a no-op.
func (p *PresenceRegistry) MarkOnline(identity, sessionID string) bool {
	shard := p.shardFor(identity)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	set, ok := shard.sessions[identity]
	if !ok {
		set = make(map[string]struct{})
		shard.sessions[identity] = set
	}
	if _, exists := set[sessionID]; exists {
		return false
	}

	set[sessionID] = struct{}{}
	if len(set) > 1 {
		return false
	}

	p.online.Add(1)
	if p.observer != nil {
		p.observer(identity, sessionID, true)
	}
	return true
}

// MarkOffline removes sessionID from identity. It reports true only when the last session
// of identity closes; unknown sessions are ignored.
func (p *PresenceRegistry) MarkOffline(identity, sessionID string) bool {
	shard := p.shardFor(identity)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	set, ok := shard.sessions[identity]
	if !ok {
		return false
	}
	if _, exists := set[sessionID]; !exists {
		return false
	}

	delete(set, sessionID)
	if len(set) > 0 {
		return false
	}

	delete(shard.sessions, identity)
	p.online.Add(-1)
	if p.observer != nil {
		p.observer(identity, sessionID, false)
	}
	return true
}

// Snapshot returns the sorted set of online identities.
func (p *PresenceRegistry) Snapshot() []string {
	var out []string
	p.SnapshotWith(func(ids []string) { out = ids })
	return out
}

// SnapshotWith calls fn with a consistent snapshot of online identities while every shard is
// read-locked. No transition can be observed between the snapshot and the end of fn.
func (p *PresenceRegistry) SnapshotWith(fn func(ids []string)) {
	for _, shard := range p.shards {
		shard.mu.RLock()
	}
	defer func() {
		for i := len(p.shards) - 1; i >= 0; i-- {
			p.shards[i].mu.RUnlock()
		}
	}()

	ids := make([]string, 0, p.online.Load())
	for _, shard := range p.shards {
		for identity := range shard.sessions {
			ids = append(ids, identity)
		}
	}
	slices.Sort(ids)

	fn(ids)
}

// IsOnline reports whether identity has at least one open session.
func (p *PresenceRegistry) IsOnline(identity string) bool {
	shard := p.shardFor(identity)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	_, ok := shard.sessions[identity]
	return ok
}

// Sessions returns the sorted ids of identity's open sessions.
func (p *PresenceRegistry) Sessions(identity string) []string {
	shard := p.shardFor(identity)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	ids := make([]string, 0, len(shard.sessions[identity]))
	for id := range shard.sessions[identity] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of online identities.
func (p *PresenceRegistry) Len() int {
	return int(p.online.Load())
}

// Reset empties the registry without notifying the observer.
func (p *PresenceRegistry) Reset() {
	for _, shard := range p.shards {
		shard.mu.Lock()
		removed := len(shard.sessions)
		clear(shard.sessions)
		p.online.Add(-int64(removed))
		shard.mu.Unlock()
	}
}
