/*
Package chat contains the core logic of the real-time messaging gateway.

This file defines the Manager struct, the owner of every gateway component. It performs the
handshake, attaches and tears down sessions, turns presence transitions into broadcasts, and
mirrors presence to an optional external store through a single ordered loop.
*/
package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"duochat/internal/app/store"
	"duochat/internal/app/user"
	"duochat/internal/configs"
	"duochat/internal/metrics"
	"duochat/internal/pkg/auth/jwt"
	"duochat/internal/pkg/errs"
	"duochat/internal/pkg/limiter"
	"duochat/internal/pkg/logx"
	"duochat/internal/pkg/randx"
)

const (
	// presenceMirrorBuffer bounds presence changes waiting for the mirror loop.
	presenceMirrorBuffer = 1024

	// presenceMirrorTimeout bounds a single mirror write.
	presenceMirrorTimeout = 2 * time.Second
)

// PresenceMirror publishes presence transitions outside the process (e.g. to Redis).
type PresenceMirror interface {
	SetOnline(ctx context.Context, identity string) error
	SetOffline(ctx context.Context, identity string) error
}

// Deps are the collaborators a Manager is built from. Notifier and Mirror are optional.
type Deps struct {
	Store     store.ConversationStore
	Directory user.Directory
	Verifier  *jwt.Verifier
	Notifier  MessageNotifier
	Mirror    PresenceMirror
}

type presenceChange struct {
	identity string
	online   bool
}

// Manager struct coordinates sessions, presence, routing and the message pipeline.
type Manager struct {
	config *configs.AppConfig

	verifier  *jwt.Verifier
	directory user.Directory

	presence *PresenceRegistry
	router   *Router
	pipeline *Pipeline

	// sendLimiter throttles send-message per identity.
	sendLimiter *limiter.RateLimiter

	mirror     PresenceMirror
	mirrorCh   chan presenceChange
	mirrorMu   sync.RWMutex
	mirrorDone bool

	// closing suppresses presence broadcasts and refuses new sessions during shutdown.
	// attachMu makes the closing check and registration in Attach atomic with respect to shutdown.
	closing  atomic.Bool
	attachMu sync.RWMutex

	// ctx is the parent of every session context.
	ctx    context.Context
	cancel context.CancelFunc

	// wg is used to wait for the mirror loop to finish during shutdown.
	wg           sync.WaitGroup
	shutdownOnce sync.Once

	// structured logger with Manager context.
	logger zerolog.Logger
}

// NewManager constructs and returns a new Manager instance.
func NewManager(cfg *configs.AppConfig, deps Deps) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config:    cfg,
		verifier:  deps.Verifier,
		directory: deps.Directory,
		router:    NewRouter(cfg.ShardCount),
		mirror:    deps.Mirror,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logx.Component("Manager"),
	}
	m.presence = NewPresenceRegistry(cfg.ShardCount, m.onPresenceChange)
	m.pipeline = NewPipeline(deps.Store, deps.Directory, m.router, deps.Notifier, PipelineConfig{
		StoreTimeout:    cfg.StoreTimeout,
		StoreRetries:    cfg.StoreRetries,
		MaxContentBytes: cfg.MaxMessageBytes,
	})

	if cfg.SendRate > 0 {
		m.sendLimiter = limiter.NewRateLimiter("send", rate.Limit(cfg.SendRate), max(cfg.SendBurst, 1))
	}

	if m.mirror != nil {
		m.mirrorCh = make(chan presenceChange, presenceMirrorBuffer)
		m.wg.Add(1)
		go m.runMirrorLoop()
	}

	return m
}

// Presence returns the presence registry.
func (m *Manager) Presence() *PresenceRegistry {
	return m.presence
}

// Router returns the room router.
func (m *Manager) Router() *Router {
	return m.router
}

// Pipeline returns the message pipeline.
func (m *Manager) Pipeline() *Pipeline {
	return m.pipeline
}

// Authenticate resolves a bearer credential into a user. A missing or invalid credential, or one
// naming an unknown user, yields ErrAuthentication; nothing is registered either way.
func (m *Manager) Authenticate(ctx context.Context, credential string) (user.User, *errs.CustomError) {
	payload, err := m.verifier.Verify(credential)
	if err != nil {
		metrics.HandshakeFailures.Inc()
		m.logger.Info().Err(err).Msg("Handshake rejected: invalid credential")
		return user.User{}, errs.Wrap(errs.ErrAuthentication, err)
	}

	identity := payload.Identity()
	if m.directory == nil {
		return user.User{ID: identity, Name: payload.Name, Email: payload.Email}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.pipeline.cfg.StoreTimeout)
	defer cancel()

	lookup := m.directory.FindUser
	if resolver, ok := m.directory.(user.SubjectResolver); ok {
		lookup = resolver.FindUserBySubject
	}

	u, err := lookup(ctx, identity)
	if errors.Is(err, user.ErrNotFound) {
		metrics.HandshakeFailures.Inc()
		m.logger.Info().Str("user_id", identity).Msg("Handshake rejected: user not found")
		return user.User{}, errs.Wrap(errs.ErrAuthentication, err)
	}
	if err != nil {
		m.logger.Error().Err(err).Str("user_id", identity).Msg("Handshake failed: user lookup error")
		return user.User{}, errs.Wrap(errs.ErrUnknown, err)
	}

	return u, nil
}

// Attach binds an authenticated connection to a new Session: it subscribes the session to its
// personal channel, marks it online, and queues the online-users snapshot. The caller runs the
// session's pumps.
func (m *Manager) Attach(conn *websocket.Conn, u user.User) *Session {
	s := newSession(randx.SessionID(), u, conn, m)

	m.attachMu.RLock()
	defer m.attachMu.RUnlock()

	if m.closing.Load() {
		s.Close(websocket.CloseGoingAway, "server shutting down")
		return s
	}

	s.attached = true
	m.router.Register(s)
	metrics.ActiveSessions.Inc()

	m.presence.MarkOnline(u.ID, s.ID)

	// The snapshot is queued while the registry is read-locked, so no later transition can be
	// delivered ahead of it.
	m.presence.SnapshotWith(func(ids []string) {
		s.sendEvent(onlineUsersEvent(ids))
	})

	s.logger.Info().Int("online_users", m.presence.Len()).Msg("Session attached.")
	return s
}

// Teardown removes s from the router and the registry and closes it. It is idempotent.
func (m *Manager) Teardown(s *Session) {
	s.teardownOnce.Do(func() {
		s.cancel()
		s.Close(websocket.CloseNormalClosure, "")

		if !s.attached {
			return
		}

		m.router.Unregister(s)
		m.presence.MarkOffline(s.user.ID, s.ID)
		metrics.ActiveSessions.Dec()

		s.logger.Info().Msg("Session torn down.")
	})
}

// onPresenceChange runs under the identity's presence shard lock.
func (m *Manager) onPresenceChange(identity, sessionID string, online bool) {
	metrics.OnlineUsers.Set(float64(m.presence.Len()))
	m.mirrorChange(presenceChange{identity: identity, online: online})

	if m.closing.Load() {
		return
	}

	// The session going online already knows from its snapshot; the one going offline is
	// unregistered already.
	m.router.BroadcastAllExcept(sessionID, presenceEvent(identity, online))
}

func (m *Manager) mirrorChange(change presenceChange) {
	if m.mirror == nil {
		return
	}

	m.mirrorMu.RLock()
	defer m.mirrorMu.RUnlock()

	if m.mirrorDone {
		return
	}

	select {
	case m.mirrorCh <- change:
	default:
		m.logger.Warn().Str("user_id", change.identity).Msg("Presence mirror queue full, dropping change.")
	}
}

// runMirrorLoop applies presence changes to the mirror in transition order.
func (m *Manager) runMirrorLoop() {
	defer m.wg.Done()

	m.logger.Info().Msg("Presence mirror loop started.")

	for change := range m.mirrorCh {
		ctx, cancel := context.WithTimeout(context.Background(), presenceMirrorTimeout)

		var err error
		if change.online {
			err = m.mirror.SetOnline(ctx, change.identity)
		} else {
			err = m.mirror.SetOffline(ctx, change.identity)
		}
		cancel()

		if err != nil {
			m.logger.Warn().Err(err).Str("user_id", change.identity).Bool("online", change.online).Msg("Presence mirror update failed.")
		}
	}

	m.logger.Info().Msg("Presence mirror loop stopped.")
}

func (m *Manager) allowSend(identity string) bool {
	return m.sendLimiter == nil || m.sendLimiter.Allow(identity)
}

// Shutdown closes every session with a going-away frame, flushes the presence mirror and empties
// the registry. Presence broadcasts are suppressed while shutting down. It is idempotent.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(m.shutdown)
}

func (m *Manager) shutdown() {
	m.logger.Info().Msg("Shutting down Manager...")

	m.attachMu.Lock()
	m.closing.Store(true)
	m.attachMu.Unlock()

	for _, s := range m.router.Sessions() {
		s.Close(websocket.CloseGoingAway, "server shutting down")
		m.Teardown(s)
	}
	m.presence.Reset()

	if m.mirror != nil {
		m.mirrorMu.Lock()
		m.mirrorDone = true
		close(m.mirrorCh)
		m.mirrorMu.Unlock()

		m.wg.Wait()
	}

	if m.sendLimiter != nil {
		m.sendLimiter.Stop()
	}
	m.cancel()

	m.logger.Info().Msg("Manager shutdown complete.")
}
