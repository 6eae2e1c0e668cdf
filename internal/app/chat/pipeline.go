/*
Package chat contains the core logic of the real-time messaging gateway.

This file defines the Pipeline, which turns a send-message request into a durable, broadcast
message: validate, authorize, persist, update the conversation pointer, then fan out. Persist,
pointer update and fan-out run under a per-conversation lock, so every subscriber observes a
conversation's messages in append order while other conversations proceed in parallel.
*/
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"duochat/internal/app/store"
	"duochat/internal/app/user"
	"duochat/internal/metrics"
	"duochat/internal/pkg/errs"
	"duochat/internal/pkg/logx"
	"duochat/internal/pkg/randx"
)

// PipelineState is a stage of the send state machine.
type PipelineState string

const (
	StateReceived        PipelineState = "received"
	StateAuthorized      PipelineState = "authorized"
	StatePersisted       PipelineState = "persisted"
	StateMetadataUpdated PipelineState = "metadata-updated"
	StateBroadcast       PipelineState = "broadcast"
	StateRejected        PipelineState = "rejected"
	StatePersistFailed   PipelineState = "persist-failed"
)

const (
	defaultStoreTimeout    = 5 * time.Second
	defaultMaxContentBytes = 5000
	defaultRetryBase       = 50 * time.Millisecond
	maxRetryDelay          = time.Second
)

// MessageNotifier is told about every broadcast message, for downstream push delivery.
type MessageNotifier interface {
	NotifyMessage(ctx context.Context, view MessageView, participants []string) error
}

// PipelineConfig tunes store calls and validation.
type PipelineConfig struct {
	// StoreTimeout bounds each individual store call.
	StoreTimeout time.Duration

	// StoreRetries is the number of retries after the first attempt of a store call.
	StoreRetries int

	// RetryBase is the first backoff delay; it doubles per retry.
	RetryBase time.Duration

	// MaxContentBytes bounds the trimmed message text.
	MaxContentBytes int
}

// Pipeline processes send-message requests.
type Pipeline struct {
	store     store.ConversationStore
	directory user.Directory
	router    *Router
	notifier  MessageNotifier

	locks  *keyedMutex
	cfg    PipelineConfig
	logger zerolog.Logger
}

// NewPipeline wires a Pipeline. directory and notifier may be nil.
func NewPipeline(st store.ConversationStore, directory user.Directory, router *Router, notifier MessageNotifier, cfg PipelineConfig) *Pipeline {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.StoreRetries < 0 {
		cfg.StoreRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = defaultMaxContentBytes
	}

	return &Pipeline{
		store:     st,
		directory: directory,
		router:    router,
		notifier:  notifier,
		locks:     newKeyedMutex(),
		cfg:       cfg,
		logger:    logx.Component("Pipeline"),
	}
}

// Send runs one send request from sender to completion. On failure the returned error is a
// *errs.CustomError meant for the sender only and nothing has been broadcast.
//
// ctx is the session's context. Store calls detach from its cancellation, so a connection closing
// mid-send never aborts persistence that already started.
func (p *Pipeline) Send(ctx context.Context, sender user.User, req SendMessagePayload) (store.Message, error) {
	start := time.Now()
	logger := p.logger.With().
		Str("user_id", sender.ID).
		Str("conversation_id", req.ConversationID).
		Logger()

	msg, state, err := p.run(context.WithoutCancel(ctx), sender, req, logger)

	metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	switch state {
	case StateBroadcast:
		metrics.MessagesProcessed.WithLabelValues(metrics.OutcomeBroadcast).Inc()
	case StatePersistFailed:
		metrics.MessagesProcessed.WithLabelValues(metrics.OutcomePersistFailed).Inc()
	default:
		metrics.MessagesProcessed.WithLabelValues(metrics.OutcomeRejected).Inc()
	}

	logger.Debug().Str("state", string(state)).Dur("latency", time.Since(start)).Msg("Send finished")

	if err != nil {
		return store.Message{}, err
	}
	return msg, nil
}

func (p *Pipeline) run(ctx context.Context, sender user.User, req SendMessagePayload, logger zerolog.Logger) (store.Message, PipelineState, *errs.CustomError) {
	text := strings.TrimSpace(req.Text)
	switch {
	case req.ConversationID == "":
		return store.Message{}, StateRejected, errs.NewError(errs.ErrInvalidParams)
	case text == "":
		return store.Message{}, StateRejected, errs.NewError(errs.ErrMessageEmpty)
	case len(text) > p.cfg.MaxContentBytes:
		return store.Message{}, StateRejected, errs.NewError(errs.ErrMessageContentTooLong, p.cfg.MaxContentBytes)
	}

	var conv store.Conversation
	err := p.withRetry(ctx, "find_conversation", func(ctx context.Context, _ int) error {
		var err error
		conv, err = p.store.FindConversation(ctx, req.ConversationID, sender.ID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		logger.Info().Msg("Send rejected: sender is not a participant")
		return store.Message{}, StateRejected, errs.NewError(errs.ErrNotAuthorized)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Conversation lookup failed")
		return store.Message{}, StateRejected, errs.Wrap(errs.ErrPersistence, err)
	}

	profile := p.resolveSender(ctx, sender, logger)

	msg, view, perr := p.commit(ctx, conv, sender, profile, text, logger)
	if perr != nil {
		return store.Message{}, StatePersistFailed, perr
	}

	if p.notifier != nil {
		if err := p.notifier.NotifyMessage(ctx, view, conv.Participants); err != nil {
			logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Message notifier failed")
		}
	}

	return msg, StateBroadcast, nil
}

// commit persists the message, moves the conversation pointer and fans the message out while
// holding the conversation's lock. profile is the sender as shown to recipients.
func (p *Pipeline) commit(ctx context.Context, conv store.Conversation, sender, profile user.User, text string, logger zerolog.Logger) (store.Message, MessageView, *errs.CustomError) {
	unlock := p.locks.Lock(conv.ID)
	defer unlock()

	msg := store.Message{
		ID:             p.newMessageID(),
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		Text:           text,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
	logger = logger.With().Str("message_id", msg.ID).Logger()

	err := p.withRetry(ctx, "append_message", func(ctx context.Context, attempt int) error {
		stored, err := p.store.AppendMessage(ctx, msg)
		if errors.Is(err, store.ErrDuplicate) && attempt > 1 {
			// An earlier attempt landed before its response was lost.
			return nil
		}
		if err == nil {
			msg = stored
		}
		return err
	})
	if err != nil {
		logger.Error().Err(err).Msg("Message append failed")
		return store.Message{}, MessageView{}, errs.Wrap(errs.ErrPersistence, err)
	}

	err = p.withRetry(ctx, "update_pointer", func(ctx context.Context, _ int) error {
		return p.store.UpdateConversationPointer(ctx, conv.ID, msg.ID, msg.CreatedAt)
	})
	if err != nil {
		metrics.MetadataUpdateFailures.Inc()
		logger.Error().Err(errs.Wrap(errs.ErrMetadataUpdate, err)).Msg("Conversation pointer is stale")
	}

	view := NewMessageView(msg, profile)
	delivered := p.router.Publish(newMessageEvent(view), conv.ID, conv.Participants...)

	logger.Debug().Int("delivered", delivered).Msg("Message broadcast")
	return msg, view, nil
}

// resolveSender returns the sender's current profile, falling back to the handshake profile.
func (p *Pipeline) resolveSender(ctx context.Context, sender user.User, logger zerolog.Logger) user.User {
	if p.directory == nil {
		return sender
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()

	profile, err := p.directory.FindUser(ctx, sender.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("Sender profile lookup failed, using handshake profile")
		return sender
	}
	return profile
}

func (p *Pipeline) newMessageID() string {
	if allocator, ok := p.store.(store.IDAllocator); ok {
		return allocator.NewMessageID()
	}
	return randx.MessageID()
}

// withRetry runs fn with a per-attempt timeout and bounded exponential backoff.
// store.ErrNotFound and store.ErrDuplicate are final.
func (p *Pipeline) withRetry(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	start := time.Now()
	defer func() {
		metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	backoff := retry.NewExponential(p.cfg.RetryBase)
	backoff = retry.WithCappedDuration(maxRetryDelay, backoff)
	backoff = retry.WithMaxRetries(uint64(p.cfg.StoreRetries), backoff)

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.StoreRetries.WithLabelValues(op).Inc()
		}

		callCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
		defer cancel()

		err := fn(callCtx, attempt)
		if err == nil || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrDuplicate) {
			return err
		}
		return retry.RetryableError(err)
	})
}
