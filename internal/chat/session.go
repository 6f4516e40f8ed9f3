// Package chat is the client-side session over the shared message log. It
// keeps a live view that is replaced wholesale by every pushed snapshot and
// routes user actions to the uploader and the store. No action patches the
// view locally; the next push is the only source of truth.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/roomsync/internal/domain"
	"github.com/nfrund/roomsync/internal/identity"
	"github.com/nfrund/roomsync/internal/reaction"
	"github.com/nfrund/roomsync/internal/reply"
	"github.com/nfrund/roomsync/internal/storage"
)

// Op names used in notices and errors.
const (
	OpStart          = "start"
	OpSendText       = "send_text"
	OpSendAttachment = "send_attachment"
	OpReact          = "react"
)

// Uploader stores attachment payloads. *storage.Uploader satisfies it.
type Uploader interface {
	Upload(ctx context.Context, payload []byte, suggestedName string) (storage.Locator, error)
}

// Config holds the optional parts of a Session.
type Config struct {
	// Palette restricts React to these symbols. Empty allows any symbol.
	Palette []string
	// OnUpdate receives a copy of the live log after every snapshot.
	OnUpdate func([]domain.Message)
	// Notifier receives a Notice for every failed action.
	Notifier Notifier
	Logger   *slog.Logger
	Clock    func() time.Time
}

// DefaultConfig restricts reactions to the default palette.
func DefaultConfig() Config {
	return Config{Palette: reaction.DefaultPalette}
}

// Session is one user's view of the chat room. It is safe for concurrent
// use and several actions may be in flight at once.
type Session struct {
	store    domain.MessageStore
	uploader Uploader
	identity identity.Provider

	palette  []string
	onUpdate func([]domain.Message)
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	state       State
	generation  uint64
	messages    []domain.Message
	replyTarget *domain.ReplyRef
	sub         domain.Subscription
	live        chan struct{}

	inflight sync.WaitGroup
}

// NewSession creates an idle session with explicitly injected collaborators.
func NewSession(store domain.MessageStore, uploader Uploader, ident identity.Provider, cfg Config) *Session {
	s := &Session{
		store:    store,
		uploader: uploader,
		identity: ident,
		palette:  cfg.Palette,
		onUpdate: cfg.OnUpdate,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		now:      cfg.Clock,
	}
	if s.notifier == nil {
		s.notifier = discardNotifier{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("service", "chat")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start subscribes to the message log. The session is Live once the first
// snapshot arrives.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return domain.NewOpError(OpStart, domain.ErrSessionStarted, nil)
	}
	s.generation++
	gen := s.generation
	s.state = AwaitingSubscription
	s.live = make(chan struct{})
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Subscribing to message log")
	sub, err := s.store.Subscribe(ctx, func(msgs []domain.Message) {
		s.applySnapshot(gen, msgs)
	})
	if err != nil {
		s.mu.Lock()
		if s.generation == gen {
			s.state = Idle
		}
		s.mu.Unlock()
		return s.fail(ctx, OpStart, err)
	}

	s.mu.Lock()
	if s.generation != gen {
		// Stopped while subscribing.
		s.mu.Unlock()
		sub.Cancel()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()
	return nil
}

func (s *Session) applySnapshot(gen uint64, msgs []domain.Message) {
	s.mu.Lock()
	if gen != s.generation || s.state == Idle {
		s.mu.Unlock()
		return
	}
	s.messages = msgs
	if s.state != Live {
		s.state = Live
		close(s.live)
	}
	onUpdate := s.onUpdate
	var view []domain.Message
	if onUpdate != nil {
		view = domain.CloneMessages(msgs)
	}
	s.mu.Unlock()

	s.logger.Debug("Snapshot applied", "message_count", len(msgs))
	if onUpdate != nil {
		onUpdate(view)
	}
}

// WaitLive blocks until the first snapshot has been applied. It returns
// ErrSessionNotLive if the session is stopped before that happens.
func (s *Session) WaitLive(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return domain.ErrSessionNotLive
	}
	live := s.live
	gen := s.generation
	s.mu.Unlock()

	select {
	case <-live:
	case <-ctx.Done():
		return ctx.Err()
	}

	// live is also closed by a Stop that came before the first snapshot.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.state != Live {
		return domain.ErrSessionNotLive
	}
	return nil
}

// Stop cancels the subscription and returns the session to Idle. The live
// log and any pending reply target are dropped. In-flight writes continue.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return
	}
	s.generation++
	sub := s.sub
	s.sub = nil
	if s.state == AwaitingSubscription {
		close(s.live)
	}
	s.state = Idle
	s.messages = nil
	s.replyTarget = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	s.logger.Info("Session stopped")
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the live log, oldest first.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneMessages(s.messages)
}

// SetReplyTarget quotes parent in the next message sent.
func (s *Session) SetReplyTarget(parent domain.Message) {
	ref := reply.Snapshot(parent)
	s.mu.Lock()
	s.replyTarget = &ref
	s.mu.Unlock()
}

// ClearReplyTarget drops the pending quote.
func (s *Session) ClearReplyTarget() {
	s.mu.Lock()
	s.replyTarget = nil
	s.mu.Unlock()
}

// ReplyTarget returns a copy of the pending quote, or nil.
func (s *Session) ReplyTarget() *domain.ReplyRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replyTarget == nil {
		return nil
	}
	ref := *s.replyTarget
	return &ref
}

// takeReplyTarget reads and clears the pending quote in one step.
func (s *Session) takeReplyTarget() *domain.ReplyRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := s.replyTarget
	s.replyTarget = nil
	return ref
}

// SendText appends a text message. A blank body is ignored and returns an
// empty ID. The reply target is consumed when the call is made, whether or
// not the write succeeds.
func (s *Session) SendText(ctx context.Context, body string) (domain.MessageID, error) {
	if strings.TrimSpace(body) == "" {
		return "", nil
	}
	replyTo := s.takeReplyTarget()

	author, err := s.identity.Current(ctx)
	if err != nil {
		return "", s.fail(ctx, OpSendText, err)
	}

	draft := domain.NewDraft(author, body)
	draft.ReplyTo = replyTo

	id, err := s.store.Append(ctx, draft)
	if err != nil {
		return "", s.fail(ctx, OpSendText, err)
	}
	s.logger.DebugContext(ctx, "Message sent", "message_id", id, "reply", replyTo != nil)
	return id, nil
}

// SendAttachment uploads payload and then appends a message pointing at it.
// If the append fails the uploaded object is left in place.
func (s *Session) SendAttachment(ctx context.Context, payload []byte, name string) (domain.MessageID, error) {
	replyTo := s.takeReplyTarget()

	author, err := s.identity.Current(ctx)
	if err != nil {
		return "", s.fail(ctx, OpSendAttachment, err)
	}

	loc, err := s.uploader.Upload(ctx, payload, name)
	if err != nil {
		return "", s.fail(ctx, OpSendAttachment, err)
	}

	draft := domain.NewDraft(author, "")
	draft.ReplyTo = replyTo
	url := loc.URL
	draft.AttachmentURL = &url

	id, err := s.store.Append(ctx, draft)
	if err != nil {
		s.logger.WarnContext(ctx, "Attachment uploaded but message not written", "key", loc.Key)
		return "", s.fail(ctx, OpSendAttachment, err)
	}
	s.logger.DebugContext(ctx, "Attachment sent", "message_id", id, "key", loc.Key)
	return id, nil
}

// React toggles the caller's reaction on a message. The current reactions
// come from the live log, which may be stale; the resulting map replaces the
// stored one wholesale.
func (s *Session) React(ctx context.Context, id domain.MessageID, symbol string) error {
	if !reaction.InPalette(s.palette, symbol) {
		return s.fail(ctx, OpReact, domain.NewOpError(OpReact, domain.ErrUnknownReaction, nil))
	}

	author, err := s.identity.Current(ctx)
	if err != nil {
		return s.fail(ctx, OpReact, err)
	}

	current, err := s.reactionsOf(id)
	if err != nil {
		return s.fail(ctx, OpReact, err)
	}

	next := reaction.Toggle(current, author.UID, symbol)
	if err := s.store.MutateReactions(ctx, id, next); err != nil {
		return s.fail(ctx, OpReact, err)
	}
	s.logger.DebugContext(ctx, "Reaction toggled", "message_id", id, "uid", author.UID, "symbol", symbol)
	return nil
}

func (s *Session) reactionsOf(id domain.MessageID) (domain.Reactions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Live {
		return nil, domain.NewOpError(OpReact, domain.ErrSessionNotLive, nil)
	}
	for _, m := range s.messages {
		if m.ID == id {
			return m.Reactions.Clone(), nil
		}
	}
	return nil, domain.NewOpError(OpReact, domain.ErrNotFound, nil)
}

// Go runs action on its own goroutine. Session methods report their own
// failures to the notifier, so the returned error is only logged.
func (s *Session) Go(action func(ctx context.Context) error) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := action(context.Background()); err != nil {
			s.logger.Debug("Background action failed", "error", err)
		}
	}()
}

// Wait blocks until every action started with Go has finished.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// fail logs err, reports it to the notifier and returns it as an *OpError.
func (s *Session) fail(ctx context.Context, op string, err error) error {
	var opErr *domain.OpError
	if !errors.As(err, &opErr) {
		err = domain.NewOpError(op, err, nil)
	}
	s.logger.ErrorContext(ctx, "Chat action failed", "op", op, "error", err)
	s.notifier.Notify(Notice{Op: op, Err: err, At: s.now()})
	return err
}
