// Package memstore is an in-process MessageStore. It assigns IDs and
// creation times like a server would and broadcasts log changes over an
// in-memory watermill bus, which makes it the backend for tests and for the
// local demo.
package memstore

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/roomsync/internal/domain"
	"github.com/nfrund/roomsync/internal/pubsub"
)

// TopicLogChanged is published on the bus after every committed write.
const TopicLogChanged = "roomsync.log.changed"

const metaKeyRevision = "revision"

// busBuffer bounds how far one subscriber's change signals may pile up.
const busBuffer = 256

// Op names a store operation, used by fault injection.
type Op string

const (
	OpAppend          Op = "append"
	OpMutateReactions Op = "mutate_reactions"
	OpSubscribe       Op = "subscribe"
)

// FaultFunc decides whether an operation fails before touching the log.
// Returning a non-nil error makes the operation fail as unreachable.
type FaultFunc func(op Op) error

type entry struct {
	msg domain.Message
	seq uint64
}

// Store is a MessageStore held in memory.
type Store struct {
	mu       sync.RWMutex
	entries  []entry
	index    map[domain.MessageID]int
	seq      uint64
	revision uint64

	bus    *pubsub.WatermillBridge
	now    func() time.Time
	newID  func() domain.MessageID
	fault  FaultFunc
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the server clock used to stamp CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDs overrides how message IDs are generated.
func WithIDs(newID func() domain.MessageID) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// WithFault installs a fault injector.
func WithFault(fault FaultFunc) Option {
	return func(s *Store) {
		s.fault = fault
	}
}

// New creates an empty store with its own in-memory bus.
func New(opts ...Option) *Store {
	s := &Store{
		index:  make(map[domain.MessageID]int),
		now:    time.Now,
		newID:  func() domain.MessageID { return domain.MessageID(uuid.NewString()) },
		logger: slog.Default().With("service", "memstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bus = pubsub.NewWatermillBridge(pubsub.Config{Buffer: busBuffer, Logger: slog.Default().With("owner", "memstore")})
	return s
}

var _ domain.MessageStore = (*Store)(nil)

// Close shuts down the bus. Active subscriptions stop receiving updates.
func (s *Store) Close() error {
	return s.bus.Close()
}

// SetFault replaces the fault injector at runtime.
func (s *Store) SetFault(fault FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fault
}

func (s *Store) checkFault(op Op) error {
	s.mu.RLock()
	fault := s.fault
	s.mu.RUnlock()
	if fault == nil {
		return nil
	}
	return fault(op)
}

// Append implements domain.MessageStore.
func (s *Store) Append(ctx context.Context, draft domain.Draft) (domain.MessageID, error) {
	if err := draft.Validate(); err != nil {
		return "", domain.NewOpError(string(OpAppend), domain.ErrInvalidDraft, err)
	}
	if err := s.checkFault(OpAppend); err != nil {
		return "", domain.NewOpError(string(OpAppend), domain.ErrWriteFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return "", domain.NewOpError(string(OpAppend), domain.ErrWriteFailed, err)
	}

	s.mu.Lock()
	s.seq++
	e := entry{
		msg: draft.Materialize(s.newID(), s.now().UTC()),
		seq: s.seq,
	}
	s.insertLocked(e)
	s.revision++
	rev := s.revision
	s.mu.Unlock()

	s.logger.Debug("Message appended", "message_id", e.msg.ID, "revision", rev)
	s.announce(ctx, rev, string(e.msg.AuthorID))
	return e.msg.ID, nil
}

// insertLocked places e by (CreatedAt, seq) so the log stays ordered even
// when the clock hands out a time earlier than the last one.
func (s *Store) insertLocked(e entry) {
	i := sort.Search(len(s.entries), func(i int) bool {
		cur := s.entries[i]
		if cur.msg.CreatedAt.Equal(e.msg.CreatedAt) {
			return cur.seq > e.seq
		}
		return cur.msg.CreatedAt.After(e.msg.CreatedAt)
	})
	s.entries = append(s.entries, entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
	for j := i; j < len(s.entries); j++ {
		s.index[s.entries[j].msg.ID] = j
	}
}

// MutateReactions implements domain.MessageStore.
func (s *Store) MutateReactions(ctx context.Context, id domain.MessageID, reactions domain.Reactions) error {
	if err := s.checkFault(OpMutateReactions); err != nil {
		return domain.NewOpError(string(OpMutateReactions), domain.ErrWriteFailed, err)
	}

	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return domain.NewOpError(string(OpMutateReactions), domain.ErrNotFound, nil)
	}
	s.entries[i].msg.Reactions = reactions.Clone()
	s.revision++
	rev := s.revision
	s.mu.Unlock()

	s.logger.Debug("Reactions replaced", "message_id", id, "revision", rev)
	s.announce(ctx, rev, "")
	return nil
}

// Snapshot returns a deep copy of the ordered log and its revision.
func (s *Store) Snapshot() ([]domain.Message, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg.Clone()
	}
	return out, s.revision
}

func (s *Store) announce(ctx context.Context, rev uint64, userID string) {
	err := s.bus.Publish(context.WithoutCancel(ctx), pubsub.Message{
		Topic:    TopicLogChanged,
		UserID:   userID,
		Metadata: map[string]string{metaKeyRevision: strconv.FormatUint(rev, 10)},
	})
	if err != nil {
		// The write is committed; subscribers catch up on the next change.
		s.logger.Warn("Failed to announce log change", "revision", rev, "error", err)
	}
}

// Subscribe implements domain.MessageStore. ctx only bounds establishing the
// subscription; delivery stops when the returned handle is canceled.
func (s *Store) Subscribe(ctx context.Context, onUpdate domain.SnapshotHandler) (domain.Subscription, error) {
	if onUpdate == nil {
		return nil, errors.New("snapshot handler cannot be nil")
	}
	if err := s.checkFault(OpSubscribe); err != nil {
		return nil, domain.NewOpError(string(OpSubscribe), domain.ErrWriteFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{cancel: cancel, onUpdate: onUpdate}

	err := s.bus.Subscribe(subCtx, TopicLogChanged, func(ctx context.Context, _ pubsub.Message) error {
		sub.offer(s.Snapshot())
		return nil
	})
	if err != nil {
		cancel()
		return nil, domain.NewOpError(string(OpSubscribe), domain.ErrWriteFailed, err)
	}

	go sub.offer(s.Snapshot())
	return sub, nil
}

// subscription serializes deliveries and drops snapshots older than the
// last one delivered, so a subscriber never sees the log go backwards.
// Cancel never takes deliver, so a handler may cancel its own subscription.
type subscription struct {
	deliver   sync.Mutex
	delivered bool
	last      uint64
	canceled  atomic.Bool
	cancel    context.CancelFunc
	onUpdate  domain.SnapshotHandler
}

func (s *subscription) offer(msgs []domain.Message, rev uint64) {
	s.deliver.Lock()
	defer s.deliver.Unlock()
	if s.canceled.Load() || (s.delivered && rev <= s.last) {
		return
	}
	s.delivered = true
	s.last = rev
	s.onUpdate(msgs)
}

// Cancel implements domain.Subscription.
func (s *subscription) Cancel() {
	s.canceled.Store(true)
	s.cancel()
}
