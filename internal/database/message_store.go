package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nfrund/roomsync/internal/domain"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

const messageTable = "message"

// messageRecord is the row shape of the message table.
type messageRecord struct {
	ID                *models.RecordID      `json:"id,omitempty"`
	Text              string                `json:"text"`
	CreatedAt         models.CustomDateTime `json:"createdAt"`
	AuthorID          string                `json:"uid"`
	AuthorDisplayName string                `json:"displayName"`
	AuthorPhotoURL    string                `json:"photoURL"`
	ReplyTo           *domain.ReplyRef      `json:"replyTo,omitempty"`
	Reactions         map[string]string     `json:"reactions"`
	AttachmentURL     *string               `json:"attachmentUrl,omitempty"`
}

func (r messageRecord) toDomain() domain.Message {
	msg := domain.Message{
		ID:                messageIDOf(r.ID),
		Text:              r.Text,
		CreatedAt:         r.CreatedAt.Time.UTC(),
		AuthorID:          domain.UserID(r.AuthorID),
		AuthorDisplayName: r.AuthorDisplayName,
		AuthorPhotoURL:    r.AuthorPhotoURL,
		ReplyTo:           r.ReplyTo,
		Reactions:         make(domain.Reactions, len(r.Reactions)),
		AttachmentURL:     r.AttachmentURL,
	}
	for uid, symbol := range r.Reactions {
		msg.Reactions[domain.UserID(uid)] = symbol
	}
	return msg
}

// messageIDOf returns the record key without the table prefix.
func messageIDOf(id *models.RecordID) domain.MessageID {
	if id == nil {
		return ""
	}
	return domain.MessageID(fmt.Sprint(id.ID))
}

func recordIDOf(id domain.MessageID) *models.RecordID {
	rid := models.NewRecordID(messageTable, string(id))
	return &rid
}

func reactionsParam(r domain.Reactions) map[string]string {
	out := make(map[string]string, len(r))
	for uid, symbol := range r {
		out[string(uid)] = symbol
	}
	return out
}

const (
	defineSchemaQuery = `
DEFINE TABLE IF NOT EXISTS message SCHEMALESS;
DEFINE INDEX IF NOT EXISTS message_created ON message FIELDS createdAt;`

	listMessagesQuery = "SELECT * FROM message ORDER BY createdAt ASC, id ASC"

	createMessageQuery = `CREATE message:ulid() SET
	text = $text,
	uid = $uid,
	displayName = $displayName,
	photoURL = $photoURL,
	replyTo = $replyTo,
	reactions = $reactions,
	attachmentUrl = $attachmentUrl,
	createdAt = time::now()`

	// Filtering by id keeps UPDATE from creating a record that does not exist.
	updateReactionsQuery = "UPDATE message SET reactions = $reactions WHERE id = $id RETURN AFTER"
)

// A refresh only needs to know that something changed.
var changeSignal = &LiveQueryFilter{Fields: []string{"id"}}

// refreshRetryDelay is the pause after a refresh has used up its retries
// before the log is re-read again.
const refreshRetryDelay = 5 * time.Second

// MessageStore is the SurrealDB-backed shared message log.
type MessageStore struct {
	conn   DBConnection
	live   LiveQueryService
	logger *slog.Logger

	refreshRetry *ExponentialBackoffRetryer
	refreshDelay time.Duration
}

var _ domain.MessageStore = (*MessageStore)(nil)

// NewMessageStore creates a store over an established connection.
func NewMessageStore(conn DBConnection, live LiveQueryService) *MessageStore {
	return &MessageStore{
		conn:         conn,
		live:         live,
		logger:       slog.Default().With("service", "message_store"),
		refreshRetry: NewExponentialBackoffRetryer(WithMaxRetries(3)),
		refreshDelay: refreshRetryDelay,
	}
}

// EnsureSchema defines the message table and its ordering index.
func (s *MessageStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := getTimeoutFromContext(ctx, s.conn.GetDBExecuteTimeout(), ContextKeyExecuteTimeout)
	defer cancel()

	return s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		return Execute(ctx, db, defineSchemaQuery, nil)
	})
}

// List returns the whole log ordered by creation time.
func (s *MessageStore) List(ctx context.Context) ([]domain.Message, error) {
	ctx, cancel := getTimeoutFromContext(ctx, s.conn.GetDBQueryTimeout(), ContextKeyQueryTimeout)
	defer cancel()

	var rows []messageRecord
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[messageRecord](ctx, db, listMessagesQuery, nil)
		return err
	})
	if err != nil {
		return nil, WrapError(err, "failed to list messages")
	}

	msgs := make([]domain.Message, len(rows))
	for i, r := range rows {
		msgs[i] = r.toDomain()
	}
	return msgs, nil
}

// Append implements domain.MessageStore.
func (s *MessageStore) Append(ctx context.Context, draft domain.Draft) (domain.MessageID, error) {
	if err := draft.Validate(); err != nil {
		return "", domain.NewOpError("append", domain.ErrInvalidDraft, err)
	}

	ctx, cancel := getTimeoutFromContext(ctx, s.conn.GetDBExecuteTimeout(), ContextKeyExecuteTimeout)
	defer cancel()

	params := map[string]any{
		"text":          draft.Text,
		"uid":           string(draft.AuthorID),
		"displayName":   draft.AuthorDisplayName,
		"photoURL":      draft.AuthorPhotoURL,
		"replyTo":       draft.ReplyTo,
		"reactions":     reactionsParam(draft.Reactions),
		"attachmentUrl": draft.AttachmentURL,
	}

	var created *messageRecord
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		created, err = QueryOne[messageRecord](ctx, db, createMessageQuery, params)
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to append message", "uid", draft.AuthorID, "error", err)
		return "", domain.NewOpError("append", domain.ErrWriteFailed, err)
	}
	if created == nil || created.ID == nil {
		return "", domain.NewOpError("append", domain.ErrWriteFailed, ErrUnexpectedResult)
	}

	id := messageIDOf(created.ID)
	s.logger.DebugContext(ctx, "Message appended", "message_id", id)
	return id, nil
}

// MutateReactions implements domain.MessageStore.
func (s *MessageStore) MutateReactions(ctx context.Context, id domain.MessageID, reactions domain.Reactions) error {
	ctx, cancel := getTimeoutFromContext(ctx, s.conn.GetDBExecuteTimeout(), ContextKeyExecuteTimeout)
	defer cancel()

	params := map[string]any{
		"id":        recordIDOf(id),
		"reactions": reactionsParam(reactions),
	}

	var updated []messageRecord
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		updated, err = Query[messageRecord](ctx, db, updateReactionsQuery, params)
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to update reactions", "message_id", id, "error", err)
		return domain.NewOpError("mutate_reactions", domain.ErrWriteFailed, err)
	}
	if len(updated) == 0 {
		return domain.NewOpError("mutate_reactions", domain.ErrNotFound, nil)
	}
	return nil
}

// Subscribe implements domain.MessageStore. A live query on the message
// table marks the log dirty; one goroutine per subscription re-reads the
// full log and delivers it, so deliveries are serialized and never older
// than the previous one. A refresh that fails is retried until it succeeds
// or the subscription is canceled.
func (s *MessageStore) Subscribe(ctx context.Context, onUpdate domain.SnapshotHandler) (domain.Subscription, error) {
	if onUpdate == nil {
		return nil, errors.New("snapshot handler cannot be nil")
	}

	sub := &messageSubscription{
		store:    s,
		onUpdate: onUpdate,
		dirty:    make(chan struct{}, 1),
		closed:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	live, err := s.live.Subscribe(ctx, messageTable, changeSignal, sub.onLiveEvent)
	if err != nil {
		return nil, domain.NewOpError("subscribe", domain.ErrWriteFailed, err)
	}
	sub.liveID = live.ID

	sub.markDirty()
	go sub.run()
	return sub, nil
}

type messageSubscription struct {
	store    *MessageStore
	onUpdate domain.SnapshotHandler
	liveID   string

	dirty    chan struct{}
	closed   chan struct{}
	done     chan struct{}
	once     sync.Once
	canceled atomic.Bool
}

// onLiveEvent runs on the live query listener and must not block.
func (m *messageSubscription) onLiveEvent(_ context.Context, action LiveQueryAction, _ any) {
	if action == ActionClose {
		select {
		case m.closed <- struct{}{}:
		default:
		}
		return
	}
	m.markDirty()
}

func (m *messageSubscription) markDirty() {
	select {
	case m.dirty <- struct{}{}:
	default:
	}
}

func (m *messageSubscription) run() {
	logger := m.store.logger
	defer func() {
		if m.liveID != "" {
			if err := m.store.live.Unsubscribe(m.liveID); err != nil {
				logger.Warn("Failed to stop live query", "sub_id", m.liveID, "error", err)
			}
		}
	}()

	var retry <-chan time.Time
	for {
		select {
		case <-m.done:
			return
		case <-m.closed:
			m.liveID = ""
			if !m.resubscribe() {
				return
			}
			m.markDirty()
		case <-retry:
			retry = nil
			m.markDirty()
		case <-m.dirty:
			msgs, err := m.refresh()
			if m.canceled.Load() {
				return
			}
			if err != nil {
				logger.Warn("Failed to refresh message log", "error", err, "retry_in", m.store.refreshDelay)
				retry = time.After(m.store.refreshDelay)
				continue
			}
			m.onUpdate(msgs)
		}
	}
}

// refresh re-reads the whole log with backoff.
func (m *messageSubscription) refresh() ([]domain.Message, error) {
	ctx, cancel := m.context()
	defer cancel()

	var msgs []domain.Message
	err := m.store.refreshRetry.Retry(ctx, func() error {
		var err error
		msgs, err = m.store.List(ctx)
		return err
	})
	return msgs, err
}

// context returns a context that is canceled along with the subscription.
func (m *messageSubscription) context() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-m.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// resubscribe re-establishes the live query after the driver dropped it.
func (m *messageSubscription) resubscribe() bool {
	ctx, cancel := m.context()
	defer cancel()

	err := NewExponentialBackoffRetryer().Retry(ctx, func() error {
		live, err := m.store.live.Subscribe(ctx, messageTable, changeSignal, m.onLiveEvent)
		if err != nil {
			return err
		}
		m.liveID = live.ID
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			m.store.logger.Error("Failed to re-establish live query, subscription ended", "error", err)
		}
		return false
	}
	m.store.logger.Info("Live query re-established", "sub_id", m.liveID)
	return true
}

// Cancel implements domain.Subscription.
func (m *messageSubscription) Cancel() {
	m.once.Do(func() {
		m.canceled.Store(true)
		close(m.done)
	})
}
