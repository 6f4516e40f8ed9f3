package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// LiveQueryAction represents the type of change in a live query update
type LiveQueryAction string

const (
	ActionCreate LiveQueryAction = "CREATE"
	ActionUpdate LiveQueryAction = "UPDATE"
	ActionDelete LiveQueryAction = "DELETE"
	// ActionClose is delivered once if the server side of the live query goes
	// away without Unsubscribe being called, e.g. after a reconnect.
	ActionClose LiveQueryAction = "CLOSE"
)

// LiveQueryHandler is called when live query data changes. Calls for one
// subscription are serialized and arrive in notification order.
type LiveQueryHandler func(ctx context.Context, action LiveQueryAction, data any)

// LiveQueryFilter narrows what a live query sends back.
type LiveQueryFilter struct {
	// Fields limits each notification to these fields. Empty means all.
	Fields []string
}

// LiveSubscription represents an active live query subscription
type LiveSubscription struct {
	ID          string
	Table       string
	LiveQueryID string
}

// LiveQueryService provides real-time data subscriptions via SurrealDB Live Queries
type LiveQueryService interface {
	// Subscribe starts a live query on table.
	Subscribe(ctx context.Context, table string, filter *LiveQueryFilter, handler LiveQueryHandler) (*LiveSubscription, error)

	// Unsubscribe stops delivery and kills the live query on the server
	Unsubscribe(subID string) error
}

// SurrealLiveQueryService implements LiveQueryService using SurrealDB
type SurrealLiveQueryService struct {
	db     DBConnection
	logger *slog.Logger

	subscriptions sync.Map // map[string]*subscriptionState
}

type subscriptionState struct {
	id          string
	table       string
	handler     LiveQueryHandler
	cancel      context.CancelFunc
	liveQueryID string
	dbConn      *surrealdb.DB
	stopped     chan struct{}
}

var _ LiveQueryService = (*SurrealLiveQueryService)(nil)

// NewSurrealLiveQueryService creates a new live query service
func NewSurrealLiveQueryService(db DBConnection) *SurrealLiveQueryService {
	return &SurrealLiveQueryService{
		db:     db,
		logger: slog.Default().With("service", "live_query"),
	}
}

// Subscribe creates a live query subscription for a table
func (s *SurrealLiveQueryService) Subscribe(ctx context.Context, table string, filter *LiveQueryFilter, handler LiveQueryHandler) (*LiveSubscription, error) {
	return s.subscribeQuery(ctx, table, buildLiveQuery(table, filter), handler)
}

func buildLiveQuery(table string, filter *LiveQueryFilter) string {
	fields := "*"
	if filter != nil && len(filter.Fields) > 0 {
		fields = strings.Join(filter.Fields, ", ")
	}
	return fmt.Sprintf("LIVE SELECT %s FROM %s", fields, table)
}

func (s *SurrealLiveQueryService) subscribeQuery(ctx context.Context, table, query string, handler LiveQueryHandler) (*LiveSubscription, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	subCtx, cancel := context.WithCancel(context.Background())
	state := &subscriptionState{
		id:      uuid.New().String(),
		table:   table,
		handler: handler,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}

	var notifications chan connection.Notification
	err := s.db.WithConnection(ctx, func(dbConn *surrealdb.DB) error {
		results, err := surrealdb.Query[any](ctx, dbConn, query, nil)
		if err != nil {
			return fmt.Errorf("failed to execute live query: %w", err)
		}
		if results == nil || len(*results) == 0 {
			return fmt.Errorf("%w: live query returned no results", ErrUnexpectedResult)
		}

		result := (*results)[0]
		if result.Status != "OK" {
			return fmt.Errorf("live query failed with status: %s", result.Status)
		}

		liveQueryID, err := liveQueryIDFrom(result.Result)
		if err != nil {
			return err
		}

		ch, err := dbConn.LiveNotifications(liveQueryID)
		if err != nil {
			return fmt.Errorf("failed to get notification channel: %w", err)
		}

		state.liveQueryID = liveQueryID
		state.dbConn = dbConn
		notifications = ch
		return nil
	})
	if err != nil {
		cancel()
		return nil, WrapError(err, "failed to start live query")
	}

	s.subscriptions.Store(state.id, state)
	go s.listenForNotifications(subCtx, state, notifications)

	s.logger.Info("Live query established", "sub_id", state.id, "table", table, "live_query_id", state.liveQueryID)
	return &LiveSubscription{
		ID:          state.id,
		Table:       table,
		LiveQueryID: state.liveQueryID,
	}, nil
}

// liveQueryIDFrom extracts the live query UUID from a LIVE SELECT result,
// which the driver may decode as a string, a models.UUID or a map.
func liveQueryIDFrom(result any) (string, error) {
	var id string
	switch v := result.(type) {
	case string:
		id = v
	case models.UUID:
		id = v.String()
	case *models.UUID:
		if v != nil {
			id = v.String()
		}
	case map[string]any:
		switch inner := v["id"].(type) {
		case string:
			id = inner
		case models.UUID:
			id = inner.String()
		default:
			return "", fmt.Errorf("%w: live query result map has no id: %+v", ErrUnexpectedResult, v)
		}
	default:
		return "", fmt.Errorf("%w: live query result type %T", ErrUnexpectedResult, result)
	}
	if id == "" {
		return "", fmt.Errorf("%w: live query returned empty UUID", ErrUnexpectedResult)
	}
	return id, nil
}

// Unsubscribe removes a live query subscription. Unknown IDs are ignored.
func (s *SurrealLiveQueryService) Unsubscribe(subID string) error {
	v, ok := s.subscriptions.LoadAndDelete(subID)
	if !ok {
		return nil
	}
	state := v.(*subscriptionState)
	state.cancel()
	<-state.stopped

	if err := state.dbConn.CloseLiveNotifications(state.liveQueryID); err != nil {
		s.logger.Warn("Failed to close live notifications", "error", err, "live_query_id", state.liveQueryID)
	}

	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cleanupCancel()
	if err := Execute(cleanupCtx, state.dbConn, "KILL $liveQueryID", map[string]any{"liveQueryID": state.liveQueryID}); err != nil {
		s.logger.Warn("Failed to kill live query", "error", err, "live_query_id", state.liveQueryID)
	}

	s.logger.Info("Live query subscription removed", "sub_id", subID)
	return nil
}

// listenForNotifications forwards notifications to the handler until the
// subscription is canceled or the driver closes the channel.
func (s *SurrealLiveQueryService) listenForNotifications(ctx context.Context, state *subscriptionState, notifications <-chan connection.Notification) {
	defer close(state.stopped)

	for {
		select {
		case <-ctx.Done():
			return

		case notification, ok := <-notifications:
			if !ok {
				if ctx.Err() == nil {
					s.logger.Warn("Live query channel closed by driver", "sub_id", state.id, "live_query_id", state.liveQueryID)
					s.subscriptions.Delete(state.id)
					s.dispatch(ctx, state, ActionClose, nil)
				}
				return
			}

			action, known := actionFor(notification.Action)
			if !known {
				s.logger.Warn("Unknown notification action", "sub_id", state.id, "action", notification.Action)
				continue
			}
			s.dispatch(ctx, state, action, notification.Result)
		}
	}
}

func (s *SurrealLiveQueryService) dispatch(ctx context.Context, state *subscriptionState, action LiveQueryAction, data any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in live query handler", "sub_id", state.id, "panic", r)
		}
	}()
	state.handler(ctx, action, data)
}

func actionFor(a connection.Action) (LiveQueryAction, bool) {
	switch a {
	case connection.CreateAction:
		return ActionCreate, true
	case connection.UpdateAction:
		return ActionUpdate, true
	case connection.DeleteAction:
		return ActionDelete, true
	}
	return "", false
}
