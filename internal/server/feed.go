package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/roomsync/internal/domain"
)

// SnapshotFrame is the JSON frame pushed to feed clients.
type SnapshotFrame struct {
	Type     string           `json:"type"`
	Messages []domain.Message `json:"messages"`
	SentAt   time.Time        `json:"sentAt"`
}

const frameTypeSnapshot = "snapshot"

// feedClient is one websocket connection. send holds at most one pending
// frame; a newer snapshot replaces an unsent older one.
type feedClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// FeedObserver is told about client and snapshot activity.
type FeedObserver interface {
	ClientsChanged(n int)
	SnapshotBroadcast(messages int)
}

type noopObserver struct{}

func (noopObserver) ClientsChanged(int)    {}
func (noopObserver) SnapshotBroadcast(int) {}

// Feed fans the message log subscription out to websocket clients. Every
// frame is a full snapshot, so a slow client only ever misses intermediate
// states.
type Feed struct {
	store    domain.MessageStore
	logger   *slog.Logger
	observer FeedObserver

	register   chan *feedClient
	unregister chan *feedClient
	broadcast  chan []byte
	done       chan struct{}

	mu      sync.RWMutex
	clients map[string]*feedClient
	latest  []byte
}

// NewFeed creates a feed over store. Call Run to start it.
func NewFeed(store domain.MessageStore) *Feed {
	return &Feed{
		store:      store,
		logger:     slog.Default().With("service", "feed"),
		observer:   noopObserver{},
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		clients:    make(map[string]*feedClient),
	}
}

// Observe sets the observer. Call it before Run.
func (f *Feed) Observe(o FeedObserver) {
	if o == nil {
		o = noopObserver{}
	}
	f.observer = o
}

// Run subscribes to the store and routes frames until ctx is canceled.
// A Feed runs once.
func (f *Feed) Run(ctx context.Context) error {
	sub, err := f.store.Subscribe(ctx, func(msgs []domain.Message) {
		frame, err := json.Marshal(SnapshotFrame{Type: frameTypeSnapshot, Messages: msgs, SentAt: time.Now().UTC()})
		if err != nil {
			f.logger.Error("Failed to encode snapshot", "error", err)
			return
		}
		f.observer.SnapshotBroadcast(len(msgs))
		select {
		case f.broadcast <- frame:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	defer sub.Cancel()
	defer close(f.done)

	f.logger.Info("Snapshot feed started")
	for {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			for id, c := range f.clients {
				close(c.send)
				delete(f.clients, id)
			}
			f.mu.Unlock()
			f.observer.ClientsChanged(0)
			f.logger.Info("Snapshot feed stopped")
			return nil

		case c := <-f.register:
			f.mu.Lock()
			f.clients[c.id] = c
			if f.latest != nil {
				offer(c, f.latest)
			}
			n := len(f.clients)
			f.mu.Unlock()
			f.observer.ClientsChanged(n)
			f.logger.Debug("Feed client registered", "client_id", c.id)

		case c := <-f.unregister:
			f.mu.Lock()
			if _, ok := f.clients[c.id]; ok {
				delete(f.clients, c.id)
				close(c.send)
			}
			n := len(f.clients)
			f.mu.Unlock()
			f.observer.ClientsChanged(n)
			f.logger.Debug("Feed client unregistered", "client_id", c.id)

		case frame := <-f.broadcast:
			f.mu.Lock()
			f.latest = frame
			for _, c := range f.clients {
				offer(c, frame)
			}
			f.mu.Unlock()
		}
	}
}

// offer queues frame for c, replacing any frame still waiting.
func offer(c *feedClient, frame []byte) {
	for {
		select {
		case c.send <- frame:
			return
		default:
		}
		select {
		case <-c.send:
		default:
		}
	}
}

// Latest returns the most recent snapshot frame, or nil before the first one.
func (f *Feed) Latest() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest
}

// ClientCount returns the number of connected clients.
func (f *Feed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Handler upgrades the request to a websocket and streams snapshot frames.
func (f *Feed) Handler(c echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Read-only feed; origin is not checked.
	})
	if err != nil {
		f.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return err
	}

	client := &feedClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 1),
	}

	ctx := c.Request().Context()
	select {
	case f.register <- client:
	case <-f.done:
		conn.Close(websocket.StatusGoingAway, "feed stopped")
		return nil
	case <-ctx.Done():
		conn.Close(websocket.StatusGoingAway, "request canceled")
		return nil
	}

	// The feed is one-way; CloseRead handles control frames and reports
	// when the client goes away.
	readCtx := conn.CloseRead(context.Background())
	f.writePump(readCtx, client)

	select {
	case f.unregister <- client:
	case <-f.done:
	}
	return nil
}

func (f *Feed) writePump(ctx context.Context, c *feedClient) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					f.logger.Warn("WebSocket write error", "client_id", c.id, "error", err)
				}
				return
			}
		}
	}
}

// SnapshotJSON serves the latest snapshot frame over plain HTTP.
func (f *Feed) SnapshotJSON(c echo.Context) error {
	frame := f.Latest()
	if frame == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "no snapshot yet"})
	}
	return c.JSONBlob(http.StatusOK, frame)
}
