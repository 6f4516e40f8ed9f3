// Package app wires the roomsync services together from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nfrund/roomsync/internal/chat"
	"github.com/nfrund/roomsync/internal/config"
	"github.com/nfrund/roomsync/internal/database"
	"github.com/nfrund/roomsync/internal/domain"
	"github.com/nfrund/roomsync/internal/identity"
	"github.com/nfrund/roomsync/internal/memstore"
	"github.com/nfrund/roomsync/internal/metrics"
	"github.com/nfrund/roomsync/internal/server"
	"github.com/nfrund/roomsync/internal/storage"
)

// Backend selects where the message log lives.
type Backend string

const (
	// BackendSurreal keeps the log in SurrealDB and follows it with a live query.
	BackendSurreal Backend = "surreal"
	// BackendMemory keeps the log in process. Nothing is persisted.
	BackendMemory Backend = "memory"
)

// ParseBackend validates a backend name.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(name); b {
	case BackendSurreal, BackendMemory:
		return b, nil
	}
	return "", fmt.Errorf("unknown backend %q (want %q or %q)", name, BackendSurreal, BackendMemory)
}

// Dependencies holds the core services shared by every command.
// It is built once by the entrypoint and released with Close.
type Dependencies struct {
	Config   *config.Config
	Backend  Backend
	Store    domain.MessageStore
	Files    *storage.AferoStore
	Uploader *storage.Uploader
	Metrics  *metrics.Metrics

	// healthy reports the backend link state; nil means always healthy.
	healthy func() bool
	closers []func(context.Context) error
}

// NewDependencies connects the configured backend and the attachment store.
func NewDependencies(ctx context.Context, cfg *config.Config, backend Backend) (*Dependencies, error) {
	logger := slog.Default().With("service", "app")

	files, err := storage.NewDirStore(cfg.AttachmentDir)
	if err != nil {
		return nil, fmt.Errorf("attachment store: %w", err)
	}

	deps := &Dependencies{
		Config:   cfg,
		Backend:  backend,
		Files:    files,
		Uploader: storage.NewUploader(files, cfg.AttachmentBaseURL),
		Metrics:  metrics.New(),
	}

	switch backend {
	case BackendMemory:
		store := memstore.New()
		deps.Store = store
		deps.closers = append(deps.closers, func(context.Context) error { return store.Close() })
	case BackendSurreal:
		if err := cfg.RequireDB(); err != nil {
			return nil, err
		}
		conn := database.NewConnection(cfg)
		if err := conn.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		conn.StartMonitoring()
		deps.healthy = conn.IsHealthy
		deps.closers = append(deps.closers, conn.Close)

		store := database.NewMessageStore(conn, database.NewSurrealLiveQueryService(conn))
		if err := store.EnsureSchema(ctx); err != nil {
			_ = deps.Close(ctx)
			return nil, fmt.Errorf("prepare schema: %w", err)
		}
		deps.Store = store
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}

	logger.Info("Dependencies ready",
		"backend", string(backend),
		"attachment_dir", cfg.AttachmentDir,
		"attachment_base_url", cfg.AttachmentBaseURL,
	)
	return deps, nil
}

// Identity returns the configured user, signed in.
func (d *Dependencies) Identity() (*identity.Static, error) {
	return identity.NewStatic(domain.Identity{
		UID:         domain.UserID(d.Config.UID),
		DisplayName: d.Config.DisplayName,
		PhotoURL:    d.Config.PhotoURL,
	})
}

// NewSession creates an idle chat session for the given identity. Failed
// actions are counted before reaching cfg.Notifier.
func (d *Dependencies) NewSession(ident identity.Provider, cfg chat.Config) *chat.Session {
	cfg.Notifier = d.Metrics.Notifier(cfg.Notifier)
	return chat.NewSession(d.Store, d.Uploader, ident, cfg)
}

// NewServer creates the HTTP server with its snapshot feed and metrics.
// On the surreal backend /health follows the database link.
func (d *Dependencies) NewServer() *server.Server {
	feed := server.NewFeed(d.Store)
	feed.Observe(d.Metrics)
	opts := []server.Option{server.WithMetrics(d.Metrics.Handler())}
	if d.healthy != nil {
		opts = append(opts, server.WithHealth(d.healthy))
	}
	return server.New(feed, storage.NewFileHandler(d.Files), opts...)
}

// Close releases backend resources in reverse order of acquisition.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
