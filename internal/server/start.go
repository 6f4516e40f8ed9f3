package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Start runs the HTTP server and the snapshot feed until ctx is canceled,
// then shuts both down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()

	feedErr := make(chan error, 1)
	go func() {
		feedErr <- s.Feed.Run(feedCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := s.E.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-feedErr:
		runErr = err
		feedErr = nil
	case err, ok := <-serveErr:
		if ok {
			runErr = err
		}
	}

	stopFeed()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.E.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	if feedErr != nil {
		if err := <-feedErr; err != nil && runErr == nil {
			runErr = err
		}
	}
	slog.Info("HTTP server stopped")
	return runErr
}
