package server

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	appmiddleware "github.com/nfrund/roomsync/internal/middleware"
	"github.com/nfrund/roomsync/internal/storage"
	"golang.org/x/time/rate"
)

// Feed endpoints are limited per client IP; attachments are not.
const (
	feedRateLimit = rate.Limit(5)
	feedBurst     = 20
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	E       *echo.Echo
	Feed    *Feed
	Files   *storage.FileHandler
	Metrics http.Handler
	Healthy func() bool
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves h at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.Metrics = h
	}
}

// WithHealth makes GET /health answer 503 while healthy reports false.
func WithHealth(healthy func() bool) Option {
	return func(s *Server) {
		s.Healthy = healthy
	}
}

// New creates a server exposing attachments and the snapshot feed.
func New(feed *Feed, files *storage.FileHandler, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(appmiddleware.Logger)
	e.Use(appmiddleware.AccessLog())
	setupErrorHandling(e)

	s := &Server{
		E:     e,
		Feed:  feed,
		Files: files,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.RegisterRoutes()
	return s
}

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	s.E.GET("/attachments/*", s.Files.Download)
	limiter := appmiddleware.RateLimiter(feedRateLimit, feedBurst)
	s.E.GET("/ws/messages", s.Feed.Handler, limiter)
	s.E.GET("/api/messages", s.Feed.SnapshotJSON, limiter)

	s.E.GET("/health", s.health)
	if s.Metrics != nil {
		s.E.GET("/metrics", echo.WrapHandler(s.Metrics))
	}
}

func (s *Server) health(c echo.Context) error {
	if s.Healthy != nil && !s.Healthy() {
		return c.String(http.StatusServiceUnavailable, "UNAVAILABLE")
	}
	return c.String(http.StatusOK, "OK")
}

// setupErrorHandling logs unhandled errors with a stack trace and answers 500.
// echo.HTTPErrors pass through unchanged.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			e.DefaultHTTPErrorHandler(err, c)
			return
		}

		appmiddleware.FromContext(c.Request().Context()).Error("Internal Server Error (Unhandled)",
			"error", err.Error(),
			"method", c.Request().Method,
			"uri", c.Request().RequestURI,
			"stack_trace", string(debug.Stack()),
		)
		if err := c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"}); err != nil {
			slog.Error("Failed to write error response", "error", err)
		}
	}
}
