package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/roomsync/internal/config"
	"github.com/surrealdb/surrealdb.go"
)

const (
	healthInterval = 30 * time.Second
	healthTimeout  = 5 * time.Second
)

// Connection owns the SurrealDB link behind the message log. It signs in,
// selects the namespace, watches the link with a periodic version check and
// redials with backoff when a call fails on a dead link. IsHealthy feeds the
// /health endpoint.
type Connection struct {
	cfg     config.Provider
	retryer *ExponentialBackoffRetryer
	logger  *slog.Logger

	mu      sync.RWMutex
	db      *surrealdb.DB
	healthy bool

	done      chan struct{}
	closeOnce sync.Once
}

var _ DBConnection = (*Connection)(nil)

// NewConnection creates an unconnected Connection for cfg.
func NewConnection(cfg config.Provider, opts ...RetryOption) *Connection {
	return &Connection{
		cfg:     cfg,
		retryer: NewExponentialBackoffRetryer(opts...),
		done:    make(chan struct{}),
		logger:  slog.Default().With("service", "database", "db_url", redactDBURL(cfg.GetDBURL())),
	}
}

// Connect dials the database once. It is a no-op when already connected.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return nil
	}
	return c.redialLocked(ctx)
}

// WithConnection runs fn against the current link. When fn fails with what
// looks like a transport error the link is redialed and fn retried with
// backoff; any other error is returned as is.
func (c *Connection) WithConnection(ctx context.Context, fn func(*surrealdb.DB) error) error {
	db := c.current()
	if db == nil {
		return NewDBError(ErrNotConnected, "database not connected")
	}

	err := fn(db)
	if err == nil || !isConnectionError(err) {
		return err
	}

	c.setHealthy(false, err)
	return c.retryer.Retry(ctx, func() error {
		if redialErr := c.redial(ctx); redialErr != nil {
			return fmt.Errorf("redial: %w (after: %v)", redialErr, err)
		}
		return fn(c.current())
	})
}

// StartMonitoring checks the link every 30 seconds until Close.
func (c *Connection) StartMonitoring() {
	go c.monitor()
}

// Close stops monitoring and closes the link.
func (c *Connection) Close(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = false
	if c.db == nil {
		return nil
	}
	err := c.db.Close(ctx)
	c.db = nil
	return err
}

// DB returns the link if it is up and healthy.
func (c *Connection) DB() (*surrealdb.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil || !c.healthy {
		return nil, NewDBError(ErrNotConnected, "database not connected or unhealthy")
	}
	return c.db, nil
}

// IsHealthy reports whether the last dial or health check succeeded.
func (c *Connection) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *Connection) current() *surrealdb.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

func (c *Connection) redial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.redialLocked(ctx)
}

// redialLocked replaces the link. c.mu must be held.
func (c *Connection) redialLocked(ctx context.Context) error {
	if c.db != nil {
		_ = c.db.Close(ctx)
		c.db = nil
	}

	db, err := c.dial(ctx)
	if err != nil {
		c.healthy = false
		c.logger.ErrorContext(ctx, "Database connection failed", "error", err)
		return err
	}

	c.db = db
	c.healthy = true
	c.logger.InfoContext(ctx, "Database connected", "namespace", c.cfg.GetDBNs(), "database", c.cfg.GetDBDb())
	return nil
}

// dial opens a link, signs in and selects the namespace and database.
func (c *Connection) dial(ctx context.Context) (*surrealdb.DB, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, c.cfg.GetDBURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database at %s: %w", redactDBURL(c.cfg.GetDBURL()), err)
	}

	auth := &surrealdb.Auth{Username: c.cfg.GetDBUser(), Password: c.cfg.GetDBPass()}
	if _, err := db.SignIn(ctx, auth); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("failed to sign in as %s: %w", c.cfg.GetDBUser(), err)
	}

	if err := db.Use(ctx, c.cfg.GetDBNs(), c.cfg.GetDBDb()); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("failed to use %s/%s: %w", c.cfg.GetDBNs(), c.cfg.GetDBDb(), err)
	}
	return db, nil
}

func (c *Connection) monitor() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
			if err := c.checkHealth(ctx); err != nil {
				if err := c.retryer.Retry(ctx, func() error { return c.redial(ctx) }); err != nil {
					c.logger.ErrorContext(ctx, "Database still unreachable", "error", err)
				}
			}
			cancel()
		case <-c.done:
			return
		}
	}
}

// checkHealth asks the server for its version.
func (c *Connection) checkHealth(ctx context.Context) error {
	db := c.current()
	if db == nil {
		err := errors.New("no active database connection")
		c.setHealthy(false, err)
		return err
	}
	if _, err := db.Version(ctx); err != nil {
		c.setHealthy(false, err)
		return err
	}
	c.setHealthy(true, nil)
	return nil
}

// setHealthy records the link state and logs transitions only.
func (c *Connection) setHealthy(healthy bool, cause error) {
	c.mu.Lock()
	changed := c.healthy != healthy
	c.healthy = healthy
	c.mu.Unlock()

	switch {
	case !changed:
	case healthy:
		c.logger.Info("Database link recovered")
	default:
		c.logger.Warn("Database link lost", "error", cause)
	}
}

// isConnectionError reports whether err looks like a dead link rather than
// a rejected query.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "broken pipe", "unexpected eof"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// redactDBURL returns dbURL with any password replaced by "xxxxx".
func redactDBURL(dbURL string) string {
	parsed, err := url.Parse(dbURL)
	if err != nil {
		return "invalid-url"
	}
	return parsed.Redacted()
}

func (c *Connection) GetDBQueryTimeout() time.Duration {
	return c.cfg.GetDBQueryTimeout()
}

func (c *Connection) GetDBExecuteTimeout() time.Duration {
	return c.cfg.GetDBExecuteTimeout()
}
