package pushws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"proofwatch/internal/bootstrap/logging"
	"proofwatch/internal/errs"
	"proofwatch/internal/ports"
)

type ClientConfig struct {
	URL             string
	ConnectAttempts int
	ConnectDelay    time.Duration
}

// Client is the indexer side of the push channel. Connection loss never
// fails the caller permanently: a send on a dead session triggers one
// reconnect-and-resend, and anything still undeliverable is left to the
// engine's reconciler.
type Client struct {
	cfg ClientConfig

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 3
	}
	if cfg.ConnectDelay <= 0 {
		cfg.ConnectDelay = 5 * time.Second
	}
	return &Client{cfg: cfg}
}

// Connect dials with a bounded retry. After the attempts are exhausted the
// client stays disconnected until the next send triggers a fresh attempt.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.ConnectAttempts; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err == nil {
			c.conn = conn
			logging.Info(ctx, "push channel connected", slog.String("url", c.cfg.URL))
			return nil
		}
		lastErr = err
		logging.Warn(ctx, "push connect attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.cfg.ConnectAttempts),
			slog.Any("error", errs.Loggable(err)),
		)

		if attempt == c.cfg.ConnectAttempts {
			break
		}
		timer := time.NewTimer(c.cfg.ConnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return errs.Wrapf(lastErr, "connect to %s after %d attempts", c.cfg.URL, c.cfg.ConnectAttempts)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// NotifyEvent sends one event envelope. A write failure drops the session
// and retries once over a fresh connection.
func (c *Client) NotifyEvent(ctx context.Context, input ports.EventCreate) error {
	frame, err := eventEnvelope(input)
	if err != nil {
		return errs.Wrap(err, "encode event envelope")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	writeErr := c.conn.WriteMessage(websocket.TextMessage, frame)
	if writeErr == nil {
		return nil
	}
	logging.Warn(ctx, "push write failed, reconnecting",
		slog.Any("error", errs.Loggable(writeErr)),
	)

	c.dropLocked()
	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.dropLocked()
		return errs.Wrap(err, "resend after reconnect")
	}
	return nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
