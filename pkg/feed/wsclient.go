package feed

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-wayfinder/pkg/protocol"
)

// WSClient dials a detector service and reads detection messages.
type WSClient struct {
	url            string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	logger         *slog.Logger

	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewWSClient returns a client for url (ws:// or wss://).
func NewWSClient(url string, reconnectDelay time.Duration, logger *slog.Logger) *WSClient {
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		url:            url,
		reconnectDelay: reconnectDelay,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "feed.ws", "url", url),
	}
}

// Name implements Source.
func (c *WSClient) Name() string { return "websocket" }

// Run implements Source. Connection failures are retried after the
// reconnect delay until ctx is cancelled.
func (c *WSClient) Run(ctx context.Context, out chan<- Batch) error {
	for {
		err := c.session(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("detector connection lost", "error", err, "retry_in", c.reconnectDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *WSClient) session(ctx context.Context, out chan<- Batch) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	c.logger.Info("connected to detector")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		d, err := protocol.ParseDetections(data)
		if err != nil {
			c.logger.Debug("dropping malformed message", "error", err)
			continue
		}
		c.received.Add(1)
		if !offer(ctx, out, FromData(d, time.Now())) {
			c.dropped.Add(1)
		}
	}
}

// Stats returns received and dropped batch counts.
func (c *WSClient) Stats() (received, dropped uint64) {
	return c.received.Load(), c.dropped.Load()
}

var _ Source = (*WSClient)(nil)
