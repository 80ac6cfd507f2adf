package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-wayfinder/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInbound     = 4 * 1024 // dashboards only send pings
	clientSendSize = 64
)

// Client is one dashboard connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewClient registers conn with the hub. If the hub has stopped the client
// starts closed.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{hub: hub, conn: conn, send: make(chan []byte, clientSendSize)}
	select {
	case hub.register <- c:
	case <-hub.done:
		close(c.send)
	}
	return c
}

// Run blocks until the connection closes.
func (c *Client) Run() {
	go c.writeLoop()
	c.readLoop()
}

// readLoop keeps the read deadline fresh and answers protocol pings so
// dashboards can show round-trip latency.
func (c *Client) readLoop() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInbound)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if reply := pongFor(data, time.Now()); reply != nil {
			select {
			case c.send <- reply:
			default:
			}
		}
	}
}

// pongFor encodes the answer to a protocol ping, or returns nil.
func pongFor(data []byte, now time.Time) []byte {
	msg, err := protocol.ParseMessage(data)
	if err != nil || msg.Type != protocol.TypePing {
		return nil
	}
	ping, err := msg.GetPingData()
	if err != nil {
		return nil
	}
	pong, err := protocol.NewPongMessage(ping.ID, ping.Timestamp, now.UnixMilli())
	if err != nil {
		return nil
	}
	b, err := pong.Bytes()
	if err != nil {
		return nil
	}
	return b
}

// writeLoop is the only writer on conn.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
