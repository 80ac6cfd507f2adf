// Package hub fans dashboard events out to websocket clients.
//
// The hub remembers the latest state-bearing event of each kind (power,
// haptic, and one task event per task) and replays them to a client when
// it connects, so a freshly opened dashboard does not start blank.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-wayfinder/pkg/protocol"
)

const broadcastBuffer = 256

// Hub owns the client set. Only Run mutates it.
type Hub struct {
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	latest  map[string][]byte

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// New creates a Hub. A nil logger uses slog.Default().
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("component", "hub", "hub", name),
		clients:    make(map[*Client]struct{}),
		latest:     make(map[string][]byte),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every client. It must only be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.removeLocked(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			for _, data := range h.latest {
				select {
				case c.send <- data:
				default:
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("dashboard connected", "clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.removeLocked(c)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("dashboard disconnected", "clients", n)

		case data := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.removeLocked(c)
					h.logger.Warn("dropped slow dashboard")
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(c *Client) {
	delete(h.clients, c)
	close(c.send)
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Broadcast queues encoded JSON for every client. It never blocks; when the
// queue is full the message is dropped.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast queue full, dropping event")
	}
}

// Publish encodes msg, remembers it if it carries state, and broadcasts it.
func (h *Hub) Publish(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	if key := stateKey(msg); key != "" {
		h.mu.Lock()
		h.latest[key] = data
		h.mu.Unlock()
	}
	h.Broadcast(data)
	return nil
}

// stateKey names the replay slot for msg, or "" for one-off events.
func stateKey(msg *protocol.Message) string {
	switch msg.Type {
	case protocol.TypePower, protocol.TypeHaptic:
		return string(msg.Type)
	case protocol.TypeTask:
		var td protocol.TaskData
		if err := msg.ParseData(&td); err != nil || td.Name == "" {
			return ""
		}
		return "task/" + td.Name
	}
	return ""
}

// Forward publishes every message from in until in closes or ctx is done.
// It bridges an events.Bus subscription.
func (h *Hub) Forward(ctx context.Context, in <-chan *protocol.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if err := h.Publish(msg); err != nil {
				h.logger.Warn("failed to encode event", "type", msg.Type, "error", err)
			}
		}
	}
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
