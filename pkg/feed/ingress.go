package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-wayfinder/pkg/protocol"
)

// Ingress accepts detector connections on /ws/detections. Several
// detectors may be connected; their batches are merged.
type Ingress struct {
	logger *slog.Logger
	queue  chan Batch

	mu        sync.RWMutex
	detectors map[string]time.Time // id → connected at

	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewIngress returns an ingress buffering up to buffer batches.
func NewIngress(buffer int, logger *slog.Logger) *Ingress {
	if buffer <= 0 {
		buffer = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingress{
		logger:    logger.With("component", "feed.ingress"),
		queue:     make(chan Batch, buffer),
		detectors: make(map[string]time.Time),
	}
}

// Name implements Source.
func (i *Ingress) Name() string { return "ingress" }

// RegisterRoutes adds the detector endpoint. The caller's router must
// already gate /ws on a websocket upgrade.
func (i *Ingress) RegisterRoutes(r fiber.Router) {
	r.Get("/ws/detections", websocket.New(i.handleDetector))
	r.Get("/ws/detections/:id", websocket.New(i.handleDetector))
}

func (i *Ingress) handleDetector(c *websocket.Conn) {
	id := c.Params("id")
	if id == "" {
		id = uuid.NewString()
	}

	i.mu.Lock()
	i.detectors[id] = time.Now()
	count := len(i.detectors)
	i.mu.Unlock()
	i.logger.Info("detector connected", "detector", id, "detectors", count)

	defer func() {
		i.mu.Lock()
		delete(i.detectors, id)
		count := len(i.detectors)
		i.mu.Unlock()
		i.logger.Info("detector disconnected", "detector", id, "detectors", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		if reply := i.handleMessage(id, data); reply != nil {
			if b, err := reply.Bytes(); err == nil {
				_ = c.WriteMessage(websocket.TextMessage, b)
			}
		}
	}
}

// handleMessage queues detections and answers pings.
func (i *Ingress) handleMessage(id string, data []byte) *protocol.Message {
	if msg, err := protocol.ParseMessage(data); err == nil && msg.Type == protocol.TypePing {
		ping, _ := msg.GetPingData()
		var pid string
		var ts int64
		if ping != nil {
			pid, ts = ping.ID, ping.Timestamp
		}
		pong, err := protocol.NewPongMessage(pid, ts, time.Now().UnixMilli())
		if err != nil {
			return nil
		}
		return pong
	}

	d, err := protocol.ParseDetections(data)
	if err != nil {
		i.logger.Debug("dropping malformed message", "detector", id, "error", err)
		return nil
	}
	i.received.Add(1)

	select {
	case i.queue <- FromData(d, time.Now()):
	default:
		i.dropped.Add(1)
	}
	return nil
}

// Run implements Source.
func (i *Ingress) Run(ctx context.Context, out chan<- Batch) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-i.queue:
			if !offer(ctx, out, b) {
				i.dropped.Add(1)
			}
		}
	}
}

// IngressStats summarizes detector connections.
type IngressStats struct {
	Detectors int    `json:"detectors"`
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
}

// Stats returns connection and batch counters.
func (i *Ingress) Stats() IngressStats {
	i.mu.RLock()
	n := len(i.detectors)
	i.mu.RUnlock()
	return IngressStats{Detectors: n, Received: i.received.Load(), Dropped: i.dropped.Load()}
}

var _ Source = (*Ingress)(nil)
