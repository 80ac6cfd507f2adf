// Package events is the in-process pub/sub bus carrying wearable events to
// the dashboard hub and the telemetry publishers.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-wayfinder/pkg/protocol"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 32

// Bus fans messages out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the message.
type Bus struct {
	mu     sync.RWMutex
	byType map[protocol.MessageType][]chan *protocol.Message
	all    []chan *protocol.Message
	closed bool
	buffer int

	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewBus creates a bus. A nil logger uses slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		byType: make(map[protocol.MessageType][]chan *protocol.Message),
		buffer: DefaultBuffer,
		logger: logger.With("component", "events"),
	}
}

// Subscribe returns a channel receiving messages of the given types, or of
// every type when none are given. The channel is closed by Close.
func (b *Bus) Subscribe(types ...protocol.MessageType) <-chan *protocol.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *protocol.Message, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	if len(types) == 0 {
		b.all = append(b.all, ch)
		return ch
	}
	for _, t := range types {
		b.byType[t] = append(b.byType[t], ch)
	}
	return ch
}

// Publish wraps data in a message of the given type and publishes it.
func (b *Bus) Publish(msgType protocol.MessageType, data any) {
	msg, err := protocol.NewMessage(msgType, data)
	if err != nil {
		b.logger.Warn("dropping unencodable event", "type", msgType, "error", err)
		return
	}
	b.PublishMessage(msg)
}

// PublishMessage publishes an already built message.
func (b *Bus) PublishMessage(msg *protocol.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	send := func(ch chan *protocol.Message) {
		select {
		case ch <- msg:
		default:
			if b.dropped.Add(1)%100 == 1 {
				b.logger.Warn("subscriber too slow, dropping events", "type", msg.Type, "dropped_total", b.dropped.Load())
			}
		}
	}
	for _, ch := range b.byType[msg.Type] {
		send(ch)
	}
	for _, ch := range b.all {
		send(ch)
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[chan *protocol.Message]bool)
	closeOnce := func(ch chan *protocol.Message) {
		if !seen[ch] {
			seen[ch] = true
			close(ch)
		}
	}
	for _, subs := range b.byType {
		for _, ch := range subs {
			closeOnce(ch)
		}
	}
	for _, ch := range b.all {
		closeOnce(ch)
	}
	b.byType = nil
	b.all = nil
}
