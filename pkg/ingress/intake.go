// Package ingress receives input from the wearable's boards and the phone:
// button codes, distance readings, GPS fixes and recognized speech. It
// offers them over HTTP, UDP and by polling a board's status endpoint, and
// normalizes all of it into commands and sensor updates.
package ingress

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/command"
	"github.com/teslashibe/go-wayfinder/pkg/navigation"
	"github.com/teslashibe/go-wayfinder/pkg/protocol"
	"github.com/teslashibe/go-wayfinder/pkg/sensor"
)

// Transports.
const (
	TransportHTTP = "http"
	TransportUDP  = "udp"
	TransportPoll = "poll"
)

// DefaultBuffer is the command queue depth.
const DefaultBuffer = 16

// Intake is the funnel every transport feeds.
type Intake struct {
	out     chan command.Command
	sensors *sensor.Array
	locator *navigation.LatestLocator
	logger  *slog.Logger

	mu       sync.Mutex
	buttons  map[string]string // transport → last code seen
	waiters  []chan string
	lastSeen time.Time

	payloads atomic.Uint64
	dropped  atomic.Uint64
}

// NewIntake returns an intake. sensors and locator may be nil when the
// deployment has no pushed readings.
func NewIntake(buffer int, sensors *sensor.Array, locator *navigation.LatestLocator, logger *slog.Logger) *Intake {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{
		out:     make(chan command.Command, buffer),
		sensors: sensors,
		locator: locator,
		logger:  logger.With("component", "ingress"),
		buttons: make(map[string]string),
	}
}

// Commands is the stream to hand to the dispatcher.
func (i *Intake) Commands() <-chan command.Command {
	return i.out
}

// Submit queues cmd without blocking. It reports false if the queue is full.
func (i *Intake) Submit(cmd command.Command) bool {
	select {
	case i.out <- cmd:
		return true
	default:
		i.dropped.Add(1)
		i.logger.Warn("command queue full, dropping", "intent", cmd.Intent, "source", cmd.Source)
		return false
	}
}

// Buttons handles a button code from transport. Codes are edge-triggered:
// a board that keeps reporting the same code fires once.
func (i *Intake) Buttons(transport, code string) bool {
	code = strings.TrimSpace(code)

	i.mu.Lock()
	prev := i.buttons[transport]
	i.buttons[transport] = code
	i.mu.Unlock()

	if code == prev {
		return false
	}
	cmd, ok := command.FromCode(command.SourceButtons, code)
	if !ok {
		return false
	}
	i.logger.Debug("button", "transport", transport, "code", code, "intent", cmd.Intent)
	return i.Submit(cmd)
}

// Apply takes everything a board payload carries.
func (i *Intake) Apply(transport string, p *protocol.DevicePayload) {
	i.payloads.Add(1)
	i.mu.Lock()
	i.lastSeen = time.Now()
	i.mu.Unlock()

	if r := p.Readings(); len(r) > 0 && i.sensors != nil {
		i.sensors.Update(r)
	}
	if p.HasFix() && i.locator != nil {
		i.locator.Set(navigation.Fix{Point: navigation.Point{Lat: *p.Lat, Lon: *p.Lon}})
	}
	if p.Buttons != "" {
		i.Buttons(transport, p.Buttons)
	}
}

// SubmitVoice handles recognized speech. If an action is waiting in Listen
// the text answers it; otherwise the text is classified as a command.
func (i *Intake) SubmitVoice(text string) (answered bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	i.mu.Lock()
	if len(i.waiters) > 0 {
		w := i.waiters[0]
		i.waiters = i.waiters[1:]
		i.mu.Unlock()
		w <- text
		return true
	}
	i.mu.Unlock()

	i.Submit(command.FromText(command.SourceVoice, text))
	return false
}

// Listen waits for the next recognized phrase.
func (i *Intake) Listen(ctx context.Context) (string, error) {
	w := make(chan string, 1)
	i.mu.Lock()
	i.waiters = append(i.waiters, w)
	i.mu.Unlock()

	select {
	case text := <-w:
		return text, nil
	case <-ctx.Done():
		i.mu.Lock()
		for n, c := range i.waiters {
			if c == w {
				i.waiters = append(i.waiters[:n], i.waiters[n+1:]...)
				break
			}
		}
		i.mu.Unlock()
		// a phrase may have been handed over just before removal
		select {
		case text := <-w:
			return text, nil
		default:
		}
		return "", ctx.Err()
	}
}

// Waiting returns how many Listen calls are pending.
func (i *Intake) Waiting() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.waiters)
}

// IntakeStats summarizes intake activity.
type IntakeStats struct {
	Payloads uint64    `json:"payloads"`
	Dropped  uint64    `json:"dropped"`
	Queued   int       `json:"queued"`
	LastSeen time.Time `json:"last_seen"`
}

// Stats returns intake counters.
func (i *Intake) Stats() IntakeStats {
	i.mu.Lock()
	last := i.lastSeen
	i.mu.Unlock()
	return IntakeStats{
		Payloads: i.payloads.Load(),
		Dropped:  i.dropped.Load(),
		Queued:   len(i.out),
		LastSeen: last,
	}
}
