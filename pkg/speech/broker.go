// Package speech serializes all spoken output through one worker.
//
// Producers never block: Speak enqueues onto a bounded queue and drops the
// message when the queue is full. The worker owns the Synthesizer, so at
// most one utterance is being produced at any time.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopTimeout is returned by Stop when the worker did not exit in time.
var ErrStopTimeout = errors.New("speech: worker did not stop in time")

// Synthesizer turns text into audible speech. Calls block until playback
// finishes or ctx is done.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, text string) error

func (f SynthesizerFunc) Speak(ctx context.Context, text string) error {
	return f(ctx, text)
}

// Config configures a Broker.
type Config struct {
	QueueSize int
	Timeout   time.Duration // per utterance
	Logger    *slog.Logger
}

// DefaultConfig returns a 16-message queue with a 30s utterance timeout.
func DefaultConfig() Config {
	return Config{
		QueueSize: 16,
		Timeout:   30 * time.Second,
	}
}

// Stats counts what happened to submitted messages.
type Stats struct {
	Queued     int64 `json:"queued"`
	Spoken     int64 `json:"spoken"`
	Dropped    int64 `json:"dropped"`
	Suppressed int64 `json:"suppressed"`
	Failed     int64 `json:"failed"`
	Pending    int   `json:"pending"`
}

type message struct {
	text string
	stop bool
}

// Broker is the single owner of the speech synthesizer.
type Broker struct {
	synth   Synthesizer
	queue   chan message
	timeout time.Duration
	logger  *slog.Logger

	halted   atomic.Bool
	stopping atomic.Bool

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error

	queued, spoken, dropped, suppressed, failed atomic.Int64
}

// New creates a Broker and starts its worker.
func New(synth Synthesizer, cfg Config) *Broker {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		synth:   synth,
		queue:   make(chan message, cfg.QueueSize),
		timeout: cfg.Timeout,
		logger:  logger.With("component", "speech"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go b.worker()
	return b
}

// Speak queues text unless announcements are halted. It never blocks and
// reports whether the message was accepted.
func (b *Broker) Speak(text string) bool {
	if b.halted.Load() {
		b.suppressed.Add(1)
		return false
	}
	return b.enqueue(text)
}

// SpeakPriority queues text even while announcements are halted.
func (b *Broker) SpeakPriority(text string) bool {
	return b.enqueue(text)
}

func (b *Broker) enqueue(text string) bool {
	if text == "" || b.stopping.Load() {
		return false
	}
	select {
	case b.queue <- message{text: text}:
		b.queued.Add(1)
		return true
	default:
		b.dropped.Add(1)
		b.logger.Warn("speech queue full, message dropped", "text", text, "capacity", cap(b.queue))
		return false
	}
}

// SetHalted gates non-priority speech.
func (b *Broker) SetHalted(halted bool) {
	b.halted.Store(halted)
}

// Halted reports whether non-priority speech is gated.
func (b *Broker) Halted() bool {
	return b.halted.Load()
}

// Stats returns current counters.
func (b *Broker) Stats() Stats {
	return Stats{
		Queued:     b.queued.Load(),
		Spoken:     b.spoken.Load(),
		Dropped:    b.dropped.Load(),
		Suppressed: b.suppressed.Load(),
		Failed:     b.failed.Load(),
		Pending:    len(b.queue),
	}
}

// Stop asks the worker to finish what is queued and exit, waiting at most
// timeout. An utterance still in progress at the deadline is cancelled.
// Calling Stop more than once returns the first result.
func (b *Broker) Stop(timeout time.Duration) error {
	b.stopOnce.Do(func() {
		b.stopping.Store(true)
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()

		select {
		case b.queue <- message{stop: true}:
		case <-b.done:
		case <-deadline.C:
			b.cancel()
			b.stopErr = ErrStopTimeout
			return
		}

		select {
		case <-b.done:
		case <-deadline.C:
			b.cancel()
			b.stopErr = ErrStopTimeout
		}
	})
	return b.stopErr
}

// Done is closed when the worker has exited.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

func (b *Broker) worker() {
	defer close(b.done)
	defer b.cancel()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.queue:
			if msg.stop {
				b.logger.Debug("speech worker stopped")
				return
			}
			b.say(msg.text)
		}
	}
}

func (b *Broker) say(text string) {
	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	start := time.Now()
	if err := b.synth.Speak(ctx, text); err != nil {
		b.failed.Add(1)
		b.logger.Error("speech synthesis failed", "error", err, "text", text)
		return
	}
	b.spoken.Add(1)
	b.logger.Debug("spoke", "text", text, "latency_ms", time.Since(start).Milliseconds())
}
