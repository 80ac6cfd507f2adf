package command

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Handler performs an intent. Handlers run on their own goroutine and may
// block on network calls.
type Handler func(ctx context.Context, cmd Command)

// Config configures a Dispatcher.
type Config struct {
	Cooldown time.Duration
	// OnDispatch is called for every command whose handler was started.
	OnDispatch func(Command)
	Now        func() time.Time
	Logger     *slog.Logger
}

// DefaultConfig debounces repeats within 3s.
func DefaultConfig() Config {
	return Config{Cooldown: 3 * time.Second}
}

type lastSeen struct {
	code string
	at   time.Time
}

// Stats counts dispatcher outcomes.
type Stats struct {
	Received   int64 `json:"received"`
	Dispatched int64 `json:"dispatched"`
	Debounced  int64 `json:"debounced"`
	Unhandled  int64 `json:"unhandled"`
	Panics     int64 `json:"panics"`
}

// Dispatcher routes commands to handlers. The dispatch path never waits on
// a handler.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger

	hmu      sync.RWMutex
	handlers map[Intent]Handler

	mu   sync.Mutex
	last map[string]lastSeen

	wg sync.WaitGroup

	received, dispatched, debounced, unhandled, panics atomic.Int64
}

// NewDispatcher creates a Dispatcher with no handlers.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		logger:   logger.With("component", "command"),
		handlers: make(map[Intent]Handler),
		last:     make(map[string]lastSeen),
	}
}

// Handle registers h for intent, replacing any previous handler.
func (d *Dispatcher) Handle(intent Intent, h Handler) {
	d.hmu.Lock()
	d.handlers[intent] = h
	d.hmu.Unlock()
}

// Dispatch debounces cmd and starts its handler. It reports whether a
// handler was started.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) bool {
	d.received.Add(1)

	if cmd.Intent == IntentNone {
		d.logger.Debug("ignoring empty command", "source", cmd.Source, "code", cmd.Code)
		return false
	}

	if d.isDuplicate(cmd) {
		d.debounced.Add(1)
		d.logger.Debug("debounced", "source", cmd.Source, "code", cmd.Code)
		return false
	}

	d.hmu.RLock()
	h, ok := d.handlers[cmd.Intent]
	d.hmu.RUnlock()
	if !ok {
		d.unhandled.Add(1)
		d.logger.Warn("no handler for intent", "intent", cmd.Intent, "source", cmd.Source)
		return false
	}

	d.dispatched.Add(1)
	d.logger.Info("dispatch", "intent", cmd.Intent, "source", cmd.Source, "code", cmd.Code, "id", cmd.ID)

	d.wg.Add(1)
	go d.run(ctx, h, cmd)
	if d.cfg.OnDispatch != nil {
		d.cfg.OnDispatch(cmd)
	}
	return true
}

func (d *Dispatcher) isDuplicate(cmd Command) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.cfg.Now()
	prev, ok := d.last[cmd.Source]
	if ok && prev.code == cmd.Code && now.Sub(prev.at) < d.cfg.Cooldown {
		return true
	}
	d.last[cmd.Source] = lastSeen{code: cmd.Code, at: now}
	return false
}

func (d *Dispatcher) run(ctx context.Context, h Handler, cmd Command) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("handler panicked",
				"intent", cmd.Intent,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	h(ctx, cmd)
}

// Run dispatches commands from in until ctx is done or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan Command) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-in:
			if !ok {
				return nil
			}
			d.Dispatch(ctx, cmd)
		}
	}
}

// Wait blocks until running handlers finish or timeout elapses. It
// reports whether all handlers finished.
func (d *Dispatcher) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Stats returns dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:   d.received.Load(),
		Dispatched: d.dispatched.Load(),
		Debounced:  d.debounced.Load(),
		Unhandled:  d.unhandled.Load(),
		Panics:     d.panics.Load(),
	}
}
