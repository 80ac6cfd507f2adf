// Package power tracks system load and derives a low-power mode that the
// rest of the device uses to slow its loops and tighten announcements.
package power

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// State is the current power mode.
type State int

const (
	Normal State = iota
	LowPower
)

func (s State) String() string {
	if s == LowPower {
		return "low_power"
	}
	return "normal"
}

// Task names a periodic loop whose sleep interval is load-dependent.
type Task string

const (
	TaskDetection  Task = "detection"
	TaskDistance   Task = "distance"
	TaskInactivity Task = "inactivity"
	TaskVoice      Task = "voice"
	TaskButtons    Task = "buttons"
	TaskNavigation Task = "navigation"
)

// DefaultInterval is used for tasks without a configured base.
const DefaultInterval = time.Second

// DefaultIntervals are the base sleep intervals in normal mode.
func DefaultIntervals() map[Task]time.Duration {
	return map[Task]time.Duration{
		TaskDetection:  100 * time.Millisecond,
		TaskDistance:   3 * time.Second,
		TaskInactivity: 20 * time.Second,
		TaskVoice:      2 * time.Second,
		TaskButtons:    time.Second,
		TaskNavigation: 3 * time.Second,
	}
}

// Config configures a Manager.
type Config struct {
	Window          int
	HighLoad        float64
	LowLoad         float64
	Intervals       map[Task]time.Duration
	SampleInterval  time.Duration
	ReclaimInterval time.Duration
	SummaryInterval time.Duration
	Sampler         LoadSampler
	Logger          *slog.Logger
}

// DefaultConfig returns a 10-sample window entering low power above 80%
// and leaving it below 40%.
func DefaultConfig() Config {
	return Config{
		Window:          10,
		HighLoad:        80,
		LowLoad:         40,
		Intervals:       DefaultIntervals(),
		SampleInterval:  2 * time.Second,
		ReclaimInterval: 30 * time.Second,
		SummaryInterval: time.Minute,
	}
}

// Manager holds the load window and power state. Safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	samples []float64
	next    int
	filled  int
	avg     float64
	state   State

	listeners []func(State)
}

// New creates a Manager. Zero-valued fields in cfg take defaults.
func New(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.HighLoad == 0 && cfg.LowLoad == 0 {
		cfg.HighLoad, cfg.LowLoad = def.HighLoad, def.LowLoad
	}
	intervals := DefaultIntervals()
	for k, v := range cfg.Intervals {
		if v > 0 {
			intervals[k] = v
		}
	}
	cfg.Intervals = intervals
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if cfg.SummaryInterval <= 0 {
		cfg.SummaryInterval = def.SummaryInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:     cfg,
		logger:  logger.With("component", "power"),
		samples: make([]float64, cfg.Window),
	}
}

// OnChange registers fn to be called after every state transition.
// Register before Run; fn must not call back into Sample.
func (m *Manager) OnChange(fn func(State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Sample records a load percentage and re-evaluates the power state.
// Between LowLoad and HighLoad the previous state holds.
func (m *Manager) Sample(load float64) State {
	m.mu.Lock()
	m.samples[m.next] = load
	m.next = (m.next + 1) % len(m.samples)
	if m.filled < len(m.samples) {
		m.filled++
	}

	var sum float64
	for i := 0; i < m.filled; i++ {
		sum += m.samples[i]
	}
	m.avg = sum / float64(m.filled)

	prev := m.state
	switch {
	case m.avg > m.cfg.HighLoad:
		m.state = LowPower
	case m.avg < m.cfg.LowLoad:
		m.state = Normal
	}
	state, avg := m.state, m.avg
	var listeners []func(State)
	if state != prev {
		listeners = append(listeners, m.listeners...)
	}
	m.mu.Unlock()

	if state != prev {
		m.logger.Info("power state changed", "from", prev, "to", state, "avg_load", avg)
		for _, fn := range listeners {
			fn(state)
		}
	}
	return state
}

// IsLowPower reports whether the device is in low-power mode.
func (m *Manager) IsLowPower() bool {
	return m.State() == LowPower
}

// State returns the current power state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Average returns the mean of the current load window.
func (m *Manager) Average() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.avg
}

// SleepInterval returns the base interval for task, doubled in low power.
func (m *Manager) SleepInterval(task Task) time.Duration {
	base, ok := m.cfg.Intervals[task]
	if !ok {
		base = DefaultInterval
	}
	if m.IsLowPower() {
		return base * 2
	}
	return base
}

// Interval returns a closure suitable for loops that take an interval func.
func (m *Manager) Interval(task Task) func() time.Duration {
	return func() time.Duration { return m.SleepInterval(task) }
}

// Reclaim returns freed memory to the OS.
func (m *Manager) Reclaim() {
	debug.FreeOSMemory()
}

// Run samples load until ctx is done. It also reclaims memory on
// ReclaimInterval (disabled when zero) and logs a system summary.
func (m *Manager) Run(ctx context.Context) error {
	if m.cfg.Sampler == nil {
		m.logger.Warn("no load sampler configured, power mode fixed at normal")
		<-ctx.Done()
		return ctx.Err()
	}

	sample := time.NewTicker(m.cfg.SampleInterval)
	defer sample.Stop()
	summary := time.NewTicker(m.cfg.SummaryInterval)
	defer summary.Stop()

	var reclaim <-chan time.Time
	if m.cfg.ReclaimInterval > 0 {
		t := time.NewTicker(m.cfg.ReclaimInterval)
		defer t.Stop()
		reclaim = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sample.C:
			load, err := m.cfg.Sampler.CPUPercent(ctx)
			if err != nil {
				m.logger.Warn("load sample failed", "error", err)
				continue
			}
			m.Sample(load)
		case <-reclaim:
			m.Reclaim()
		case <-summary.C:
			m.logSummary(ctx)
		}
	}
}

func (m *Manager) logSummary(ctx context.Context) {
	attrs := []any{"state", m.State(), "avg_load", m.Average()}
	if mr, ok := m.cfg.Sampler.(MemoryReader); ok {
		if used, err := mr.MemoryPercent(ctx); err == nil {
			attrs = append(attrs, "mem_percent", used)
		}
	}
	m.logger.Info("system summary", attrs...)
}
