// Package crowd watches the detection stream for silence and for dense
// groups of people.
package crowd

import (
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/detection"
)

// Prompts spoken by the monitor.
const (
	InactivityPrompt = "No objects detected. Would you like a comprehensive scan?"
	CrowdAlert       = "You are entering a crowded area."
)

// Speaker queues a message for speech.
type Speaker interface {
	Speak(text string) bool
}

// Config configures a Monitor.
type Config struct {
	InactivityTimeout time.Duration
	PersonLimit       int
	// CrowdCooldown is the minimum spacing between crowd alerts.
	// Zero alerts on every analysis that sees a crowd.
	CrowdCooldown time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// DefaultConfig returns a 30s inactivity window and a limit of five people.
func DefaultConfig() Config {
	return Config{
		InactivityTimeout: 30 * time.Second,
		PersonLimit:       5,
		CrowdCooldown:     30 * time.Second,
	}
}

// Monitor tracks when objects were last seen. Safe for concurrent use.
type Monitor struct {
	cfg     Config
	speaker Speaker
	logger  *slog.Logger

	mu        sync.Mutex
	lastSeen  time.Time
	lastCrowd time.Time
	crowded   bool
}

// New creates a Monitor; the inactivity window starts now.
func New(speaker Speaker, cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = def.InactivityTimeout
	}
	if cfg.PersonLimit <= 0 {
		cfg.PersonLimit = def.PersonLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		cfg:      cfg,
		speaker:  speaker,
		logger:   logger.With("component", "crowd"),
		lastSeen: cfg.Now(),
	}
}

// RecordDetectionTick marks that the detector reported something.
func (m *Monitor) RecordDetectionTick() {
	m.mu.Lock()
	m.lastSeen = m.cfg.Now()
	m.mu.Unlock()
}

// CheckInactivity speaks the inactivity prompt once the window has passed
// without a detection, then restarts the window.
func (m *Monitor) CheckInactivity() bool {
	m.mu.Lock()
	now := m.cfg.Now()
	if now.Sub(m.lastSeen) < m.cfg.InactivityTimeout {
		m.mu.Unlock()
		return false
	}
	m.lastSeen = now
	m.mu.Unlock()

	m.logger.Debug("no detections", "window", m.cfg.InactivityTimeout)
	m.speaker.Speak(InactivityPrompt)
	return true
}

// CrowdAnalysis alerts when more than PersonLimit people are in view.
func (m *Monitor) CrowdAnalysis(dets []detection.Detection) bool {
	people := detection.CountClass(dets, "person")

	m.mu.Lock()
	if people <= m.cfg.PersonLimit {
		m.crowded = false
		m.mu.Unlock()
		return false
	}
	now := m.cfg.Now()
	if m.cfg.CrowdCooldown > 0 && !m.lastCrowd.IsZero() && now.Sub(m.lastCrowd) < m.cfg.CrowdCooldown {
		m.mu.Unlock()
		return false
	}
	m.lastCrowd = now
	m.crowded = true
	m.mu.Unlock()

	m.logger.Info("crowd detected", "people", people)
	m.speaker.Speak(CrowdAlert)
	return true
}

// Status is a point-in-time view for status reporting.
type Status struct {
	LastSeen time.Time `json:"last_seen"`
	Crowded  bool      `json:"crowded"`
}

// Status returns the monitor state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{LastSeen: m.lastSeen, Crowded: m.crowded}
}
