// Package threshold decides which detections are worth announcing.
//
// Each class has a confidence threshold (falling back to a shared base),
// announcements are rate-limited per (category, direction), and the base
// threshold drifts with the recent confidence distribution.
package threshold

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/detection"
)

// Bounds and step sizes for base threshold adjustment.
const (
	MinThreshold = 0.10
	MaxThreshold = 0.50
	ManualStep   = 0.05

	AdaptiveStep  = 0.02
	AdaptiveCap   = 0.35
	AdaptiveFloor = 0.10
	HighMean      = 0.80
	LowMean       = 0.30
)

// Key identifies an announcement for cooldown purposes.
type Key struct {
	Category  string
	Direction detection.Direction
}

// Config configures an Adaptive filter.
type Config struct {
	Base          float64
	Classes       map[string]float64
	Cooldown      time.Duration
	HistorySize   int
	MinHistory    int
	LowPowerScale float64
	Mapper        detection.CategoryMapper
	LowPower      func() bool
	Now           func() time.Time
	Logger        *slog.Logger
}

// DefaultConfig returns the thresholds the device ships with.
func DefaultConfig() Config {
	return Config{
		Base: 0.30,
		Classes: map[string]float64{
			"person":     0.20,
			"car":        0.25,
			"motorcycle": 0.25,
			"bicycle":    0.20,
		},
		Cooldown:      4 * time.Second,
		HistorySize:   30,
		MinHistory:    20,
		LowPowerScale: 1.3,
	}
}

// Adaptive is the announcement filter. Safe for concurrent use; every
// method takes the same lock so tuning and filtering never interleave.
type Adaptive struct {
	mu sync.Mutex

	base     float64
	classes  map[string]float64
	cooldown time.Duration
	scale    float64

	history    []float64
	histNext   int
	histLen    int
	minHistory int

	last map[Key]time.Time

	mapper   detection.CategoryMapper
	lowPower func() bool
	now      func() time.Time
	logger   *slog.Logger
}

// New creates an Adaptive filter from cfg.
func New(cfg Config) *Adaptive {
	def := DefaultConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.MinHistory <= 0 || cfg.MinHistory > cfg.HistorySize {
		cfg.MinHistory = min(def.MinHistory, cfg.HistorySize)
	}
	if cfg.LowPowerScale <= 0 {
		cfg.LowPowerScale = def.LowPowerScale
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.Mapper == nil {
		cfg.Mapper = detection.Identity
	}
	if cfg.LowPower == nil {
		cfg.LowPower = func() bool { return false }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	classes := make(map[string]float64, len(cfg.Classes))
	for k, v := range cfg.Classes {
		if c := clamp(v, MinThreshold, MaxThreshold); c != v {
			logger.Warn("class threshold out of range, clamped", "class", k, "threshold", v, "clamped", c)
			v = c
		}
		classes[k] = v
	}

	return &Adaptive{
		base:       clamp(cfg.Base, MinThreshold, MaxThreshold),
		classes:    classes,
		cooldown:   cfg.Cooldown,
		scale:      cfg.LowPowerScale,
		history:    make([]float64, cfg.HistorySize),
		minHistory: cfg.MinHistory,
		last:       make(map[Key]time.Time),
		mapper:     cfg.Mapper,
		lowPower:   cfg.LowPower,
		now:        cfg.Now,
		logger:     logger.With("component", "threshold"),
	}
}

// Threshold returns the effective threshold for a class right now.
func (a *Adaptive) Threshold(className string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.thresholdLocked(className, a.lowPower())
}

func (a *Adaptive) thresholdLocked(className string, lowPower bool) float64 {
	t, ok := a.classes[className]
	if !ok {
		t = a.base
	}
	if lowPower {
		t *= a.scale
	}
	return t
}

// ShouldAnnounce reports whether d clears its threshold and its key is out
// of cooldown. An accepted detection starts a new cooldown for its key.
func (a *Adaptive) ShouldAnnounce(d detection.Detection) bool {
	lowPower := a.lowPower()

	a.mu.Lock()
	defer a.mu.Unlock()

	if d.Score < a.thresholdLocked(d.ClassName, lowPower) {
		return false
	}

	key := Key{Category: a.mapper(d.ClassName), Direction: d.Direction}
	now := a.now()
	cooldown := a.cooldown
	if lowPower {
		cooldown *= 2
	}

	if t, ok := a.last[key]; ok && now.Sub(t) < cooldown {
		return false
	}
	a.last[key] = now
	return true
}

// Filter returns the detections ShouldAnnounce accepts, in order.
func (a *Adaptive) Filter(dets []detection.Detection) []detection.Detection {
	var out []detection.Detection
	for _, d := range dets {
		if a.ShouldAnnounce(d) {
			out = append(out, d)
		}
	}
	return out
}

// UpdateAdaptive feeds scores into the confidence history. Once the history
// holds at least MinHistory scores its mean nudges the base threshold, and
// the history restarts so a sustained streak moves it one step per window.
// It returns the (possibly unchanged) base threshold.
func (a *Adaptive) UpdateAdaptive(dets []detection.Detection) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, d := range dets {
		a.history[a.histNext] = d.Score
		a.histNext = (a.histNext + 1) % len(a.history)
		if a.histLen < len(a.history) {
			a.histLen++
		}

		if a.histLen < a.minHistory {
			continue
		}

		var sum float64
		for i := 0; i < a.histLen; i++ {
			sum += a.history[i]
		}
		mean := sum / float64(a.histLen)

		prev := a.base
		switch {
		case mean > HighMean && a.base < AdaptiveCap:
			a.base = round2(math.Min(a.base+AdaptiveStep, AdaptiveCap))
		case mean < LowMean && a.base > AdaptiveFloor:
			a.base = round2(math.Max(a.base-AdaptiveStep, AdaptiveFloor))
		default:
			continue
		}
		a.histLen, a.histNext = 0, 0
		a.logger.Debug("base threshold adapted", "from", prev, "to", a.base, "mean", mean)
	}
	return a.base
}

// Increase raises the base threshold by one manual step and returns it.
func (a *Adaptive) Increase() float64 {
	return a.adjust(ManualStep)
}

// Decrease lowers the base threshold by one manual step and returns it.
func (a *Adaptive) Decrease() float64 {
	return a.adjust(-ManualStep)
}

func (a *Adaptive) adjust(delta float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.base = clamp(round2(a.base+delta), MinThreshold, MaxThreshold)
	a.logger.Info("base threshold set", "base", a.base)
	return a.base
}

// Base returns the current base threshold.
func (a *Adaptive) Base() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.base
}

// Cleanup drops cooldown entries older than three cooldowns and returns
// how many were removed.
func (a *Adaptive) Cleanup() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-3 * a.cooldown)
	n := 0
	for k, t := range a.last {
		if !t.After(cutoff) {
			delete(a.last, k)
			n++
		}
	}
	return n
}

// Snapshot is a point-in-time view for status reporting.
type Snapshot struct {
	Base       float64            `json:"base"`
	Classes    map[string]float64 `json:"classes"`
	Cooldown   string             `json:"cooldown"`
	Tracked    int                `json:"tracked_keys"`
	HistoryLen int                `json:"history_len"`
	LowPower   bool               `json:"low_power"`
}

// Snapshot returns the current filter state.
func (a *Adaptive) Snapshot() Snapshot {
	lowPower := a.lowPower()

	a.mu.Lock()
	defer a.mu.Unlock()

	classes := make(map[string]float64, len(a.classes))
	for k := range a.classes {
		classes[k] = a.thresholdLocked(k, lowPower)
	}
	return Snapshot{
		Base:       a.base,
		Classes:    classes,
		Cooldown:   a.cooldown.String(),
		Tracked:    len(a.last),
		HistoryLen: a.histLen,
		LowPower:   lowPower,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
