// Package sensor provides distance readings to the haptic controller.
//
// Physical ranging happens on the ESP32 board; readings arrive over the
// network and are held here until they go stale.
package sensor

import (
	"context"
	"sync"
	"time"
)

// Invalid is returned when a sensor has no usable reading.
const Invalid = -1.0

// DistanceSensor reports the distance to the nearest obstacle in
// centimeters, or Invalid. ReadCM must return promptly.
type DistanceSensor interface {
	ReadCM(ctx context.Context) float64
}

// Func adapts a function to DistanceSensor.
type Func func(ctx context.Context) float64

func (f Func) ReadCM(ctx context.Context) float64 {
	return f(ctx)
}

// IsValid reports whether cm is a real reading.
func IsValid(cm float64) bool {
	return cm >= 0
}

// Latest holds the most recent pushed reading for one sensor.
type Latest struct {
	name   string
	maxAge time.Duration
	now    func() time.Time

	mu sync.RWMutex
	cm float64
	at time.Time
}

// NewLatest creates an empty sensor whose readings expire after maxAge.
// A zero maxAge never expires.
func NewLatest(name string, maxAge time.Duration) *Latest {
	return &Latest{name: name, maxAge: maxAge, now: time.Now, cm: Invalid}
}

// Name returns the sensor name.
func (l *Latest) Name() string {
	return l.name
}

// Set records a reading. Negative values are stored as Invalid.
func (l *Latest) Set(cm float64) {
	if cm < 0 {
		cm = Invalid
	}
	l.mu.Lock()
	l.cm = cm
	l.at = l.now()
	l.mu.Unlock()
}

// ReadCM implements DistanceSensor.
func (l *Latest) ReadCM(ctx context.Context) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.at.IsZero() {
		return Invalid
	}
	if l.maxAge > 0 && l.now().Sub(l.at) > l.maxAge {
		return Invalid
	}
	return l.cm
}

// Array is an ordered set of pushed sensors, addressed by index or name.
type Array struct {
	sensors []*Latest
	byName  map[string]*Latest
}

// NewArray creates one Latest per name, in order.
func NewArray(names []string, maxAge time.Duration) *Array {
	a := &Array{byName: make(map[string]*Latest, len(names))}
	for _, n := range names {
		l := NewLatest(n, maxAge)
		a.sensors = append(a.sensors, l)
		a.byName[n] = l
	}
	return a
}

// Update stores readings by position; extra values are ignored.
func (a *Array) Update(readings []float64) {
	for i, cm := range readings {
		if i >= len(a.sensors) {
			return
		}
		a.sensors[i].Set(cm)
	}
}

// Get returns the named sensor.
func (a *Array) Get(name string) (*Latest, bool) {
	l, ok := a.byName[name]
	return l, ok
}

// Sensors returns the sensors as DistanceSensors, in order.
func (a *Array) Sensors() []DistanceSensor {
	out := make([]DistanceSensor, len(a.sensors))
	for i, s := range a.sensors {
		out[i] = s
	}
	return out
}

// Snapshot returns the current reading of every sensor by name.
func (a *Array) Snapshot(ctx context.Context) map[string]float64 {
	out := make(map[string]float64, len(a.sensors))
	for _, s := range a.sensors {
		out[s.name] = s.ReadCM(ctx)
	}
	return out
}
