package threshold

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-wayfinder/pkg/detection"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newAdaptive(clock *fakeClock, mutate func(*Config)) *Adaptive {
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func TestShouldAnnounce_BelowThresholdRejected(t *testing.T) {
	a := newAdaptive(newClock(), nil)

	tests := []struct {
		name   string
		det    detection.Detection
		expect bool
	}{
		{"person above class threshold", detection.Detection{ClassName: "person", Score: 0.21, Direction: detection.Left}, true},
		{"person below class threshold", detection.Detection{ClassName: "person", Score: 0.19, Direction: detection.Right}, false},
		{"unlisted class uses base", detection.Detection{ClassName: "dog", Score: 0.29, Direction: detection.Left}, false},
		{"unlisted class above base", detection.Detection{ClassName: "dog", Score: 0.31, Direction: detection.Right}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, a.ShouldAnnounce(tc.det))
		})
	}
}

// Class threshold 0.20, cooldown 3s: announce, suppress at 1s, announce at 4s.
func TestShouldAnnounce_CooldownPerKey(t *testing.T) {
	clock := newClock()
	a := newAdaptive(clock, func(c *Config) {
		c.Classes["car"] = 0.20
		c.Cooldown = 3 * time.Second
	})
	car := detection.Detection{ClassName: "car", Score: 0.22, Direction: detection.Left}

	assert.True(t, a.ShouldAnnounce(car))

	clock.Advance(time.Second)
	assert.False(t, a.ShouldAnnounce(car), "identical detection within cooldown")

	// Different direction is a different key.
	assert.True(t, a.ShouldAnnounce(detection.Detection{ClassName: "car", Score: 0.22, Direction: detection.Right}))

	clock.Advance(3 * time.Second)
	assert.True(t, a.ShouldAnnounce(car), "after cooldown")
}

func TestShouldAnnounce_CategoryKey(t *testing.T) {
	clock := newClock()
	a := newAdaptive(clock, func(c *Config) { c.Mapper = detection.Category })

	assert.True(t, a.ShouldAnnounce(detection.Detection{ClassName: "car", Score: 0.9, Direction: detection.Left}))
	assert.False(t, a.ShouldAnnounce(detection.Detection{ClassName: "bus", Score: 0.9, Direction: detection.Left}),
		"bus shares the vehicle key with car")
}

func TestShouldAnnounce_LowPower(t *testing.T) {
	clock := newClock()
	low := false
	a := newAdaptive(clock, func(c *Config) { c.LowPower = func() bool { return low } })

	person := detection.Detection{ClassName: "person", Score: 0.25, Direction: detection.Left}
	assert.True(t, a.ShouldAnnounce(person))

	low = true
	clock.Advance(10 * time.Second)
	assert.False(t, a.ShouldAnnounce(person), "0.25 is below 0.20*1.3")
	assert.InDelta(t, 0.26, a.Threshold("person"), 0.0001)

	strong := detection.Detection{ClassName: "person", Score: 0.9, Direction: detection.Right}
	assert.True(t, a.ShouldAnnounce(strong))
	clock.Advance(6 * time.Second)
	assert.False(t, a.ShouldAnnounce(strong), "cooldown doubles to 8s in low power")
	clock.Advance(2 * time.Second)
	assert.True(t, a.ShouldAnnounce(strong))
}

func TestShouldAnnounce_NeverCloserThanCooldown(t *testing.T) {
	clock := newClock()
	a := newAdaptive(clock, nil)
	d := detection.Detection{ClassName: "person", Score: 0.5, Direction: detection.Left}

	var accepted []time.Time
	for i := 0; i < 100; i++ {
		if a.ShouldAnnounce(d) {
			accepted = append(accepted, clock.Now())
		}
		clock.Advance(300 * time.Millisecond)
	}
	require.NotEmpty(t, accepted)
	for i := 1; i < len(accepted); i++ {
		assert.GreaterOrEqual(t, accepted[i].Sub(accepted[i-1]), 4*time.Second)
	}
}

func scores(n int, score float64) []detection.Detection {
	dets := make([]detection.Detection, n)
	for i := range dets {
		dets[i] = detection.Detection{ClassName: "person", Score: score}
	}
	return dets
}

func TestUpdateAdaptive_OneStepPerStreak(t *testing.T) {
	a := newAdaptive(newClock(), func(c *Config) { c.Base = 0.20 })

	for _, d := range scores(25, 0.85) {
		a.UpdateAdaptive([]detection.Detection{d})
	}
	assert.Equal(t, 0.22, a.Base())
}

func TestUpdateAdaptive_BatchAndCap(t *testing.T) {
	a := newAdaptive(newClock(), func(c *Config) { c.Base = 0.20 })

	assert.Equal(t, 0.22, a.UpdateAdaptive(scores(25, 0.85)))

	for i := 0; i < 50; i++ {
		a.UpdateAdaptive(scores(25, 0.95))
	}
	assert.Equal(t, AdaptiveCap, a.Base())
}

func TestUpdateAdaptive_DoesNotPullManualBaseDown(t *testing.T) {
	a := newAdaptive(newClock(), func(c *Config) { c.Base = 0.45 })
	a.UpdateAdaptive(scores(40, 0.95))
	assert.Equal(t, 0.45, a.Base())
}

func TestUpdateAdaptive_LowersToFloor(t *testing.T) {
	a := newAdaptive(newClock(), nil)
	for i := 0; i < 50; i++ {
		a.UpdateAdaptive(scores(20, 0.1))
	}
	assert.Equal(t, AdaptiveFloor, a.Base())
}

func TestUpdateAdaptive_BelowMinHistory(t *testing.T) {
	a := newAdaptive(newClock(), nil)
	a.UpdateAdaptive(scores(19, 0.95))
	assert.Equal(t, 0.30, a.Base())
}

func TestUpdateAdaptive_MidMeanHolds(t *testing.T) {
	a := newAdaptive(newClock(), nil)
	a.UpdateAdaptive(scores(30, 0.5))
	assert.Equal(t, 0.30, a.Base())
	assert.Equal(t, 30, a.Snapshot().HistoryLen)
}

func TestManualTuning_Bounds(t *testing.T) {
	a := newAdaptive(newClock(), nil)

	assert.Equal(t, 0.35, a.Increase())
	for i := 0; i < 10; i++ {
		a.Increase()
	}
	assert.Equal(t, MaxThreshold, a.Base())

	for i := 0; i < 20; i++ {
		a.Decrease()
	}
	assert.Equal(t, MinThreshold, a.Base())
}

func TestNew_ClampsBase(t *testing.T) {
	a := newAdaptive(newClock(), func(c *Config) { c.Base = 0.9 })
	assert.Equal(t, MaxThreshold, a.Base())
}

func TestNew_ClampsClassThresholds(t *testing.T) {
	a := newAdaptive(newClock(), func(c *Config) {
		c.Classes = map[string]float64{"car": 0.9, "dog": 0.01, "person": 0.2}
	})
	snap := a.Snapshot()
	assert.Equal(t, MaxThreshold, snap.Classes["car"])
	assert.Equal(t, MinThreshold, snap.Classes["dog"])
	assert.Equal(t, 0.2, snap.Classes["person"])

	assert.True(t, a.ShouldAnnounce(detection.Detection{ClassName: "car", Score: 0.6, Direction: detection.Left}),
		"a car above the ceiling must still be announced")
	assert.False(t, a.ShouldAnnounce(detection.Detection{ClassName: "dog", Score: 0.05, Direction: detection.Left}))
}

func TestCleanup(t *testing.T) {
	clock := newClock()
	a := newAdaptive(clock, nil)

	a.ShouldAnnounce(detection.Detection{ClassName: "person", Score: 0.9, Direction: detection.Left})
	clock.Advance(5 * time.Second)
	a.ShouldAnnounce(detection.Detection{ClassName: "person", Score: 0.9, Direction: detection.Right})

	assert.Equal(t, 0, a.Cleanup())

	clock.Advance(8 * time.Second)
	assert.Equal(t, 1, a.Cleanup(), "left entry is 13s old, past 12s")
	assert.Equal(t, 1, a.Snapshot().Tracked)
}

func TestFilter(t *testing.T) {
	a := newAdaptive(newClock(), nil)
	out := a.Filter([]detection.Detection{
		{ClassName: "person", Score: 0.5, Direction: detection.Left},
		{ClassName: "person", Score: 0.5, Direction: detection.Left},
		{ClassName: "car", Score: 0.1, Direction: detection.Right},
	})
	require.Len(t, out, 1)
	assert.Equal(t, "person", out[0].ClassName)
}

func TestConcurrentAccess(t *testing.T) {
	a := newAdaptive(newClock(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				a.ShouldAnnounce(detection.Detection{ClassName: "person", Score: 0.5})
				a.UpdateAdaptive(scores(1, 0.9))
				if i%2 == 0 {
					a.Increase()
				} else {
					a.Decrease()
				}
				a.Cleanup()
			}
		}(i)
	}
	wg.Wait()

	base := a.Base()
	assert.GreaterOrEqual(t, base, MinThreshold)
	assert.LessOrEqual(t, base, MaxThreshold)
}
