package power

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSample_Hysteresis(t *testing.T) {
	m := New(DefaultConfig())

	for i := 0; i < 10; i++ {
		m.Sample(90)
	}
	require.True(t, m.IsLowPower(), "avg 90 should enter low power")

	// Average drifts into the band: state holds.
	for i := 0; i < 10; i++ {
		m.Sample(60)
	}
	assert.InDelta(t, 60, m.Average(), 0.001)
	assert.True(t, m.IsLowPower(), "avg 60 should hold low power")

	for i := 0; i < 10; i++ {
		m.Sample(20)
	}
	assert.False(t, m.IsLowPower(), "avg 20 should leave low power")

	for i := 0; i < 10; i++ {
		m.Sample(60)
	}
	assert.Equal(t, Normal, m.State(), "avg 60 should hold normal")
}

func TestSample_PartialWindow(t *testing.T) {
	m := New(DefaultConfig())
	m.Sample(100)
	assert.Equal(t, 100.0, m.Average())
	assert.True(t, m.IsLowPower())

	m.Sample(0)
	assert.Equal(t, 50.0, m.Average())
}

func TestSample_WindowEvictsOldest(t *testing.T) {
	m := New(Config{Window: 3})
	m.Sample(90)
	m.Sample(90)
	m.Sample(90)
	m.Sample(0)
	m.Sample(0)
	m.Sample(0)
	assert.Equal(t, 0.0, m.Average())
	assert.False(t, m.IsLowPower())
}

func TestSleepInterval(t *testing.T) {
	m := New(DefaultConfig())

	tests := []struct {
		task   Task
		expect time.Duration
	}{
		{TaskDetection, 100 * time.Millisecond},
		{TaskDistance, 3 * time.Second},
		{TaskInactivity, 20 * time.Second},
		{TaskVoice, 2 * time.Second},
		{Task("unknown"), time.Second},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expect, m.SleepInterval(tc.task), "normal %s", tc.task)
	}

	m.Sample(100)
	for _, tc := range tests {
		assert.Equal(t, 2*tc.expect, m.SleepInterval(tc.task), "low power %s", tc.task)
	}
	assert.Equal(t, 200*time.Millisecond, m.Interval(TaskDetection)())
}

func TestNew_IntervalOverrides(t *testing.T) {
	m := New(Config{Intervals: map[Task]time.Duration{TaskDistance: 5 * time.Second}})
	assert.Equal(t, 5*time.Second, m.SleepInterval(TaskDistance))
	assert.Equal(t, 2*time.Second, m.SleepInterval(TaskVoice))
}

func TestOnChange(t *testing.T) {
	m := New(DefaultConfig())
	var changes []State
	m.OnChange(func(s State) { changes = append(changes, s) })

	m.Sample(95)
	m.Sample(95)
	m.Sample(0)
	m.Sample(0)
	m.Sample(0)
	m.Sample(0)
	m.Sample(0)

	assert.Equal(t, []State{LowPower, Normal}, changes)
}

func TestRun_SamplesUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	cfg := DefaultConfig()
	cfg.SampleInterval = 5 * time.Millisecond
	cfg.ReclaimInterval = 0
	cfg.Sampler = SamplerFunc(func(ctx context.Context) (float64, error) {
		calls.Add(1)
		return 99, nil
	})
	m := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, m.IsLowPower, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Greater(t, calls.Load(), int32(0))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "normal", Normal.String())
	assert.Equal(t, "low_power", LowPower.String())
}
