package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatest(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLatest("front", 2*time.Second)
	l.now = func() time.Time { return now }

	assert.Equal(t, Invalid, l.ReadCM(ctx), "no reading yet")

	l.Set(42.5)
	assert.Equal(t, 42.5, l.ReadCM(ctx))

	now = now.Add(3 * time.Second)
	assert.Equal(t, Invalid, l.ReadCM(ctx), "stale reading")

	l.Set(-7)
	assert.Equal(t, Invalid, l.ReadCM(ctx))
}

func TestLatest_NoExpiry(t *testing.T) {
	l := NewLatest("front", 0)
	l.Set(10)
	l.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, 10.0, l.ReadCM(context.Background()))
}

func TestArray(t *testing.T) {
	ctx := context.Background()
	a := NewArray([]string{"front", "left", "right"}, time.Minute)

	a.Update([]float64{40, 60, 70, 80})

	sensors := a.Sensors()
	require.Len(t, sensors, 3)
	assert.Equal(t, 40.0, sensors[0].ReadCM(ctx))
	assert.Equal(t, 60.0, sensors[1].ReadCM(ctx))

	right, ok := a.Get("right")
	require.True(t, ok)
	assert.Equal(t, 70.0, right.ReadCM(ctx))

	a.Update([]float64{-1})
	assert.Equal(t, map[string]float64{"front": Invalid, "left": 60, "right": 70}, a.Snapshot(ctx))
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid(0))
	assert.True(t, IsValid(120))
	assert.False(t, IsValid(Invalid))
}

func TestFunc(t *testing.T) {
	var s DistanceSensor = Func(func(ctx context.Context) float64 { return 12 })
	assert.Equal(t, 12.0, s.ReadCM(context.Background()))
}
