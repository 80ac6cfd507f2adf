package haptic

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-wayfinder/pkg/sensor"
)

type recordingActuator struct {
	mu    sync.Mutex
	calls []bool
	err   error
}

func (r *recordingActuator) Set(ctx context.Context, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, on)
	return r.err
}

func (r *recordingActuator) Calls() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.calls...)
}

func fixed(readings ...float64) []sensor.DistanceSensor {
	out := make([]sensor.DistanceSensor, len(readings))
	for i, cm := range readings {
		cm := cm
		out[i] = sensor.Func(func(ctx context.Context) float64 { return cm })
	}
	return out
}

func TestDesired(t *testing.T) {
	tests := []struct {
		name     string
		readings []float64
		expect   bool
	}{
		{"one close", []float64{40, 60}, true},
		{"all far", []float64{60, 70}, false},
		{"timeouts ignored", []float64{sensor.Invalid, sensor.Invalid}, false},
		{"timeout and close", []float64{sensor.Invalid, 10}, true},
		{"at threshold is off", []float64{50}, false},
		{"no readings", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, Desired(tc.readings, 50))
		})
	}
}

// Readings [40, 60] send ON once; repeating them sends nothing.
func TestPoll_EdgeTriggered(t *testing.T) {
	act := &recordingActuator{}
	c := NewController(fixed(40, 60), act, DefaultConfig())

	assert.True(t, c.Poll(context.Background()))
	for i := 0; i < 5; i++ {
		assert.False(t, c.Poll(context.Background()))
	}
	assert.Equal(t, []bool{true}, act.Calls())
}

func TestPoll_OnlyFirstSensorsCount(t *testing.T) {
	act := &recordingActuator{}
	c := NewController(fixed(80, 90, 5), act, DefaultConfig())

	assert.False(t, c.Poll(context.Background()), "third sensor is outside SensorCount")
	assert.Empty(t, act.Calls())

	cfg := DefaultConfig()
	cfg.SensorCount = 3
	c = NewController(fixed(80, 90, 5), act, cfg)
	assert.True(t, c.Poll(context.Background()))
}

func TestPoll_FailureRetriesNextCycle(t *testing.T) {
	act := &recordingActuator{err: errors.New("esp32 unreachable")}
	c := NewController(fixed(10, 10), act, DefaultConfig())

	assert.False(t, c.Poll(context.Background()))
	assert.False(t, c.State().LastSent)
	assert.Equal(t, 1, c.State().Failures)

	act.mu.Lock()
	act.err = nil
	act.mu.Unlock()

	assert.True(t, c.Poll(context.Background()))
	assert.Equal(t, []bool{true, true}, act.Calls())
	assert.True(t, c.State().LastSent)
}

func TestPoll_TurnsOff(t *testing.T) {
	cm := 10.0
	var mu sync.Mutex
	s := sensor.Func(func(ctx context.Context) float64 {
		mu.Lock()
		defer mu.Unlock()
		return cm
	})
	act := &recordingActuator{}
	c := NewController([]sensor.DistanceSensor{s}, act, DefaultConfig())

	c.Poll(context.Background())
	mu.Lock()
	cm = 200
	mu.Unlock()
	c.Poll(context.Background())
	c.Poll(context.Background())

	assert.Equal(t, []bool{true, false}, act.Calls())
}

func TestRun_StopsOnCancel(t *testing.T) {
	act := &recordingActuator{}
	c := NewController(fixed(10), act, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, func() time.Duration { return 5 * time.Millisecond }) }()

	require.Eventually(t, func() bool { return len(act.Calls()) == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestOff(t *testing.T) {
	act := &recordingActuator{}
	c := NewController(fixed(10), act, DefaultConfig())

	require.NoError(t, c.Off(context.Background()))
	assert.Empty(t, act.Calls(), "already off")

	c.Poll(context.Background())
	require.NoError(t, c.Off(context.Background()))
	assert.Equal(t, []bool{true, false}, act.Calls())
}

func TestHTTPActuator(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
	}))
	defer srv.Close()

	a := NewHTTPActuator(srv.URL+"/vibrate", time.Second)
	require.NoError(t, a.Set(context.Background(), true))
	require.NoError(t, a.Set(context.Background(), false))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"on", "off"}, bodies)
}

func TestHTTPActuator_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewHTTPActuator(srv.URL, time.Second)
	assert.Error(t, a.Set(context.Background(), true))
}

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeClient struct {
	mqtt.Client
	open      bool
	published []string
	retained  bool
	err       error
}

func (c *fakeClient) IsConnectionOpen() bool { return c.open }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, topic+"="+payload.(string))
	c.retained = retained
	return &fakeToken{err: c.err}
}

func TestMQTTActuator(t *testing.T) {
	client := &fakeClient{open: true}
	a := NewMQTTActuator(client, "wayfinder/vibrate", 1, time.Second)

	require.NoError(t, a.Set(context.Background(), true))
	assert.Equal(t, []string{"wayfinder/vibrate=on"}, client.published)
	assert.True(t, client.retained)

	client.err = errors.New("broker rejected")
	assert.Error(t, a.Set(context.Background(), false))

	client.open = false
	assert.ErrorIs(t, a.Set(context.Background(), false), ErrNotConnected)
}

func TestPoll_OnChangeHook(t *testing.T) {
	act := &recordingActuator{}
	var changes []bool
	var last []float64
	cfg := DefaultConfig()
	cfg.OnChange = func(on bool, readings []float64) {
		changes = append(changes, on)
		last = readings
	}
	c := NewController(fixed(30, 90), act, cfg)

	c.Poll(context.Background())
	c.Poll(context.Background())
	assert.Equal(t, []bool{true}, changes)
	assert.Equal(t, []float64{30, 90}, last)

	act.err = errors.New("unreachable")
	c = NewController(fixed(30, 90), act, cfg)
	c.Poll(context.Background())
	assert.Equal(t, []bool{true}, changes, "failed sends are not reported")
}

type blockingActuator struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingActuator) Set(ctx context.Context, on bool) error {
	b.entered <- struct{}{}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestState_NotBlockedBySlowActuator(t *testing.T) {
	act := &blockingActuator{entered: make(chan struct{}, 1), release: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.Timeout = 5 * time.Second
	c := NewController(fixed(20), act, cfg)

	done := make(chan bool, 1)
	go func() { done <- c.Poll(context.Background()) }()
	<-act.entered

	got := make(chan State, 1)
	go func() { got <- c.State() }()
	select {
	case st := <-got:
		assert.True(t, st.InFlight)
		assert.True(t, st.Desired)
		assert.False(t, st.LastSent)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("State blocked behind the actuator call")
	}

	close(act.release)
	assert.True(t, <-done)
	st := c.State()
	assert.False(t, st.InFlight)
	assert.True(t, st.LastSent)
	assert.Equal(t, 1, st.Sends)
}
