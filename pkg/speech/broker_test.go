package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	texts []string
	block chan struct{}
	err   error
}

func (r *recorder) Speak(ctx context.Context, text string) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return r.err
}

func (r *recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func TestBroker_SpeaksInOrder(t *testing.T) {
	rec := &recorder{}
	b := New(rec, DefaultConfig())

	assert.True(t, b.Speak("one"))
	assert.True(t, b.Speak("two"))
	assert.True(t, b.Speak("three"))

	require.NoError(t, b.Stop(time.Second))
	assert.Equal(t, []string{"one", "two", "three"}, rec.Texts())
	assert.Equal(t, int64(3), b.Stats().Spoken)
}

func TestBroker_FullQueueDropsWithoutBlocking(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	b := New(rec, Config{QueueSize: 2})
	defer b.Stop(100 * time.Millisecond)

	// First message is taken by the worker and blocks inside the synthesizer.
	require.True(t, b.Speak("busy"))
	require.Eventually(t, func() bool { return b.Stats().Pending == 0 }, time.Second, time.Millisecond)

	assert.True(t, b.Speak("a"))
	assert.True(t, b.Speak("b"))

	start := time.Now()
	assert.False(t, b.Speak("c"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	st := b.Stats()
	assert.Equal(t, 2, st.Pending, "queue size unchanged by the dropped message")
	assert.Equal(t, int64(1), st.Dropped)

	close(rec.block)
}

func TestBroker_HaltGate(t *testing.T) {
	rec := &recorder{}
	b := New(rec, DefaultConfig())

	b.SetHalted(true)
	assert.True(t, b.Halted())
	assert.False(t, b.Speak("suppressed"))
	assert.True(t, b.SpeakPriority("announcements halted"))

	b.SetHalted(false)
	assert.True(t, b.Speak("back"))

	require.NoError(t, b.Stop(time.Second))
	assert.Equal(t, []string{"announcements halted", "back"}, rec.Texts())
	assert.Equal(t, int64(1), b.Stats().Suppressed)
}

func TestBroker_FailureDoesNotStopWorker(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	b := New(SynthesizerFunc(func(ctx context.Context, text string) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if text == "bad" {
			return errors.New("device busy")
		}
		return nil
	}), DefaultConfig())

	b.Speak("bad")
	b.Speak("good")
	require.NoError(t, b.Stop(time.Second))

	st := b.Stats()
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, int64(1), st.Spoken)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestBroker_StopIsBoundedAndIdempotent(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	b := New(rec, DefaultConfig())
	b.Speak("stuck")
	require.Eventually(t, func() bool { return b.Stats().Pending == 0 }, time.Second, time.Millisecond)

	start := time.Now()
	err := b.Stop(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// The in-flight utterance is cancelled, so the worker exits.
	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after cancel")
	}

	assert.ErrorIs(t, b.Stop(time.Second), ErrStopTimeout)
	assert.False(t, b.Speak("after stop"))
}

func TestBroker_EmptyTextIgnored(t *testing.T) {
	b := New(&recorder{}, DefaultConfig())
	defer b.Stop(time.Second)
	assert.False(t, b.Speak(""))
	assert.Equal(t, int64(0), b.Stats().Queued)
}
