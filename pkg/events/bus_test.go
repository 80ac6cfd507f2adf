package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-wayfinder/pkg/protocol"
)

func recv(t *testing.T, ch <-chan *protocol.Message) *protocol.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBus_Routing(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	speech := b.Subscribe(protocol.TypeSpeech)
	multi := b.Subscribe(protocol.TypeHaptic, protocol.TypeAlert)
	all := b.Subscribe()

	b.Publish(protocol.TypeSpeech, protocol.SpeechData{Text: "Left: car"})
	b.Publish(protocol.TypeAlert, protocol.AlertData{Kind: protocol.AlertCrowd})

	m := recv(t, speech)
	assert.Equal(t, protocol.TypeSpeech, m.Type)
	var sd protocol.SpeechData
	require.NoError(t, m.ParseData(&sd))
	assert.Equal(t, "Left: car", sd.Text)

	assert.Equal(t, protocol.TypeAlert, recv(t, multi).Type)
	assert.Equal(t, protocol.TypeSpeech, recv(t, all).Type)
	assert.Equal(t, protocol.TypeAlert, recv(t, all).Type)

	select {
	case m := <-speech:
		t.Fatalf("speech subscriber got unexpected %s", m.Type)
	default:
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()
	_ = b.Subscribe(protocol.TypePower) // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < DefaultBuffer*3; i++ {
			b.Publish(protocol.TypePower, protocol.PowerData{State: "normal"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.Equal(t, uint64(DefaultBuffer*2), b.Dropped())
}

func TestBus_Close(t *testing.T) {
	b := NewBus(nil)
	ch := b.Subscribe(protocol.TypeHaptic, protocol.TypeSpeech)
	b.Close()
	b.Close()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")

	// Publishing and subscribing after close are harmless.
	b.Publish(protocol.TypeHaptic, protocol.HapticData{On: true})
	_, ok = <-b.Subscribe()
	assert.False(t, ok)
}
