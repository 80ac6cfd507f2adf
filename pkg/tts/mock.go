package tts

import (
	"context"
	"sync"
	"time"
)

// Mock is an in-memory Provider and Sink for tests. By default it returns
// 20ms of 16kHz silence per character; set Err to make every call fail.
type Mock struct {
	Err error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall is one recorded call.
type MockCall struct {
	Method string
	Text   string
	Time   time.Time
}

// NewMock creates a succeeding Mock.
func NewMock() *Mock { return &Mock{} }

// WithError creates a Mock whose every call returns err.
func WithError(err error) *Mock { return &Mock{Err: err} }

// Synthesize implements Provider.
func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.record("Synthesize", text)
	if m.Err != nil {
		return nil, m.Err
	}
	return &AudioResult{
		Audio:     make([]byte, len(text)*640),
		Format:    AudioFormat{Encoding: EncodingPCM16, SampleRate: 16000, Channels: 1},
		CharCount: len(text),
	}, nil
}

// Play implements Sink.
func (m *Mock) Play(ctx context.Context, audio *AudioResult) error {
	m.record("Play", "")
	return m.Err
}

// Health implements Provider.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health", "")
	return m.Err
}

// Close implements Provider.
func (m *Mock) Close() error {
	m.record("Close", "")
	return nil
}

func (m *Mock) record(method, text string) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: method, Text: text, Time: time.Now()})
	m.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount counts recorded calls to method.
func (m *Mock) CallCount(method string) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

var (
	_ Provider = (*Mock)(nil)
	_ Sink     = (*Mock)(nil)
)
