package wayfinder

import (
	"sync"
	"sync/atomic"
)

// Halter is anything that must follow the global halt flag.
type Halter interface {
	SetHalted(halted bool)
}

// State is the process-wide mutable state the tasks share. Each field has
// its own guard.
type State struct {
	halted   atomic.Bool
	notifyMu sync.Mutex
	halters  []Halter

	frameMu sync.RWMutex
	frame   []byte
}

// NewState creates State. halters follow every SetHalted call.
func NewState(halters ...Halter) *State {
	return &State{halters: halters}
}

// SetHalted sets the global halt flag.
func (s *State) SetHalted(halted bool) {
	s.halted.Store(halted)
	s.notify()
}

// ToggleHalted flips the global halt flag and returns the new value.
// Concurrent toggles each flip it exactly once.
func (s *State) ToggleHalted() bool {
	for {
		old := s.halted.Load()
		if s.halted.CompareAndSwap(old, !old) {
			s.notify()
			return !old
		}
	}
}

// notify pushes the current flag to the halters. Reading it under the
// lock leaves every halter on the final value after concurrent writes.
func (s *State) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	halted := s.halted.Load()
	for _, h := range s.halters {
		h.SetHalted(halted)
	}
}

// Halted reports the global halt flag.
func (s *State) Halted() bool {
	return s.halted.Load()
}

// SetFrame stores the latest annotated frame.
func (s *State) SetFrame(jpeg []byte) {
	s.frameMu.Lock()
	s.frame = jpeg
	s.frameMu.Unlock()
}

// Frame returns the latest annotated frame, or nil.
func (s *State) Frame() []byte {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.frame
}
