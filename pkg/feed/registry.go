package feed

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Options configures a source built through Open.
type Options struct {
	// Device is a camera index like "0" or a stream URL.
	Device         string
	ModelPath      string
	ScoreThreshold float64
	Annotate       bool
	Interval       func() time.Duration
	Logger         *slog.Logger
}

// Factory builds a Source for a registered mode.
type Factory func(Options) (Source, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a source mode available to Open. Packages that need
// native libraries register themselves from init so that importing feed
// never pulls them in. Registering a mode twice panics.
func Register(mode string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		panic("feed: Register factory is nil")
	}
	if _, dup := factories[mode]; dup {
		panic("feed: Register called twice for mode " + mode)
	}
	factories[mode] = f
}

// Open builds a source for mode. The returned Source may also implement
// io.Closer.
func Open(mode string, opts Options) (Source, error) {
	factoriesMu.RLock()
	f, ok := factories[mode]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("feed: unknown mode %q (forgotten import?)", mode)
	}
	return f(opts)
}

// Modes lists the registered modes.
func Modes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for m := range factories {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
