package navigation

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/teslashibe/go-wayfinder/internal/httpc"
)

// HTTPLocator polls a GPS bridge that answers {"lat":..,"lon":..,"address":..}.
type HTTPLocator struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPLocator returns a locator reading url.
func NewHTTPLocator(url string, timeout time.Duration) *HTTPLocator {
	return &HTTPLocator{url: url, timeout: timeout, client: httpc.NewClient(timeout)}
}

// Locate implements Locator.
func (l *HTTPLocator) Locate(ctx context.Context) (Fix, error) {
	var body struct {
		Lat     *float64 `json:"lat"`
		Lon     *float64 `json:"lon"`
		Address string   `json:"address"`
	}
	if err := httpc.GetJSON(ctx, l.client, l.url, l.timeout, &body); err != nil {
		return Fix{}, fmt.Errorf("%w: %v", ErrNoFix, err)
	}
	if body.Lat == nil || body.Lon == nil {
		return Fix{}, ErrNoFix
	}
	return Fix{Point: Point{Lat: *body.Lat, Lon: *body.Lon}, Address: body.Address}, nil
}

// LatestLocator holds the most recent fix pushed by a device.
type LatestLocator struct {
	maxAge time.Duration

	mu  sync.RWMutex
	fix Fix
	at  time.Time
	now func() time.Time
}

// NewLatestLocator returns a locator whose fix goes stale after maxAge.
// A zero maxAge never expires.
func NewLatestLocator(maxAge time.Duration) *LatestLocator {
	return &LatestLocator{maxAge: maxAge, now: time.Now}
}

// Set records a fix.
func (l *LatestLocator) Set(fix Fix) {
	l.mu.Lock()
	l.fix = fix
	l.at = l.now()
	l.mu.Unlock()
}

// Locate implements Locator.
func (l *LatestLocator) Locate(ctx context.Context) (Fix, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.at.IsZero() {
		return Fix{}, ErrNoFix
	}
	if l.maxAge > 0 && l.now().Sub(l.at) > l.maxAge {
		return Fix{}, fmt.Errorf("%w: last fix %s old", ErrNoFix, l.now().Sub(l.at).Round(time.Second))
	}
	return l.fix, nil
}

var (
	_ Locator = (*HTTPLocator)(nil)
	_ Locator = (*LatestLocator)(nil)
)
