// Package navigation resolves spoken destinations to coordinates and walks
// the wearer through a foot route one instruction at a time.
//
// Routing and geocoding are external services; this package only holds thin
// clients for them plus the step-following loop.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Sentinel errors.
var (
	ErrNoFix          = errors.New("navigation: no GPS fix")
	ErrNotFound       = errors.New("navigation: destination not found")
	ErrNoRoute        = errors.New("navigation: no route")
	ErrEmptyQuery     = errors.New("navigation: empty destination")
	ErrNoGazetteer    = errors.New("navigation: gazetteer not loaded")
	ErrMissingAPIKey  = errors.New("navigation: geocoder API key not set")
	ErrAlreadyRouting = errors.New("navigation: route already in progress")
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// IsZero reports whether p is the zero value.
func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lon == 0
}

const earthRadiusM = 6371000.0

// Distance returns the great-circle distance between a and b in metres.
func Distance(a, b Point) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := rad(b.Lat - a.Lat)
	dLon := rad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Fix is one GPS reading.
type Fix struct {
	Point
	Address string `json:"address,omitempty"`
}

// Locator returns the wearer's current position.
type Locator interface {
	Locate(ctx context.Context) (Fix, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (Fix, error)

// Locate implements Locator.
func (f LocatorFunc) Locate(ctx context.Context) (Fix, error) { return f(ctx) }

// Geocoder turns a free-text place into a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (Point, error)
}

// Router plans a route between two points.
type Router interface {
	Route(ctx context.Context, from, to Point) (*Route, error)
}

// Speaker is the spoken-feedback sink.
type Speaker interface {
	Speak(text string) bool
}
