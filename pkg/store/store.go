// Package store persists saved places and the emergency contact.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrNotFound  = errors.New("store: not found")
	ErrNoContact = errors.New("store: emergency contact not set")
)

// Location is a place the wearer saved.
type Location struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Coordinates [2]float64 `json:"coordinates"` // lat, lon
	Address     string     `json:"address"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
}

// Lat returns the latitude.
func (l Location) Lat() float64 { return l.Coordinates[0] }

// Lon returns the longitude.
func (l Location) Lon() float64 { return l.Coordinates[1] }

// DefaultName is the name given to the n-th saved location (1-based).
func DefaultName(n int) string {
	return fmt.Sprintf("Location %d", n)
}

// LocationStore is an ordered list of saved places.
type LocationStore interface {
	// Locations returns saved places in the order they were added.
	Locations(ctx context.Context) ([]Location, error)

	// AddLocation appends loc. An empty name becomes "Location N" where N
	// is the new list length. The stored record is returned.
	AddLocation(ctx context.Context, loc Location) (Location, error)

	// FindLocation looks a place up by name, ignoring case.
	FindLocation(ctx context.Context, name string) (Location, error)
}

// ContactStore holds the single emergency phone number.
type ContactStore interface {
	Contact(ctx context.Context) (string, error)
	SetContact(ctx context.Context, number string) error
}

// Store is both stores plus lifecycle.
type Store interface {
	LocationStore
	ContactStore
	Close() error
}
