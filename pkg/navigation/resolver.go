package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-wayfinder/pkg/store"
)

// Resolver tries each destination source in order: saved places, then
// online geocoding, then the offline gazetteer.
type Resolver struct {
	saved   store.LocationStore
	sources []namedGeocoder
	logger  *slog.Logger
}

type namedGeocoder struct {
	name string
	Geocoder
}

// NewResolver builds a resolver. Any argument may be nil.
func NewResolver(saved store.LocationStore, online, offline Geocoder, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{saved: saved, logger: logger.With("component", "navigation.resolver")}
	if online != nil {
		r.sources = append(r.sources, namedGeocoder{"online", online})
	}
	if offline != nil {
		r.sources = append(r.sources, namedGeocoder{"offline", offline})
	}
	return r
}

// Resolve returns the coordinates for a spoken destination.
func (r *Resolver) Resolve(ctx context.Context, dest string) (Point, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return Point{}, ErrEmptyQuery
	}

	if r.saved != nil {
		loc, err := r.saved.FindLocation(ctx, dest)
		if err == nil {
			r.logger.Debug("destination resolved", "source", "saved", "dest", dest)
			return Point{Lat: loc.Lat(), Lon: loc.Lon()}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("saved location lookup failed", "error", err)
		}
	}

	var errs []error
	for _, src := range r.sources {
		p, err := src.Geocode(ctx, dest)
		if err == nil {
			r.logger.Debug("destination resolved", "source", src.name, "dest", dest)
			return p, nil
		}
		if ctx.Err() != nil {
			return Point{}, ctx.Err()
		}
		r.logger.Debug("geocoder miss", "source", src.name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", src.name, err))
	}
	if len(errs) == 0 {
		return Point{}, fmt.Errorf("%w: %q", ErrNotFound, dest)
	}
	return Point{}, fmt.Errorf("%w: %q: %w", ErrNotFound, dest, errors.Join(errs...))
}

// Geocode lets a Resolver stand in wherever a Geocoder is expected.
func (r *Resolver) Geocode(ctx context.Context, query string) (Point, error) {
	return r.Resolve(ctx, query)
}

var _ Geocoder = (*Resolver)(nil)
