package navigation

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Place is one gazetteer row.
type Place struct {
	Name string
	Point
}

// Gazetteer is an offline list of named places matched fuzzily.
type Gazetteer struct {
	places []Place
	cutoff float64
}

// LoadGazetteer reads a CSV with a header containing name, latitude and
// longitude columns. A missing file yields an empty gazetteer.
func LoadGazetteer(path string, cutoff float64) (*Gazetteer, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Gazetteer{cutoff: cutoff}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("navigation: open gazetteer: %w", err)
	}
	defer f.Close()
	return ParseGazetteer(f, cutoff)
}

// ParseGazetteer reads gazetteer CSV from r. Rows with unparsable
// coordinates are skipped.
func ParseGazetteer(r io.Reader, cutoff float64) (*Gazetteer, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return &Gazetteer{cutoff: cutoff}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("navigation: read gazetteer header: %w", err)
	}

	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	ni, okN := col["name"]
	li, okL := col["latitude"]
	oi, okO := col["longitude"]
	if !okN || !okL || !okO {
		return nil, fmt.Errorf("navigation: gazetteer header must contain name, latitude, longitude")
	}

	g := &Gazetteer{cutoff: cutoff}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("navigation: read gazetteer: %w", err)
		}
		if len(rec) <= max(ni, li, oi) {
			continue
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(rec[li]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(rec[oi]), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		g.places = append(g.places, Place{
			Name:  strings.TrimSpace(rec[ni]),
			Point: Point{Lat: lat, Lon: lon},
		})
	}
	return g, nil
}

// Len returns the number of places.
func (g *Gazetteer) Len() int { return len(g.places) }

// Similarity is 1 - edit distance / longer length, in [0, 1].
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// Match returns the closest place at or above the cutoff.
func (g *Gazetteer) Match(name string) (Place, float64, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Place{}, 0, false
	}

	var (
		best  Place
		score = -1.0
	)
	for _, p := range g.places {
		s := Similarity(name, strings.ToLower(p.Name))
		if s > score {
			best, score = p, s
		}
	}
	if score < g.cutoff {
		return Place{}, score, false
	}
	return best, score, true
}

// Geocode implements Geocoder.
func (g *Gazetteer) Geocode(ctx context.Context, query string) (Point, error) {
	if len(g.places) == 0 {
		return Point{}, ErrNoGazetteer
	}
	p, _, ok := g.Match(query)
	if !ok {
		return Point{}, fmt.Errorf("%w: %q", ErrNotFound, query)
	}
	return p.Point, nil
}

var _ Geocoder = (*Gazetteer)(nil)
