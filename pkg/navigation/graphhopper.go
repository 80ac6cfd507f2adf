package navigation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/teslashibe/go-wayfinder/internal/httpc"
)

// Instruction is one turn-by-turn step.
type Instruction struct {
	Text     string  `json:"text"`
	Distance float64 `json:"distance"`
	At       Point   `json:"at"`
}

// Route is an ordered list of instructions.
type Route struct {
	Distance     float64       `json:"distance"`
	Instructions []Instruction `json:"instructions"`
}

// StatusError is returned when the routing or geocoding service answers
// with a non-2xx status.
type StatusError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("navigation: %s returned %d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("navigation: %s returned %d", e.Service, e.StatusCode)
}

// GraphHopper is a client for a self-hosted GraphHopper /route endpoint.
type GraphHopper struct {
	baseURL string
	vehicle string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewGraphHopper returns a routing client. vehicle defaults to "foot".
func NewGraphHopper(baseURL, vehicle string, timeout time.Duration, logger *slog.Logger) *GraphHopper {
	if vehicle == "" {
		vehicle = "foot"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphHopper{
		baseURL: baseURL,
		vehicle: vehicle,
		timeout: timeout,
		client:  httpc.NewClient(timeout),
		logger:  logger.With("component", "navigation.graphhopper"),
	}
}

type ghResponse struct {
	Message string `json:"message"`
	Paths   []struct {
		Distance float64 `json:"distance"`
		Points   struct {
			Coordinates [][]float64 `json:"coordinates"` // [lon, lat(, ele)]
		} `json:"points"`
		Instructions []struct {
			Text     string  `json:"text"`
			Distance float64 `json:"distance"`
			Interval []int   `json:"interval"`
			Points   *struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"points,omitempty"`
		} `json:"instructions"`
	} `json:"paths"`
}

// Route implements Router.
func (g *GraphHopper) Route(ctx context.Context, from, to Point) (*Route, error) {
	q := url.Values{}
	q.Add("point", from.String())
	q.Add("point", to.String())
	q.Set("vehicle", g.vehicle)
	q.Set("locale", "en")
	q.Set("instructions", "true")
	q.Set("points_encoded", "false")

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("navigation: build route request: %w", err)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("navigation: route request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("navigation: read route: %w", err)
	}

	var gh ghResponse
	decodeErr := json.Unmarshal(body, &gh)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Service: "graphhopper", StatusCode: resp.StatusCode, Message: gh.Message}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("navigation: decode route: %w", decodeErr)
	}
	if len(gh.Paths) == 0 {
		return nil, ErrNoRoute
	}

	path := gh.Paths[0]
	route := &Route{Distance: path.Distance}
	for _, in := range path.Instructions {
		step := Instruction{Text: in.Text, Distance: in.Distance}
		switch {
		case in.Points != nil && len(in.Points.Coordinates) > 0:
			step.At = lonLat(in.Points.Coordinates[0])
		case len(in.Interval) > 0 && in.Interval[0] < len(path.Points.Coordinates):
			step.At = lonLat(path.Points.Coordinates[in.Interval[0]])
		default:
			continue
		}
		route.Instructions = append(route.Instructions, step)
	}
	if len(route.Instructions) == 0 {
		return nil, ErrNoRoute
	}

	g.logger.Debug("route planned",
		"steps", len(route.Instructions),
		"distance_m", int(route.Distance),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return route, nil
}

func lonLat(c []float64) Point {
	if len(c) < 2 {
		return Point{}
	}
	return Point{Lat: c[1], Lon: c[0]}
}

var _ Router = (*GraphHopper)(nil)
