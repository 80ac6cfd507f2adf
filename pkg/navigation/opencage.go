package navigation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-wayfinder/internal/httpc"
)

// OpenCage is a forward geocoder backed by the OpenCage API.
type OpenCage struct {
	baseURL     string
	apiKey      string
	countryCode string
	timeout     time.Duration
	client      *http.Client
}

// NewOpenCage returns a geocoder limited to countryCode (may be empty).
func NewOpenCage(baseURL, apiKey, countryCode string, timeout time.Duration) *OpenCage {
	return &OpenCage{
		baseURL:     baseURL,
		apiKey:      apiKey,
		countryCode: countryCode,
		timeout:     timeout,
		client:      httpc.NewClient(timeout),
	}
}

// Geocode implements Geocoder.
func (o *OpenCage) Geocode(ctx context.Context, query string) (Point, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Point{}, ErrEmptyQuery
	}
	if o.apiKey == "" {
		return Point{}, ErrMissingAPIKey
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("key", o.apiKey)
	q.Set("limit", "1")
	q.Set("language", "en")
	if o.countryCode != "" {
		q.Set("countrycode", o.countryCode)
	}

	var out struct {
		Results []struct {
			Geometry struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"geometry"`
		} `json:"results"`
	}
	if err := httpc.GetJSON(ctx, o.client, o.baseURL+"?"+q.Encode(), o.timeout, &out); err != nil {
		var se *httpc.StatusError
		if errors.As(err, &se) {
			return Point{}, &StatusError{Service: "opencage", StatusCode: se.StatusCode, Message: se.Body}
		}
		return Point{}, fmt.Errorf("navigation: geocode %q: %w", query, err)
	}
	if len(out.Results) == 0 {
		return Point{}, fmt.Errorf("%w: %q", ErrNotFound, query)
	}
	g := out.Results[0].Geometry
	return Point{Lat: g.Lat, Lon: g.Lng}, nil
}

var _ Geocoder = (*OpenCage)(nil)
