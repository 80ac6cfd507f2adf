package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Spoken feedback.
const (
	MsgNoGPS        = "GPS is currently unavailable."
	MsgLocated      = "Location found."
	MsgUnclear      = "Destination unclear."
	MsgNotFound     = "Destination not found."
	MsgWaitingGPS   = "Waiting for GPS."
	MsgRouteFailed  = "Routing failed."
	MsgArrived      = "You have arrived."
	MsgBusy         = "A route is already in progress."
	maxDestSpoken   = 20
	maxStepSpoken   = 50
	routingTemplate = "Routing to %s."
)

// NavigatorConfig tunes step following.
type NavigatorConfig struct {
	ArrivalRadiusM float64
	StepInterval   time.Duration
	Logger         *slog.Logger
}

// Progress describes the route being followed.
type Progress struct {
	Active      bool   `json:"active"`
	Destination string `json:"destination,omitempty"`
	Step        int    `json:"step"`
	Steps       int    `json:"steps"`
	Next        string `json:"next,omitempty"`
	DistanceM   int    `json:"distance_m,omitempty"`
}

// Navigator drives one route at a time.
type Navigator struct {
	locator  Locator
	resolver Geocoder
	router   Router
	speaker  Speaker
	cfg      NavigatorConfig
	logger   *slog.Logger

	mu       sync.Mutex
	progress Progress
}

// NewNavigator wires the collaborators together.
func NewNavigator(locator Locator, resolver Geocoder, router Router, speaker Speaker, cfg NavigatorConfig) *Navigator {
	if cfg.ArrivalRadiusM <= 0 {
		cfg.ArrivalRadiusM = 10
	}
	if cfg.StepInterval <= 0 {
		cfg.StepInterval = 3 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Navigator{
		locator:  locator,
		resolver: resolver,
		router:   router,
		speaker:  speaker,
		cfg:      cfg,
		logger:   logger.With("component", "navigation"),
	}
}

// Progress returns a snapshot of the active route.
func (n *Navigator) Progress() Progress {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.progress
}

// Navigate resolves dest, plans a route from the current fix and speaks each
// instruction as the wearer comes within the arrival radius of it. It
// blocks until arrival, failure or ctx cancellation. Failures are spoken.
func (n *Navigator) Navigate(ctx context.Context, dest string) error {
	n.mu.Lock()
	if n.progress.Active {
		n.mu.Unlock()
		n.speaker.Speak(MsgBusy)
		return ErrAlreadyRouting
	}
	n.progress = Progress{Active: true, Destination: dest}
	n.mu.Unlock()
	defer n.finish()

	fix, err := n.locator.Locate(ctx)
	if err != nil {
		n.logger.Warn("no GPS fix", "error", err)
		n.speaker.Speak(MsgNoGPS)
		return fmt.Errorf("%w: %w", ErrNoFix, err)
	}
	n.speaker.Speak(MsgLocated)

	if dest == "" {
		n.speaker.Speak(MsgUnclear)
		return ErrEmptyQuery
	}
	n.speaker.Speak(fmt.Sprintf(routingTemplate, truncate(dest, maxDestSpoken)))

	to, err := n.resolver.Geocode(ctx, dest)
	if err != nil {
		n.logger.Info("destination not resolved", "dest", dest, "error", err)
		n.speaker.Speak(MsgNotFound)
		return err
	}

	route, err := n.router.Route(ctx, fix.Point, to)
	if err == nil && len(route.Instructions) == 0 {
		err = ErrNoRoute
	}
	if err != nil {
		n.logger.Error("route request failed", "error", err)
		n.speaker.Speak(MsgRouteFailed)
		return err
	}

	n.mu.Lock()
	n.progress.Steps = len(route.Instructions)
	n.progress.Next = route.Instructions[0].Text
	n.mu.Unlock()
	n.logger.Info("route started", "dest", dest, "steps", len(route.Instructions))

	return n.follow(ctx, route)
}

func (n *Navigator) follow(ctx context.Context, route *Route) error {
	ticker := time.NewTicker(n.cfg.StepInterval)
	defer ticker.Stop()

	waiting := false
	idx := 0
	for idx < len(route.Instructions) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		fix, err := n.locator.Locate(ctx)
		if err != nil {
			if !waiting {
				n.speaker.Speak(MsgWaitingGPS)
				waiting = true
			}
			continue
		}
		waiting = false

		step := route.Instructions[idx]
		dist := Distance(fix.Point, step.At)
		if dist < n.cfg.ArrivalRadiusM {
			n.speaker.Speak(truncate(step.Text, maxStepSpoken))
			idx++
		} else {
			n.logger.Debug("approaching step", "step", idx+1, "distance_m", int(dist))
		}

		n.mu.Lock()
		n.progress.Step = idx
		n.progress.DistanceM = int(dist)
		if idx < len(route.Instructions) {
			n.progress.Next = route.Instructions[idx].Text
		}
		n.mu.Unlock()
	}

	n.speaker.Speak(MsgArrived)
	return nil
}

func (n *Navigator) finish() {
	n.mu.Lock()
	n.progress.Active = false
	n.mu.Unlock()
}

// IsRouting reports whether a route is in progress.
func (n *Navigator) IsRouting() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.progress.Active
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// IsUserError reports whether err is a spoken-to-the-user condition rather
// than an infrastructure fault.
func IsUserError(err error) bool {
	return errors.Is(err, ErrEmptyQuery) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyRouting) || errors.Is(err, ErrNoFix)
}
