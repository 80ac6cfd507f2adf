// Package haptic drives the wearable's vibration motor from the distance
// sensors. A command is sent only when the desired state changes.
package haptic

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/sensor"
)

// Actuator switches the vibration motor.
type Actuator interface {
	Set(ctx context.Context, on bool) error
}

// Config configures a Controller.
type Config struct {
	// SensorCount limits polling to the first N sensors.
	SensorCount int
	ThresholdCM float64
	Timeout     time.Duration
	// OnChange is called after each acknowledged state change, with the
	// readings that caused it. It may call State but not Poll or Off.
	OnChange func(on bool, readings []float64)
	Logger   *slog.Logger
}

// DefaultConfig polls two sensors with a 50cm threshold.
func DefaultConfig() Config {
	return Config{
		SensorCount: 2,
		ThresholdCM: 50,
		Timeout:     1500 * time.Millisecond,
	}
}

// State is the controller's view of the motor.
type State struct {
	Desired  bool      `json:"desired"`
	LastSent bool      `json:"last_sent"`
	Sends    int       `json:"sends"`
	Failures int       `json:"failures"`
	InFlight bool      `json:"in_flight"`
	LastPoll time.Time `json:"last_poll"`
}

// Controller polls sensors and gates actuator commands on state change.
type Controller struct {
	sensors  []sensor.DistanceSensor
	actuator Actuator
	cfg      Config
	logger   *slog.Logger

	// sendMu keeps one actuator command in flight. mu guards state and is
	// never held across a send.
	sendMu sync.Mutex
	mu     sync.Mutex
	state  State
}

// NewController creates a Controller. The motor is assumed off at start.
func NewController(sensors []sensor.DistanceSensor, actuator Actuator, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.SensorCount <= 0 || cfg.SensorCount > len(sensors) {
		cfg.SensorCount = min(def.SensorCount, len(sensors))
	}
	if cfg.ThresholdCM <= 0 {
		cfg.ThresholdCM = def.ThresholdCM
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		sensors:  sensors,
		actuator: actuator,
		cfg:      cfg,
		logger:   logger.With("component", "haptic"),
	}
}

// Desired computes the motor state for a set of readings: on when any
// valid reading is closer than the threshold.
func Desired(readings []float64, thresholdCM float64) bool {
	for _, cm := range readings {
		if sensor.IsValid(cm) && cm < thresholdCM {
			return true
		}
	}
	return false
}

// Poll reads the sensors once and sends a command if the desired state
// differs from what was last sent successfully. It returns whether a
// command was sent.
func (c *Controller) Poll(ctx context.Context) bool {
	readings := make([]float64, c.cfg.SensorCount)
	for i := range readings {
		readings[i] = c.sensors[i].ReadCM(ctx)
	}
	desired := Desired(readings, c.cfg.ThresholdCM)

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	c.state.Desired = desired
	c.state.LastPoll = time.Now()
	if desired == c.state.LastSent {
		c.mu.Unlock()
		return false
	}
	c.state.InFlight = true
	c.mu.Unlock()

	err := c.send(ctx, desired)

	c.mu.Lock()
	c.state.InFlight = false
	if err != nil {
		c.state.Failures++
	} else {
		c.state.LastSent = desired
		c.state.Sends++
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("vibration command failed", "on", desired, "error", err)
		return false
	}
	c.logger.Info("vibration", "on", desired, "readings", readings)
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(desired, readings)
	}
	return true
}

func (c *Controller) send(ctx context.Context, on bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.actuator.Set(ctx, on)
}

// Run polls until ctx is done, sleeping interval() between polls.
func (c *Controller) Run(ctx context.Context, interval func() time.Duration) error {
	for {
		c.Poll(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval()):
		}
	}
}

// Off switches the motor off if it was left on.
func (c *Controller) Off(ctx context.Context) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	on := c.state.LastSent
	c.mu.Unlock()
	if !on {
		return nil
	}

	if err := c.send(ctx, false); err != nil {
		return err
	}
	c.mu.Lock()
	c.state.LastSent = false
	c.mu.Unlock()
	return nil
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
