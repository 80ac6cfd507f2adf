// Package actions implements what each command intent does.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/command"
	"github.com/teslashibe/go-wayfinder/pkg/navigation"
	"github.com/teslashibe/go-wayfinder/pkg/protocol"
	"github.com/teslashibe/go-wayfinder/pkg/store"
	"github.com/teslashibe/go-wayfinder/pkg/telemetry"
)

// Spoken replies.
const (
	MsgRoutingStarted   = "Routing started."
	MsgWhereTo          = "Where would you like to go?"
	MsgSavingLocation   = "Saving current location."
	MsgSavedAs          = "Location saved as %s."
	MsgNoGPS            = "Failed to get GPS location."
	MsgSaveFailed       = "Failed to save location."
	MsgSettingContact   = "Setting emergency contact."
	MsgContactSet       = "Emergency number set to %s."
	MsgContactFailed    = "Failed to set emergency contact."
	MsgThresholdUp      = "Threshold increased to %.2f"
	MsgThresholdDown    = "Threshold decreased to %.2f"
	MsgHalted           = "Announcements halted."
	MsgResumed          = "Announcements resumed."
	MsgSendingAlert     = "Sending emergency alert."
	MsgNoContact        = "Emergency number not set."
	MsgAlertSent        = "Emergency message sent."
	MsgAlertFailed      = "Failed to send emergency message."
	MsgNotRecognized    = "Command not recognized."
	locateForAlertLimit = 2 * time.Second
)

// Speaker is the speech broker as seen by handlers.
type Speaker interface {
	Speak(text string) bool
	SpeakPriority(text string) bool
}

// Thresholds is the manual tuning surface of the adaptive threshold.
type Thresholds interface {
	Increase() float64
	Decrease() float64
}

// HaltSwitch is the shared announcement halt flag.
type HaltSwitch interface {
	SetHalted(halted bool)
	// ToggleHalted flips the flag atomically and returns the new value.
	ToggleHalted() bool
	Halted() bool
}

// Navigator starts a route.
type Navigator interface {
	Navigate(ctx context.Context, dest string) error
}

// Listener captures one spoken phrase, e.g. from a speech recognizer.
type Listener interface {
	Listen(ctx context.Context) (string, error)
}

// Alerter delivers an emergency alert.
type Alerter interface {
	SendAlert(ctx context.Context, alert telemetry.Alert) error
}

// Publisher receives events for dashboards and telemetry.
type Publisher interface {
	Publish(msgType protocol.MessageType, data any)
}

// Deps are the collaborators. Speaker, Thresholds and Halt are required;
// the rest may be nil and their actions degrade to a spoken failure.
type Deps struct {
	Speaker    Speaker
	Thresholds Thresholds
	Halt       HaltSwitch
	Navigator  Navigator
	Listener   Listener
	Locator    navigation.Locator
	Locations  store.LocationStore
	Contacts   store.ContactStore
	Alerter    Alerter
	Events     Publisher
}

// Config tunes the handlers.
type Config struct {
	// PredefinedContactPath holds the number installed by set-emergency.
	PredefinedContactPath string
	// DefaultContact is written to PredefinedContactPath when it is missing.
	DefaultContact string
	ListenTimeout  time.Duration
	Logger         *slog.Logger
}

// Handlers holds one method per intent.
type Handlers struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// New builds the handlers.
func New(deps Deps, cfg Config) *Handlers {
	if cfg.DefaultContact == "" {
		cfg.DefaultContact = "911"
	}
	if cfg.ListenTimeout <= 0 {
		cfg.ListenTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{deps: deps, cfg: cfg, logger: logger.With("component", "actions")}
}

// Register binds every intent to its handler.
func (h *Handlers) Register(d *command.Dispatcher) {
	d.Handle(command.IntentRoute, h.Route)
	d.Handle(command.IntentSaveLocation, h.SaveLocation)
	d.Handle(command.IntentSetEmergency, h.SetEmergency)
	d.Handle(command.IntentIncreaseThreshold, h.IncreaseThreshold)
	d.Handle(command.IntentDecreaseThreshold, h.DecreaseThreshold)
	d.Handle(command.IntentToggleHalt, h.ToggleHalt)
	d.Handle(command.IntentHalt, h.Halt)
	d.Handle(command.IntentResume, h.Resume)
	d.Handle(command.IntentEmergencyAlert, h.EmergencyAlert)
	d.Handle(command.IntentUnknown, h.Unknown)
}

// Route starts navigation. The destination comes from the spoken command,
// or is asked for when the command came from a button.
func (h *Handlers) Route(ctx context.Context, cmd command.Command) {
	h.deps.Speaker.Speak(MsgRoutingStarted)

	dest := command.Destination(cmd.Text)
	if dest == "" && h.deps.Listener != nil {
		h.deps.Speaker.Speak(MsgWhereTo)
		lctx, cancel := context.WithTimeout(ctx, h.cfg.ListenTimeout)
		text, err := h.deps.Listener.Listen(lctx)
		cancel()
		if err != nil {
			h.logger.Warn("listen failed", "error", err)
		}
		if d := command.Destination(text); d != "" {
			dest = d
		} else {
			dest = strings.TrimSpace(text)
		}
	}

	if h.deps.Navigator == nil {
		h.logger.Warn("routing requested but no navigator configured")
		h.deps.Speaker.Speak(navigation.MsgRouteFailed)
		return
	}
	if err := h.deps.Navigator.Navigate(ctx, dest); err != nil && !navigation.IsUserError(err) && ctx.Err() == nil {
		h.logger.Error("navigation failed", "dest", dest, "error", err)
	}
}

// SaveLocation stores the current GPS fix as "Location N".
func (h *Handlers) SaveLocation(ctx context.Context, cmd command.Command) {
	h.deps.Speaker.Speak(MsgSavingLocation)

	if h.deps.Locator == nil || h.deps.Locations == nil {
		h.deps.Speaker.Speak(MsgNoGPS)
		return
	}
	fix, err := h.deps.Locator.Locate(ctx)
	if err != nil {
		h.logger.Warn("no GPS fix for save", "error", err)
		h.deps.Speaker.Speak(MsgNoGPS)
		return
	}

	address := fix.Address
	if address == "" {
		address = "Unknown"
	}
	loc, err := h.deps.Locations.AddLocation(ctx, store.Location{
		Coordinates: [2]float64{fix.Lat, fix.Lon},
		Address:     address,
	})
	if err != nil {
		h.logger.Error("save location failed", "error", err)
		h.deps.Speaker.Speak(MsgSaveFailed)
		return
	}
	h.logger.Info("location saved", "name", loc.Name, "lat", fix.Lat, "lon", fix.Lon)
	h.deps.Speaker.Speak(fmt.Sprintf(MsgSavedAs, loc.Name))
}

// SetEmergency installs the predefined emergency number, creating the
// predefined file with the default number when it does not exist.
func (h *Handlers) SetEmergency(ctx context.Context, cmd command.Command) {
	h.deps.Speaker.Speak(MsgSettingContact)

	number, err := h.predefinedContact()
	if err == nil && h.deps.Contacts == nil {
		err = errors.New("no contact store configured")
	}
	if err == nil {
		err = h.deps.Contacts.SetContact(ctx, number)
	}
	if err != nil {
		h.logger.Error("set emergency contact failed", "error", err)
		h.deps.Speaker.Speak(MsgContactFailed)
		return
	}
	h.logger.Info("emergency contact set")
	h.deps.Speaker.Speak(fmt.Sprintf(MsgContactSet, number))
}

func (h *Handlers) predefinedContact() (string, error) {
	path := h.cfg.PredefinedContactPath
	if path == "" {
		return h.cfg.DefaultContact, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if werr := os.WriteFile(path, []byte(h.cfg.DefaultContact), 0o644); werr != nil {
			h.logger.Warn("could not create predefined contact file", "path", path, "error", werr)
		}
		return h.cfg.DefaultContact, nil
	}
	if err != nil {
		return "", fmt.Errorf("read predefined contact: %w", err)
	}
	number := strings.TrimSpace(string(data))
	if number == "" {
		return h.cfg.DefaultContact, nil
	}
	return number, nil
}

// IncreaseThreshold raises the base threshold one manual step.
func (h *Handlers) IncreaseThreshold(ctx context.Context, cmd command.Command) {
	v := h.deps.Thresholds.Increase()
	h.deps.Speaker.Speak(fmt.Sprintf(MsgThresholdUp, v))
}

// DecreaseThreshold lowers the base threshold one manual step.
func (h *Handlers) DecreaseThreshold(ctx context.Context, cmd command.Command) {
	v := h.deps.Thresholds.Decrease()
	h.deps.Speaker.Speak(fmt.Sprintf(MsgThresholdDown, v))
}

// ToggleHalt flips the announcement halt flag.
func (h *Handlers) ToggleHalt(ctx context.Context, cmd command.Command) {
	h.announceHalt(h.deps.Halt.ToggleHalted())
}

// Halt stops announcements.
func (h *Handlers) Halt(ctx context.Context, cmd command.Command) {
	h.setHalted(true)
}

// Resume restarts announcements.
func (h *Handlers) Resume(ctx context.Context, cmd command.Command) {
	h.setHalted(false)
}

func (h *Handlers) setHalted(halted bool) {
	h.deps.Halt.SetHalted(halted)
	h.announceHalt(halted)
}

func (h *Handlers) announceHalt(halted bool) {
	if halted {
		h.deps.Speaker.SpeakPriority(MsgHalted)
	} else {
		h.deps.Speaker.SpeakPriority(MsgResumed)
	}
	h.logger.Info("announcements toggled", "halted", halted)
}

// EmergencyAlert sends the emergency message to the stored contact.
func (h *Handlers) EmergencyAlert(ctx context.Context, cmd command.Command) {
	h.deps.Speaker.SpeakPriority(MsgSendingAlert)

	if h.deps.Contacts == nil {
		h.deps.Speaker.SpeakPriority(MsgNoContact)
		return
	}
	number, err := h.deps.Contacts.Contact(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNoContact) {
			h.logger.Error("read emergency contact failed", "error", err)
		}
		h.deps.Speaker.SpeakPriority(MsgNoContact)
		return
	}

	alert := telemetry.Alert{ID: cmd.ID, Number: number, Message: telemetry.DefaultAlertMessage}
	if h.deps.Locator != nil {
		lctx, cancel := context.WithTimeout(ctx, locateForAlertLimit)
		if fix, err := h.deps.Locator.Locate(lctx); err == nil {
			alert.Lat, alert.Lon = &fix.Lat, &fix.Lon
		}
		cancel()
	}

	if h.deps.Events != nil {
		h.deps.Events.Publish(protocol.TypeAlert, protocol.AlertData{
			Kind:    protocol.AlertEmergency,
			Message: alert.Message,
		})
	}

	if h.deps.Alerter == nil {
		h.logger.Error("emergency alert requested but no alert channel configured")
		h.deps.Speaker.SpeakPriority(MsgAlertFailed)
		return
	}
	if err := h.deps.Alerter.SendAlert(ctx, alert); err != nil {
		h.logger.Error("emergency alert failed", "error", err)
		h.deps.Speaker.SpeakPriority(MsgAlertFailed)
		return
	}
	h.deps.Speaker.SpeakPriority(MsgAlertSent)
}

// Unknown answers speech that matched no intent.
func (h *Handlers) Unknown(ctx context.Context, cmd command.Command) {
	h.logger.Debug("unrecognized command", "text", cmd.Text)
	h.deps.Speaker.Speak(MsgNotRecognized)
}
