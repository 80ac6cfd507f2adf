// Package command turns button codes and recognized speech into intents
// and dispatches them to handlers, debounced per input source.
package command

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Intent is what the wearer asked for.
type Intent int

const (
	IntentNone Intent = iota
	IntentRoute
	IntentSaveLocation
	IntentSetEmergency
	IntentIncreaseThreshold
	IntentDecreaseThreshold
	IntentToggleHalt
	IntentHalt
	IntentResume
	IntentEmergencyAlert
	IntentUnknown
)

var intentNames = map[Intent]string{
	IntentNone:              "none",
	IntentRoute:             "route",
	IntentSaveLocation:      "save_location",
	IntentSetEmergency:      "set_emergency",
	IntentIncreaseThreshold: "increase_threshold",
	IntentDecreaseThreshold: "decrease_threshold",
	IntentToggleHalt:        "toggle_halt",
	IntentHalt:              "halt",
	IntentResume:            "resume",
	IntentEmergencyAlert:    "emergency_alert",
	IntentUnknown:           "unknown",
}

func (i Intent) String() string {
	if s, ok := intentNames[i]; ok {
		return s
	}
	return "invalid"
}

// MarshalText implements encoding.TextMarshaler.
func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// Button codes sent by the ESP32 as 4-bit strings.
var buttonCodes = map[string]Intent{
	"0001": IntentRoute,
	"0010": IntentSaveLocation,
	"0011": IntentSetEmergency,
	"0100": IntentIncreaseThreshold,
	"0101": IntentDecreaseThreshold,
	"0110": IntentToggleHalt,
	"0111": IntentEmergencyAlert,
}

// ParseCode maps a button code to its intent. "0000" and unknown codes
// map to IntentNone.
func ParseCode(code string) Intent {
	return buttonCodes[strings.TrimSpace(code)]
}

// Input sources.
const (
	SourceButtons = "buttons"
	SourceVoice   = "voice"
	SourceAPI     = "api"
)

// Command is one request from an input source.
type Command struct {
	ID     string    `json:"id"`
	Source string    `json:"source"`
	Code   string    `json:"code"`
	Text   string    `json:"text,omitempty"`
	Intent Intent    `json:"intent"`
	At     time.Time `json:"at"`
}

// FromCode builds a command from a button code. ok is false for codes
// that mean nothing.
func FromCode(source, code string) (cmd Command, ok bool) {
	code = strings.TrimSpace(code)
	intent := ParseCode(code)
	if intent == IntentNone {
		return Command{}, false
	}
	return Command{
		ID:     uuid.NewString(),
		Source: source,
		Code:   code,
		Intent: intent,
		At:     time.Now(),
	}, true
}

// FromText builds a command from recognized speech. Unrecognized text
// yields IntentUnknown so the wearer hears a reply.
func FromText(source, text string) Command {
	intent := Classify(text)
	return Command{
		ID:     uuid.NewString(),
		Source: source,
		Code:   intent.String(),
		Text:   text,
		Intent: intent,
		At:     time.Now(),
	}
}
