// Package protocol defines the JSON wire formats shared by the wearable's
// peripherals, the detector service and dashboard clients.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/detection"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Detector → wearable
	TypeDetections MessageType = "detections"

	// Wearable → dashboards / telemetry
	TypeSpeech  MessageType = "speech"  // utterance queued or dropped
	TypeHaptic  MessageType = "haptic"  // vibration state change
	TypeCommand MessageType = "command" // dispatched command
	TypePower   MessageType = "power"   // power state change
	TypeAlert   MessageType = "alert"   // crowd, inactivity, emergency
	TypeTask    MessageType = "task"    // supervised task lifecycle

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the envelope for every WebSocket and MQTT message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Detector → wearable
// =============================================================================

// DetectionsData is one frame's worth of detections.
type DetectionsData struct {
	FrameID    uint64                `json:"frame_id,omitempty"`
	Width      int                   `json:"width,omitempty"`
	Height     int                   `json:"height,omitempty"`
	Detections []detection.Detection `json:"detections"`
}

// =============================================================================
// Wearable → dashboards / telemetry
// =============================================================================

// SpeechData reports an utterance.
type SpeechData struct {
	Text     string `json:"text"`
	Priority bool   `json:"priority,omitempty"`
	Queued   bool   `json:"queued"`
}

// HapticData reports an actuator state change.
type HapticData struct {
	On       bool      `json:"on"`
	Readings []float64 `json:"readings,omitempty"`
}

// CommandData reports a dispatched command.
type CommandData struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Code   string `json:"code"`
	Intent string `json:"intent"`
	Text   string `json:"text,omitempty"`
}

// PowerData reports a power state transition.
type PowerData struct {
	State   string  `json:"state"`
	AvgLoad float64 `json:"avg_load"`
}

// AlertKind classifies AlertData.
type AlertKind string

const (
	AlertCrowd      AlertKind = "crowd"
	AlertInactivity AlertKind = "inactivity"
	AlertEmergency  AlertKind = "emergency"
)

// AlertData reports a safety alert.
type AlertData struct {
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
	Count   int       `json:"count,omitempty"`
}

// TaskData reports a supervised task transition.
type TaskData struct {
	Name     string `json:"name"`
	RunID    string `json:"run_id"`
	State    string `json:"state"` // "started", "exited", "panicked", "restarting"
	Error    string `json:"error,omitempty"`
	Restarts int    `json:"restarts,omitempty"`
}

// =============================================================================
// Bidirectional
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
