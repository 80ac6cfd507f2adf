package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/teslashibe/go-wayfinder/pkg/detection"
)

// NewDetectionsMessage wraps one frame of detections. A nil slice encodes
// as an empty list so consumers never see null.
func NewDetectionsMessage(frameID uint64, width, height int, dets []detection.Detection) (*Message, error) {
	if dets == nil {
		dets = []detection.Detection{}
	}
	return NewMessage(TypeDetections, DetectionsData{FrameID: frameID, Width: width, Height: height, Detections: dets})
}

// NewPingMessage creates a latency probe.
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id})
}

// NewPongMessage answers a ping sent at pingTS.
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{ID: id, PingTS: pingTS, PongTS: pongTS, LatencyMs: pongTS - pingTS})
}

func decodeAs[T any](m *Message) (*T, error) {
	var v T
	if err := m.ParseData(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetDetectionsData decodes a detections payload.
func (m *Message) GetDetectionsData() (*DetectionsData, error) { return decodeAs[DetectionsData](m) }

// GetPingData decodes a ping payload.
func (m *Message) GetPingData() (*PingData, error) { return decodeAs[PingData](m) }

// ParseDetections reads what a detector sends: either an enveloped
// detections message or, from simpler scripts, a bare JSON array.
func ParseDetections(data []byte) (*DetectionsData, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var dets []detection.Detection
		if err := json.Unmarshal(trimmed, &dets); err != nil {
			return nil, fmt.Errorf("protocol: parse detections: %w", err)
		}
		return &DetectionsData{Detections: dets}, nil
	}

	msg, err := ParseMessage(data)
	if err != nil {
		return nil, err
	}
	if msg.Type != TypeDetections {
		return nil, &UnexpectedTypeError{Got: msg.Type, Want: TypeDetections}
	}
	return msg.GetDetectionsData()
}

// UnexpectedTypeError is returned when a message has the wrong type.
type UnexpectedTypeError struct {
	Got, Want MessageType
}

func (e *UnexpectedTypeError) Error() string {
	return "protocol: unexpected message type " + string(e.Got) + ", want " + string(e.Want)
}
