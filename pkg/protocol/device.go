package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DevicePayload is what the ESP32 boards push over HTTP or UDP. Every field
// is optional; boards send only what they have.
type DevicePayload struct {
	Buttons   string    `json:"buttons,omitempty"`
	Distance  *float64  `json:"distance,omitempty"`  // front sensor, cm
	Distances []float64 `json:"distances,omitempty"` // all sensors in configured order, cm
	IR        *int      `json:"ir,omitempty"`
	Red       *int      `json:"red,omitempty"`
	Lat       *float64  `json:"lat,omitempty"`
	Lon       *float64  `json:"lon,omitempty"`
}

// ParseDevicePayload decodes and normalizes a board payload.
func ParseDevicePayload(data []byte) (*DevicePayload, error) {
	var p DevicePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse device payload: %w", err)
	}
	p.Buttons = strings.TrimSpace(p.Buttons)
	return &p, nil
}

// Readings returns the distance readings in sensor order. A lone distance
// field is the first sensor.
func (p *DevicePayload) Readings() []float64 {
	if len(p.Distances) > 0 {
		return p.Distances
	}
	if p.Distance != nil {
		return []float64{*p.Distance}
	}
	return nil
}

// HasFix reports whether the payload carries a GPS position.
func (p *DevicePayload) HasFix() bool {
	return p.Lat != nil && p.Lon != nil
}
