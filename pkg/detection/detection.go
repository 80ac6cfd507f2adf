// Package detection defines the object detections the wayfinder reasons
// about and the capability interfaces that produce and render them.
package detection

import (
	"fmt"
	"image"
	"strings"
)

// Direction is the side of the wearer an object was seen on.
type Direction int

const (
	Center Direction = iota
	Left
	Right
)

// String returns the lowercase direction name used in keys and speech.
func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "center"
	}
}

// ParseDirection accepts the names detector services emit.
// Unknown values map to Center.
func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "kaliwa":
		return Left
	case "right", "kanan":
		return Right
	default:
		return Center
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	*d = ParseDirection(string(b))
	return nil
}

// DirectionOf places a box by its horizontal center within a frame.
func DirectionOf(xCenter, frameWidth float64) Direction {
	if frameWidth <= 0 {
		return Center
	}
	if xCenter < frameWidth/2 {
		return Left
	}
	return Right
}

// Rect is a bounding box, normalized to the frame (0-1).
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// CenterX returns the horizontal center of the box.
func (r Rect) CenterX() float64 {
	return r.X + r.W/2
}

// Area returns the area of the bounding box.
func (r Rect) Area() float64 {
	return r.W * r.H
}

// Detection is a single detected object.
type Detection struct {
	ClassName string    `json:"class_name"`
	Score     float64   `json:"score"`
	Direction Direction `json:"direction"`
	BBox      *Rect     `json:"bbox,omitempty"`
}

// Detector finds objects in an encoded image.
type Detector interface {
	Detect(jpeg []byte) ([]Detection, error)
	Close() error
}

// Visualizer draws detections onto an encoded image and returns the
// re-encoded result.
type Visualizer interface {
	Annotate(jpeg []byte, dets []Detection) ([]byte, error)
}

// CountClass returns how many detections carry the given class name.
func CountClass(dets []Detection, className string) int {
	n := 0
	for _, d := range dets {
		if d.ClassName == className {
			n++
		}
	}
	return n
}

// FromPixels builds a Detection from a pixel-space box, normalizing it and
// deriving the direction from the box center.
func FromPixels(className string, score float64, box image.Rectangle, imgW, imgH float64) Detection {
	r := &Rect{
		X: float64(box.Min.X) / imgW,
		Y: float64(box.Min.Y) / imgH,
		W: float64(box.Dx()) / imgW,
		H: float64(box.Dy()) / imgH,
	}
	return Detection{
		ClassName: className,
		Score:     score,
		Direction: DirectionOf(r.CenterX(), 1),
		BBox:      r,
	}
}

// Label is the overlay text for a detection.
func Label(d Detection) string {
	return fmt.Sprintf("%s (%s): %.2f", d.ClassName, d.Direction, d.Score)
}
