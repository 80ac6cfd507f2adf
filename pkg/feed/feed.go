// Package feed delivers detection batches from wherever the detector runs:
// a remote service we dial, a detector that dials us, or a local camera.
package feed

import (
	"context"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/detection"
	"github.com/teslashibe/go-wayfinder/pkg/protocol"
)

// Batch is one frame's detections.
type Batch struct {
	FrameID    uint64
	Width      int
	Height     int
	Detections []detection.Detection
	// Frame is an annotated JPEG preview, when the source produces one.
	Frame []byte
	At    time.Time
}

// Source produces batches until ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- Batch) error
}

// FromData converts a wire message into a Batch, placing detections that
// carry a box but no side.
func FromData(d *protocol.DetectionsData, at time.Time) Batch {
	for i := range d.Detections {
		det := &d.Detections[i]
		if det.Direction == detection.Center && det.BBox != nil {
			det.Direction = detection.DirectionOf(det.BBox.CenterX(), 1)
		}
	}
	return Batch{
		FrameID:    d.FrameID,
		Width:      d.Width,
		Height:     d.Height,
		Detections: d.Detections,
		At:         at,
	}
}

// offer sends b without blocking. It reports whether b was delivered.
func offer(ctx context.Context, out chan<- Batch, b Batch) bool {
	select {
	case out <- b:
		return true
	case <-ctx.Done():
		return false
	default:
		return false
	}
}
