package wayfinder

import (
	"sync/atomic"

	"github.com/teslashibe/go-wayfinder/pkg/crowd"
	"github.com/teslashibe/go-wayfinder/pkg/detection"
	"github.com/teslashibe/go-wayfinder/pkg/feed"
	"github.com/teslashibe/go-wayfinder/pkg/protocol"
	"github.com/teslashibe/go-wayfinder/pkg/threshold"
)

// Pipeline turns each detection batch into announcements, crowd alerts and
// dashboard events.
type Pipeline struct {
	thresholds *threshold.Adaptive
	crowd      *crowd.Monitor
	speaker    crowd.Speaker
	state      *State
	lowPower   func() bool
	maxPerSide int
	events     Publisher

	batches   atomic.Uint64
	announced atomic.Uint64
}

// PipelineConfig holds the pipeline's collaborators.
type PipelineConfig struct {
	Thresholds *threshold.Adaptive
	Crowd      *crowd.Monitor
	Speaker    crowd.Speaker
	State      *State
	LowPower   func() bool
	MaxPerSide int
	Events     Publisher
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.LowPower == nil {
		cfg.LowPower = func() bool { return false }
	}
	return &Pipeline{
		thresholds: cfg.Thresholds,
		crowd:      cfg.Crowd,
		speaker:    cfg.Speaker,
		state:      cfg.State,
		lowPower:   cfg.LowPower,
		maxPerSide: cfg.MaxPerSide,
		events:     cfg.Events,
	}
}

// Handle processes one batch.
func (p *Pipeline) Handle(b feed.Batch) {
	p.batches.Add(1)
	dets := b.Detections

	if len(dets) > 0 {
		p.crowd.RecordDetectionTick()
	}
	p.thresholds.UpdateAdaptive(dets)

	if p.crowd.CrowdAnalysis(dets) {
		p.publish(protocol.TypeAlert, protocol.AlertData{
			Kind:    protocol.AlertCrowd,
			Message: crowd.CrowdAlert,
			Count:   detection.CountClass(dets, "person"),
		})
	}

	if len(b.Frame) > 0 {
		p.state.SetFrame(b.Frame)
	}
	p.publish(protocol.TypeDetections, protocol.DetectionsData{
		FrameID:    b.FrameID,
		Width:      b.Width,
		Height:     b.Height,
		Detections: dets,
	})

	p.announce(dets)
}

// announce speaks what passes the filter. Nothing is considered while
// halted or in low power, so cooldowns are not consumed either.
func (p *Pipeline) announce(dets []detection.Detection) int {
	if p.state.Halted() || p.lowPower() {
		return 0
	}
	lines := Announcements(p.thresholds.Filter(dets), p.maxPerSide)
	for _, line := range lines {
		p.speaker.Speak(line)
	}
	p.announced.Add(uint64(len(lines)))
	return len(lines)
}

func (p *Pipeline) publish(t protocol.MessageType, data any) {
	if p.events != nil {
		p.events.Publish(t, data)
	}
}

// PipelineStats counts processed batches and spoken phrases.
type PipelineStats struct {
	Batches   uint64 `json:"batches"`
	Announced uint64 `json:"announced"`
}

// Stats returns pipeline counters.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{Batches: p.batches.Load(), Announced: p.announced.Load()}
}
