// Package camera captures frames from a local camera and runs the YOLO
// detector on them. Importing it registers the "camera" feed mode.
package camera

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-wayfinder/pkg/detection"
	"github.com/teslashibe/go-wayfinder/pkg/detection/yolo"
	"github.com/teslashibe/go-wayfinder/pkg/feed"
)

// Mode is the feed mode this package registers.
const Mode = "camera"

func init() {
	feed.Register(Mode, open)
}

func open(opts feed.Options) (feed.Source, error) {
	cfg := yolo.DefaultConfig()
	if opts.ModelPath != "" {
		cfg.ModelPath = opts.ModelPath
	}
	if opts.ScoreThreshold > 0 {
		cfg.ConfidenceThresh = float32(opts.ScoreThreshold)
	}
	cfg.Logger = opts.Logger
	det, err := yolo.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}

	var vis detection.Visualizer
	if opts.Annotate {
		vis = yolo.NewAnnotator()
	}
	device := opts.Device
	if device == "" {
		device = "0"
	}
	return New(device, det, vis, opts.Interval, opts.Logger), nil
}

// Source captures frames with OpenCV and runs a local detector.
type Source struct {
	device     string
	detector   detection.Detector
	visualizer detection.Visualizer
	interval   func() time.Duration
	logger     *slog.Logger
}

// New captures from device (an index like "0" or a stream URL).
// visualizer may be nil. interval paces the loop.
func New(device string, detector detection.Detector, visualizer detection.Visualizer, interval func() time.Duration, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if interval == nil {
		interval = func() time.Duration { return 100 * time.Millisecond }
	}
	return &Source{
		device:     device,
		detector:   detector,
		visualizer: visualizer,
		interval:   interval,
		logger:     logger.With("component", "feed.camera", "device", device),
	}
}

// Name implements feed.Source.
func (s *Source) Name() string { return Mode }

// Run implements feed.Source. A camera that cannot be opened ends the task.
func (s *Source) Run(ctx context.Context, out chan<- feed.Batch) error {
	capture, err := gocv.OpenVideoCapture(s.device)
	if err != nil {
		return fmt.Errorf("camera: open %q: %w", s.device, err)
	}
	defer capture.Close()

	img := gocv.NewMat()
	defer img.Close()

	var frameID uint64
	misses := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.interval()):
		}

		if ok := capture.Read(&img); !ok || img.Empty() {
			misses++
			if misses%50 == 1 {
				s.logger.Warn("camera read failed", "misses", misses)
			}
			continue
		}
		misses = 0
		frameID++

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
		if err != nil {
			s.logger.Warn("encode failed", "error", err)
			continue
		}
		jpeg := append([]byte(nil), buf.GetBytes()...)
		buf.Close()

		dets, err := s.detector.Detect(jpeg)
		if err != nil {
			s.logger.Warn("detect failed", "error", err)
			continue
		}

		b := feed.Batch{
			FrameID:    frameID,
			Width:      img.Cols(),
			Height:     img.Rows(),
			Detections: dets,
			At:         time.Now(),
		}
		if s.visualizer != nil {
			if annotated, err := s.visualizer.Annotate(jpeg, dets); err == nil {
				b.Frame = annotated
			}
		}
		// The newest frame matters more than a stalled consumer.
		select {
		case out <- b:
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// Close releases the detector.
func (s *Source) Close() error {
	if s.detector == nil {
		return nil
	}
	return s.detector.Close()
}

var _ feed.Source = (*Source)(nil)
