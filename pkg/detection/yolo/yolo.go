// Package yolo runs YOLOv8 ONNX models through OpenCV. It is the only
// part of the module that needs cgo and an OpenCV install.
package yolo

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-wayfinder/pkg/detection"
)

// ErrEmptyImage is returned when a frame decodes to nothing.
var ErrEmptyImage = errors.New("yolo: empty image")

// Detector runs a YOLOv8 ONNX model through OpenCV's DNN module.
type Detector struct {
	net       gocv.Net
	config    Config
	mu        sync.Mutex
	inputSize image.Point
	logger    *slog.Logger
}

// Config holds detector configuration.
type Config struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
	Logger           *slog.Logger
}

// DefaultConfig returns defaults for YOLOv8n on a small board.
// The confidence floor is low; per-class announce thresholds filter later.
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.2,
		NMSThresh:        0.45,
		InputWidth:       416,
		InputHeight:      416,
	}
}

// New loads the model at cfg.ModelPath.
func New(cfg Config) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Detector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
		logger:    logger.With("component", "yolo"),
	}, nil
}

// Detect finds objects in the JPEG image.
func (d *Detector) Detect(jpeg []byte) ([]detection.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, ErrEmptyImage
	}

	imgW := float32(img.Cols())
	imgH := float32(img.Rows())

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	dets := d.parseOutput(output, imgW, imgH)
	d.logger.Debug("frame processed", "objects", len(dets))
	return dets, nil
}

// candidate is one above-floor row of the YOLOv8 output tensor, in
// model-input pixels.
type candidate struct {
	class  int
	score  float32
	cx, cy float32
	w, h   float32
}

// decodeCandidates walks a [1, 4+classes, n] tensor laid out column-major
// per anchor: n box centers and sizes, then n scores for each class.
func decodeCandidates(data []float32, anchors, channels int, floor float32) []candidate {
	var out []candidate
	at := func(ch, i int) float32 { return data[ch*anchors+i] }
	for i := 0; i < anchors; i++ {
		best, cls := float32(0), 0
		for ch := 4; ch < channels; ch++ {
			if v := at(ch, i); v > best {
				best, cls = v, ch-4
			}
		}
		if best < floor {
			continue
		}
		out = append(out, candidate{
			class: cls, score: best,
			cx: at(0, i), cy: at(1, i), w: at(2, i), h: at(3, i),
		})
	}
	return out
}

func (d *Detector) parseOutput(output gocv.Mat, imgW, imgH float32) []detection.Detection {
	data, err := output.DataPtrFloat32()
	if err != nil {
		d.logger.Warn("unreadable output tensor", "error", err)
		return nil
	}
	cands := decodeCandidates(data, output.Cols(), output.Rows(), d.config.ConfidenceThresh)
	if len(cands) == 0 {
		return nil
	}

	sx := imgW / float32(d.config.InputWidth)
	sy := imgH / float32(d.config.InputHeight)
	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = image.Rect(
			int((c.cx-c.w/2)*sx), int((c.cy-c.h/2)*sy),
			int((c.cx+c.w/2)*sx), int((c.cy+c.h/2)*sy),
		)
		scores[i] = c.score
	}

	keep := gocv.NMSBoxes(boxes, scores, d.config.ConfidenceThresh, d.config.NMSThresh)
	dets := make([]detection.Detection, 0, len(keep))
	for _, k := range keep {
		dets = append(dets, detection.FromPixels(ClassName(cands[k].class), float64(scores[k]), boxes[k], float64(imgW), float64(imgH)))
	}
	return dets
}

// Close releases the detector resources.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// ClassName returns the COCO name for id, or "object" when out of range.
func ClassName(id int) string {
	if id < 0 || id >= len(COCOClasses) {
		return "object"
	}
	return COCOClasses[id]
}

// COCOClasses contains the 80 COCO class names.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

var _ detection.Detector = (*Detector)(nil)
