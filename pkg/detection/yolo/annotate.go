package yolo

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-wayfinder/pkg/detection"
)

// Annotator draws labelled boxes with OpenCV.
type Annotator struct {
	BoxColor  color.RGBA
	TextColor color.RGBA
}

// NewAnnotator returns an Annotator with green boxes and labels.
func NewAnnotator() *Annotator {
	green := color.RGBA{G: 255, A: 255}
	return &Annotator{BoxColor: green, TextColor: green}
}

// Annotate implements detection.Visualizer. Detections without a box are skipped.
func (a *Annotator) Annotate(jpeg []byte, dets []detection.Detection) ([]byte, error) {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, ErrEmptyImage
	}

	w, h := float64(img.Cols()), float64(img.Rows())
	for _, d := range dets {
		if d.BBox == nil {
			continue
		}
		r := image.Rect(
			int(d.BBox.X*w), int(d.BBox.Y*h),
			int((d.BBox.X+d.BBox.W)*w), int((d.BBox.Y+d.BBox.H)*h),
		)
		gocv.Rectangle(&img, r, a.BoxColor, 2)
		gocv.PutText(&img, detection.Label(d), image.Pt(r.Min.X, r.Min.Y-10), gocv.FontHersheySimplex, 0.5, a.TextColor, 2)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

var _ detection.Visualizer = (*Annotator)(nil)
