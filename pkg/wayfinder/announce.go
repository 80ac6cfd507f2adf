package wayfinder

import (
	"strings"

	"github.com/teslashibe/go-wayfinder/pkg/detection"
)

var sideOrder = []detection.Direction{detection.Left, detection.Right, detection.Center}

var sideLabels = map[detection.Direction]string{
	detection.Left:   "Left",
	detection.Right:  "Right",
	detection.Center: "Ahead",
}

// Announcements groups detections by side, one phrase per side, such as
// "Left: person, car". Names are de-duplicated in arrival order and at most
// maxPerSide are spoken for a side.
func Announcements(dets []detection.Detection, maxPerSide int) []string {
	if maxPerSide <= 0 {
		maxPerSide = 2
	}

	names := make(map[detection.Direction][]string, len(sideOrder))
	for _, d := range dets {
		name := d.ClassName
		if name == "" {
			name = "object"
		}
		side := names[d.Direction]
		if len(side) >= maxPerSide || contains(side, name) {
			continue
		}
		names[d.Direction] = append(side, name)
	}

	var out []string
	for _, dir := range sideOrder {
		if len(names[dir]) == 0 {
			continue
		}
		out = append(out, sideLabels[dir]+": "+strings.Join(names[dir], ", "))
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
