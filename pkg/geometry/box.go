package geometry

import (
	"fmt"
	"image"
	"math"
)

// DefaultMaxDetectionDim matches the classifier input footprint
const DefaultMaxDetectionDim = 224

// RawBox is a detector result in crop coordinates: top-left corner and size.
type RawBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// DetectionBox is an integer rectangle inside the crop, X2 and Y2 exclusive.
type DetectionBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width of the box
func (b DetectionBox) Width() int {
	return b.X2 - b.X1
}

// Height of the box
func (b DetectionBox) Height() int {
	return b.Y2 - b.Y1
}

// Empty reports whether the box has no area
func (b DetectionBox) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Rect converts the box to an image.Rectangle
func (b DetectionBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// String implements fmt.Stringer
func (b DetectionBox) String() string {
	return fmt.Sprintf("%dx%d@%d,%d", b.Width(), b.Height(), b.X1, b.Y1)
}

// ClampDetectionBox limits a detector box to maxDim along each axis, clips it
// to the [0,cropW] x [0,cropH] crop and rounds every edge half-up to whole
// pixels.
//
// The size limit is applied before clipping: a box that straddles the crop
// edge is first shortened to maxDim from its own top-left corner and only
// then cut at the crop boundary.
func ClampDetectionBox(raw RawBox, cropW, cropH, maxDim int) (DetectionBox, error) {
	if cropW <= 0 || cropH <= 0 || maxDim <= 0 {
		return DetectionBox{}, fmt.Errorf("%w: crop %dx%d, max %d", ErrInvalidDimension, cropW, cropH, maxDim)
	}
	if !finite(raw.X) || !finite(raw.Y) || !finite(raw.W) || !finite(raw.H) || raw.W < 0 || raw.H < 0 {
		return DetectionBox{}, fmt.Errorf("%w: box %+v", ErrInvalidDimension, raw)
	}

	w := math.Min(raw.W, float64(maxDim))
	h := math.Min(raw.H, float64(maxDim))

	x1 := math.Max(raw.X, 0)
	y1 := math.Max(raw.Y, 0)
	x2 := math.Min(raw.X+w, float64(cropW))
	y2 := math.Min(raw.Y+h, float64(cropH))
	if x2 <= x1 || y2 <= y1 {
		return DetectionBox{}, fmt.Errorf("%w: box %+v, crop %dx%d", ErrEmptyIntersection, raw, cropW, cropH)
	}

	// rounding both edges independently can add a pixel, so the far edge
	// is capped against the rounded origin
	box := DetectionBox{X1: roundHalfUp(x1), Y1: roundHalfUp(y1)}
	box.X2 = min(roundHalfUp(x2), box.X1+maxDim, cropW)
	box.Y2 = min(roundHalfUp(y2), box.Y1+maxDim, cropH)
	if box.Empty() {
		return DetectionBox{}, fmt.Errorf("%w: box %+v rounds to nothing", ErrEmptyIntersection, raw)
	}

	return box, nil
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
