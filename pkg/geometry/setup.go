package geometry

import "fmt"

// Params describes one frame-to-crop configuration.
type Params struct {
	SrcWidth       int  `json:"src_width"`
	SrcHeight      int  `json:"src_height"`
	DstWidth       int  `json:"dst_width"`
	DstHeight      int  `json:"dst_height"`
	Rotation       int  `json:"rotation"`
	MaintainAspect bool `json:"maintain_aspect"`
}

// String implements fmt.Stringer
func (p Params) String() string {
	return fmt.Sprintf("%dx%d->%dx%d rot=%d aspect=%t",
		p.SrcWidth, p.SrcHeight, p.DstWidth, p.DstHeight, p.Rotation, p.MaintainAspect)
}

// Setup holds the frame-to-crop transform for one Params value together with
// its inverse. It is immutable once built and may be shared between frames
// and goroutines; build a new one when the frame size, crop size or rotation
// changes.
type Setup struct {
	Params      Params
	FrameToCrop Transform
	CropToFrame Transform
}

// NewSetup computes both directions of the transform for p
func NewSetup(p Params) (*Setup, error) {
	fwd, err := FrameToCropTransform(p.SrcWidth, p.SrcHeight, p.DstWidth, p.DstHeight, p.Rotation, p.MaintainAspect)
	if err != nil {
		return nil, err
	}

	inv, err := fwd.Invert()
	if err != nil {
		return nil, fmt.Errorf("invert frame-to-crop transform: %w", err)
	}

	return &Setup{
		Params:      p,
		FrameToCrop: fwd,
		CropToFrame: inv,
	}, nil
}

// Matches reports whether the setup was built for p
func (s *Setup) Matches(p Params) bool {
	return s != nil && s.Params == p
}

// FrameBox maps a crop-space box back into frame coordinates and returns the
// axis-aligned bounds of the result.
func (s *Setup) FrameBox(b DetectionBox) (x1, y1, x2, y2 float64) {
	return s.CropToFrame.MapRect(float64(b.X1), float64(b.Y1), float64(b.X2), float64(b.Y2))
}

// MapRect transforms the four corners of a rectangle and returns their bounds
func (t Transform) MapRect(x1, y1, x2, y2 float64) (float64, float64, float64, float64) {
	ax, ay := t.Apply(x1, y1)
	bx, by := t.Apply(x2, y1)
	cx, cy := t.Apply(x2, y2)
	dx, dy := t.Apply(x1, y2)

	minX, maxX := ax, ax
	minY, maxY := ay, ay
	for _, p := range [][2]float64{{bx, by}, {cx, cy}, {dx, dy}} {
		minX = min(minX, p[0])
		maxX = max(maxX, p[0])
		minY = min(minY, p[1])
		maxY = max(maxY, p[1])
	}
	return minX, minY, maxX, maxY
}
