package detection

import (
	"context"
	_ "embed"
	"fmt"
	"image"
	"image/draw"
	"os"
	"sync"

	pigo "github.com/esimov/pigo/core"
	"github.com/nfnt/resize"
)

//go:embed cascade/facefinder
var facefinder []byte

// PigoDetector runs a pigo pixel-intensity cascade. It is pure Go; the
// facefinder cascade is compiled in.
type PigoDetector struct {
	classifier *pigo.Pigo
	config     Config
	mu         sync.Mutex // Protects inference
}

// NewPigo loads the cascade at cfg.CascadePath, or the built-in one when
// the path is empty
func NewPigo(cfg Config) (*PigoDetector, error) {
	if cfg.CascadePath == "" {
		return NewPigoFromCascade(facefinder, cfg)
	}
	cascade, err := os.ReadFile(cfg.CascadePath)
	if err != nil {
		return nil, fmt.Errorf("read cascade file: %w", err)
	}
	return NewPigoFromCascade(cascade, cfg)
}

// NewPigoFromCascade unpacks an in-memory cascade
func NewPigoFromCascade(cascade []byte, cfg Config) (*PigoDetector, error) {
	p := pigo.NewPigo()
	classifier, err := p.Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("error unpacking cascade file: %w", err)
	}
	return &PigoDetector{classifier: classifier, config: cfg}, nil
}

// Detect finds faces in img. Inputs larger than MaxInputDim are downscaled
// first and the boxes scaled back to img pixels.
func (d *PigoDetector) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, scale := downscale(img, d.config.MaxInputDim)

	nrgba := image.NewNRGBA(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), src, src.Bounds().Min, draw.Src)
	cols, rows := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	if cols == 0 || rows == 0 {
		return nil, nil
	}

	maxSize := d.config.MaxSize
	if m := max(cols, rows); maxSize > m {
		maxSize = m
	}

	params := pigo.CascadeParams{
		MinSize:     d.config.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: d.config.ShiftFactor,
		ScaleFactor: d.config.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(nrgba),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	d.mu.Lock()
	dets := d.classifier.RunCascade(params, d.config.Angle)
	dets = d.classifier.ClusterDetections(dets, d.config.IoUThreshold)
	d.mu.Unlock()

	faces := make([]Face, 0, len(dets))
	for _, det := range dets {
		// pigo reports the centre and the side of a square box
		side := float64(det.Scale) / scale
		faces = append(faces, Face{
			X:     float64(det.Col)/scale - side/2,
			Y:     float64(det.Row)/scale - side/2,
			W:     side,
			H:     side,
			Score: float64(det.Q),
		})
	}
	return filter(faces, d.config.Threshold()), nil
}

// Close releases the detector resources
func (d *PigoDetector) Close() error {
	return nil
}

// downscale shrinks img so its long side is at most maxDim and reports the
// factor that was applied
func downscale(img image.Image, maxDim int) (image.Image, float64) {
	b := img.Bounds()
	long := max(b.Dx(), b.Dy())
	if maxDim <= 0 || long <= maxDim {
		return img, 1
	}
	scale := float64(maxDim) / float64(long)
	w := uint(float64(b.Dx())*scale + 0.5)
	h := uint(float64(b.Dy())*scale + 0.5)
	out := resize.Resize(w, h, img, resize.Bilinear)
	// use the real ratio so rounding in the target size does not skew boxes
	return out, float64(out.Bounds().Dx()) / float64(b.Dx())
}
