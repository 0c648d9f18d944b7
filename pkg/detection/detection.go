// Package detection finds faces in crop-space images
package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/menta2k/face-classifier/pkg/geometry"
)

// ErrBackendUnavailable is returned when a detector backend was not compiled in
var ErrBackendUnavailable = errors.New("detection: backend unavailable in this build")

// Face is a detected face in pixels of the image passed to Detect,
// top-left origin.
type Face struct {
	X, Y  float64
	W, H  float64
	Score float64
}

// RawBox converts the face to a geometry box
func (f Face) RawBox() geometry.RawBox {
	return geometry.RawBox{X: f.X, Y: f.Y, W: f.W, H: f.H}
}

// Area returns the box area in square pixels
func (f Face) Area() float64 {
	return f.W * f.H
}

// Center returns the centre of the box
func (f Face) Center() (x, y float64) {
	return f.X + f.W/2, f.Y + f.H/2
}

// Detector is the interface for face detection backends
type Detector interface {
	// Detect finds faces in img
	Detect(ctx context.Context, img image.Image) ([]Face, error)

	// Close releases resources
	Close() error
}

// Backend names accepted by New
const (
	BackendPigo  = "pigo"
	BackendYuNet = "yunet"
)

// Config holds detector configuration
type Config struct {
	Backend string `json:"backend"`

	// pigo; an empty CascadePath uses the built-in facefinder cascade
	CascadePath  string  `json:"cascade_path"`
	MinSize      int     `json:"min_size"`
	MaxSize      int     `json:"max_size"`
	ShiftFactor  float64 `json:"shift_factor"`
	ScaleFactor  float64 `json:"scale_factor"`
	IoUThreshold float64 `json:"iou_threshold"`
	Angle        float64 `json:"angle"`

	// yunet
	ModelPath string `json:"model_path"`

	// ScoreThreshold drops weaker detections. pigo reports unbounded
	// quality values, YuNet reports 0-1, so 0 picks the backend default
	// and a negative value keeps everything.
	ScoreThreshold float64 `json:"score_threshold"`

	// MaxInputDim downsizes larger inputs before detection. 0 disables it.
	MaxInputDim int `json:"max_input_dim"`
}

// Default score thresholds per backend
const (
	DefaultPigoScore  = 5.0
	DefaultYuNetScore = 0.6
)

// DefaultConfig returns defaults for the pure Go pigo backend
func DefaultConfig() Config {
	return Config{
		Backend:      BackendPigo,
		MinSize:      40,
		MaxSize:      1000,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		IoUThreshold: 0.2,
		ModelPath:    "models/face_detection_yunet.onnx",
		MaxInputDim:  640,
	}
}

// Threshold returns the score threshold in effect for the selected backend
func (c Config) Threshold() float64 {
	switch {
	case c.ScoreThreshold < 0:
		return math.Inf(-1)
	case c.ScoreThreshold > 0:
		return c.ScoreThreshold
	case strings.EqualFold(c.Backend, BackendYuNet):
		return DefaultYuNetScore
	default:
		return DefaultPigoScore
	}
}

// Validate checks the parameters of the selected backend
func (c Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case BackendPigo:
		if c.MinSize <= 0 || c.MaxSize < c.MinSize {
			return fmt.Errorf("detection: invalid size range %d-%d", c.MinSize, c.MaxSize)
		}
		if c.ShiftFactor <= 0 || c.ShiftFactor >= 1 {
			return fmt.Errorf("detection: shift factor must be in (0,1), got %g", c.ShiftFactor)
		}
		if c.ScaleFactor <= 1 {
			return fmt.Errorf("detection: scale factor must be > 1, got %g", c.ScaleFactor)
		}
	case BackendYuNet:
		if c.ModelPath == "" {
			return fmt.Errorf("detection: model path is required")
		}
	default:
		return fmt.Errorf("detection: unknown backend %q", c.Backend)
	}
	if c.MaxInputDim < 0 {
		return fmt.Errorf("detection: max input dim must not be negative")
	}
	return nil
}

// New creates the detector selected by cfg.Backend
func New(cfg Config) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Backend) {
	case BackendYuNet:
		return NewYuNet(cfg)
	default:
		return NewPigo(cfg)
	}
}

// SelectBest returns the face with the highest score, preferring the larger
// box on ties. It returns nil when faces is empty.
func SelectBest(faces []Face) *Face {
	var best *Face
	for i := range faces {
		f := &faces[i]
		if best == nil || f.Score > best.Score || (f.Score == best.Score && f.Area() > best.Area()) {
			best = f
		}
	}
	return best
}

// filter drops faces under the score threshold or with a degenerate box
func filter(faces []Face, threshold float64) []Face {
	out := faces[:0]
	for _, f := range faces {
		if f.Score < threshold || f.W <= 0 || f.H <= 0 {
			continue
		}
		out = append(out, f)
	}
	return out
}
