package pipeline

import (
	"errors"
	"fmt"

	"github.com/menta2k/face-classifier/pkg/geometry"
)

var (
	// ErrBusy is returned by Submit when the queue is full and the frame was dropped
	ErrBusy = errors.New("pipeline: busy, frame dropped")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("pipeline: closed")
)

// Config holds the pipeline settings
type Config struct {
	// Crop canvas every frame is mapped into
	CropWidth  int `json:"crop_width"`
	CropHeight int `json:"crop_height"`

	// MaintainAspect fills the crop with a uniform scale; false stretches
	MaintainAspect bool `json:"maintain_aspect"`

	// MaxDetectionDim limits the face box along each axis
	MaxDetectionDim int `json:"max_detection_dim"`

	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`

	// KeepImages attaches the crop canvas and the face image to each Result
	KeepImages bool `json:"keep_images"`
}

// DefaultConfig returns a portrait 480x640 crop with one worker and a
// single pending frame
func DefaultConfig() Config {
	return Config{
		CropWidth:       480,
		CropHeight:      640,
		MaintainAspect:  true,
		MaxDetectionDim: geometry.DefaultMaxDetectionDim,
		Workers:         1,
		QueueSize:       1,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.CropWidth <= 0 || c.CropHeight <= 0 {
		return fmt.Errorf("pipeline: crop size must be positive, got %dx%d", c.CropWidth, c.CropHeight)
	}
	if c.MaxDetectionDim <= 0 {
		return fmt.Errorf("pipeline: max_detection_dim must be positive")
	}
	if c.Workers < 1 {
		return fmt.Errorf("pipeline: workers must be at least 1")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("pipeline: queue_size must be at least 1")
	}
	return nil
}
