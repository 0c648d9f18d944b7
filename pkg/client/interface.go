package client

import (
	"context"
	"image"

	"github.com/menta2k/face-classifier/pkg/types"
)

// Classifier labels a face image. Implementations must be safe for
// concurrent use.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (*types.ClassificationResult, error)
	Close() error
}
