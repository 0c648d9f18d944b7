package geometry

import "errors"

// Sentinel errors. All of them are fatal for the frame being processed;
// retrying with the same inputs fails the same way.
var (
	// ErrInvalidDimension is returned when a width, height or size limit is not positive.
	ErrInvalidDimension = errors.New("geometry: invalid dimension")

	// ErrInvalidRotation is returned when a rotation is not a multiple of 90 degrees.
	ErrInvalidRotation = errors.New("geometry: rotation must be a multiple of 90 degrees")

	// ErrSingularTransform is returned when a transform cannot be inverted.
	ErrSingularTransform = errors.New("geometry: singular transform")

	// ErrEmptyIntersection is returned when a detection box lies outside the crop.
	ErrEmptyIntersection = errors.New("geometry: detection box does not intersect crop")
)
