// Package geometry maps camera frames into fixed-size crops.
//
// A Transform is a 2D affine matrix taking a point in frame pixel coordinates
// to a point in crop pixel coordinates:
//
//	x' = A*x + B*y + C
//	y' = D*x + E*y + F
//
// FrameToCropTransform builds one from the frame size, the crop size and the
// sensor rotation; ClampDetectionBox turns a detector box into an integer
// rectangle that can be copied straight out of the crop.
//
// Everything in this package is a pure function and safe for concurrent use.
package geometry

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64"
)

// Transform is a 2D affine transform.
type Transform struct {
	A, B, C float64
	D, E, F float64
}

// Identity returns the identity transform
func Identity() Transform {
	return Transform{A: 1, E: 1}
}

// Translate returns a transform that moves points by (tx, ty)
func Translate(tx, ty float64) Transform {
	return Transform{A: 1, C: tx, E: 1, F: ty}
}

// Scale returns a transform that scales about the origin
func Scale(sx, sy float64) Transform {
	return Transform{A: sx, E: sy}
}

// Rotate returns a clockwise rotation about the origin for image coordinates
// (y pointing down). degrees must be a multiple of 90 so the result is exact.
func Rotate(degrees int) (Transform, error) {
	deg, err := NormalizeRotation(degrees)
	if err != nil {
		return Transform{}, err
	}

	var sin, cos float64
	switch deg {
	case 0:
		sin, cos = 0, 1
	case 90:
		sin, cos = 1, 0
	case 180:
		sin, cos = 0, -1
	case 270:
		sin, cos = -1, 0
	}

	return Transform{A: cos, B: -sin, D: sin, E: cos}, nil
}

// NormalizeRotation reduces degrees to one of 0, 90, 180 or 270.
// Negative values are accepted since sensor minus screen orientation can go
// below zero.
func NormalizeRotation(degrees int) (int, error) {
	if degrees%90 != 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRotation, degrees)
	}
	deg := degrees % 360
	if deg < 0 {
		deg += 360
	}
	return deg, nil
}

// Apply maps the point (x, y)
func (t Transform) Apply(x, y float64) (float64, float64) {
	return t.A*x + t.B*y + t.C, t.D*x + t.E*y + t.F
}

// Then returns the transform that applies t first and u second.
func (t Transform) Then(u Transform) Transform {
	return Transform{
		A: u.A*t.A + u.B*t.D,
		B: u.A*t.B + u.B*t.E,
		C: u.A*t.C + u.B*t.F + u.C,
		D: u.D*t.A + u.E*t.D,
		E: u.D*t.B + u.E*t.E,
		F: u.D*t.C + u.E*t.F + u.F,
	}
}

// Determinant of the linear part
func (t Transform) Determinant() float64 {
	return t.A*t.E - t.B*t.D
}

// Invert returns the inverse transform, or ErrSingularTransform when the
// linear part has no inverse.
func (t Transform) Invert() (Transform, error) {
	det := t.Determinant()
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Transform{}, ErrSingularTransform
	}

	inv := 1 / det
	a := t.E * inv
	b := -t.B * inv
	d := -t.D * inv
	e := t.A * inv

	return Transform{
		A: a,
		B: b,
		C: -(a*t.C + b*t.F),
		D: d,
		E: e,
		F: -(d*t.C + e*t.F),
	}, nil
}

// IsIdentity reports whether every coefficient is within tol of the identity
func (t Transform) IsIdentity(tol float64) bool {
	id := Identity()
	return math.Abs(t.A-id.A) <= tol && math.Abs(t.B-id.B) <= tol && math.Abs(t.C-id.C) <= tol &&
		math.Abs(t.D-id.D) <= tol && math.Abs(t.E-id.E) <= tol && math.Abs(t.F-id.F) <= tol
}

// ScaleFactors returns the length of the transformed unit vectors along x and y.
func (t Transform) ScaleFactors() (float64, float64) {
	return math.Hypot(t.A, t.D), math.Hypot(t.B, t.E)
}

// Aff3 returns the transform in the layout used by golang.org/x/image/draw.
func (t Transform) Aff3() f64.Aff3 {
	return f64.Aff3{t.A, t.B, t.C, t.D, t.E, t.F}
}

// String implements fmt.Stringer
func (t Transform) String() string {
	return fmt.Sprintf("[%.4f %.4f %.4f; %.4f %.4f %.4f]", t.A, t.B, t.C, t.D, t.E, t.F)
}

// FrameToCropTransform computes the transform that maps a srcW x srcH frame,
// rotated by rotation degrees, onto a dstW x dstH crop.
//
// The frame centre is moved to the origin, rotated, scaled and moved to the
// crop centre. With maintainAspect the larger of the two scale factors is
// used on both axes, so the crop is always fully covered and the frame edges
// may be cut off; without it each axis is stretched independently.
func FrameToCropTransform(srcW, srcH, dstW, dstH, rotation int, maintainAspect bool) (Transform, error) {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return Transform{}, fmt.Errorf("%w: src %dx%d, dst %dx%d", ErrInvalidDimension, srcW, srcH, dstW, dstH)
	}

	rot, err := Rotate(rotation)
	if err != nil {
		return Transform{}, err
	}
	deg, _ := NormalizeRotation(rotation)

	// A quarter turn swaps which source side ends up horizontal
	inW, inH := srcW, srcH
	if deg == 90 || deg == 270 {
		inW, inH = srcH, srcW
	}

	sx := float64(dstW) / float64(inW)
	sy := float64(dstH) / float64(inH)
	if maintainAspect {
		s := math.Max(sx, sy)
		sx, sy = s, s
	}

	t := Translate(-float64(srcW)/2, -float64(srcH)/2).
		Then(rot).
		Then(Scale(sx, sy)).
		Then(Translate(float64(dstW)/2, float64(dstH)/2))

	return t, nil
}
