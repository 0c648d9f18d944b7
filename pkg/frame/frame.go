// Package frame defines raw camera frames and a fixed-size pool of pixel
// buffers that frames are rendered into.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for frame handling.
var (
	// ErrInvalidFrame is returned when a frame's size and pixel data disagree.
	ErrInvalidFrame = errors.New("frame: invalid frame")

	// ErrSizeMismatch is returned when a frame does not fit a pooled buffer.
	ErrSizeMismatch = errors.New("frame: size does not match buffer")

	// ErrDoubleRelease is returned when a buffer is released twice.
	ErrDoubleRelease = errors.New("frame: buffer already released")
)

// PixelFormat identifies the byte layout of Frame.Pix
type PixelFormat int

const (
	// RGBA32 is 4 bytes per pixel, R G B A
	RGBA32 PixelFormat = iota
	// RGB24 is 3 bytes per pixel, R G B
	RGB24
	// BGR24 is 3 bytes per pixel, B G R (OpenCV and ffmpeg default)
	BGR24
)

// BytesPerPixel returns the pixel stride of the format
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case RGB24, BGR24:
		return 3
	default:
		return 4
	}
}

// String implements fmt.Stringer
func (f PixelFormat) String() string {
	switch f {
	case RGB24:
		return "rgb24"
	case BGR24:
		return "bgr24"
	default:
		return "rgba32"
	}
}

var seq atomic.Uint64

// Frame is one camera image. Frames are short lived: the producer hands one
// over per callback and does not touch Pix afterwards.
type Frame struct {
	// Seq is a process-wide monotonic sequence number
	Seq uint64
	// ID traces the frame through the pipeline
	ID string
	// Timestamp is when the frame was captured or loaded
	Timestamp time.Time

	Width  int
	Height int
	Format PixelFormat
	Pix    []byte

	// Rotation is the sensor rotation relative to the display, in degrees
	Rotation int
}

// New creates a frame over pix and stamps it with a sequence number and trace ID.
func New(width, height int, format PixelFormat, pix []byte, rotation int) Frame {
	return Frame{
		Seq:       seq.Add(1),
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Format:    format,
		Pix:       pix,
		Rotation:  rotation,
	}
}

// FromImage copies img into a new RGBA32 frame
func FromImage(img image.Image, rotation int) Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	} else {
		pix := make([]byte, len(rgba.Pix))
		copy(pix, rgba.Pix)
		rgba = &image.RGBA{Pix: pix, Stride: rgba.Stride, Rect: rgba.Rect}
	}
	return New(b.Dx(), b.Dy(), RGBA32, rgba.Pix, rotation)
}

// Validate checks that the frame has a positive size and enough pixel data
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	want := f.Width * f.Height * f.Format.BytesPerPixel()
	if len(f.Pix) != want {
		return fmt.Errorf("%w: %s %dx%d needs %d bytes, got %d", ErrInvalidFrame, f.Format, f.Width, f.Height, want, len(f.Pix))
	}
	return nil
}

// Size returns the frame size as "WxH"
func (f Frame) Size() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}

// Image exposes the frame as an image.Image. RGBA32 frames share Pix; the
// other formats are converted into a new buffer.
func (f Frame) Image() (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.Format == RGBA32 {
		return &image.RGBA{Pix: f.Pix, Stride: 4 * f.Width, Rect: image.Rect(0, 0, f.Width, f.Height)}, nil
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	if err := convert(img, f); err != nil {
		return nil, err
	}
	return img, nil
}

// convert writes f into dst, which must be exactly f.Width x f.Height
func convert(dst *image.RGBA, f Frame) error {
	b := dst.Bounds()
	if b.Dx() != f.Width || b.Dy() != f.Height {
		return fmt.Errorf("%w: frame %dx%d, buffer %dx%d", ErrSizeMismatch, f.Width, f.Height, b.Dx(), b.Dy())
	}

	bpp := f.Format.BytesPerPixel()
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*f.Width*bpp : (y+1)*f.Width*bpp]
		row := dst.Pix[y*dst.Stride : y*dst.Stride+4*f.Width]
		switch f.Format {
		case RGBA32:
			copy(row, src)
		case RGB24:
			for x := 0; x < f.Width; x++ {
				row[4*x+0] = src[3*x+0]
				row[4*x+1] = src[3*x+1]
				row[4*x+2] = src[3*x+2]
				row[4*x+3] = 0xff
			}
		case BGR24:
			for x := 0; x < f.Width; x++ {
				row[4*x+0] = src[3*x+2]
				row[4*x+1] = src[3*x+1]
				row[4*x+2] = src[3*x+0]
				row[4*x+3] = 0xff
			}
		}
	}
	return nil
}
