package frame

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"
)

// createTestImage creates a gradient test image
func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{uint8(x * 255 / width), uint8(y * 255 / height), 128, 255})
		}
	}
	return img
}

func TestNewStampsFrames(t *testing.T) {
	a := New(2, 2, RGB24, make([]byte, 12), 90)
	b := New(2, 2, RGB24, make([]byte, 12), 90)

	if b.Seq <= a.Seq {
		t.Errorf("Expected increasing sequence numbers, got %d then %d", a.Seq, b.Seq)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("Expected distinct trace IDs, got %q and %q", a.ID, b.ID)
	}
	if a.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		f    Frame
		ok   bool
	}{
		{"rgb24", Frame{Width: 4, Height: 2, Format: RGB24, Pix: make([]byte, 24)}, true},
		{"rgba32", Frame{Width: 4, Height: 2, Format: RGBA32, Pix: make([]byte, 32)}, true},
		{"short", Frame{Width: 4, Height: 2, Format: RGBA32, Pix: make([]byte, 24)}, false},
		{"zero width", Frame{Width: 0, Height: 2, Format: RGB24}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if tt.ok && err != nil {
				t.Errorf("Expected valid frame, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("Expected ErrInvalidFrame, got %v", err)
			}
		})
	}
}

func TestImageConvertsBGR(t *testing.T) {
	f := New(1, 1, BGR24, []byte{10, 20, 30}, 0)
	img, err := f.Image()
	if err != nil {
		t.Fatalf("Image failed: %v", err)
	}

	r, g, b, a := img.At(0, 0).RGBA()
	if r>>8 != 30 || g>>8 != 20 || b>>8 != 10 || a>>8 != 255 {
		t.Errorf("Expected (30,20,10,255), got (%d,%d,%d,%d)", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestFromImage(t *testing.T) {
	src := createTestImage(40, 30)
	f := FromImage(src, 270)

	if f.Width != 40 || f.Height != 30 || f.Format != RGBA32 || f.Rotation != 270 {
		t.Errorf("Unexpected frame header %+v", f)
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("FromImage produced an invalid frame: %v", err)
	}

	img, _ := f.Image()
	want := color.RGBAModel.Convert(src.At(10, 20)).(color.RGBA)
	got := img.At(10, 20).(color.RGBA)
	if got != want {
		t.Errorf("Expected pixel %v, got %v", want, got)
	}
	if f.Size() != "40x30" {
		t.Errorf("Expected size 40x30, got %s", f.Size())
	}
}

func TestPoolOwnership(t *testing.T) {
	p := NewPool(8, 4, 2)
	if p.Capacity() != 2 || p.Available() != 2 {
		t.Fatalf("Expected 2 free buffers, got %d/%d", p.Available(), p.Capacity())
	}

	a, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	b, ok := p.TryAcquire()
	if !ok {
		t.Fatal("TryAcquire should succeed with one buffer left")
	}
	if a == b {
		t.Error("Pool handed out the same buffer twice")
	}
	if _, ok := p.TryAcquire(); ok {
		t.Error("TryAcquire should fail on an empty pool")
	}

	if err := a.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := a.Release(); !errors.Is(err, ErrDoubleRelease) {
		t.Errorf("Expected ErrDoubleRelease, got %v", err)
	}
	if p.Available() != 1 {
		t.Errorf("Expected 1 free buffer, got %d", p.Available())
	}

	b.Release()
}

func TestPoolAcquireHonoursContext(t *testing.T) {
	p := NewPool(2, 2, 1)
	held, _ := p.TryAcquire()
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestBufferFill(t *testing.T) {
	p := NewPool(2, 1, 1)
	buf, _ := p.TryAcquire()
	defer buf.Release()

	if err := buf.Fill(New(2, 1, RGB24, []byte{1, 2, 3, 4, 5, 6}, 0)); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	want := []byte{1, 2, 3, 255, 4, 5, 6, 255}
	for i, v := range want {
		if buf.Image.Pix[i] != v {
			t.Fatalf("Pix[%d] = %d, expected %d", i, buf.Image.Pix[i], v)
		}
	}

	err := buf.Fill(New(3, 1, RGB24, make([]byte, 9), 0))
	if !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("Expected ErrSizeMismatch, got %v", err)
	}

	buf.Clear()
	if buf.Image.Pix[0] != 0 {
		t.Error("Clear should zero the buffer")
	}
}
