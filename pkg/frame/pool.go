package frame

import (
	"context"
	"image"
	"sync/atomic"
)

// Pool hands out a fixed number of equally sized RGBA buffers. A buffer is
// owned by exactly one caller between Acquire and Release, so nothing is
// shared between frames in flight.
type Pool struct {
	width  int
	height int
	free   chan *Buffer
}

// Buffer is a pooled RGBA image
type Buffer struct {
	Image *image.RGBA

	pool     *Pool
	released atomic.Bool
}

// NewPool allocates capacity buffers of width x height
func NewPool(width, height, capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	p := &Pool{
		width:  width,
		height: height,
		free:   make(chan *Buffer, capacity),
	}
	for i := 0; i < capacity; i++ {
		b := &Buffer{
			Image: image.NewRGBA(image.Rect(0, 0, width, height)),
			pool:  p,
		}
		b.released.Store(true)
		p.free <- b
	}
	return p
}

// Acquire waits for a free buffer or for ctx to be done
func (p *Pool) Acquire(ctx context.Context) (*Buffer, error) {
	select {
	case b := <-p.free:
		b.released.Store(false)
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire returns a free buffer if one is available right now
func (p *Pool) TryAcquire() (*Buffer, bool) {
	select {
	case b := <-p.free:
		b.released.Store(false)
		return b, true
	default:
		return nil, false
	}
}

// Size returns the buffer dimensions
func (p *Pool) Size() (int, int) {
	return p.width, p.height
}

// Capacity returns the total number of buffers
func (p *Pool) Capacity() int {
	return cap(p.free)
}

// Available returns the number of buffers not currently acquired
func (p *Pool) Available() int {
	return len(p.free)
}

// Fill converts f into the buffer
func (b *Buffer) Fill(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	return convert(b.Image, f)
}

// Clear sets every pixel to transparent black
func (b *Buffer) Clear() {
	clear(b.Image.Pix)
}

// Release hands the buffer back to its pool. The caller must not use the
// buffer afterwards.
func (b *Buffer) Release() error {
	if !b.released.CompareAndSwap(false, true) {
		return ErrDoubleRelease
	}
	b.pool.free <- b
	return nil
}
