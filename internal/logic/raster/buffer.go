// Package raster holds the immutable RGB pixel buffer shared by every
// transform, plus the bilinear sampler they all use.
package raster

import (
	"fmt"
	"math"
)

// Channels is the number of 8-bit samples per pixel.
const Channels = 3

// RGB is one 8-bit-per-channel pixel.
type RGB struct {
	R, G, B uint8
}

// Buffer is a row-major RGB8 image. It is immutable once constructed;
// transforms produce new buffers. Integer coordinates address pixel centers.
type Buffer struct {
	width  int
	height int
	pix    []uint8
}

// New copies pix into a new Buffer. len(pix) must equal width*height*Channels.
func New(width, height int, pix []uint8) (*Buffer, error) {
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("negative dimensions %dx%d", width, height)
	}
	if len(pix) != width*height*Channels {
		return nil, fmt.Errorf("pixel data length %d does not match %dx%dx%d", len(pix), width, height, Channels)
	}
	cp := make([]uint8, len(pix))
	copy(cp, pix)
	return &Buffer{width: width, height: height, pix: cp}, nil
}

// Fill returns a width x height buffer with every pixel set to c.
func Fill(width, height int, c RGB) *Buffer {
	cv := NewCanvas(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			cv.Set(x, y, c)
		}
	}
	return cv.Freeze()
}

// Width returns the width in pixels.
func (b *Buffer) Width() int { return b.width }

// Height returns the height in pixels.
func (b *Buffer) Height() int { return b.height }

// Empty reports whether the buffer has no pixels.
func (b *Buffer) Empty() bool { return b == nil || b.width == 0 || b.height == 0 }

// In reports whether (x, y) is a pixel of the buffer.
func (b *Buffer) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < b.width && y < b.height
}

// At returns the pixel at (x, y). It panics if (x, y) is out of bounds.
func (b *Buffer) At(x, y int) RGB {
	i := (y*b.width + x) * Channels
	return RGB{b.pix[i], b.pix[i+1], b.pix[i+2]}
}

// Pix returns a copy of the raw samples.
func (b *Buffer) Pix() []uint8 {
	cp := make([]uint8, len(b.pix))
	copy(cp, b.pix)
	return cp
}

// Clone returns a pixel-identical copy.
func (b *Buffer) Clone() *Buffer {
	return &Buffer{width: b.width, height: b.height, pix: b.Pix()}
}

// Equal reports whether both buffers have the same size and samples.
func (b *Buffer) Equal(o *Buffer) bool {
	if b.width != o.width || b.height != o.height {
		return false
	}
	for i := range b.pix {
		if b.pix[i] != o.pix[i] {
			return false
		}
	}
	return true
}

// MeanAbsDiff returns the mean absolute per-channel difference between two
// buffers of the same size.
func MeanAbsDiff(a, b *Buffer) (float64, error) {
	if a.width != b.width || a.height != b.height {
		return 0, fmt.Errorf("size mismatch: %dx%d vs %dx%d", a.width, a.height, b.width, b.height)
	}
	if len(a.pix) == 0 {
		return 0, nil
	}
	var sum float64
	for i := range a.pix {
		sum += math.Abs(float64(a.pix[i]) - float64(b.pix[i]))
	}
	return sum / float64(len(a.pix)), nil
}

// Canvas is a write-once pixel surface. Freeze hands its samples over to a
// Buffer; the canvas must not be used afterwards.
type Canvas struct {
	width  int
	height int
	pix    []uint8
}

// NewCanvas allocates a zeroed width x height canvas.
func NewCanvas(width, height int) *Canvas {
	return &Canvas{width: width, height: height, pix: make([]uint8, width*height*Channels)}
}

// Set writes the pixel at (x, y).
func (c *Canvas) Set(x, y int, v RGB) {
	i := (y*c.width + x) * Channels
	c.pix[i] = v.R
	c.pix[i+1] = v.G
	c.pix[i+2] = v.B
}

// Freeze returns the canvas content as an immutable Buffer.
func (c *Canvas) Freeze() *Buffer {
	b := &Buffer{width: c.width, height: c.height, pix: c.pix}
	c.pix = nil
	return b
}
