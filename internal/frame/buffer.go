// Package frame holds full-resolution RGBA pixel buffers and the tile grid
// arithmetic shared by the sender's diff engine and the receiver's blitter.
package frame

import (
	"bytes"
	"fmt"
	"image"

	"github.com/hoangnecon/CrystalLink/internal/protocol"
)

const (
	edge     = protocol.TileEdge
	channels = protocol.Channels
	rowBytes = edge * channels
)

// MaxDimension bounds each axis so tile coordinates fit the uint16 wire field.
const MaxDimension = 1 << 16

// Buffer is one flat, row-major RGBA framebuffer addressed by row/column
// arithmetic. Pix has exactly Width*Height*Channels bytes.
type Buffer struct {
	Width  int
	Height int
	Pix    []byte
}

// NewBuffer allocates a zeroed buffer of the given size.
func NewBuffer(width, height int) (*Buffer, error) {
	if width <= 0 || height <= 0 || width >= MaxDimension || height >= MaxDimension {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	return &Buffer{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*channels),
	}, nil
}

// Stride is the number of bytes per pixel row.
func (b *Buffer) Stride() int {
	return b.Width * channels
}

// SameSize reports whether o has identical dimensions.
func (b *Buffer) SameSize(o *Buffer) bool {
	return b.Width == o.Width && b.Height == o.Height
}

// Fill sets every pixel to the given RGBA value.
func (b *Buffer) Fill(r, g, bl, a byte) {
	px := [channels]byte{r, g, bl, a}
	for i := 0; i < len(b.Pix); i += channels {
		copy(b.Pix[i:i+channels], px[:])
	}
}

// CopyFrom overwrites b with the contents of src. Sizes must match.
func (b *Buffer) CopyFrom(src *Buffer) {
	copy(b.Pix, src.Pix)
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{Width: b.Width, Height: b.Height, Pix: make([]byte, len(b.Pix))}
	copy(c.Pix, b.Pix)
	return c
}

// RGBA wraps the buffer as an image without copying.
func (b *Buffer) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    b.Pix,
		Stride: b.Stride(),
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}
}

// TilesX and TilesY are the grid dimensions, counting a trailing partial tile.
func (b *Buffer) TilesX() int { return (b.Width + edge - 1) / edge }
func (b *Buffer) TilesY() int { return (b.Height + edge - 1) / edge }

// span returns how many columns and rows of the tile at (x, y) are inside
// the frame. Both are zero for an out-of-frame origin.
func (b *Buffer) span(x, y int) (cols, rows int) {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return 0, 0
	}
	return min(edge, b.Width-x), min(edge, b.Height-y)
}

// ExtractTile copies the tile whose top-left corner is (x, y) into dst,
// which must be protocol.TileBytes long. Pixels beyond the frame edge are
// padded with zero bytes.
func (b *Buffer) ExtractTile(x, y int, dst []byte) {
	cols, rows := b.span(x, y)
	stride := b.Stride()
	n := cols * channels
	for row := 0; row < edge; row++ {
		out := dst[row*rowBytes : (row+1)*rowBytes]
		if row >= rows {
			clear(out)
			continue
		}
		off := (y+row)*stride + x*channels
		copy(out, b.Pix[off:off+n])
		clear(out[n:])
	}
}

// BlitTile writes a full tile payload at (x, y), clipping whatever falls
// outside the frame. It reports false when the origin is out of bounds or
// the payload has the wrong size.
func (b *Buffer) BlitTile(x, y int, src []byte) bool {
	if len(src) != protocol.TileBytes {
		return false
	}
	cols, rows := b.span(x, y)
	if cols == 0 {
		return false
	}
	stride := b.Stride()
	n := cols * channels
	for row := 0; row < rows; row++ {
		off := (y+row)*stride + x*channels
		copy(b.Pix[off:off+n], src[row*rowBytes:row*rowBytes+n])
	}
	return true
}

// tileEqual compares the in-bounds bytes of one tile row by row and stops at
// the first mismatching row.
func tileEqual(a, b *Buffer, x, y int) bool {
	cols, rows := a.span(x, y)
	stride := a.Stride()
	n := cols * channels
	for row := 0; row < rows; row++ {
		off := (y+row)*stride + x*channels
		if !bytes.Equal(a.Pix[off:off+n], b.Pix[off:off+n]) {
			return false
		}
	}
	return true
}

// copyTile copies the in-bounds part of one tile from src into dst.
func copyTile(dst, src *Buffer, x, y int) {
	cols, rows := dst.span(x, y)
	stride := dst.Stride()
	n := cols * channels
	for row := 0; row < rows; row++ {
		off := (y+row)*stride + x*channels
		copy(dst.Pix[off:off+n], src.Pix[off:off+n])
	}
}
