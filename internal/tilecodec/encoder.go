// Package tilecodec compresses and decompresses single tiles. The encoder
// classifies content and picks LZ4 for synthetic tiles and JPEG for
// photographic ones; the decoder dispatches strictly on the scheme tag.
package tilecodec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/pierrec/lz4/v4"

	"github.com/hoangnecon/CrystalLink/internal/frame"
	"github.com/hoangnecon/CrystalLink/internal/protocol"
)

const (
	edge     = protocol.TileEdge
	channels = protocol.Channels
)

// Quality bounds for the lossy scheme.
const (
	DefaultQuality = 75
	MinQuality     = 20
	qualityStep    = 15
)

// Options tunes an Encoder. Zero values select defaults.
type Options struct {
	// Quality is the starting JPEG quality (1~100).
	Quality int
	// MaxBytes is the largest payload the caller can transmit for one tile.
	// Encoded results larger than this trigger the next cheaper scheme.
	// Zero means protocol.MaxTilePayload; negative disables the limit.
	MaxBytes int
	// ColorThreshold overrides DefaultColorThreshold.
	ColorThreshold int
	// Lossless keeps every tile lossless that fits MaxBytes once coded.
	// Tiles that cannot fit are still JPEG coded so they reach the peer.
	Lossless bool
}

// Encoder turns raw tiles into wire tiles. It reuses scratch buffers and is
// therefore not safe for concurrent use; create one per goroutine.
type Encoder struct {
	quality  int
	maxBytes int
	lossless bool

	cls *classifier
	lz  lz4.Compressor
	buf []byte
	out bytes.Buffer
}

// NewEncoder builds an Encoder from opts.
func NewEncoder(opts Options) *Encoder {
	q := opts.Quality
	if q <= 0 || q > 100 {
		q = DefaultQuality
	}
	maxBytes := opts.MaxBytes
	if maxBytes == 0 {
		maxBytes = protocol.MaxTilePayload
	}
	return &Encoder{
		quality:  q,
		maxBytes: maxBytes,
		lossless: opts.Lossless,
		cls:      newClassifier(opts.ColorThreshold),
		buf:      make([]byte, lz4.CompressBlockBound(protocol.TileBytes)),
	}
}

// Classify exposes the content classifier.
func (e *Encoder) Classify(pix []byte) Class {
	return e.cls.classify(pix)
}

// Encode compresses one tile. Codec failures never drop the tile: they fall
// back to raw storage. The only error is a payload of the wrong size.
func (e *Encoder) Encode(t frame.Tile) (protocol.Tile, error) {
	if len(t.Pix) != protocol.TileBytes {
		return protocol.Tile{}, fmt.Errorf("tile (%d,%d) payload is %d bytes, want %d",
			t.X, t.Y, len(t.Pix), protocol.TileBytes)
	}

	out := protocol.Tile{X: uint16(t.X), Y: uint16(t.Y)}
	out.Scheme, out.Data = e.encode(t.Pix)
	return out, nil
}

func (e *Encoder) encode(pix []byte) (protocol.Scheme, []byte) {
	if e.lossless || e.cls.classify(pix) == Synthetic {
		if data, ok := e.compressLZ4(pix); ok {
			if e.fits(data) {
				return protocol.SchemeLZ4, data
			}
		} else if e.fits(pix) {
			// Compression would not shrink the tile.
			return protocol.SchemeRaw, cloneBytes(pix)
		}
	}

	if data, ok := e.compressJPEG(pix); ok {
		return protocol.SchemeJPEG, data
	}
	return protocol.SchemeRaw, cloneBytes(pix)
}

func (e *Encoder) fits(data []byte) bool {
	return e.maxBytes < 0 || len(data) <= e.maxBytes
}

// compressLZ4 reports false when the block is incompressible or the codec
// fails; both cases are handled by the raw guard.
func (e *Encoder) compressLZ4(pix []byte) ([]byte, bool) {
	n, err := e.lz.CompressBlock(pix, e.buf)
	if err != nil || n == 0 || n >= len(pix) {
		return nil, false
	}
	return cloneBytes(e.buf[:n]), true
}

// compressJPEG steps quality down until the result fits the tile budget. If
// even MinQuality does not fit, the smallest attempt is returned and the
// batcher reports it.
func (e *Encoder) compressJPEG(pix []byte) ([]byte, bool) {
	img := &image.RGBA{Pix: pix, Stride: edge * channels, Rect: image.Rect(0, 0, edge, edge)}

	var best []byte
	for q := e.quality; ; q -= qualityStep {
		if q < MinQuality {
			q = MinQuality
		}
		e.out.Reset()
		if err := jpeg.Encode(&e.out, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, false
		}
		best = cloneBytes(e.out.Bytes())
		if e.fits(best) || q == MinQuality {
			return best, true
		}
	}
}

func cloneBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
