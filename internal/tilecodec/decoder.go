package tilecodec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/pierrec/lz4/v4"

	"github.com/hoangnecon/CrystalLink/internal/protocol"
)

// ErrCorruptTile is wrapped by every Decode failure.
var ErrCorruptTile = errors.New("corrupt tile")

// Decode expands t into dst, which must be protocol.TileBytes long.
func Decode(t protocol.Tile, dst []byte) error {
	if len(dst) != protocol.TileBytes {
		return fmt.Errorf("destination is %d bytes, want %d", len(dst), protocol.TileBytes)
	}

	switch t.Scheme {
	case protocol.SchemeRaw:
		if len(t.Data) != protocol.TileBytes {
			return fmt.Errorf("%w: raw tile is %d bytes", ErrCorruptTile, len(t.Data))
		}
		copy(dst, t.Data)
		return nil

	case protocol.SchemeLZ4:
		n, err := lz4.UncompressBlock(t.Data, dst)
		if err != nil {
			return fmt.Errorf("%w: lz4: %v", ErrCorruptTile, err)
		}
		if n != protocol.TileBytes {
			return fmt.Errorf("%w: lz4 expanded to %d bytes", ErrCorruptTile, n)
		}
		return nil

	case protocol.SchemeJPEG:
		// The header is checked first so a forged size never reaches the
		// pixel allocation in jpeg.Decode.
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(t.Data))
		if err != nil {
			return fmt.Errorf("%w: jpeg: %v", ErrCorruptTile, err)
		}
		if cfg.Width != edge || cfg.Height != edge {
			return fmt.Errorf("%w: jpeg is %dx%d", ErrCorruptTile, cfg.Width, cfg.Height)
		}
		img, err := jpeg.Decode(bytes.NewReader(t.Data))
		if err != nil {
			return fmt.Errorf("%w: jpeg: %v", ErrCorruptTile, err)
		}
		if b := img.Bounds(); b.Dx() != edge || b.Dy() != edge {
			return fmt.Errorf("%w: jpeg is %dx%d", ErrCorruptTile, b.Dx(), b.Dy())
		}
		out := &image.RGBA{Pix: dst, Stride: edge * channels, Rect: image.Rect(0, 0, edge, edge)}
		draw.Draw(out, out.Rect, img, img.Bounds().Min, draw.Src)
		return nil

	default:
		return fmt.Errorf("%w: unknown scheme %s", ErrCorruptTile, t.Scheme)
	}
}
