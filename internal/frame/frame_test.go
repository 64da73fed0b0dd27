package frame

import (
	"bytes"
	"testing"

	"github.com/hoangnecon/CrystalLink/internal/protocol"
)

func newTestBuffer(t *testing.T, w, h int) *Buffer {
	t.Helper()
	b, err := NewBuffer(w, h)
	if err != nil {
		t.Fatalf("NewBuffer(%d, %d): %v", w, h, err)
	}
	return b
}

// paint writes a deterministic, position-dependent pattern.
func paint(b *Buffer, seed byte) {
	for i := range b.Pix {
		b.Pix[i] = byte(i%251) ^ seed
	}
}

func setPixel(b *Buffer, x, y int, v byte) {
	off := y*b.Stride() + x*protocol.Channels
	b.Pix[off] = v
}

func TestNewBufferRejectsBadSizes(t *testing.T) {
	for _, sz := range [][2]int{{0, 10}, {10, 0}, {-1, 5}, {MaxDimension, 1}, {1, MaxDimension}} {
		if _, err := NewBuffer(sz[0], sz[1]); err == nil {
			t.Errorf("NewBuffer(%d, %d): expected error", sz[0], sz[1])
		}
	}
}

func TestDiffIdenticalFramesIsEmpty(t *testing.T) {
	d, err := NewDiffer(100, 70)
	if err != nil {
		t.Fatalf("NewDiffer: %v", err)
	}
	cur := newTestBuffer(t, 100, 70)
	paint(cur, 0x5A)

	first, err := d.Diff(cur)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if want := cur.TilesX() * cur.TilesY(); len(first) != want {
		t.Fatalf("first diff: got %d tiles, want %d", len(first), want)
	}

	second, err := d.Diff(cur.Clone())
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second diff of identical frame: got %d tiles, want 0", len(second))
	}
}

func TestDiffReportsOnlyChangedTiles(t *testing.T) {
	cur := newTestBuffer(t, 128, 96)
	paint(cur, 1)
	d := NewDifferFrom(cur)

	next := cur.Clone()
	setPixel(next, 33, 2, 0xEE)  // tile (32, 0)
	setPixel(next, 127, 95, 0x01) // tile (96, 64), last pixel

	tiles, err := d.Diff(next)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(tiles) != 2 {
		t.Fatalf("got %d tiles, want 2", len(tiles))
	}
	if tiles[0].X != 32 || tiles[0].Y != 0 || tiles[1].X != 96 || tiles[1].Y != 64 {
		t.Errorf("unexpected tile order/coordinates: (%d,%d) (%d,%d)",
			tiles[0].X, tiles[0].Y, tiles[1].X, tiles[1].Y)
	}
	if !bytes.Equal(d.Snapshot().Pix, next.Pix) {
		t.Error("snapshot was not updated with the changed tiles")
	}
}

func TestDiffPadsPartialEdgeTiles(t *testing.T) {
	// 40x40 leaves an 8-pixel partial column and row.
	cur := newTestBuffer(t, 40, 40)
	cur.Fill(9, 9, 9, 255)
	d, _ := NewDiffer(40, 40)

	tiles, err := d.Diff(cur)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(tiles) != 4 {
		t.Fatalf("got %d tiles, want 4", len(tiles))
	}

	corner := tiles[3]
	if corner.X != 32 || corner.Y != 32 {
		t.Fatalf("unexpected corner tile (%d,%d)", corner.X, corner.Y)
	}
	if len(corner.Pix) != protocol.TileBytes {
		t.Fatalf("tile payload is %d bytes, want %d", len(corner.Pix), protocol.TileBytes)
	}
	// Pixel (0,0) of the corner tile is in-frame, (8,0) and (0,8) are padding.
	if corner.Pix[0] != 9 {
		t.Errorf("in-frame pixel = %d, want 9", corner.Pix[0])
	}
	if corner.Pix[8*protocol.Channels] != 0 || corner.Pix[8*rowBytes] != 0 {
		t.Error("padding pixels are not zero")
	}
}

func TestInvalidateForcesResend(t *testing.T) {
	cur := newTestBuffer(t, 64, 64)
	d := NewDifferFrom(cur)

	d.Invalidate(40, 10)
	d.Invalidate(-1, 0)  // ignored
	d.Invalidate(64, 64) // ignored

	tiles, _ := d.Diff(cur)
	if len(tiles) != 1 || tiles[0].X != 32 || tiles[0].Y != 0 {
		t.Fatalf("expected only tile (32,0), got %+v", tiles)
	}
	if tiles, _ = d.Diff(cur); len(tiles) != 0 {
		t.Fatalf("dirty flag not cleared, got %d tiles", len(tiles))
	}
}

func TestRefreshReturnsEveryTile(t *testing.T) {
	cur := newTestBuffer(t, 65, 33)
	d := NewDifferFrom(cur)

	tiles, err := d.Refresh(cur)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(tiles) != 3*2 {
		t.Fatalf("got %d tiles, want 6", len(tiles))
	}
}

func TestDiffRejectsSizeMismatch(t *testing.T) {
	d, _ := NewDiffer(64, 64)
	if _, err := d.Diff(newTestBuffer(t, 32, 64)); err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestBlitTileClipsAndRoundTrips(t *testing.T) {
	src := newTestBuffer(t, 50, 50)
	paint(src, 7)
	dst := newTestBuffer(t, 50, 50)

	tile := make([]byte, protocol.TileBytes)
	for _, origin := range [][2]int{{0, 0}, {32, 0}, {0, 32}, {32, 32}} {
		src.ExtractTile(origin[0], origin[1], tile)
		if !dst.BlitTile(origin[0], origin[1], tile) {
			t.Fatalf("BlitTile(%d,%d) rejected", origin[0], origin[1])
		}
	}
	if !bytes.Equal(src.Pix, dst.Pix) {
		t.Fatal("extract/blit did not reproduce the frame")
	}

	if dst.BlitTile(64, 0, tile) {
		t.Error("BlitTile accepted an out-of-frame origin")
	}
	if dst.BlitTile(0, 0, tile[:10]) {
		t.Error("BlitTile accepted a short payload")
	}
}
