package frame

import (
	"fmt"

	"github.com/hoangnecon/CrystalLink/internal/protocol"
)

// Tile is one changed grid cell extracted from a capture: grid-aligned
// coordinates plus exactly protocol.TileBytes of RGBA (edge-padded).
type Tile struct {
	X, Y int
	Pix  []byte
}

// Differ finds tiles that changed since the last call. It owns the sender
// snapshot: a changed tile is copied into the snapshot as soon as it is
// detected, so the next frame diffs against what was just sent.
// A Differ is not safe for concurrent use.
type Differ struct {
	snap  *Buffer
	dirty []bool // forced re-send, indexed by tile row*TilesX+col
}

// NewDiffer returns a Differ with a zero-filled snapshot.
func NewDiffer(width, height int) (*Differ, error) {
	snap, err := NewBuffer(width, height)
	if err != nil {
		return nil, err
	}
	return &Differ{snap: snap, dirty: make([]bool, snap.TilesX()*snap.TilesY())}, nil
}

// NewDifferFrom seeds the snapshot from a first capture.
func NewDifferFrom(first *Buffer) *Differ {
	snap := first.Clone()
	return &Differ{snap: snap, dirty: make([]bool, snap.TilesX()*snap.TilesY())}
}

// Snapshot exposes the retained state. Callers must not modify it.
func (d *Differ) Snapshot() *Buffer {
	return d.snap
}

// Invalidate forces the tile containing (x, y) to be reported on the next
// Diff. Used when a tile was detected but never left the process, so the
// snapshot no longer matches what the receiver could have seen.
func (d *Differ) Invalidate(x, y int) {
	if x < 0 || y < 0 || x >= d.snap.Width || y >= d.snap.Height {
		return
	}
	d.dirty[(y/edge)*d.snap.TilesX()+x/edge] = true
}

// Diff returns the tiles of cur that differ from the snapshot, in row-major
// grid order, and updates the snapshot. An empty result means nothing
// needs to be sent.
func (d *Differ) Diff(cur *Buffer) ([]Tile, error) {
	return d.scan(cur, false)
}

// Refresh treats every tile as changed. It bounds how long a lost batch can
// leave the receiver wrong once the content stops changing.
func (d *Differ) Refresh(cur *Buffer) ([]Tile, error) {
	return d.scan(cur, true)
}

func (d *Differ) scan(cur *Buffer, all bool) ([]Tile, error) {
	if !cur.SameSize(d.snap) || len(cur.Pix) != len(d.snap.Pix) {
		return nil, fmt.Errorf("capture is %dx%d, snapshot is %dx%d",
			cur.Width, cur.Height, d.snap.Width, d.snap.Height)
	}

	tx := d.snap.TilesX()
	var changed []int
	for ty := 0; ty < d.snap.TilesY(); ty++ {
		for col := 0; col < tx; col++ {
			idx := ty*tx + col
			x, y := col*edge, ty*edge
			if all || d.dirty[idx] || !tileEqual(cur, d.snap, x, y) {
				copyTile(d.snap, cur, x, y)
				d.dirty[idx] = false
				changed = append(changed, idx)
			}
		}
	}
	if len(changed) == 0 {
		return nil, nil
	}

	// One slab for every payload in this frame.
	slab := make([]byte, len(changed)*protocol.TileBytes)
	tiles := make([]Tile, len(changed))
	for i, idx := range changed {
		pix := slab[i*protocol.TileBytes : (i+1)*protocol.TileBytes : (i+1)*protocol.TileBytes]
		x, y := (idx%tx)*edge, (idx/tx)*edge
		cur.ExtractTile(x, y, pix)
		tiles[i] = Tile{X: x, Y: y, Pix: pix}
	}
	return tiles, nil
}
