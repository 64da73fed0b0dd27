package reassembly

import (
	"bytes"
	"errors"
	"testing"

	"github.com/hoangnecon/CrystalLink/internal/batch"
	"github.com/hoangnecon/CrystalLink/internal/frame"
	"github.com/hoangnecon/CrystalLink/internal/protocol"
	"github.com/hoangnecon/CrystalLink/internal/tilecodec"
)

func solid(x, y int, v byte) protocol.Tile {
	data := bytes.Repeat([]byte{v, v, v, 0xff}, protocol.TileEdge*protocol.TileEdge)
	return protocol.Tile{X: uint16(x), Y: uint16(y), Scheme: protocol.SchemeRaw, Data: data}
}

func pixel(t *testing.T, r *Reassembler, x, y int) [4]byte {
	t.Helper()
	w, h := r.Size()
	fb, _ := frame.NewBuffer(w, h)
	if _, err := r.Snapshot(fb); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	off := y*fb.Stride() + x*4
	return [4]byte(fb.Pix[off : off+4])
}

func snapshot(t *testing.T, r *Reassembler) *frame.Buffer {
	t.Helper()
	w, h := r.Size()
	fb, _ := frame.NewBuffer(w, h)
	if _, err := r.Snapshot(fb); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return fb
}

func TestStartsWithPlaceholder(t *testing.T) {
	r, err := New(100, 50, DefaultWindow)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := pixel(t, r, 99, 49); got != Placeholder {
		t.Fatalf("pixel = %v, want placeholder", got)
	}
	if _, ok := r.Watermark(); ok {
		t.Fatal("watermark set before any batch")
	}
}

func TestApplyBatch(t *testing.T) {
	r, _ := New(64, 64, DefaultWindow)

	n, err := r.ApplyBatch(protocol.TileBatch(1, 3, []protocol.Tile{solid(32, 0, 200), solid(0, 32, 100)}))
	if err != nil || n != 2 {
		t.Fatalf("ApplyBatch = %d, %v", n, err)
	}
	if got := pixel(t, r, 40, 10); got != [4]byte{200, 200, 200, 0xff} {
		t.Fatalf("tile (32,0) not applied: %v", got)
	}
	if got := pixel(t, r, 5, 5); got != Placeholder {
		t.Fatalf("untouched tile changed: %v", got)
	}
	if id, ok := r.Watermark(); !ok || id != 3 {
		t.Fatalf("watermark = %d, %v", id, ok)
	}
}

func TestStaleness(t *testing.T) {
	tests := []struct {
		name      string
		watermark uint32
		frame     uint32
		stale     bool
	}{
		{"newer", 10, 11, false},
		{"same", 10, 10, false},
		{"inside window", 10, 8, false},
		{"outside window", 10, 7, true},
		{"far behind", 1000, 1, true},
		{"across wrap, newer", 0xFFFFFFFF, 1, false},
		{"across wrap, older", 1, 0xFFFFFFF0, true},
		{"across wrap, inside window", 0, 0xFFFFFFFF, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := New(64, 32, DefaultWindow)
			if _, err := r.ApplyBatch(protocol.TileBatch(1, tt.watermark, []protocol.Tile{solid(0, 0, 50)})); err != nil {
				t.Fatalf("seed: %v", err)
			}
			before := snapshot(t, r)

			_, err := r.ApplyBatch(protocol.TileBatch(1, tt.frame, []protocol.Tile{solid(0, 0, 250), solid(32, 0, 250)}))
			if tt.stale {
				if !errors.Is(err, ErrStale) {
					t.Fatalf("got %v, want ErrStale", err)
				}
				if !bytes.Equal(snapshot(t, r).Pix, before.Pix) {
					t.Fatal("stale batch modified the framebuffer")
				}
				if id, _ := r.Watermark(); id != tt.watermark {
					t.Fatalf("watermark moved to %d", id)
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyBatch: %v", err)
			}
			want := tt.watermark
			if int32(tt.frame-tt.watermark) > 0 {
				want = tt.frame
			}
			if id, _ := r.Watermark(); id != want {
				t.Fatalf("watermark = %d, want %d", id, want)
			}
		})
	}
}

func TestBadTilesAreSkipped(t *testing.T) {
	r, _ := New(64, 32, DefaultWindow)

	corrupt := protocol.Tile{X: 32, Y: 0, Scheme: protocol.SchemeLZ4, Data: []byte{0xff, 0xff, 0xff}}
	outside := solid(96, 0, 10)
	n, err := r.ApplyBatch(protocol.TileBatch(1, 1, []protocol.Tile{corrupt, solid(0, 0, 77), outside}))
	if n != 1 {
		t.Fatalf("applied %d tiles, want 1", n)
	}
	if !errors.Is(err, tilecodec.ErrCorruptTile) {
		t.Fatalf("error %v does not report the corrupt tile", err)
	}
	if got := pixel(t, r, 1, 1); got != [4]byte{77, 77, 77, 0xff} {
		t.Fatalf("good tile not applied: %v", got)
	}
	if got := pixel(t, r, 33, 1); got != Placeholder {
		t.Fatalf("corrupt tile touched pixels: %v", got)
	}
}

func TestNewSessionRestartsWatermark(t *testing.T) {
	const before, after = 0xA, 0xB
	r, _ := New(32, 32, DefaultWindow)
	r.ApplyBatch(protocol.TileBatch(before, 5000, []protocol.Tile{solid(0, 0, 9)}))

	// No FrameBegin reaches the receiver; the batches alone carry the session.
	for id := uint32(0); id < 300; id++ {
		if _, err := r.ApplyBatch(protocol.TileBatch(after, id, []protocol.Tile{solid(0, 0, byte(id))})); err != nil {
			t.Fatalf("frame %d of the new session: %v", id, err)
		}
	}
	if id, _ := r.Watermark(); id != 299 {
		t.Fatalf("watermark = %d, want 299", id)
	}

	_, err := r.ApplyBatch(protocol.TileBatch(before, 5001, []protocol.Tile{solid(0, 0, 1)}))
	if !errors.Is(err, ErrStale) {
		t.Fatalf("straggler from the old session: err = %v, want ErrStale", err)
	}
	if id, _ := r.Watermark(); id != 299 {
		t.Fatalf("straggler moved the watermark to %d", id)
	}
}

func TestBeginFrameSession(t *testing.T) {
	r, _ := New(32, 32, DefaultWindow)
	r.ApplyBatch(protocol.TileBatch(1, 5000, []protocol.Tile{solid(0, 0, 9)}))

	// Heartbeats repeat the last frame id of the same session.
	r.BeginFrame(1, 0)
	r.BeginFrame(1, 4999)
	if id, ok := r.Watermark(); !ok || id != 5000 {
		t.Fatalf("same-session FrameBegin changed the watermark to %d (ok=%v)", id, ok)
	}

	r.BeginFrame(2, 0)
	if _, ok := r.Watermark(); ok {
		t.Fatal("FrameBegin from a new session kept the watermark")
	}
	if got := pixel(t, r, 0, 0); got != [4]byte{9, 9, 9, 0xff} {
		t.Fatalf("pixels changed on session change: %v", got)
	}
	if _, err := r.ApplyBatch(protocol.TileBatch(2, 0, []protocol.Tile{solid(0, 0, 11)})); err != nil {
		t.Fatalf("new session batch rejected: %v", err)
	}
}

func TestResetAndResync(t *testing.T) {
	r, _ := New(32, 32, DefaultWindow)
	r.ApplyBatch(protocol.TileBatch(1, 40, []protocol.Tile{solid(0, 0, 9)}))
	r.SetCursor(3, 4)

	r.ResetWatermark()
	if _, ok := r.Watermark(); ok {
		t.Fatal("ResetWatermark kept the watermark")
	}
	if got := pixel(t, r, 0, 0); got == Placeholder {
		t.Fatal("ResetWatermark touched pixels")
	}

	r.Resync()
	if got := pixel(t, r, 0, 0); got != Placeholder {
		t.Fatalf("Resync left %v", got)
	}
	fb := snapshot(t, r)
	if c, _ := r.Snapshot(fb); c.Visible {
		t.Fatal("Resync kept the cursor")
	}
}

func TestCursorIsNotPersisted(t *testing.T) {
	r, _ := New(32, 32, DefaultWindow)
	before := snapshot(t, r)

	r.SetCursor(10, 12)
	fb, _ := frame.NewBuffer(32, 32)
	c, err := r.Snapshot(fb)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if c != (Cursor{X: 10, Y: 12, Visible: true}) {
		t.Fatalf("cursor = %+v", c)
	}
	if !bytes.Equal(fb.Pix, before.Pix) {
		t.Fatal("cursor update changed the framebuffer")
	}

	small, _ := frame.NewBuffer(16, 16)
	if _, err := r.Snapshot(small); err == nil {
		t.Fatal("snapshot into a mismatched buffer should fail")
	}
}

// TestConvergesAfterLoss drives the sender pipeline in-process: frame N is
// lost entirely, and the periodic full refresh must still leave the
// receiver byte-identical to the sender.
func TestConvergesAfterLoss(t *testing.T) {
	const w, h = 100, 70

	differ, _ := frame.NewDiffer(w, h)
	enc := tilecodec.NewEncoder(tilecodec.Options{Lossless: true})
	packer, _ := batch.New(0)
	r, _ := New(w, h, DefaultWindow)

	send := func(id uint32, tiles []frame.Tile, deliver bool) {
		t.Helper()
		var wire []protocol.Tile
		for _, ft := range tiles {
			pt, err := enc.Encode(ft)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			wire = append(wire, pt)
		}
		batches, dropped, err := packer.Pack(1, id, wire)
		if err != nil {
			t.Fatalf("Pack: %v", err)
		}
		if len(dropped) != 0 {
			t.Fatalf("dropped %d tiles", len(dropped))
		}
		if !deliver {
			return
		}
		r.BeginFrame(1, id)
		for _, b := range batches {
			if _, err := r.ApplyBatch(b); err != nil {
				t.Fatalf("ApplyBatch: %v", err)
			}
		}
	}

	cur, _ := frame.NewBuffer(w, h)
	paint := func(v byte, x0, x1 int) {
		for y := 0; y < h; y++ {
			for x := x0; x < x1; x++ {
				off := y*cur.Stride() + x*4
				copy(cur.Pix[off:off+4], []byte{v, v / 2, 255 - v, 0xff})
			}
		}
	}

	paint(10, 0, w)
	tiles, _ := differ.Refresh(cur)
	send(0, tiles, true)
	if !bytes.Equal(snapshot(t, r).Pix, cur.Pix) {
		t.Fatal("receiver does not match after the initial refresh")
	}

	for id := uint32(1); id < 4; id++ {
		paint(byte(40*id+10), int(id)*20, int(id)*20+30)
		tiles, err := differ.Diff(cur)
		if err != nil {
			t.Fatalf("Diff: %v", err)
		}
		send(id, tiles, id != 2)
	}

	if bytes.Equal(snapshot(t, r).Pix, cur.Pix) {
		t.Fatal("receiver matched without the lost frame; the test is not exercising loss")
	}

	tiles, _ = differ.Refresh(cur)
	send(4, tiles, true)
	if !bytes.Equal(snapshot(t, r).Pix, cur.Pix) {
		t.Fatal("receiver did not converge after a full refresh")
	}
}
