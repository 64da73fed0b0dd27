// Package reassembly accumulates incoming tiles into the receiver's
// persistent framebuffer and rejects data that is too old to apply.
package reassembly

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hoangnecon/CrystalLink/internal/frame"
	"github.com/hoangnecon/CrystalLink/internal/protocol"
	"github.com/hoangnecon/CrystalLink/internal/tilecodec"
	"github.com/hoangnecon/CrystalLink/internal/util"
)

// ErrStale is returned for a batch older than the staleness window.
var ErrStale = errors.New("stale frame")

// DefaultWindow is the staleness window in frames.
const DefaultWindow = 2

// Placeholder is the "waiting for stream" fill colour (#000033, opaque).
var Placeholder = [4]byte{0x00, 0x00, 0x33, 0xff}

// Cursor is the overlay position, kept apart from the pixels so it can be
// composited at presentation time.
type Cursor struct {
	X, Y    int
	Visible bool
}

// Reassembler owns the framebuffer and watermark. ApplyBatch decodes
// outside the lock and holds it only while blitting; readers take it only
// for the snapshot copy.
//
// The watermark belongs to one sender session. A datagram from any other
// session starts a new watermark, except one from the session it replaced,
// which is a straggler and stale.
type Reassembler struct {
	window uint32

	mu        sync.Mutex
	fb        *frame.Buffer
	watermark uint32
	started   bool // watermark holds a frame id
	session   uint32
	prev      uint32
	known     bool // session is set
	hasPrev   bool // prev is set
	cursor    Cursor
}

// New returns a Reassembler for a width x height stream, filled with the
// placeholder colour. window is the staleness tolerance in frames.
func New(width, height int, window uint32) (*Reassembler, error) {
	fb, err := frame.NewBuffer(width, height)
	if err != nil {
		return nil, err
	}
	fb.Fill(Placeholder[0], Placeholder[1], Placeholder[2], Placeholder[3])
	return &Reassembler{fb: fb, window: window}, nil
}

// Size returns the framebuffer dimensions.
func (r *Reassembler) Size() (width, height int) {
	return r.fb.Width, r.fb.Height
}

// stale reports whether id is more than window frames behind the
// watermark. Frame ids wrap, so the distance is taken in serial-number
// arithmetic.
func (r *Reassembler) stale(id uint32) bool {
	return r.started && int32(r.watermark-id) > int32(r.window)
}

// admit switches to session if it is new and reports whether frame id of
// that session may still be applied.
func (r *Reassembler) admit(session, id uint32) bool {
	switch {
	case !r.known:
		r.session, r.known = session, true
	case session == r.session:
	case r.hasPrev && session == r.prev:
		return false
	default:
		r.prev, r.hasPrev = r.session, true
		r.session = session
		r.started = false
		r.watermark = 0
	}
	return !r.stale(id)
}

// advance raises the watermark to id if id is newer. The watermark never
// moves backwards within a session.
func (r *Reassembler) advance(id uint32) {
	if !r.started || int32(id-r.watermark) > 0 {
		r.watermark = id
		r.started = true
	}
}

// ApplyBatch decodes every tile of a TileBatch and blits it into the
// framebuffer. A stale batch leaves the framebuffer untouched and returns
// ErrStale. Individual tiles that fail to decode or fall outside the frame
// are skipped and reported through the joined error; the rest still apply.
func (r *Reassembler) ApplyBatch(pkt *protocol.Packet) (applied int, err error) {
	if pkt.Kind != protocol.KindTileBatch {
		return 0, fmt.Errorf("cannot apply %s", pkt.Kind)
	}

	r.mu.Lock()
	ok := r.admit(pkt.Session, pkt.FrameID)
	r.mu.Unlock()
	if !ok {
		util.Stats.TilesStale.Add(int64(len(pkt.Tiles)))
		return 0, fmt.Errorf("%w: frame %d", ErrStale, pkt.FrameID)
	}

	var errs []error
	slab := make([]byte, len(pkt.Tiles)*protocol.TileBytes)
	decoded := make([]bool, len(pkt.Tiles))
	for i, t := range pkt.Tiles {
		dst := slab[i*protocol.TileBytes : (i+1)*protocol.TileBytes]
		if err := tilecodec.Decode(t, dst); err != nil {
			errs = append(errs, fmt.Errorf("tile (%d,%d): %w", t.X, t.Y, err))
			continue
		}
		decoded[i] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check: a newer frame or session may have landed while decoding.
	if !r.admit(pkt.Session, pkt.FrameID) {
		util.Stats.TilesStale.Add(int64(len(pkt.Tiles)))
		return 0, fmt.Errorf("%w: frame %d", ErrStale, pkt.FrameID)
	}

	for i, t := range pkt.Tiles {
		if !decoded[i] {
			continue
		}
		if !r.fb.BlitTile(int(t.X), int(t.Y), slab[i*protocol.TileBytes:(i+1)*protocol.TileBytes]) {
			errs = append(errs, fmt.Errorf("tile (%d,%d) lies outside the %dx%d frame", t.X, t.Y, r.fb.Width, r.fb.Height))
			continue
		}
		applied++
	}
	r.advance(pkt.FrameID)

	util.Stats.TilesApplied.Add(int64(applied))
	util.Stats.DecodeFailed.Add(int64(len(errs)))
	return applied, errors.Join(errs...)
}

// BeginFrame notes a FrameBegin marker. A marker from a new sender session
// clears the watermark so the previous session's ids cannot mark the new
// stream stale. Pixels are left alone.
func (r *Reassembler) BeginFrame(session, id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.admit(session, id) && (!r.started || int32(id-r.watermark) > 0) {
		util.Stats.Frames.Add(1)
	}
}

// SetCursor moves the overlay and makes it visible.
func (r *Reassembler) SetCursor(x, y int) {
	r.mu.Lock()
	r.cursor = Cursor{X: x, Y: y, Visible: true}
	r.mu.Unlock()
}

// Watermark returns the highest applied frame id; ok is false before the
// first batch of a session.
func (r *Reassembler) Watermark() (id uint32, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watermark, r.started
}

// Snapshot copies the framebuffer into dst, which must match Size, and
// returns the cursor overlay state at the same instant.
func (r *Reassembler) Snapshot(dst *frame.Buffer) (Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !dst.SameSize(r.fb) {
		return Cursor{}, fmt.Errorf("snapshot target is %dx%d, framebuffer is %dx%d",
			dst.Width, dst.Height, r.fb.Width, r.fb.Height)
	}
	dst.CopyFrom(r.fb)
	return r.cursor, nil
}

// ResetWatermark forgets the watermark so frame ids restart freely. Called
// on every Searching -> Locked transition.
func (r *Reassembler) ResetWatermark() {
	r.mu.Lock()
	r.started = false
	r.watermark = 0
	r.mu.Unlock()
}

// Resync restores the placeholder image, hides the cursor and forgets the
// watermark along with every session seen so far.
func (r *Reassembler) Resync() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fb.Fill(Placeholder[0], Placeholder[1], Placeholder[2], Placeholder[3])
	r.cursor = Cursor{}
	r.started = false
	r.watermark = 0
	r.known = false
	r.hasPrev = false
}
