package app

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/hoangnecon/CrystalLink/internal/batch"
	"github.com/hoangnecon/CrystalLink/internal/capture"
	"github.com/hoangnecon/CrystalLink/internal/config"
	"github.com/hoangnecon/CrystalLink/internal/frame"
	"github.com/hoangnecon/CrystalLink/internal/monitor"
	"github.com/hoangnecon/CrystalLink/internal/protocol"
	"github.com/hoangnecon/CrystalLink/internal/session"
	"github.com/hoangnecon/CrystalLink/internal/tilecodec"
	"github.com/hoangnecon/CrystalLink/internal/transport"
	"github.com/hoangnecon/CrystalLink/internal/util"
)

// Sender runs the capture → diff → encode → batch → transmit pipeline.
type Sender struct {
	cfg    config.Config
	src    capture.Source
	tr     *transport.Transport
	disc   *session.Discovery
	differ *frame.Differ
	enc    *tilecodec.Encoder
	packer *batch.Batcher
	cur    *frame.Buffer

	refresh atomic.Bool // set on every Searching -> Locked transition
	warn    *util.Throttle

	session     uint32
	frameID     uint32
	sentAny     bool
	lastSent    time.Time
	lastRefresh time.Time
	cursorX     int
	cursorY     int
	cursorSent  bool
}

// RunSender orchestrates the full sender lifecycle:
//  1. Open the frame source
//  2. Bind the socket (or establish the WebRTC link)
//  3. Stream until ctx is cancelled
func RunSender(ctx context.Context, cfg config.Config) error {
	src, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := src.(capture.Closer); ok {
		defer c.Close()
	}

	conn, _, err := openLink(ctx, cfg)
	if err != nil {
		return err
	}

	s, err := NewSender(ctx, cfg, conn, src)
	if err != nil {
		conn.Close()
		return err
	}

	startAmbient(ctx, cfg, monitor.Options{Role: string(cfg.Role), Session: s.disc})
	util.LogInfo("streaming %dx%d at %d fps from %s, waiting for a receiver on %s",
		cfg.Width, cfg.Height, cfg.FPS, cfg.Source, s.tr.LocalAddr())

	return s.Run(ctx)
}

func openSource(ctx context.Context, cfg config.Config) (capture.Source, error) {
	if cfg.Source == config.SourcePattern {
		return capture.NewPattern(cfg.Width, cfg.Height)
	}
	f, err := capture.NewFile(cfg.Source, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	go f.Run(ctx)
	return f, nil
}

// NewSender wires a Sender over conn. The Sender owns conn.
func NewSender(ctx context.Context, cfg config.Config, conn net.PacketConn, src capture.Source) (*Sender, error) {
	if w, h := src.Size(); w != cfg.Width || h != cfg.Height {
		return nil, fmt.Errorf("source is %dx%d, configured for %dx%d", w, h, cfg.Width, cfg.Height)
	}

	differ, err := frame.NewDiffer(cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	cur, err := frame.NewBuffer(cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	packer, err := batch.New(protocol.MaxDatagram)
	if err != nil {
		return nil, err
	}

	s := &Sender{
		cfg:    cfg,
		src:    src,
		differ: differ,
		enc: tilecodec.NewEncoder(tilecodec.Options{
			Quality:        cfg.Quality,
			ColorThreshold: cfg.ColorThreshold,
			Lossless:       cfg.Lossless,
		}),
		packer:  packer,
		cur:     cur,
		warn:    util.NewThrottle(2 * time.Second),
		session: util.SessionID(),
	}

	s.disc = newSession(cfg, func(session.Change) {
		s.refresh.Store(true)
	}, nil)
	s.tr = transport.New(ctx, conn, s.disc)
	s.tr.Handle(protocol.KindAnnounce, func(pkt *protocol.Packet, from net.Addr) {
		util.LogDebug("heartbeat from %s (%s)", pkt.Hostname, from)
	})

	return s, nil
}

// Session exposes the discovery state.
func (s *Sender) Session() *session.Discovery {
	return s.disc
}

// Run paces the pipeline at cfg.FPS until ctx is cancelled. Streaming halts
// while Searching; every relock starts with a full refresh.
func (s *Sender) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.tr.Run() }()

	// A ticker never sleeps a negative duration: a slow frame just
	// coalesces the missed ticks.
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.disc.Expire()
			if s.disc.State() != session.Locked {
				continue
			}
			if err := s.tick(now); err != nil {
				return err
			}

		case err := <-errCh:
			return err

		case <-ctx.Done():
			s.tr.Close()
			return nil
		}
	}
}

// tick captures and transmits one frame.
func (s *Sender) tick(now time.Time) error {
	if err := s.src.Capture(s.cur); err != nil {
		s.warn.Warn("capture: %v", err)
		return nil
	}

	relocked := s.refresh.Swap(false)
	if relocked {
		s.cursorSent = false
	}
	full := relocked || now.Sub(s.lastRefresh) >= time.Duration(s.cfg.RefreshInterval)
	var (
		tiles []frame.Tile
		err   error
	)
	if full {
		tiles, err = s.differ.Refresh(s.cur)
		s.lastRefresh = now
	} else {
		tiles, err = s.differ.Diff(s.cur)
	}
	if err != nil {
		return fmt.Errorf("diff: %w", err)
	}

	if len(tiles) > 0 {
		s.emit(tiles)
		s.lastSent = now
	} else if s.sentAny && now.Sub(s.lastSent) >= time.Duration(s.cfg.HeartbeatInterval) {
		// Idle screen: keep the receiver's liveness window fed.
		s.tr.Send(protocol.FrameBegin(s.session, s.frameID-1))
		s.lastSent = now
	}

	s.sendCursor()
	return nil
}

// emit encodes, batches and sends one frame's changed tiles. A tile whose
// datagram fails to leave the socket is invalidated so the next frame
// re-sends it. Tiles the codec or batcher rejected would fail the same way
// again, so they wait for the next change or periodic refresh.
func (s *Sender) emit(tiles []frame.Tile) {
	id := s.frameID
	s.frameID++
	s.sentAny = true
	util.Stats.Frames.Add(1)

	wire := make([]protocol.Tile, 0, len(tiles))
	for _, t := range tiles {
		pt, err := s.enc.Encode(t)
		if err != nil {
			s.warn.Warn("encode: %v", err)
			continue
		}
		wire = append(wire, pt)
	}

	batches, dropped, err := s.packer.Pack(s.session, id, wire)
	if err != nil {
		util.Stats.TilesOversize.Add(int64(len(dropped)))
		s.warn.Warn("frame %d: %d tile(s) over the %d byte budget", id, len(dropped), s.packer.Budget())
	}

	if err := s.tr.Send(protocol.FrameBegin(s.session, id)); err != nil {
		s.warn.Warn("frame %d: %v", id, err)
	}
	for _, b := range batches {
		if err := s.tr.Send(b); err != nil {
			s.warn.Warn("frame %d: %v", id, err)
			for _, t := range b.Tiles {
				s.differ.Invalidate(int(t.X), int(t.Y))
			}
			continue
		}
		util.Stats.TilesSent.Add(int64(len(b.Tiles)))
	}
}

func (s *Sender) sendCursor() {
	cs, ok := s.src.(capture.CursorSource)
	if !ok {
		return
	}
	x, y, ok := cs.Cursor()
	if !ok || (s.cursorSent && x == s.cursorX && y == s.cursorY) {
		return
	}
	if err := s.tr.Send(protocol.Cursor(uint16(x), uint16(y))); err == nil {
		s.cursorX, s.cursorY, s.cursorSent = x, y, true
	}
}
