package app

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hoangnecon/CrystalLink/internal/config"
	"github.com/hoangnecon/CrystalLink/internal/frame"
	"github.com/hoangnecon/CrystalLink/internal/monitor"
	"github.com/hoangnecon/CrystalLink/internal/present"
	"github.com/hoangnecon/CrystalLink/internal/protocol"
	"github.com/hoangnecon/CrystalLink/internal/reassembly"
	"github.com/hoangnecon/CrystalLink/internal/session"
	"github.com/hoangnecon/CrystalLink/internal/transport"
	"github.com/hoangnecon/CrystalLink/internal/util"
)

// Receiver runs the network → reassembly → presentation pipeline and the
// self-announcing side of discovery.
type Receiver struct {
	cfg      config.Config
	tr       *transport.Transport
	disc     *session.Discovery
	re       *reassembly.Reassembler
	present  present.Presenter
	targets  []net.Addr
	hostname string
	warn     *util.Throttle

	firstPacket atomic.Bool

	mu       sync.Mutex
	lastPeer net.Addr
}

// RunReceiver orchestrates the full receiver lifecycle:
//  1. Bind the stream port (or establish the WebRTC link)
//  2. Announce until a sender locks on
//  3. Reassemble and present frames until ctx is cancelled
func RunReceiver(ctx context.Context, cfg config.Config) error {
	conn, targets, err := openLink(ctx, cfg)
	if err != nil {
		return err
	}

	latest := &present.Latest{}
	presenters := present.Multi{latest}
	if cfg.Output != "" {
		presenters = append(presenters, &present.PNGFile{Path: cfg.Output})
	}

	r, err := NewReceiver(ctx, cfg, conn, targets, presenters)
	if err != nil {
		conn.Close()
		return err
	}

	startAmbient(ctx, cfg, monitor.Options{
		Role:      string(cfg.Role),
		Session:   r.disc,
		Watermark: r.re.Watermark,
		Frame:     latest,
	})
	util.LogInfo("listening on %s, announcing to %v", r.tr.LocalAddr(), targets)

	return r.Run(ctx)
}

// NewReceiver wires a Receiver over conn. The Receiver owns conn.
func NewReceiver(ctx context.Context, cfg config.Config, conn net.PacketConn, targets []net.Addr, p present.Presenter) (*Receiver, error) {
	re, err := reassembly.New(cfg.Width, cfg.Height, cfg.StaleWindow)
	if err != nil {
		return nil, err
	}

	r := &Receiver{
		cfg:      cfg,
		re:       re,
		present:  p,
		targets:  targets,
		hostname: util.Hostname(),
		warn:     util.NewThrottle(2 * time.Second),
	}
	r.disc = newSession(cfg, r.onLock, nil)
	r.tr = transport.New(ctx, conn, r.disc)

	r.tr.Handle(protocol.KindFrameBegin, func(pkt *protocol.Packet, _ net.Addr) {
		r.noteFirstPacket(pkt)
		r.re.BeginFrame(pkt.Session, pkt.FrameID)
	})
	r.tr.Handle(protocol.KindTileBatch, func(pkt *protocol.Packet, _ net.Addr) {
		r.noteFirstPacket(pkt)
		if _, err := r.re.ApplyBatch(pkt); err != nil {
			if errors.Is(err, reassembly.ErrStale) {
				util.LogDebug("%v", err)
				return
			}
			r.warn.Warn("frame %d: %v", pkt.FrameID, err)
		}
	})
	r.tr.Handle(protocol.KindCursor, func(pkt *protocol.Packet, _ net.Addr) {
		r.re.SetCursor(int(pkt.X), int(pkt.Y))
	})

	return r, nil
}

// Session exposes the discovery state.
func (r *Receiver) Session() *session.Discovery {
	return r.disc
}

// Reassembler exposes the framebuffer owner.
func (r *Receiver) Reassembler() *reassembly.Reassembler {
	return r.re
}

// onLock runs on every Searching -> Locked transition. A new session may
// restart frame ids, so the watermark is forgotten; a different sender
// also gets the placeholder instead of the previous machine's pixels.
func (r *Receiver) onLock(c session.Change) {
	r.mu.Lock()
	prev := r.lastPeer
	r.lastPeer = c.Peer
	r.mu.Unlock()

	if prev != nil && prev.String() != c.Peer.String() {
		r.re.Resync()
		return
	}
	r.re.ResetWatermark()
}

func (r *Receiver) noteFirstPacket(pkt *protocol.Packet) {
	if r.firstPacket.CompareAndSwap(false, true) {
		util.LogSuccess("first %s received, stream is live", pkt.Kind)
	}
}

// Run drives announcing, liveness and presentation until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- r.tr.Run() }()

	announce := time.NewTicker(time.Duration(r.cfg.AnnounceInterval))
	defer announce.Stop()
	heartbeat := time.NewTicker(time.Duration(r.cfg.HeartbeatInterval))
	defer heartbeat.Stop()
	display := time.NewTicker(time.Second / time.Duration(r.cfg.DisplayHz))
	defer display.Stop()

	w, h := r.re.Size()
	fb, err := frame.NewBuffer(w, h)
	if err != nil {
		return err
	}

	r.announce()
	for {
		select {
		case <-announce.C:
			r.disc.Expire()
			if r.disc.State() == session.Searching {
				r.announce()
			}

		case <-heartbeat.C:
			if r.disc.State() == session.Locked {
				// Unicast heartbeat keeps the sender's liveness window fed
				// without broadcast noise.
				if err := r.tr.Send(protocol.Announce(r.hostname)); err != nil {
					util.LogDebug("heartbeat: %v", err)
				}
			}

		case <-display.C:
			cursor, err := r.re.Snapshot(fb)
			if err != nil {
				return err
			}
			present.Composite(fb, cursor)
			if err := r.present.Present(fb.RGBA()); err != nil {
				r.warn.Warn("present: %v", err)
			}

		case err := <-errCh:
			return err

		case <-ctx.Done():
			r.tr.Close()
			return nil
		}
	}
}

// announce broadcasts one PeerAnnounce to every target.
func (r *Receiver) announce() {
	pkt := protocol.Announce(r.hostname)
	for _, addr := range r.targets {
		if err := r.tr.SendTo(pkt, addr); err != nil {
			r.warn.Warn("announce to %s: %v", addr, err)
		}
	}
}
