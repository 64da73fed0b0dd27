// Package transport moves CrystalLink datagrams over a net.PacketConn. It
// encodes and decodes the wire format, sends to the peer the session
// reports, and demultiplexes inbound packets by kind.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hoangnecon/CrystalLink/internal/protocol"
	"github.com/hoangnecon/CrystalLink/internal/session"
	"github.com/hoangnecon/CrystalLink/internal/util"
)

// ErrNoPeer is returned by Send while the session is Searching.
var ErrNoPeer = errors.New("no peer locked")

// ErrQueueFull is returned when the outgoing queue is full and the
// datagram was dropped.
var ErrQueueFull = errors.New("send queue full")

// ErrClosed is returned after the Transport has shut down.
var ErrClosed = errors.New("transport closed")

// readRetryDelay paces Run while the socket keeps failing reads.
const readRetryDelay = 10 * time.Millisecond

// Handler consumes one validated inbound packet. Handlers run on the
// receive goroutine and must not block for long.
type Handler func(pkt *protocol.Packet, from net.Addr)

// Transport wraps a single PacketConn. Its lifecycle is governed by the
// context passed at construction time: cancelling it closes the socket and
// stops both the receive loop and the writer.
type Transport struct {
	conn    net.PacketConn
	session *session.Discovery
	sender  *sender

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	handlers map[protocol.Kind]Handler

	warn *util.Throttle
}

// New creates a Transport over conn. The Transport owns conn from now on.
func New(ctx context.Context, conn net.PacketConn, disc *session.Discovery) *Transport {
	tCtx, tCancel := context.WithCancel(ctx)

	t := &Transport{
		conn:     conn,
		session:  disc,
		ctx:      tCtx,
		cancel:   tCancel,
		handlers: make(map[protocol.Kind]Handler),
		warn:     util.NewThrottle(2 * time.Second),
	}
	t.sender = newSender(tCtx, conn, t.warn)

	// Socket lifetime follows the context so a blocked ReadFrom returns.
	go func() {
		<-tCtx.Done()
		conn.Close()
	}()

	return t
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Done returns a channel that is closed when the Transport is shut down.
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close stops the Transport and releases the socket.
func (t *Transport) Close() error {
	t.cancel()
	return nil
}

// LocalAddr is the bound socket address.
func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Session returns the discovery state this Transport feeds.
func (t *Transport) Session() *session.Discovery {
	return t.session
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Handle registers fn for packets of the given kind, replacing any previous
// handler. Packets of kinds without a handler still count as liveness.
func (t *Transport) Handle(kind protocol.Kind, fn Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[kind] = fn
}

// Send enqueues pkt for the locked peer.
func (t *Transport) Send(pkt *protocol.Packet) error {
	peer := t.session.Peer()
	if peer == nil {
		return ErrNoPeer
	}
	return t.SendTo(pkt, peer)
}

// SendTo enqueues pkt for addr. It never blocks: a full queue drops the
// datagram and returns ErrQueueFull.
func (t *Transport) SendTo(pkt *protocol.Packet, addr net.Addr) error {
	data, err := protocol.Encode(pkt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", pkt.Kind, err)
	}
	if len(data) > protocol.MaxDatagram {
		return fmt.Errorf("%s is %d bytes, limit %d", pkt.Kind, len(data), protocol.MaxDatagram)
	}
	return t.sender.send(data, addr)
}

// Run reads datagrams until the Transport is closed. Every datagram is
// validated before it reaches the session or any handler; malformed input
// is counted and dropped.
func (t *Transport) Run() error {
	// One spare byte so oversize datagrams are detected instead of truncated.
	buf := make([]byte, protocol.MaxDatagram+1)

	for {
		n, from, err := t.conn.ReadFrom(buf)
		if err != nil {
			if t.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				t.cancel()
				return nil
			}
			t.warn.Warn("read failed: %v", err)
			select {
			case <-t.ctx.Done():
			case <-time.After(readRetryDelay):
			}
			continue
		}
		util.Stats.AddRecv(n)

		pkt, err := protocol.Decode(buf[:n])
		if err != nil {
			util.Stats.Malformed.Add(1)
			t.warn.Warn("dropped %d byte datagram from %s: %v", n, from, err)
			continue
		}

		if !t.session.Observe(from) {
			util.LogDebug("ignored %s from %s: not the locked peer", pkt.Kind, from)
			continue
		}

		t.mu.RLock()
		fn := t.handlers[pkt.Kind]
		t.mu.RUnlock()
		if fn != nil {
			fn(pkt, from)
		}
	}
}
