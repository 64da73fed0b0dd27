package webrtc

import (
	"net"
	"sync"
	"time"
)

const (
	highWaterMark = 1 << 20 // drop outgoing datagrams above this much buffered
	inboxSize     = 1024
)

// Addr names the remote end of a DataChannel. There is exactly one peer, so
// every datagram comes from and goes to the same Addr.
type Addr string

func (a Addr) Network() string { return "webrtc" }
func (a Addr) String() string  { return string(a) }

// channel is the slice of *webrtc.DataChannel that PacketConn needs.
type channel interface {
	Send(data []byte) error
	BufferedAmount() uint64
}

// PacketConn presents a DataChannel as a net.PacketConn so the datagram
// transport runs over WebRTC unchanged. Writes never block: above the
// buffered high-water mark a datagram is dropped, as a congested UDP socket
// would.
type PacketConn struct {
	ch     channel
	local  Addr
	remote Addr

	inbox   chan []byte
	closing chan struct{}
	once    sync.Once
	onClose func() error
}

func newPacketConn(ch channel, local, remote Addr, onClose func() error) *PacketConn {
	return &PacketConn{
		ch:      ch,
		local:   local,
		remote:  remote,
		inbox:   make(chan []byte, inboxSize),
		closing: make(chan struct{}),
		onClose: onClose,
	}
}

// deliver queues an inbound message, dropping it if the reader is behind.
func (c *PacketConn) deliver(data []byte) {
	select {
	case c.inbox <- data:
	case <-c.closing:
	default:
	}
}

// ReadFrom blocks until a message arrives or the conn is closed.
func (c *PacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case data := <-c.inbox:
		return copy(p, data), c.remote, nil
	case <-c.closing:
		return 0, nil, &net.OpError{Op: "read", Net: "webrtc", Addr: c.local, Err: net.ErrClosed}
	}
}

// WriteTo sends p to the peer; addr is ignored.
func (c *PacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closing:
		return 0, &net.OpError{Op: "write", Net: "webrtc", Addr: c.remote, Err: net.ErrClosed}
	default:
	}
	if c.ch.BufferedAmount() > highWaterMark {
		return 0, &net.OpError{Op: "write", Net: "webrtc", Addr: c.remote, Err: errCongested}
	}
	if err := c.ch.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close tears down the underlying link once. Nested calls made while the
// link shuts down return immediately.
func (c *PacketConn) Close() error {
	first := false
	c.once.Do(func() {
		close(c.closing)
		first = true
	})
	if first && c.onClose != nil {
		return c.onClose()
	}
	return nil
}

func (c *PacketConn) LocalAddr() net.Addr  { return c.local }
func (c *PacketConn) RemoteAddr() net.Addr { return c.remote }

// Deadlines are not supported; the transport stops reads by closing.
func (c *PacketConn) SetDeadline(time.Time) error      { return nil }
func (c *PacketConn) SetReadDeadline(time.Time) error  { return nil }
func (c *PacketConn) SetWriteDeadline(time.Time) error { return nil }

type congestedError struct{}

func (congestedError) Error() string   { return "data channel congested" }
func (congestedError) Timeout() bool   { return true }
func (congestedError) Temporary() bool { return true }

var errCongested error = congestedError{}
