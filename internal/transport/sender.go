package transport

import (
	"context"
	"net"

	"github.com/hoangnecon/CrystalLink/internal/util"
)

// sendBufferSize is the outgoing datagram queue capacity. A full 1080p
// refresh is roughly 2000 tiles, so this holds a few frames of batches.
const sendBufferSize = 1024

type datagram struct {
	data []byte
	addr net.Addr
}

// sender is a goroutine-based datagram writer that serializes all writes to
// the socket. Enqueueing never blocks: a realtime stream prefers losing a
// datagram to stalling the capture loop.
type sender struct {
	ctx   context.Context
	inbox chan datagram
	warn  *util.Throttle
}

// newSender creates a sender and starts its loop. The loop exits when ctx
// is cancelled.
func newSender(ctx context.Context, conn net.PacketConn, warn *util.Throttle) *sender {
	s := &sender{
		ctx:   ctx,
		inbox: make(chan datagram, sendBufferSize),
		warn:  warn,
	}
	go s.loop(conn)
	return s
}

// loop is the single-writer goroutine.
func (s *sender) loop(conn net.PacketConn) {
	for {
		select {
		case d := <-s.inbox:
			if _, err := conn.WriteTo(d.data, d.addr); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				// Unreachable hosts and full socket buffers are transient.
				util.Stats.SendDropped.Add(1)
				s.warn.Warn("send to %s failed: %v", d.addr, err)
				continue
			}
			util.Stats.AddSent(len(d.data))

		case <-s.ctx.Done():
			return
		}
	}
}

// send enqueues a datagram, dropping it when the queue is full.
func (s *sender) send(data []byte, addr net.Addr) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case s.inbox <- datagram{data: data, addr: addr}:
		return nil
	default:
		util.Stats.SendDropped.Add(1)
		return ErrQueueFull
	}
}
