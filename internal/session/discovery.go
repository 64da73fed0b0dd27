// Package session tracks which remote address, if any, the local end is
// streaming with.
package session

import (
	"net"
	"sync"
	"time"
)

// State is the discovery state.
type State int

const (
	Searching State = iota // no known peer
	Locked                 // peer address established
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// DefaultTimeout is the liveness window used when none is configured.
const DefaultTimeout = 5 * time.Second

// Change describes one state transition.
type Change struct {
	From, To State
	Peer     net.Addr // the new peer on Locked, the lost peer on Searching
}

// Discovery is the session context shared by the transport and both
// pipelines. It is the only owner of the current peer address.
//
// Observe must only be called for datagrams that already passed schema
// validation; Discovery itself never sees raw bytes.
type Discovery struct {
	timeout time.Duration
	now     func() time.Time

	emit sync.Mutex // held across a transition and its notification

	mu       sync.Mutex
	state    State
	peer     net.Addr
	lastSeen time.Time
	handlers []func(Change)
}

// New creates a Discovery in the Searching state. A non-positive timeout
// selects DefaultTimeout.
func New(timeout time.Duration) *Discovery {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Discovery{timeout: timeout, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (d *Discovery) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

// OnChange registers fn to run after every state transition. Handlers run
// synchronously on the goroutine that caused the transition, outside the
// internal lock but one transition at a time, so they see transitions in
// order. A handler must not call Observe or Expire.
func (d *Discovery) OnChange(fn func(Change)) {
	d.mu.Lock()
	d.handlers = append(d.handlers, fn)
	d.mu.Unlock()
}

// Observe records a valid packet from addr. While Searching, addr becomes
// the peer. While Locked, only packets from the current peer refresh
// liveness; other sources are ignored and reported as false.
func (d *Discovery) Observe(addr net.Addr) bool {
	d.mu.Lock()
	if d.state == Locked {
		ok := d.touch(addr)
		d.mu.Unlock()
		return ok
	}
	d.mu.Unlock()

	d.emit.Lock()
	defer d.emit.Unlock()

	d.mu.Lock()
	if d.state == Locked {
		ok := d.touch(addr)
		d.mu.Unlock()
		return ok
	}
	d.state = Locked
	d.peer = addr
	d.lastSeen = d.now()
	change := Change{From: Searching, To: Locked, Peer: addr}
	handlers := d.handlers
	d.mu.Unlock()

	notify(handlers, change)
	return true
}

// touch refreshes liveness when addr is the locked peer. d.mu must be held.
func (d *Discovery) touch(addr net.Addr) bool {
	if !sameAddr(d.peer, addr) {
		return false
	}
	d.lastSeen = d.now()
	return true
}

// expired reports whether the locked peer outlived the liveness window.
// d.mu must be held.
func (d *Discovery) expired() bool {
	return d.state == Locked && d.now().Sub(d.lastSeen) > d.timeout
}

// Expire drops the lock if the peer has been silent for longer than the
// liveness window. It reports whether a transition happened.
func (d *Discovery) Expire() bool {
	d.mu.Lock()
	stale := d.expired()
	d.mu.Unlock()
	if !stale {
		return false
	}

	d.emit.Lock()
	defer d.emit.Unlock()

	d.mu.Lock()
	if !d.expired() {
		d.mu.Unlock()
		return false
	}
	change := Change{From: Locked, To: Searching, Peer: d.peer}
	d.state = Searching
	d.peer = nil
	handlers := d.handlers
	d.mu.Unlock()

	notify(handlers, change)
	return true
}

// Peer returns the locked peer address, or nil while Searching.
func (d *Discovery) Peer() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peer
}

// State returns the current state.
func (d *Discovery) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Timeout returns the liveness window.
func (d *Discovery) Timeout() time.Duration {
	return d.timeout
}

func notify(handlers []func(Change), c Change) {
	for _, fn := range handlers {
		fn(c)
	}
}

func sameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	if ua, ok := a.(*net.UDPAddr); ok {
		if ub, ok := b.(*net.UDPAddr); ok {
			return ua.Port == ub.Port && ua.IP.Equal(ub.IP) && ua.Zone == ub.Zone
		}
	}
	return a.Network() == b.Network() && a.String() == b.String()
}
