package webrtc

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/hoangnecon/CrystalLink/internal/util"
)

// Options configures a Link.
type Options struct {
	// STUNServers overrides the default STUN list. An empty, non-nil slice
	// disables STUN (host candidates only).
	STUNServers []string
	// Label names the remote end in logs and as the PacketConn address.
	Label string
}

// Link wraps a single PeerConnection + DataChannel pair. Signaling drives
// it through the SDP/ICE methods; once Ready fires, Conn carries datagrams.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time. The PeerConnection state is recorded but does not
// drive open/close decisions.
type Link struct {
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel
	conn *PacketConn

	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

// NewLink creates a Link backed by a new PeerConnection and a pre-negotiated
// DataChannel.
func NewLink(ctx context.Context, opts Options) (*Link, error) {
	servers := opts.STUNServers
	if servers == nil {
		servers = stunServers
	}
	label := opts.Label
	if label == "" {
		label = "peer"
	}

	pc, err := newPeerConnection(servers)
	if err != nil {
		return nil, err
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	lCtx, lCancel := context.WithCancel(ctx)

	l := &Link{
		pc:         pc,
		dc:         dc,
		openSignal: make(chan struct{}),
		ctx:        lCtx,
		cancel:     lCancel,
		pcState:    webrtc.PeerConnectionStateNew,
	}
	l.conn = newPacketConn(dc, Addr("local"), Addr(label), l.Close)

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(l.openSignal) })
	})

	// DC close → cancel link context and unblock readers.
	dc.OnClose(func() {
		util.LogInfo("DataChannel closed")
		l.conn.Close()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.conn.deliver(msg.Data)
	})

	// Record PC state (informational only), except that a failed
	// connection can never recover and ends the link.
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		l.mu.Lock()
		l.pcState = state
		l.mu.Unlock()
		if state == webrtc.PeerConnectionStateFailed {
			l.conn.Close()
		}
	})

	go func() {
		<-lCtx.Done()
		l.conn.Close()
	}()

	return l, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open.
func (l *Link) Ready() <-chan struct{} {
	return l.openSignal
}

// Done returns a channel that is closed when the Link is shut down.
func (l *Link) Done() <-chan struct{} {
	return l.ctx.Done()
}

// Conn returns the datagram view of the DataChannel. Closing it closes
// the Link.
func (l *Link) Conn() *PacketConn {
	return l.conn
}

// Close shuts down the DataChannel and PeerConnection.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		l.closeErr = errors.Join(l.dc.Close(), l.pc.Close())
	})
	return l.closeErr
}

// ConnectionState returns the last observed PeerConnection state.
func (l *Link) ConnectionState() webrtc.PeerConnectionState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pcState
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (l *Link) CreateOffer() (webrtc.SessionDescription, error) {
	return l.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (l *Link) CreateAnswer() (webrtc.SessionDescription, error) {
	return l.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (l *Link) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (l *Link) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (l *Link) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	l.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (l *Link) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(candidate)
}
