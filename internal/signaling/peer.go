package signaling

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	rtc "github.com/hoangnecon/CrystalLink/internal/webrtc"
)

// peer is one end of the SDP/ICE exchange. Writes come from both the read
// loop and pion's candidate callback, so they are serialized by wmu.
// Candidates that overtake the remote description are held until it is set.
type peer struct {
	link *rtc.Link
	ws   *websocket.Conn
	wmu  sync.Mutex

	haveRemote bool
	pending    []webrtc.ICECandidateInit
}

func (p *peer) post(s signal) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.ws.WriteJSON(s)
}

// describe creates the local offer or answer, applies it and posts it.
func (p *peer) describe(typ webrtc.SDPType) error {
	var (
		desc webrtc.SessionDescription
		kind string
		err  error
	)
	switch typ {
	case webrtc.SDPTypeOffer:
		desc, err = p.link.CreateOffer()
		kind = signalOffer
	case webrtc.SDPTypeAnswer:
		desc, err = p.link.CreateAnswer()
		kind = signalAnswer
	default:
		return fmt.Errorf("cannot describe %s", typ)
	}
	if err != nil {
		return err
	}
	if err := p.link.SetLocalDescription(desc); err != nil {
		return err
	}
	return p.post(signal{Kind: kind, SDP: desc.SDP})
}

// watch reads signals until the WebSocket closes or one cannot be applied.
func (p *peer) watch() error {
	for {
		var s signal
		if err := p.ws.ReadJSON(&s); err != nil {
			return fmt.Errorf("read signal: %w", err)
		}

		switch s.Kind {
		case signalOffer:
			if err := p.setRemote(webrtc.SDPTypeOffer, s.SDP); err != nil {
				return err
			}
			if err := p.describe(webrtc.SDPTypeAnswer); err != nil {
				return err
			}

		case signalAnswer:
			if err := p.setRemote(webrtc.SDPTypeAnswer, s.SDP); err != nil {
				return err
			}

		case signalICE:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(s.ICE), &init); err != nil {
				return fmt.Errorf("parse ICE candidate: %w", err)
			}
			if !p.haveRemote {
				p.pending = append(p.pending, init)
				continue
			}
			if err := p.link.AddICECandidate(init); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unexpected signal %q", s.Kind)
		}
	}
}

// setRemote applies the remote SDP and flushes held candidates.
func (p *peer) setRemote(typ webrtc.SDPType, sdp string) error {
	if err := p.link.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return err
	}
	p.haveRemote = true
	for _, c := range p.pending {
		if err := p.link.AddICECandidate(c); err != nil {
			return err
		}
	}
	p.pending = nil
	return nil
}
