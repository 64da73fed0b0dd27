// Package webrtc carries CrystalLink datagrams over a WebRTC DataChannel
// for peers that cannot find each other by LAN broadcast.
package webrtc

import (
	"github.com/pion/webrtc/v4"
)

// STUN servers for ICE candidate gathering. No TURN: the link only has to
// work where a direct path exists.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newPeerConnection creates a PeerConnection configured with the given STUN
// servers.
func newPeerConnection(servers []string) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(servers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: servers}}
	}
	return webrtc.NewPeerConnection(config)
}

// newDataChannel creates a pre-negotiated DataChannel that behaves like
// UDP: unordered and never retransmitted. Negotiated mode (ID 0) lets both
// sides create the channel independently without OnDataChannel.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := false
	negotiated := true
	retransmits := uint16(0)
	id := uint16(0)

	return pc.CreateDataChannel("crystallink", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	})
}
