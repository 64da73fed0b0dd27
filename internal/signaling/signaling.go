// Package signaling runs the WebSocket-based SDP/ICE exchange that sets up
// a WebRTC link. All WebSocket and SDP/ICE details are internal; callers
// receive a Link whose DataChannel is open.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/hoangnecon/CrystalLink/internal/util"
	rtc "github.com/hoangnecon/CrystalLink/internal/webrtc"
)

// pinLength is the number of digits in a signaling PIN.
const pinLength = 6

// ErrBadPIN is returned by EstablishAsSender when the receiver refuses the
// PIN in the URL.
var ErrBadPIN = errors.New("receiver rejected the PIN")

// Signal kinds. The receiver offers, the sender answers, and both trickle
// ICE candidates.
const (
	signalOffer  = "offer"
	signalAnswer = "answer"
	signalICE    = "ice"
)

// signal is one JSON frame on the signaling WebSocket.
type signal struct {
	Kind string `json:"kind"`
	SDP  string `json:"sdp,omitempty"`
	// ICE holds a JSON-encoded webrtc.ICECandidateInit.
	ICE string `json:"ice,omitempty"`
}

// Announce is called once the signaling server is listening, with the
// port and PIN the sender must use. The default prints a banner.
type Announce func(port int, pin string)

func printBanner(port int, pin string) {
	pterm.DefaultBox.WithTitle("WebSocket Signaling").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s\nURL  : ws://<this-host>:%d/ws?pin=%s", port, pin, port, pin))
	pterm.Println("Waiting for the sender...")
}

// EstablishAsReceiver executes the receiver-side signaling flow:
//  1. Start a WS server on port (0 picks one) with a fresh PIN
//  2. Announce the port and PIN
//  3. Wait for the sender to connect
//  4. Create a Link and send the Offer
//  5. Exchange ICE candidates until the DataChannel opens
//  6. Close the WS server and connection
func EstablishAsReceiver(ctx context.Context, port int, opts rtc.Options, announce Announce) (*rtc.Link, error) {
	if announce == nil {
		announce = printBanner
	}

	pin := generatePIN(pinLength)
	srv := newServer(pin)
	wsPort, err := srv.start(port)
	if err != nil {
		return nil, err
	}
	defer srv.close()

	announce(wsPort, pin)

	wsConn, err := srv.waitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for sender: %w", err)
	}
	defer wsConn.Close()
	util.LogInfo("sender connected from %s", wsConn.RemoteAddr())

	return exchange(ctx, wsConn, opts, true)
}

// EstablishAsSender executes the sender-side signaling flow:
//  1. Connect to the receiver's WS server; wsURL carries the PIN, e.g.
//     ws://192.168.1.20:7000/ws?pin=123456
//  2. Create a Link
//  3. Answer the Offer and exchange ICE candidates
//  4. Close the WS connection once the DataChannel opens
func EstablishAsSender(ctx context.Context, wsURL string, opts rtc.Options) (*rtc.Link, error) {
	util.LogInfo("connecting to receiver at %s", wsURL)
	wsConn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrBadPIN
		}
		return nil, fmt.Errorf("failed to reach receiver: %w", err)
	}
	defer wsConn.Close()

	return exchange(ctx, wsConn, opts, false)
}

// exchange drives SDP/ICE over wsConn until the link is ready.
func exchange(ctx context.Context, wsConn *websocket.Conn, opts rtc.Options, offer bool) (*rtc.Link, error) {
	link, err := rtc.NewLink(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	p := &peer{link: link, ws: wsConn}

	link.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			data, _ := json.Marshal(c.ToJSON())
			// Best effort: a lost candidate only narrows the choice of paths.
			p.post(signal{Kind: signalICE, ICE: string(data)})
		}
	})

	// The read loop exits when wsConn is closed by the caller's defer.
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.watch()
	}()

	if offer {
		if err := p.describe(webrtc.SDPTypeOffer); err != nil {
			link.Close()
			return nil, fmt.Errorf("failed to send offer: %w", err)
		}
	}

	select {
	case <-link.Ready():
		util.LogSuccess("WebRTC DataChannel established")
		return link, nil

	case err := <-errCh:
		// The WS may drop right after the channel opened.
		select {
		case <-link.Ready():
			return link, nil
		default:
		}
		link.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		link.Close()
		return nil, ctx.Err()
	}
}
