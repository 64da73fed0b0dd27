package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	rtc "github.com/hoangnecon/CrystalLink/internal/webrtc"
)

func TestGeneratePIN(t *testing.T) {
	pin := generatePIN(pinLength)
	if len(pin) != pinLength {
		t.Fatalf("PIN %q has length %d", pin, len(pin))
	}
	if strings.Trim(pin, "0123456789") != "" {
		t.Fatalf("PIN %q is not numeric", pin)
	}
}

func TestServerRejectsWrongPIN(t *testing.T) {
	srv := newServer("123456")
	port, err := srv.start(0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.close()

	_, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/ws?pin=000000", port), nil)
	if err == nil {
		t.Fatal("dial with a wrong PIN succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v, want 401", resp)
	}
}

func TestSenderReportsBadPIN(t *testing.T) {
	srv := newServer("123456")
	port, err := srv.start(0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = EstablishAsSender(ctx, fmt.Sprintf("ws://127.0.0.1:%d/ws?pin=654321", port), rtc.Options{})
	if !errors.Is(err, ErrBadPIN) {
		t.Fatalf("err = %v, want ErrBadPIN", err)
	}
}

func TestPeerRejectsUnknownSignal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(signal{Kind: "bye"})
		conn.ReadMessage()
	}))
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	p := &peer{ws: ws}
	if err := p.watch(); err == nil || !strings.Contains(err.Error(), `"bye"`) {
		t.Fatalf("watch = %v, want unexpected signal error", err)
	}
}

func TestServerAcceptsOneClient(t *testing.T) {
	srv := newServer("424242")
	port, err := srv.start(0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.close()

	url := fmt.Sprintf("ws://127.0.0.1:%d/ws?pin=424242", port)
	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("first dial: %v", err)
	}
	defer first.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := srv.waitForClient(ctx)
	if err != nil {
		t.Fatalf("waitForClient: %v", err)
	}
	defer conn.Close()

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("second dial: %v", err)
	}
	defer second.Close()
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := second.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("second client got %v, want policy violation close", err)
	}
}

// TestEstablish runs both ends in-process. ICE needs a usable host
// candidate; sandboxes with loopback only cannot connect, so the test skips
// rather than fails when no path forms.
func TestEstablish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	opts := rtc.Options{STUNServers: []string{}}
	urls := make(chan string, 1)

	type result struct {
		link *rtc.Link
		err  error
	}
	recvCh := make(chan result, 1)
	go func() {
		link, err := EstablishAsReceiver(ctx, 0, opts, func(port int, pin string) {
			urls <- fmt.Sprintf("ws://127.0.0.1:%d/ws?pin=%s", port, pin)
		})
		recvCh <- result{link, err}
	}()

	var url string
	select {
	case url = <-urls:
	case <-ctx.Done():
		t.Fatal("receiver never announced")
	}

	sendLink, err := EstablishAsSender(ctx, url, opts)
	if err != nil {
		if ctx.Err() != nil {
			t.Skipf("no ICE connectivity in this environment: %v", err)
		}
		t.Fatalf("EstablishAsSender: %v", err)
	}
	defer sendLink.Close()

	res := <-recvCh
	if res.err != nil {
		t.Fatalf("EstablishAsReceiver: %v", res.err)
	}
	defer res.link.Close()

	// The channel is unreliable, so keep pinging until one lands.
	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 16)
		n, _, err := res.link.Conn().ReadFrom(buf)
		if err == nil {
			got <- string(buf[:n])
		}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := sendLink.Conn().WriteTo([]byte("ping"), nil); err != nil {
			t.Fatalf("WriteTo: %v", err)
		}
		select {
		case msg := <-got:
			if msg != "ping" {
				t.Fatalf("received %q", msg)
			}
			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("no datagram crossed the link")
		}
	}
}
