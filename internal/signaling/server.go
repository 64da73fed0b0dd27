package signaling

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// server is the receiver-side WebSocket server used during signaling. It
// accepts exactly one client presenting the right PIN.
type server struct {
	pin      string
	listener net.Listener
	httpSrv  *http.Server
	connCh   chan *websocket.Conn
}

// newServer creates a new signaling server with the given PIN for authentication.
func newServer(pin string) *server {
	return &server{
		pin:    pin,
		connCh: make(chan *websocket.Conn, 1),
	}
}

// start begins listening on port (0 picks one). Returns the bound port.
func (s *server) start(port int) (int, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return 0, fmt.Errorf("failed to start WS server: %w", err)
	}
	s.listener = listener

	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	s.httpSrv = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		_ = s.httpSrv.Serve(listener)
	}()

	return listener.Addr().(*net.TCPAddr).Port, nil
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	if subtle.ConstantTimeCompare([]byte(pin), []byte(s.pin)) != 1 {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Only accept the first client.
	select {
	case s.connCh <- conn:
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
	}
}

// waitForClient blocks until a client connects or context is cancelled.
func (s *server) waitForClient(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.connCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close shuts down the listener, preventing new connections. Upgraded
// connections are hijacked and unaffected.
func (s *server) close() {
	if s.httpSrv != nil {
		s.httpSrv.Close()
	}
}

// generatePIN returns a random numeric PIN of the specified length.
func generatePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}
