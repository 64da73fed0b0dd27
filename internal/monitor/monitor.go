// Package monitor serves an optional HTTP surface for a running endpoint:
// Prometheus metrics, a JSON status document and, on the receiver, the
// latest reconstructed frame.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hoangnecon/CrystalLink/internal/present"
	"github.com/hoangnecon/CrystalLink/internal/session"
	"github.com/hoangnecon/CrystalLink/internal/util"
)

const namespace = "crystallink"

// Status is the /status document.
type Status struct {
	Role      string           `json:"role"`
	Hostname  string           `json:"hostname"`
	State     string           `json:"state"`
	Peer      string           `json:"peer,omitempty"`
	Watermark *uint32          `json:"watermark,omitempty"`
	Uptime    string           `json:"uptime"`
	Counters  map[string]int64 `json:"counters"`
}

// Options wires the monitor to the running endpoint.
type Options struct {
	Role    string
	Session *session.Discovery
	// Watermark reports the receiver's watermark; nil on the sender.
	Watermark func() (uint32, bool)
	// Frame serves /frame.png; nil on the sender.
	Frame *present.Latest
}

// Server is the monitor HTTP server.
type Server struct {
	opts     Options
	registry *prometheus.Registry
	router   chi.Router
	started  time.Time
	hostname string
}

// New builds the router and registers all metrics on a private registry.
func New(opts Options) *Server {
	s := &Server{
		opts:     opts,
		registry: prometheus.NewRegistry(),
		started:  time.Now(),
		hostname: util.Hostname(),
	}
	s.registerMetrics()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP)
	r.Get("/status", s.handleStatus)
	if opts.Frame != nil {
		r.Get("/frame.png", s.handleFrame)
	}
	s.router = r
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	util.LogInfo("monitor listening on http://%s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// counters maps exported metric names onto the process-wide stats.
func counters() map[string]func() int64 {
	st := util.Stats
	return map[string]func() int64{
		"bytes_sent":        st.BytesSent.Load,
		"bytes_received":    st.BytesRecv.Load,
		"packets_sent":      st.PacketsSent.Load,
		"packets_received":  st.PacketsRecv.Load,
		"malformed":         st.Malformed.Load,
		"send_dropped":      st.SendDropped.Load,
		"tiles_sent":        st.TilesSent.Load,
		"tiles_oversize":    st.TilesOversize.Load,
		"tiles_applied":     st.TilesApplied.Load,
		"tiles_stale":       st.TilesStale.Load,
		"tiles_undecodable": st.DecodeFailed.Load,
		"frames":            st.Frames.Load,
		"session_locks":     st.Locks.Load,
		"session_timeouts":  st.Timeouts.Load,
	}
}

func (s *Server) registerMetrics() {
	factory := promauto.With(s.registry)
	s.registry.MustRegister(collectors.NewGoCollector())

	for name, load := range counters() {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name + "_total",
			Help:      "Cumulative " + name + " since process start.",
		}, func() float64 { return float64(load()) })
	}

	if s.opts.Session != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_locked",
			Help:      "1 while a peer is locked, 0 while searching.",
		}, func() float64 {
			if s.opts.Session.State() == session.Locked {
				return 1
			}
			return 0
		})
	}

	if s.opts.Watermark != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark",
			Help:      "Highest frame id applied to the framebuffer.",
		}, func() float64 {
			id, _ := s.opts.Watermark()
			return float64(id)
		})
	}
}

func (s *Server) status() Status {
	st := Status{
		Role:     s.opts.Role,
		Hostname: s.hostname,
		State:    session.Searching.String(),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Counters: make(map[string]int64),
	}
	if s.opts.Session != nil {
		st.State = s.opts.Session.State().String()
		if peer := s.opts.Session.Peer(); peer != nil {
			st.Peer = peer.String()
		}
	}
	if s.opts.Watermark != nil {
		if id, ok := s.opts.Watermark(); ok {
			st.Watermark = &id
		}
	}
	for name, load := range counters() {
		st.Counters[name] = load()
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(s.status())
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	ok, err := s.opts.Frame.WritePNG(w)
	if !ok {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		util.LogDebug("write frame: %v", err)
	}
}
