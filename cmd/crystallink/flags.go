package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hoangnecon/CrystalLink/internal/config"
)

// endpointFlags holds the flags both roles share. Only flags the user set
// override the config file.
type endpointFlags struct {
	configPath    string
	debug         bool
	link          string
	streamPort    int
	discoveryPort int
	width         int
	height        int
	monitor       string
	staleWindow   uint32
	liveness      time.Duration
}

func (f *endpointFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "JSON config file applied before flags")
	fs.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	fs.StringVar(&f.link, "link", string(config.LinkUDP), "Datagram link: udp or webrtc")
	fs.IntVar(&f.streamPort, "stream-port", config.DefaultStreamPort, "Port the receiver binds")
	fs.IntVar(&f.discoveryPort, "discovery-port", config.DefaultDiscoveryPort, "Port the sender binds")
	fs.IntVarP(&f.width, "width", "W", 1280, "Frame width in pixels")
	fs.IntVarP(&f.height, "height", "H", 720, "Frame height in pixels")
	fs.StringVar(&f.monitor, "monitor", "", "Serve /metrics and /status on this address (e.g. :9090)")
	fs.Uint32Var(&f.staleWindow, "stale-window", 2, "Frames a batch may lag the newest before it is dropped")
	fs.DurationVar(&f.liveness, "liveness", 5*time.Second, "Silence after which the peer is considered gone")
}

// load builds the config: role defaults, then --config, then changed flags.
func (f *endpointFlags) load(cmd *cobra.Command, role config.Role) (config.Config, error) {
	cfg := config.Default(role)
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath, cfg); err != nil {
			return cfg, err
		}
		cfg.Role = role
	}

	fs := cmd.Flags()
	if fs.Changed("debug") {
		cfg.Debug = f.debug
	}
	if fs.Changed("link") {
		cfg.Link = config.Link(f.link)
	}
	if fs.Changed("stream-port") {
		cfg.StreamPort = f.streamPort
	}
	if fs.Changed("discovery-port") {
		cfg.DiscoveryPort = f.discoveryPort
	}
	if fs.Changed("width") {
		cfg.Width = f.width
	}
	if fs.Changed("height") {
		cfg.Height = f.height
	}
	if fs.Changed("monitor") {
		cfg.Monitor = f.monitor
	}
	if fs.Changed("stale-window") {
		cfg.StaleWindow = f.staleWindow
	}
	if fs.Changed("liveness") {
		cfg.LivenessTimeout = config.Duration(f.liveness)
	}
	return cfg, nil
}

// normalizeWSURL validates a signaling URL and fills in the defaults: ws on
// a LAN, the /ws path and the PIN query parameter.
func normalizeWSURL(raw, pin string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid WebSocket URL scheme: %s", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	q := u.Query()
	if pin != "" {
		q.Set("pin", pin)
	}
	if q.Get("pin") == "" {
		return "", fmt.Errorf("WebSocket URL %s carries no PIN", raw)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
