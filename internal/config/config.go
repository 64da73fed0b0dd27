// Package config holds the endpoint configuration: per-role defaults, an
// optional JSON file and validation. CLI flags are applied on top by cmd.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hoangnecon/CrystalLink/internal/frame"
	"github.com/hoangnecon/CrystalLink/internal/protocol"
)

// Role represents which end of the stream this process is.
type Role string

const (
	RoleSend    Role = "send"
	RoleReceive Role = "receive"
)

// Link selects how datagrams travel between the peers.
type Link string

const (
	LinkUDP    Link = "udp"    // LAN broadcast discovery, plain UDP
	LinkWebRTC Link = "webrtc" // unreliable DataChannel, WebSocket signaling
)

// Well-known ports.
const (
	DefaultStreamPort    = 5555 // receiver binds, sender streams to it
	DefaultDiscoveryPort = 5556 // sender binds, receiver beacons to it
)

// Duration is a time.Duration that reads "1s" style strings from JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config stores every tunable of one endpoint.
type Config struct {
	Role Role `json:"role"`
	Link Link `json:"link"`

	StreamPort    int      `json:"stream_port"`
	DiscoveryPort int      `json:"discovery_port"`
	AnnounceAddrs []string `json:"announce_addrs,omitempty"` // overrides broadcast targets

	Width  int `json:"width"`
	Height int `json:"height"`

	FPS            int    `json:"fps"`        // sender capture rate
	DisplayHz      int    `json:"display_hz"` // receiver presentation rate
	Quality        int    `json:"quality"`
	Lossless       bool   `json:"lossless"`
	ColorThreshold int    `json:"color_threshold"`
	StaleWindow    uint32 `json:"stale_window"`

	AnnounceInterval  Duration `json:"announce_interval"`
	HeartbeatInterval Duration `json:"heartbeat_interval"`
	LivenessTimeout   Duration `json:"liveness_timeout"`
	RefreshInterval   Duration `json:"refresh_interval"`

	Source  string `json:"source,omitempty"`  // sender: "pattern" or an image path
	Output  string `json:"output,omitempty"`  // receiver: PNG file rewritten per frame
	Monitor string `json:"monitor,omitempty"` // HTTP monitor listen address

	WSURL      string `json:"ws_url,omitempty"`      // sender, webrtc link
	SignalPort int    `json:"signal_port,omitempty"` // receiver, webrtc link; 0 picks one

	Debug bool `json:"debug"`
}

// SourcePattern selects the built-in moving test pattern.
const SourcePattern = "pattern"

// Default returns the configuration for role with every default filled in.
func Default(role Role) Config {
	return Config{
		Role:              role,
		Link:              LinkUDP,
		StreamPort:        DefaultStreamPort,
		DiscoveryPort:     DefaultDiscoveryPort,
		Width:             1280,
		Height:            720,
		FPS:               30,
		DisplayHz:         30,
		Quality:           75,
		ColorThreshold:    64,
		StaleWindow:       2,
		AnnounceInterval:  Duration(time.Second),
		HeartbeatInterval: Duration(time.Second),
		LivenessTimeout:   Duration(5 * time.Second),
		RefreshInterval:   Duration(3 * time.Second),
		Source:            SourcePattern,
	}
}

// Load overlays the JSON file at path onto base. Unknown fields are
// rejected so typos do not silently fall back to defaults.
func Load(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	cfg := base
	if err := dec.Decode(&cfg); err != nil {
		return base, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects impossible values. It reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Role == RoleSend || c.Role == RoleReceive, "role %q must be %q or %q", c.Role, RoleSend, RoleReceive)
	check(c.Link == LinkUDP || c.Link == LinkWebRTC, "link %q must be %q or %q", c.Link, LinkUDP, LinkWebRTC)
	check(validPort(c.StreamPort), "stream port %d out of range", c.StreamPort)
	check(validPort(c.DiscoveryPort), "discovery port %d out of range", c.DiscoveryPort)
	check(c.StreamPort != c.DiscoveryPort, "stream and discovery ports must differ")
	check(c.Width > 0 && c.Width < frame.MaxDimension && c.Height > 0 && c.Height < frame.MaxDimension,
		"resolution %dx%d must be positive and below %d", c.Width, c.Height, frame.MaxDimension)
	check(c.FPS > 0 && c.FPS <= 240, "fps %d out of range 1~240", c.FPS)
	check(c.DisplayHz > 0 && c.DisplayHz <= 240, "display rate %d out of range 1~240", c.DisplayHz)
	check(c.Quality >= 1 && c.Quality <= 100, "quality %d out of range 1~100", c.Quality)
	check(c.ColorThreshold >= 1 && c.ColorThreshold <= protocol.TileEdge*protocol.TileEdge,
		"color threshold %d out of range", c.ColorThreshold)
	check(c.StaleWindow < 1<<30, "stale window %d too large", c.StaleWindow)
	check(c.AnnounceInterval > 0, "announce interval must be positive")
	check(c.HeartbeatInterval > 0, "heartbeat interval must be positive")
	check(c.RefreshInterval > 0, "refresh interval must be positive")
	check(c.LivenessTimeout > c.HeartbeatInterval,
		"liveness timeout %s must exceed the heartbeat interval %s",
		time.Duration(c.LivenessTimeout), time.Duration(c.HeartbeatInterval))
	check(c.SignalPort == 0 || validPort(c.SignalPort), "signal port %d out of range", c.SignalPort)

	if c.Role == RoleSend {
		check(c.Source != "", "sender needs a source")
		check(c.Link != LinkWebRTC || c.WSURL != "", "webrtc sender needs --ws-url")
	}

	return errors.Join(errs...)
}

func validPort(p int) bool {
	return p > 0 && p < 1<<16
}
