// Package app contains the top-level orchestration for the sender and
// receiver roles.
package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hoangnecon/CrystalLink/internal/config"
	"github.com/hoangnecon/CrystalLink/internal/monitor"
	"github.com/hoangnecon/CrystalLink/internal/session"
	"github.com/hoangnecon/CrystalLink/internal/signaling"
	"github.com/hoangnecon/CrystalLink/internal/transport"
	"github.com/hoangnecon/CrystalLink/internal/util"
	rtc "github.com/hoangnecon/CrystalLink/internal/webrtc"
)

// openLink binds the datagram socket for cfg.Role and, for the receiver,
// resolves where PeerAnnounce beacons go.
//
// Over UDP the receiver binds the stream port and the sender binds the
// discovery port; beacons leave the receiver's stream socket, so their
// source address is exactly where the sender must stream to. Over WebRTC
// the DataChannel is the only path and its peer the only target.
func openLink(ctx context.Context, cfg config.Config) (net.PacketConn, []net.Addr, error) {
	if cfg.Link == config.LinkWebRTC {
		var (
			link *rtc.Link
			err  error
		)
		if cfg.Role == config.RoleReceive {
			link, err = signaling.EstablishAsReceiver(ctx, cfg.SignalPort, rtc.Options{Label: "sender"}, nil)
		} else {
			link, err = signaling.EstablishAsSender(ctx, cfg.WSURL, rtc.Options{Label: "receiver"})
		}
		if err != nil {
			return nil, nil, err
		}
		conn := link.Conn()
		return conn, []net.Addr{conn.RemoteAddr()}, nil
	}

	n, err := transport.NewNet()
	if err != nil {
		return nil, nil, fmt.Errorf("network: %w", err)
	}

	if cfg.Role == config.RoleSend {
		conn, err := transport.Listen(ctx, n, fmt.Sprintf(":%d", cfg.DiscoveryPort), true)
		return conn, nil, err
	}

	targets, err := transport.AnnounceTargets(n, cfg.DiscoveryPort, cfg.AnnounceAddrs)
	if err != nil {
		return nil, nil, err
	}
	conn, err := transport.Listen(ctx, n, fmt.Sprintf(":%d", cfg.StreamPort), false)
	if err != nil {
		return nil, nil, err
	}
	return conn, targets, nil
}

// newSession builds the Discovery with the logging and counters both roles
// share. onLock and onLoss run after the built-in handling.
func newSession(cfg config.Config, onLock, onLoss func(session.Change)) *session.Discovery {
	disc := session.New(time.Duration(cfg.LivenessTimeout))
	disc.OnChange(func(c session.Change) {
		switch c.To {
		case session.Locked:
			util.Stats.Locks.Add(1)
			util.LogSuccess("locked on peer %s", c.Peer)
			if onLock != nil {
				onLock(c)
			}
		case session.Searching:
			util.Stats.Timeouts.Add(1)
			util.LogWarning("peer %s silent for %s, searching again", c.Peer, disc.Timeout())
			if onLoss != nil {
				onLoss(c)
			}
		}
	})
	return disc
}

// startAmbient launches the stats reporter and, if configured, the monitor.
func startAmbient(ctx context.Context, cfg config.Config, opts monitor.Options) {
	util.StartStatsReporter(ctx)
	if cfg.Monitor == "" {
		return
	}
	mon := monitor.New(opts)
	go func() {
		if err := mon.Run(ctx, cfg.Monitor); err != nil {
			util.LogError("monitor: %v", err)
		}
	}()
}
