package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	pionnet "github.com/pion/transport/v4"
	"github.com/pion/transport/v4/stdnet"
)

// ErrNoInterface means no broadcast-capable interface and no explicit
// announce target exist, so discovery can never succeed.
var ErrNoInterface = errors.New("no usable IPv4 broadcast interface")

// limitedBroadcast is always announced to in addition to directed ones;
// some networks drop one form or the other.
var limitedBroadcast = net.IPv4bcast

// NewNet returns the host network. Tests can substitute a virtual one.
func NewNet() (pionnet.Net, error) {
	return stdnet.NewNet()
}

// Listen binds a UDP socket on addr. With reuse set the socket allows
// SO_REUSEADDR so a restarted process can rebind the well-known discovery
// port immediately.
func Listen(ctx context.Context, n pionnet.Net, addr string, reuse bool) (net.PacketConn, error) {
	if reuse {
		lc := net.ListenConfig{Control: reuseAddrControl}
		conn, err := lc.ListenPacket(ctx, "udp4", addr)
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", addr, err)
		}
		return conn, nil
	}

	conn, err := n.ListenPacket("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	return conn, nil
}

// AnnounceTargets returns the addresses PeerAnnounce beacons go to. Explicit
// targets ("host:port" or bare host, which gets port) win; otherwise the
// limited broadcast plus the directed broadcast of every up, non-loopback
// IPv4 interface.
func AnnounceTargets(n pionnet.Net, port int, explicit []string) ([]net.Addr, error) {
	if len(explicit) > 0 {
		targets := make([]net.Addr, 0, len(explicit))
		for _, s := range explicit {
			if _, _, err := net.SplitHostPort(s); err != nil {
				s = net.JoinHostPort(s, strconv.Itoa(port))
			}
			addr, err := n.ResolveUDPAddr("udp4", s)
			if err != nil {
				return nil, fmt.Errorf("announce target %q: %w", s, err)
			}
			targets = append(targets, addr)
		}
		return targets, nil
	}

	ifaces, err := n.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	var directed []net.IP
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ip := directedBroadcast(a); ip != nil && !containsIP(directed, ip) {
				directed = append(directed, ip)
			}
		}
	}
	if len(directed) == 0 {
		return nil, ErrNoInterface
	}

	targets := []net.Addr{&net.UDPAddr{IP: limitedBroadcast, Port: port}}
	for _, ip := range directed {
		targets = append(targets, &net.UDPAddr{IP: ip, Port: port})
	}
	return targets, nil
}

// directedBroadcast returns the subnet broadcast address of an IPv4
// interface address, or nil for anything else (IPv6, /31, /32).
func directedBroadcast(a net.Addr) net.IP {
	ipnet, ok := a.(*net.IPNet)
	if !ok {
		return nil
	}
	ip := ipnet.IP.To4()
	if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return nil
	}
	mask := ipnet.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return nil
	}
	if ones, _ := mask.Size(); ones > 30 || ones == 0 {
		return nil
	}

	out := make(net.IP, net.IPv4len)
	for i := range out {
		out[i] = ip[i] | ^mask[i]
	}
	return out
}

func containsIP(list []net.IP, ip net.IP) bool {
	for _, x := range list {
		if x.Equal(ip) {
			return true
		}
	}
	return false
}
