package discovery

import (
	"context"
	"net"
	"os"
)

// DetectAddress returns the host's LAN-facing IPv4 address. It prefers
// the addresses the hostname resolves to and falls back to the source
// address the kernel would use for the default route.
func DetectAddress(ctx context.Context) (net.IP, error) {
	var candidates []net.IP
	if host, err := os.Hostname(); err == nil {
		if addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host); err == nil {
			for _, a := range addrs {
				candidates = append(candidates, a.IP)
			}
		}
	}
	if ip := pickAddress(candidates); ip != nil {
		return ip, nil
	}

	// Connecting a UDP socket sends no packets.
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", "192.0.2.1:9")
	if err == nil {
		defer conn.Close()
		if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			if ip := pickAddress([]net.IP{ua.IP}); ip != nil {
				return ip, nil
			}
		}
	}
	return nil, ErrNoAddress
}

// pickAddress returns the first non-loopback, non-link-local IPv4 address.
func pickAddress(ips []net.IP) net.IP {
	for _, ip := range ips {
		v4 := ip.To4()
		if v4 == nil || v4.IsLoopback() || v4.IsLinkLocalUnicast() || v4.IsUnspecified() {
			continue
		}
		return v4
	}
	return nil
}
