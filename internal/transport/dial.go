package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"syscall"
	"time"
)

// bgpPort is the well-known BGP transport port (RFC 4271 Section 2).
const bgpPort = 179

// defaultDialTimeout bounds one connect attempt when the dialer has no
// explicit timeout configured.
const defaultDialTimeout = 30 * time.Second

// Dialer establishes outgoing BGP transport connections with the
// per-neighbor socket options applied before connect: RFC 2385 TCP MD5
// signatures, outgoing TTL, and the RFC 5082 GTSM minimum TTL. The MD5
// and TTL options require Linux; on other platforms dialing with them
// configured fails.
type Dialer struct {
	// LocalAddr pins the source address, unset to let the kernel pick.
	LocalAddr netip.Addr

	// MD5 is the TCP MD5 signature password, empty to disable.
	MD5 string

	// TTL is the outgoing TTL, zero for the OS default.
	TTL uint8

	// MinTTL is the GTSM minimum accepted inbound TTL, zero to disable.
	MinTTL uint8

	// Timeout bounds one connect attempt, defaultDialTimeout when zero.
	Timeout time.Duration

	// Logger receives transport-level log lines, slog.Default when nil.
	Logger *slog.Logger
}

// Dial connects to the peer's BGP port and wraps the result in a
// TCPConn ready for the session engine.
func (d *Dialer) Dial(ctx context.Context, peer netip.Addr) (*TCPConn, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}

	nd := net.Dialer{
		Timeout: timeout,
		Control: d.control(peer),
	}
	if d.LocalAddr.IsValid() {
		nd.LocalAddr = net.TCPAddrFromAddrPort(netip.AddrPortFrom(d.LocalAddr, 0))
	}

	raw, err := nd.DialContext(ctx, "tcp", net.JoinHostPort(peer.String(), fmt.Sprint(bgpPort)))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", peer, err)
	}
	return NewTCPConn(raw, d.Logger), nil
}

// control applies the pre-connect socket options on the raw fd.
func (d *Dialer) control(peer netip.Addr) func(network, address string, c syscall.RawConn) error {
	if d.MD5 == "" && d.TTL == 0 && d.MinTTL == 0 {
		return nil
	}
	return func(_, _ string, c syscall.RawConn) error {
		var optErr error
		err := c.Control(func(fd uintptr) {
			if d.MD5 != "" {
				if optErr = setTCPMD5(int(fd), peer, d.MD5); optErr != nil {
					optErr = fmt.Errorf("set TCP MD5 signature: %w", optErr)
					return
				}
			}
			if d.TTL != 0 {
				if optErr = setTTL(int(fd), peer, int(d.TTL)); optErr != nil {
					optErr = fmt.Errorf("set TTL: %w", optErr)
					return
				}
			}
			if d.MinTTL != 0 {
				if optErr = setMinTTL(int(fd), peer, int(d.MinTTL)); optErr != nil {
					optErr = fmt.Errorf("set minimum TTL: %w", optErr)
					return
				}
			}
		})
		if err != nil {
			return err
		}
		return optErr
	}
}
