//go:build linux

package transport

import (
	"errors"
	"fmt"
	"net/netip"
	"unsafe"

	"golang.org/x/sys/unix"
)

// tcpMD5Sig mirrors struct tcp_md5sig from the Linux UAPI
// (include/uapi/linux/tcp.h).
type tcpMD5Sig struct {
	ssFamily  uint16
	ss        [126]byte
	flags     uint8
	prefixLen uint8
	keyLen    uint16
	ifIndex   uint32
	key       [80]byte
}

// setTCPMD5 installs an RFC 2385 TCP MD5 signature key for the peer
// address on the socket. An empty key clears the signature.
func setTCPMD5(fd int, peer netip.Addr, key string) error {
	if len(key) > unix.TCP_MD5SIG_MAXKEYLEN {
		return fmt.Errorf("md5 key length %d exceeds %d", len(key), unix.TCP_MD5SIG_MAXKEYLEN)
	}

	sig := tcpMD5Sig{}
	switch {
	case peer.Is4():
		sig.ssFamily = unix.AF_INET
		a4 := peer.As4()
		copy(sig.ss[2:], a4[:])
	case peer.Is6():
		sig.ssFamily = unix.AF_INET6
		a16 := peer.As16()
		copy(sig.ss[6:], a16[:])
	default:
		return errors.New("invalid peer address")
	}
	sig.keyLen = uint16(len(key))
	copy(sig.key[:], key)

	b := *(*[unsafe.Sizeof(sig)]byte)(unsafe.Pointer(&sig))
	return unix.SetsockoptString(fd, unix.IPPROTO_TCP, unix.TCP_MD5SIG, string(b[:]))
}

// setTTL sets the outgoing unicast TTL (hop limit for IPv6 sockets).
func setTTL(fd int, peer netip.Addr, ttl int) error {
	if peer.Is6() {
		return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, ttl)
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL, ttl)
}

// setMinTTL enforces a minimum inbound TTL, the GTSM check of RFC 5082.
func setMinTTL(fd int, peer netip.Addr, ttl int) error {
	if peer.Is6() {
		return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MINHOPCOUNT, ttl)
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MINTTL, ttl)
}
