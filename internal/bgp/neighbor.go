package bgp

import (
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// -------------------------------------------------------------------------
// Neighbor Configuration
// -------------------------------------------------------------------------

// Sentinel errors for Neighbor validation.
var (
	// ErrInvalidPeerAddr indicates the peer address is unset or invalid.
	ErrInvalidPeerAddr = errors.New("peer address is invalid")

	// ErrInvalidLocalAS indicates the local AS number is zero.
	ErrInvalidLocalAS = errors.New("local AS must be nonzero")

	// ErrInvalidPeerAS indicates the expected peer AS number is zero.
	ErrInvalidPeerAS = errors.New("peer AS must be nonzero")

	// ErrInvalidRouterID indicates the local router id is unset or the
	// all-zeros identifier (RFC 6286 Section 2.1).
	ErrInvalidRouterID = errors.New("router id must be a nonzero IPv4 address")

	// ErrInvalidHoldTime indicates a nonzero hold time below the RFC 4271
	// Section 4.2 minimum of three seconds.
	ErrInvalidHoldTime = errors.New("hold time must be zero or >= 3s")

	// ErrNoFamilies indicates the neighbor has no address family configured.
	ErrNoFamilies = errors.New("at least one address family is required")
)

// APIOptions controls the optional external monitoring channel for one
// neighbor. All forwarding is best-effort: a monitoring failure is
// logged and never escalated to the session.
type APIOptions struct {
	// Program is the external process consuming JSON lines on stdin.
	// Empty disables the channel entirely.
	Program string

	// NeighborChanges forwards session up/down transitions.
	NeighborChanges bool

	// SendPackets forwards every encoded outbound message.
	SendPackets bool

	// ReceivePackets forwards every decoded inbound frame.
	ReceivePackets bool

	// ReceiveRoutes enables UPDATE route decoding and forwards the
	// decoded routes. When false, inbound UPDATEs short-circuit to NoOp
	// so liveness-only sessions skip the decode cost.
	ReceiveRoutes bool
}

// Neighbor is the static configuration for one BGP peer. It is read-only
// after construction; one Session references exactly one Neighbor.
type Neighbor struct {
	// Addr is the peer's IP address.
	Addr netip.Addr

	// LocalAddr is the local source address, unset to let the kernel pick.
	LocalAddr netip.Addr

	// LocalAS is the local autonomous system number.
	LocalAS uint32

	// PeerAS is the expected peer autonomous system number. An OPEN
	// advertising any other AS fails negotiation with (2,2).
	PeerAS uint32

	// RouterID is the local BGP Identifier.
	RouterID netip.Addr

	// HoldTime is the proposed hold time. Stored as time.Duration;
	// converted to whole seconds at the wire boundary.
	HoldTime time.Duration

	// RequireASN4 demands 4-octet AS support from the peer. When set, an
	// OPEN without capability 65 fails negotiation with (2,0).
	RequireASN4 bool

	// MD5 is the TCP MD5 signature password (RFC 2385), empty to disable.
	MD5 string

	// TTL is the outgoing IP TTL, zero for the OS default.
	TTL uint8

	// Families are the address families to negotiate.
	Families []Family

	// GroupUpdates batches announcements sharing an attribute set into
	// one UPDATE per fragment.
	GroupUpdates bool

	// Multisession advertises the Multisession capability and requires
	// the peer to agree.
	Multisession bool

	// API configures the optional monitoring channel.
	API APIOptions
}

// Validate checks the neighbor configuration for internal consistency.
func (n *Neighbor) Validate() error {
	if !n.Addr.IsValid() || n.Addr.IsUnspecified() {
		return fmt.Errorf("neighbor %s: %w", n.Addr, ErrInvalidPeerAddr)
	}
	if n.LocalAS == 0 {
		return fmt.Errorf("neighbor %s: %w", n.Addr, ErrInvalidLocalAS)
	}
	if n.PeerAS == 0 {
		return fmt.Errorf("neighbor %s: %w", n.Addr, ErrInvalidPeerAS)
	}
	if !n.RouterID.Is4() || n.RouterID.IsUnspecified() {
		return fmt.Errorf("neighbor %s: %w", n.Addr, ErrInvalidRouterID)
	}
	if n.HoldTime != 0 && n.HoldTime < minHoldTime {
		return fmt.Errorf("neighbor %s: hold time %s: %w", n.Addr, n.HoldTime, ErrInvalidHoldTime)
	}
	if len(n.Families) == 0 {
		return fmt.Errorf("neighbor %s: %w", n.Addr, ErrNoFamilies)
	}
	for _, f := range n.Families {
		if !f.IsValid() {
			return fmt.Errorf("neighbor %s: family %s: %w", n.Addr, f, ErrUnknownFamily)
		}
	}
	return nil
}

// minHoldTime is the smallest acceptable nonzero hold time
// (RFC 4271 Section 4.2: "MUST be either zero or at least three seconds").
const minHoldTime = 3 * time.Second
