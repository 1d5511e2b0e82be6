package bgp

import (
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Negotiated — single-assignment capability exchange outcome
// -------------------------------------------------------------------------

// Sentinel errors for Negotiated state transitions.
var (
	// ErrAlreadyNegotiated indicates a second OPEN was recorded for a
	// direction that is already set. The first OPEN wins; a later one in
	// the same session is a programming error, never silently accepted.
	ErrAlreadyNegotiated = errors.New("negotiated state already recorded for this direction")
)

// Negotiated holds the outcome of the OPEN exchange for one session. It
// is a single-assignment builder: SetSent and SetReceived each succeed
// at most once, and once both directions are recorded the derived fields
// are fixed and the value is read-only for the rest of the session.
//
// Only the handshake logic mutates a Negotiated, and only during the
// handshake phase, so no locking is needed.
type Negotiated struct {
	neighbor *Neighbor

	sent     *Open
	received *Open

	// --- derived, valid once both directions are recorded ---

	// peerAS is the peer's effective AS: the 4-octet capability value
	// when ASN4 is in effect, the 2-octet OPEN field otherwise.
	peerAS uint32

	// asn4 is true when both sides advertised the 4-octet AS capability.
	asn4 bool

	// holdTime is the session hold time in seconds: the smaller of the
	// two proposals (RFC 4271 Section 4.2).
	holdTime uint16

	// families is the intersection of both advertised family sets.
	families []Family

	// multisession is the agreed multisession flag. When the two sides
	// disagree, msFault holds the notification to raise instead and
	// multisession is meaningless.
	multisession bool

	// msFault is the capability-negotiation error carried out of the
	// multisession check, propagated verbatim by the handshake. nil when
	// the flag negotiated cleanly.
	msFault *Notify
}

// NewNegotiated creates the empty negotiation record for a neighbor.
func NewNegotiated(n *Neighbor) *Negotiated {
	return &Negotiated{neighbor: n}
}

// Sent returns the local OPEN, nil before SetSent.
func (g *Negotiated) Sent() *Open { return g.sent }

// Received returns the peer's OPEN, nil before SetReceived.
func (g *Negotiated) Received() *Open { return g.received }

// SetSent records the local OPEN. It fails with ErrAlreadyNegotiated if
// a local OPEN was already recorded.
func (g *Negotiated) SetSent(o *Open) error {
	if g.sent != nil {
		return fmt.Errorf("record sent OPEN: %w", ErrAlreadyNegotiated)
	}
	g.sent = o
	if g.received != nil {
		g.derive()
	}
	return nil
}

// SetReceived records the peer's OPEN. It fails with ErrAlreadyNegotiated
// if a peer OPEN was already recorded: the first OPEN wins and a second
// one in the same session is a protocol error surfaced to the caller.
func (g *Negotiated) SetReceived(o *Open) error {
	if g.received != nil {
		return fmt.Errorf("record received OPEN: %w", ErrAlreadyNegotiated)
	}
	g.received = o
	if g.sent != nil {
		g.derive()
	}
	return nil
}

// Complete reports whether both directions have been recorded.
func (g *Negotiated) Complete() bool {
	return g.sent != nil && g.received != nil
}

// PeerAS returns the peer's effective AS number.
func (g *Negotiated) PeerAS() uint32 { return g.peerAS }

// ASN4 reports whether 4-octet AS encoding is in effect for the session.
func (g *Negotiated) ASN4() bool { return g.asn4 }

// HoldTime returns the negotiated hold time in seconds, zero meaning the
// hold timer is disabled.
func (g *Negotiated) HoldTime() uint16 { return g.holdTime }

// Families returns the address families both sides agreed on.
func (g *Negotiated) Families() []Family { return g.families }

// Multisession returns the agreed multisession flag, or the
// capability-negotiation fault when the sides disagreed. The fault is
// the stored error value itself, re-raised verbatim by the handshake.
func (g *Negotiated) Multisession() (bool, *Notify) {
	return g.multisession, g.msFault
}

// derive computes the session parameters once both OPENs are present.
func (g *Negotiated) derive() {
	// RFC 6793 Section 3: 4-octet encoding is used only when both
	// speakers advertised the capability.
	localASN4 := g.sent.HasCapability(CapFourOctetAS)
	peerAS4, peerASN4 := g.received.FourOctetAS()
	g.asn4 = localASN4 && peerASN4

	if peerASN4 {
		g.peerAS = peerAS4
	} else {
		g.peerAS = uint32(g.received.ASN)
	}

	// RFC 4271 Section 4.2: the session hold time is the smaller of the
	// configured value and the peer's proposal.
	g.holdTime = min(g.sent.HoldTime, g.received.HoldTime)

	g.families = intersectFamilies(g.sent.Families(), g.received.Families())

	localMS := g.sent.HasCapability(CapMultisession)
	peerMS := g.received.HasCapability(CapMultisession)
	switch {
	case localMS == peerMS:
		g.multisession = localMS
	case localMS:
		g.msFault = NewNotify(NotifCodeOpenMessageErr, NotifSubcodeUnsupportedCapability,
			"multisession is mandatory locally but the peer did not advertise it")
	default:
		g.msFault = NewNotify(NotifCodeOpenMessageErr, NotifSubcodeUnsupportedCapability,
			"peer requires multisession but it is not configured locally")
	}
}

// intersectFamilies returns the families present in both sets, in the
// order of the first set.
func intersectFamilies(a, b []Family) []Family {
	var out []Family
	for _, fa := range a {
		for _, fb := range b {
			if fa == fb {
				out = append(out, fa)
				break
			}
		}
	}
	return out
}
