package bgp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// -------------------------------------------------------------------------
// Message — the closed variant set produced by the dispatcher
// -------------------------------------------------------------------------

// Message is one decoded inbound protocol message. The variant set is
// closed: Open, KeepAlive, Update, Notification, RouteRefresh, EndOfRIB,
// NoOp, and Unknown. Every decoded frame yields exactly one variant.
//
// NoOp is a scheduling signal, not a wire message: it means "no complete
// frame available yet, resume later". It must never be mistaken for a
// received KEEPALIVE.
type Message interface {
	// Name returns the display name used in logs and metrics labels.
	Name() string

	message()
}

// NoOp is the would-block signal: the transport had no complete frame,
// or decoding was skipped by configuration. Never a wire message.
type NoOp struct{}

// Name implements Message.
func (NoOp) Name() string { return "NOP" }

func (NoOp) message() {}

// KeepAlive is a received KEEPALIVE message (RFC 4271 Section 4.4).
// Its body is empty by definition.
type KeepAlive struct{}

// Name implements Message.
func (KeepAlive) Name() string { return "KEEPALIVE" }

func (KeepAlive) message() {}

// Unknown is a message whose type code is not recognized. Unknown types
// are logged and ignored, never a session error.
type Unknown struct {
	// TypeCode is the unrecognized wire type code.
	TypeCode uint8
}

// Name implements Message.
func (Unknown) Name() string { return "UNKNOWN" }

func (Unknown) message() {}

// -------------------------------------------------------------------------
// Notification — RFC 4271 Section 4.5
// -------------------------------------------------------------------------

// Notification is a NOTIFICATION message, inbound or outbound. Inbound
// it reports why the peer is tearing the session down; outbound it is
// built from a Notify by the teardown path.
type Notification struct {
	// Code is the error code (RFC 4271 Section 4.5).
	Code uint8

	// Subcode is the error subcode, zero when unspecific.
	Subcode uint8

	// Data holds the diagnostic octets, empty when none.
	Data []byte
}

// Name implements Message.
func (*Notification) Name() string { return "NOTIFICATION" }

func (*Notification) message() {}

// String renders the notification with registry names for logging.
func (n *Notification) String() string {
	return describeNotif(n.Code, n.Subcode)
}

// Marshal encodes the framed NOTIFICATION message.
func (n *Notification) Marshal() []byte {
	msg := AppendHeader(nil, TypeNotification, 2+len(n.Data))
	msg = append(msg, n.Code, n.Subcode)
	return append(msg, n.Data...)
}

// decodeNotification parses a NOTIFICATION body.
func decodeNotification(body []byte) (*Notification, error) {
	// RFC 4271 Section 4.5: code(1) + subcode(1) + variable data.
	if len(body) < 2 {
		return nil, NewNotify(NotifCodeMessageHeaderErr, NotifSubcodeBadLength,
			fmt.Sprintf("NOTIFICATION body too short (%d bytes)", len(body)))
	}
	return &Notification{
		Code:    body[0],
		Subcode: body[1],
		Data:    bytes.Clone(body[2:]),
	}, nil
}

// -------------------------------------------------------------------------
// RouteRefresh — RFC 2918
// -------------------------------------------------------------------------

// RouteRefresh is a ROUTE-REFRESH message requesting re-advertisement of
// the named address family (RFC 2918 Section 3).
type RouteRefresh struct {
	// Family is the (AFI, SAFI) pair being refreshed.
	Family Family

	// Reserved is the byte between AFI and SAFI. RFC 7313 reuses it as
	// an enhanced-route-refresh subtype; it is carried through verbatim.
	Reserved uint8
}

// Name implements Message.
func (*RouteRefresh) Name() string { return "ROUTE-REFRESH" }

func (*RouteRefresh) message() {}

// Marshal encodes the framed ROUTE-REFRESH message.
func (r *RouteRefresh) Marshal() []byte {
	msg := AppendHeader(nil, TypeRouteRefresh, 4)
	msg = binary.BigEndian.AppendUint16(msg, uint16(r.Family.AFI))
	return append(msg, r.Reserved, uint8(r.Family.SAFI))
}

// decodeRouteRefresh parses a ROUTE-REFRESH body.
func decodeRouteRefresh(body []byte) (*RouteRefresh, error) {
	// RFC 2918 Section 3: AFI(2) + Reserved(1) + SAFI(1).
	if len(body) != 4 {
		return nil, NewNotify(NotifCodeMessageHeaderErr, NotifSubcodeBadLength,
			fmt.Sprintf("ROUTE-REFRESH body must be 4 bytes, got %d", len(body)))
	}
	return &RouteRefresh{
		Family: Family{
			AFI:  AFI(binary.BigEndian.Uint16(body[0:2])),
			SAFI: SAFI(body[3]),
		},
		Reserved: body[2],
	}, nil
}

// -------------------------------------------------------------------------
// EndOfRIB — RFC 4724 Section 2
// -------------------------------------------------------------------------

// eorFrameLength is the total length of the MP_UNREACH_NLRI form of the
// End-of-RIB marker: 19-byte header + 11-byte body.
const eorFrameLength = HeaderLength + len(eorBodyPrefix) + 3

// eorIPv4FrameLength is the total length of the RFC 4724 IPv4-unicast
// End-of-RIB marker: an UPDATE with no withdrawn routes and no path
// attributes (19-byte header + 4 zero body bytes).
const eorIPv4FrameLength = HeaderLength + 4

// eorBodyPrefix is the fixed UPDATE body prefix of the MP_UNREACH_NLRI
// End-of-RIB form: zero withdrawn-routes length, a 7-byte attribute
// block containing one optional (0x90) MP_UNREACH_NLRI (type 15)
// attribute with a 3-byte value. The AFI(2) + SAFI(1) follow.
var eorBodyPrefix = [8]byte{0x00, 0x00, 0x00, 0x07, 0x90, 0x0F, 0x00, 0x03}

// EndOfRIB is the End-of-RIB marker for one address family: an UPDATE
// carrying no routes that signals the end of the initial table transfer
// (RFC 4724 Section 2).
type EndOfRIB struct {
	// Family is the address family whose transfer is complete.
	Family Family
}

// Name implements Message.
func (*EndOfRIB) Name() string { return "EOR" }

func (*EndOfRIB) message() {}

// Marshal encodes the framed End-of-RIB marker. IPv4 unicast uses the
// canonical empty-UPDATE form; every other family uses the
// MP_UNREACH_NLRI form (RFC 4724 Section 2).
func (e *EndOfRIB) Marshal() []byte {
	if e.Family == FamilyIPv4Unicast {
		// Withdrawn Routes Length = 0, Total Path Attribute Length = 0.
		msg := AppendHeader(nil, TypeUpdate, 4)
		return append(msg, 0x00, 0x00, 0x00, 0x00)
	}
	msg := AppendHeader(nil, TypeUpdate, len(eorBodyPrefix)+3)
	msg = append(msg, eorBodyPrefix[:]...)
	msg = binary.BigEndian.AppendUint16(msg, uint16(e.Family.AFI))
	return append(msg, uint8(e.Family.SAFI))
}

// eorFromFrame reports whether the frame is an End-of-RIB marker and
// decodes it if so. Detection keys on the fixed frame lengths plus, for
// the MP form, the fixed body prefix.
func eorFromFrame(f Frame) (*EndOfRIB, bool) {
	switch {
	case f.Length == eorFrameLength && bytes.HasPrefix(f.Body, eorBodyPrefix[:]):
		return &EndOfRIB{Family: Family{
			AFI:  AFI(binary.BigEndian.Uint16(f.Body[len(eorBodyPrefix) : len(eorBodyPrefix)+2])),
			SAFI: SAFI(f.Body[len(eorBodyPrefix)+2]),
		}}, true
	case f.Length == eorIPv4FrameLength && bytes.Equal(f.Body, []byte{0, 0, 0, 0}):
		return &EndOfRIB{Family: FamilyIPv4Unicast}, true
	default:
		return nil, false
	}
}
