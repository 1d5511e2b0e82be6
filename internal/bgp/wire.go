package bgp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// -------------------------------------------------------------------------
// Protocol Constants — RFC 4271 Section 4.1
// -------------------------------------------------------------------------

// Version is the BGP protocol version (RFC 4271 Section 4.2).
// This document defines protocol version 4.
const Version uint8 = 4

// HeaderLength is the fixed BGP message header size in bytes
// (RFC 4271 Section 4.1: 16-byte marker + 2-byte length + 1-byte type).
const HeaderLength = 19

// MaxMessageLength is the maximum BGP message size in bytes, header
// included (RFC 4271 Section 4.1: "The value of the Length field MUST
// always be at least 19 and no greater than 4096").
const MaxMessageLength = 4096

// MessageSize is the maximum payload a single message may carry:
// MaxMessageLength minus the header. This is the bin size used by the
// outbound chunker.
const MessageSize = MaxMessageLength - HeaderLength

// MinMessageLength is the smallest legal message: a bare header
// (KEEPALIVE, RFC 4271 Section 4.4).
const MinMessageLength = HeaderLength

// ASTrans is the reserved 2-octet AS number placed in the My Autonomous
// System field when the local AS does not fit in two octets
// (RFC 6793 Section 9).
const ASTrans uint16 = 23456

// MaxBacklog is the documented ceiling on outstanding chunked messages a
// caller should allow before pausing the chunker. The engine does not
// enforce it; pacing is the reactor's job.
const MaxBacklog = 15000

// unknownFmt is the format string for unrecognized enum values with numeric code.
const unknownFmt = "Unknown(%d)"

// marker is the fixed 16-octet all-ones header marker
// (RFC 4271 Section 4.1: "This 16-octet field ... MUST be set to all ones").
var marker = [16]byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
}

// ValidMarker reports whether the first 16 bytes of header are the
// all-ones marker. header must be at least 16 bytes.
func ValidMarker(header []byte) bool {
	return bytes.Equal(header[:16], marker[:])
}

// -------------------------------------------------------------------------
// Message Types — RFC 4271 Section 4.1
// -------------------------------------------------------------------------

// MessageType is the BGP message type code (RFC 4271 Section 4.1).
type MessageType uint8

const (
	// TypeOpen is the OPEN message (RFC 4271 Section 4.2: value 1).
	TypeOpen MessageType = 1

	// TypeUpdate is the UPDATE message (RFC 4271 Section 4.3: value 2).
	TypeUpdate MessageType = 2

	// TypeNotification is the NOTIFICATION message
	// (RFC 4271 Section 4.5: value 3).
	TypeNotification MessageType = 3

	// TypeKeepAlive is the KEEPALIVE message (RFC 4271 Section 4.4: value 4).
	TypeKeepAlive MessageType = 4

	// TypeRouteRefresh is the ROUTE-REFRESH message (RFC 2918: value 5).
	TypeRouteRefresh MessageType = 5
)

// messageTypeNames maps message type codes to their RFC names.
var messageTypeNames = [6]string{
	"",
	"OPEN",
	"UPDATE",
	"NOTIFICATION",
	"KEEPALIVE",
	"ROUTE-REFRESH",
}

// String returns the RFC name for the message type.
func (t MessageType) String() string {
	if t >= 1 && int(t) < len(messageTypeNames) {
		return messageTypeNames[t]
	}
	return fmt.Sprintf(unknownFmt, uint8(t))
}

// -------------------------------------------------------------------------
// Capability Codes — IANA Capability Codes registry
// -------------------------------------------------------------------------

// CapabilityCode identifies an optional capability carried in an OPEN
// message (RFC 5492).
type CapabilityCode uint8

const (
	// CapMultiprotocol is the Multiprotocol Extensions capability
	// (RFC 4760: value 1). Value is AFI(2) + Reserved(1) + SAFI(1).
	CapMultiprotocol CapabilityCode = 1

	// CapRouteRefresh is the Route Refresh capability (RFC 2918: value 2).
	CapRouteRefresh CapabilityCode = 2

	// CapGracefulRestart is the Graceful Restart capability
	// (RFC 4724: value 64).
	CapGracefulRestart CapabilityCode = 64

	// CapFourOctetAS is the 4-octet AS number capability
	// (RFC 6793: value 65). Value is the 4-octet local AS.
	CapFourOctetAS CapabilityCode = 65

	// CapMultisession is the Multisession BGP capability
	// (draft-ietf-idr-bgp-multisession: value 68).
	CapMultisession CapabilityCode = 68
)

// -------------------------------------------------------------------------
// Frame & Conn — the transport boundary
// -------------------------------------------------------------------------

// Frame is one decoded wire message as delivered by the transport:
// validated header plus raw body. Length is the total message length
// including the header. The zero Frame (Length == 0) means "no complete
// frame available yet" and is the engine's would-block signal.
type Frame struct {
	// Length is the total message length in bytes, header included.
	// Zero means no complete frame has arrived.
	Length int

	// Type is the message type code from header byte 18.
	Type MessageType

	// Header is the raw 19-byte message header.
	Header []byte

	// Body is the message payload (Length - HeaderLength bytes).
	Body []byte
}

// Conn is the framed connection consumed by the session engine. One Conn
// is exclusively owned by one Session; implementations need no internal
// locking for that reason.
//
// All methods are non-blocking in the cooperative sense: they perform at
// most one bounded I/O attempt and return, letting the reactor decide
// when to resume.
type Conn interface {
	// ReadFrame attempts to read one complete message. A Frame with
	// Length == 0 and a nil error means no complete frame has arrived
	// yet. Header decode faults are returned as a *FramingError.
	ReadFrame() (Frame, error)

	// WriteFrame attempts to write msg, resuming any partial write from
	// a previous call with the same msg. It returns true once the whole
	// message has left the process.
	WriteFrame(msg []byte) (bool, error)

	// Close tears the connection down. Idempotent.
	Close() error
}

// AppendHeader appends a BGP message header for a body of the given
// length and type to dst and returns the extended slice. Used by the
// encoders to frame outgoing messages.
func AppendHeader(dst []byte, t MessageType, bodyLen int) []byte {
	dst = append(dst, marker[:]...)
	dst = binary.BigEndian.AppendUint16(dst, uint16(HeaderLength+bodyLen))
	return append(dst, uint8(t))
}
