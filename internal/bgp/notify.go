package bgp

import "fmt"

// -------------------------------------------------------------------------
// Notification Codes — RFC 4271 Section 6, RFC 7313
// -------------------------------------------------------------------------

// NOTIFICATION error codes (RFC 4271 Section 4.5).
const (
	// NotifCodeMessageHeaderErr is the Message Header Error code.
	NotifCodeMessageHeaderErr uint8 = 1

	// NotifCodeOpenMessageErr is the OPEN Message Error code.
	NotifCodeOpenMessageErr uint8 = 2

	// NotifCodeUpdateMessageErr is the UPDATE Message Error code.
	NotifCodeUpdateMessageErr uint8 = 3

	// NotifCodeHoldTimerExpired is the Hold Timer Expired code.
	NotifCodeHoldTimerExpired uint8 = 4

	// NotifCodeFSMErr is the Finite State Machine Error code.
	NotifCodeFSMErr uint8 = 5

	// NotifCodeCease is the Cease code.
	NotifCodeCease uint8 = 6
)

// Message Header Error subcodes (RFC 4271 Section 6.1).
const (
	NotifSubcodeConnNotSynchronized uint8 = 1
	NotifSubcodeBadLength           uint8 = 2
	NotifSubcodeBadType             uint8 = 3
)

// OPEN Message Error subcodes (RFC 4271 Section 6.2).
const (
	NotifSubcodeUnsupportedVersionNumber uint8 = 1
	NotifSubcodeBadPeerAS                uint8 = 2
	NotifSubcodeBadBGPID                 uint8 = 3
	NotifSubcodeUnsupportedOptionalParam uint8 = 4
	NotifSubcodeUnacceptableHoldTime     uint8 = 6
	NotifSubcodeUnsupportedCapability    uint8 = 7
)

// UPDATE Message Error subcodes (RFC 4271 Section 6.3).
const (
	NotifSubcodeMalformedAttributeList uint8 = 1
	NotifSubcodeInvalidNetworkField    uint8 = 10
)

// FSM Error subcodes (RFC 6608).
const (
	NotifSubcodeUnexpectedMessageOpenSent    uint8 = 1
	NotifSubcodeUnexpectedMessageOpenConfirm uint8 = 2
	NotifSubcodeUnexpectedMessageEstablished uint8 = 3
)

// notifCode pairs a code description with its subcode descriptions.
type notifCode struct {
	description string
	subcodes    map[uint8]string
}

// notifCodes maps notification codes to descriptions
// (RFC 4271 Section 6, RFC 6608).
var notifCodes = map[uint8]notifCode{
	NotifCodeMessageHeaderErr: {
		description: "Message Header Error",
		subcodes: map[uint8]string{
			NotifSubcodeConnNotSynchronized: "Connection Not Synchronized",
			NotifSubcodeBadLength:           "Bad Message Length",
			NotifSubcodeBadType:             "Bad Message Type",
		},
	},
	NotifCodeOpenMessageErr: {
		description: "OPEN Message Error",
		subcodes: map[uint8]string{
			NotifSubcodeUnsupportedVersionNumber: "Unsupported Version Number",
			NotifSubcodeBadPeerAS:                "Bad Peer AS",
			NotifSubcodeBadBGPID:                 "Bad BGP Identifier",
			NotifSubcodeUnsupportedOptionalParam: "Unsupported Optional Parameter",
			NotifSubcodeUnacceptableHoldTime:     "Unacceptable Hold Time",
			NotifSubcodeUnsupportedCapability:    "Unsupported Capability",
		},
	},
	NotifCodeUpdateMessageErr: {
		description: "UPDATE Message Error",
		subcodes: map[uint8]string{
			NotifSubcodeMalformedAttributeList: "Malformed Attribute List",
			2:                                  "Unrecognized Well-known Attribute",
			3:                                  "Missing Well-known Attribute",
			4:                                  "Attribute Flags Error",
			5:                                  "Attribute Length Error",
			6:                                  "Invalid ORIGIN Attribute",
			8:                                  "Invalid NEXT_HOP Attribute",
			9:                                  "Optional Attribute Error",
			NotifSubcodeInvalidNetworkField:    "Invalid Network Field",
			11:                                 "Malformed AS_PATH",
		},
	},
	NotifCodeHoldTimerExpired: {
		description: "Hold Timer Expired",
	},
	NotifCodeFSMErr: {
		description: "Finite State Machine Error",
		subcodes: map[uint8]string{
			NotifSubcodeUnexpectedMessageOpenSent:    "Receive Unexpected Message in OpenSent State",
			NotifSubcodeUnexpectedMessageOpenConfirm: "Receive Unexpected Message in OpenConfirm State",
			NotifSubcodeUnexpectedMessageEstablished: "Receive Unexpected Message in Established State",
		},
	},
	NotifCodeCease: {
		description: "Cease",
		subcodes: map[uint8]string{
			1: "Maximum Number of Prefixes Reached",
			2: "Administrative Shutdown",
			3: "Peer De-configured",
			4: "Administrative Reset",
			5: "Connection Rejected",
			6: "Other Configuration Change",
			7: "Connection Collision Resolution",
			8: "Out of Resources",
			9: "Hard Reset",
		},
	},
}

// describeNotif renders "code/subcode" with the registry names when known.
func describeNotif(code, subcode uint8) string {
	c, ok := notifCodes[code]
	if !ok {
		return fmt.Sprintf("code %d subcode %d", code, subcode)
	}
	s, ok := c.subcodes[subcode]
	if !ok {
		return fmt.Sprintf("%s (code %d) subcode %d", c.description, code, subcode)
	}
	return fmt.Sprintf("%s (code %d): %s (subcode %d)", c.description, code, s, subcode)
}

// -------------------------------------------------------------------------
// Notify — the in-process protocol violation
// -------------------------------------------------------------------------

// Notify is the in-process form of a BGP NOTIFICATION the local side has
// decided to send: a (code, subcode) pair plus a human-readable reason.
// It is always fatal to the session; the caller must attempt to send the
// corresponding NOTIFICATION before closing the transport.
type Notify struct {
	// Code is the NOTIFICATION error code (RFC 4271 Section 4.5).
	Code uint8

	// Subcode is the NOTIFICATION error subcode, zero when unspecific.
	Subcode uint8

	// Reason is the human-readable detail for logs. It is not sent on
	// the wire.
	Reason string
}

// NewNotify builds a Notify for the given code/subcode.
func NewNotify(code, subcode uint8, reason string) *Notify {
	return &Notify{Code: code, Subcode: subcode, Reason: reason}
}

// Error implements the error interface.
func (n *Notify) Error() string {
	if n.Reason == "" {
		return describeNotif(n.Code, n.Subcode)
	}
	return fmt.Sprintf("%s: %s", describeNotif(n.Code, n.Subcode), n.Reason)
}

// Message returns the wire NOTIFICATION carrying this error. The Reason
// is deliberately not placed in the data field; RFC 4271 reserves the
// data field for diagnostic octets tied to the subcode.
func (n *Notify) Message() *Notification {
	return &Notification{Code: n.Code, Subcode: n.Subcode}
}

// -------------------------------------------------------------------------
// FramingError — transport decode faults
// -------------------------------------------------------------------------

// FramingError is a malformed-frame fault raised by the transport
// decoder: bad marker, illegal length, or unknown type in the fixed
// header (RFC 4271 Section 6.1). The dispatcher converts it to a Notify,
// so it is always session-fatal.
type FramingError struct {
	// Code is the Message Header Error code (always 1 in practice).
	Code uint8

	// Subcode pins the specific header fault.
	Subcode uint8

	// Reason is the human-readable detail for logs.
	Reason string
}

// Error implements the error interface.
func (e *FramingError) Error() string {
	return fmt.Sprintf("framing: %s: %s", describeNotif(e.Code, e.Subcode), e.Reason)
}

// Notify converts the framing fault to its session-fatal Notify form.
func (e *FramingError) Notify() *Notify {
	return &Notify{Code: e.Code, Subcode: e.Subcode, Reason: e.Reason}
}
