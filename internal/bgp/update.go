package bgp

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// -------------------------------------------------------------------------
// UPDATE Message — RFC 4271 Section 4.3
// -------------------------------------------------------------------------

// Path attribute flag bits (RFC 4271 Section 4.3).
const (
	// attrFlagOptional marks an optional attribute (bit 0).
	attrFlagOptional uint8 = 1 << 7

	// attrFlagTransitive marks a transitive attribute (bit 1).
	attrFlagTransitive uint8 = 1 << 6

	// attrFlagExtendedLength marks a 2-octet length field (bit 3).
	attrFlagExtendedLength uint8 = 1 << 4
)

// Well-known path attribute type codes (RFC 4271 Section 5).
const (
	// AttrOrigin is the ORIGIN attribute (type 1).
	AttrOrigin uint8 = 1

	// AttrASPath is the AS_PATH attribute (type 2).
	AttrASPath uint8 = 2

	// AttrNextHop is the NEXT_HOP attribute (type 3).
	AttrNextHop uint8 = 3
)

// ORIGIN attribute values (RFC 4271 Section 5.1.1).
const (
	// OriginIGP means the prefix is interior to the originating AS.
	OriginIGP uint8 = 0

	// OriginIncomplete means the prefix was learned by other means.
	OriginIncomplete uint8 = 2
)

// PathAttr is one path attribute TLV, value kept raw. The engine only
// carries attributes through; interpreting them is the route store's
// business.
type PathAttr struct {
	// Flags is the attribute flags octet.
	Flags uint8

	// Code is the attribute type code.
	Code uint8

	// Value is the raw attribute value.
	Value []byte
}

// Update is a decoded UPDATE message (RFC 4271 Section 4.3). Decoding
// happens only when the neighbor's ReceiveRoutes flag is on; otherwise
// the dispatcher substitutes NoOp and the body is never parsed.
type Update struct {
	// Withdrawn are the prefixes being unfeasible.
	Withdrawn []netip.Prefix

	// Attrs are the path attributes in wire order, raw values.
	Attrs []PathAttr

	// NLRI are the prefixes the attributes apply to.
	NLRI []netip.Prefix
}

// Name implements Message.
func (*Update) Name() string { return "UPDATE" }

func (*Update) message() {}

// decodeUpdate parses an UPDATE body. Faults map to UPDATE Message Error
// notification subcodes (RFC 4271 Section 6.3).
func decodeUpdate(body []byte) (*Update, error) {
	// RFC 4271 Section 4.3: withdrawn-len(2) + withdrawn + attr-len(2) +
	// attrs + NLRI.
	if len(body) < 4 {
		return nil, NewNotify(NotifCodeUpdateMessageErr, NotifSubcodeMalformedAttributeList,
			fmt.Sprintf("UPDATE body too short (%d bytes)", len(body)))
	}

	u := &Update{}

	withdrawnLen := int(binary.BigEndian.Uint16(body[0:2]))
	rest := body[2:]
	if withdrawnLen > len(rest) {
		return nil, NewNotify(NotifCodeUpdateMessageErr, NotifSubcodeMalformedAttributeList,
			"withdrawn routes length exceeds body")
	}
	var err error
	u.Withdrawn, err = decodePrefixes(rest[:withdrawnLen])
	if err != nil {
		return nil, err
	}
	rest = rest[withdrawnLen:]

	if len(rest) < 2 {
		return nil, NewNotify(NotifCodeUpdateMessageErr, NotifSubcodeMalformedAttributeList,
			"missing total path attribute length")
	}
	attrLen := int(binary.BigEndian.Uint16(rest[0:2]))
	rest = rest[2:]
	if attrLen > len(rest) {
		return nil, NewNotify(NotifCodeUpdateMessageErr, NotifSubcodeMalformedAttributeList,
			"total path attribute length exceeds body")
	}
	u.Attrs, err = decodePathAttrs(rest[:attrLen])
	if err != nil {
		return nil, err
	}

	u.NLRI, err = decodePrefixes(rest[attrLen:])
	if err != nil {
		return nil, err
	}
	return u, nil
}

// decodePathAttrs walks the attribute TLVs, keeping values raw.
func decodePathAttrs(b []byte) ([]PathAttr, error) {
	var attrs []PathAttr
	for len(b) > 0 {
		// RFC 4271 Section 4.3: flags(1) + type(1) + length(1 or 2).
		if len(b) < 3 {
			return nil, NewNotify(NotifCodeUpdateMessageErr, NotifSubcodeMalformedAttributeList,
				"truncated path attribute header")
		}
		a := PathAttr{Flags: b[0], Code: b[1]}
		var vLen int
		if a.Flags&attrFlagExtendedLength != 0 {
			if len(b) < 4 {
				return nil, NewNotify(NotifCodeUpdateMessageErr, NotifSubcodeMalformedAttributeList,
					"truncated extended attribute length")
			}
			vLen = int(binary.BigEndian.Uint16(b[2:4]))
			b = b[4:]
		} else {
			vLen = int(b[2])
			b = b[3:]
		}
		if vLen > len(b) {
			return nil, NewNotify(NotifCodeUpdateMessageErr, NotifSubcodeMalformedAttributeList,
				"attribute value exceeds attribute block")
		}
		a.Value = append([]byte(nil), b[:vLen]...)
		b = b[vLen:]
		attrs = append(attrs, a)
	}
	return attrs, nil
}

// decodePrefixes parses a run of IPv4 (length, prefix) tuples
// (RFC 4271 Section 4.3).
func decodePrefixes(b []byte) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for len(b) > 0 {
		bits := int(b[0])
		if bits > 32 {
			return nil, NewNotify(NotifCodeUpdateMessageErr, NotifSubcodeInvalidNetworkField,
				fmt.Sprintf("prefix length %d exceeds 32", bits))
		}
		n := (bits + 7) / 8
		if len(b) < 1+n {
			return nil, NewNotify(NotifCodeUpdateMessageErr, NotifSubcodeInvalidNetworkField,
				"truncated prefix")
		}
		var addr [4]byte
		copy(addr[:], b[1:1+n])
		prefixes = append(prefixes, netip.PrefixFrom(netip.AddrFrom4(addr), bits))
		b = b[1+n:]
	}
	return prefixes, nil
}

// appendPrefix appends the (length, prefix) wire form of an IPv4 prefix.
func appendPrefix(dst []byte, p netip.Prefix) []byte {
	bits := p.Bits()
	addr := p.Addr().As4()
	dst = append(dst, uint8(bits))
	return append(dst, addr[:(bits+7)/8]...)
}

// MarshalUpdate encodes a framed UPDATE message from its three sections.
// The caller (the route store producing fragments for the chunker) is
// responsible for keeping each resulting message within MessageSize.
func MarshalUpdate(withdrawn []netip.Prefix, attrs []PathAttr, nlri []netip.Prefix) []byte {
	var wd []byte
	for _, p := range withdrawn {
		wd = appendPrefix(wd, p)
	}

	var ab []byte
	for _, a := range attrs {
		ab = append(ab, a.Flags, a.Code)
		if a.Flags&attrFlagExtendedLength != 0 {
			ab = binary.BigEndian.AppendUint16(ab, uint16(len(a.Value)))
		} else {
			ab = append(ab, uint8(len(a.Value)))
		}
		ab = append(ab, a.Value...)
	}

	var nb []byte
	for _, p := range nlri {
		nb = appendPrefix(nb, p)
	}

	bodyLen := 2 + len(wd) + 2 + len(ab) + len(nb)
	msg := AppendHeader(nil, TypeUpdate, bodyLen)
	msg = binary.BigEndian.AppendUint16(msg, uint16(len(wd)))
	msg = append(msg, wd...)
	msg = binary.BigEndian.AppendUint16(msg, uint16(len(ab)))
	msg = append(msg, ab...)
	return append(msg, nb...)
}
