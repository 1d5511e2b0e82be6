package bgp

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// -------------------------------------------------------------------------
// OPEN Message — RFC 4271 Section 4.2
// -------------------------------------------------------------------------

// capabilitiesParamType is the Capabilities optional parameter type
// (RFC 5492 Section 4).
const capabilitiesParamType = 2

// Capability is one capability TLV from an OPEN message's Capabilities
// optional parameter (RFC 5492 Section 4). Value is kept raw; only the
// capabilities that gate negotiation are interpreted.
type Capability struct {
	// Code is the capability code.
	Code CapabilityCode

	// Value is the raw capability value.
	Value []byte
}

// Open is a decoded OPEN message (RFC 4271 Section 4.2).
type Open struct {
	// Version is the protocol version, 4 for BGP-4.
	Version uint8

	// ASN is the 2-octet My Autonomous System field. ASTrans when the
	// real AS needs four octets (RFC 6793).
	ASN uint16

	// HoldTime is the proposed hold time in seconds. Zero disables the
	// hold timer (RFC 4271 Section 4.2).
	HoldTime uint16

	// RouterID is the sender's BGP Identifier. The all-zeros identifier
	// is invalid (RFC 6286 Section 2.1).
	RouterID netip.Addr

	// Capabilities are the advertised capability TLVs in wire order.
	Capabilities []Capability
}

// Name implements Message.
func (*Open) Name() string { return "OPEN" }

func (*Open) message() {}

// HasCapability reports whether the OPEN advertised the given code.
func (o *Open) HasCapability(code CapabilityCode) bool {
	for _, c := range o.Capabilities {
		if c.Code == code {
			return true
		}
	}
	return false
}

// capability returns the first capability with the given code.
func (o *Open) capability(code CapabilityCode) (Capability, bool) {
	for _, c := range o.Capabilities {
		if c.Code == code {
			return c, true
		}
	}
	return Capability{}, false
}

// FourOctetAS returns the 4-octet AS from the capability 65 value, if
// advertised (RFC 6793 Section 3).
func (o *Open) FourOctetAS() (uint32, bool) {
	c, ok := o.capability(CapFourOctetAS)
	if !ok || len(c.Value) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(c.Value), true
}

// Families returns the address families advertised via Multiprotocol
// Extensions capabilities. An OPEN with no MP capability implies plain
// IPv4 unicast (RFC 4760 Section 8).
func (o *Open) Families() []Family {
	var fams []Family
	for _, c := range o.Capabilities {
		if c.Code != CapMultiprotocol || len(c.Value) != 4 {
			continue
		}
		fams = append(fams, Family{
			AFI:  AFI(binary.BigEndian.Uint16(c.Value[0:2])),
			SAFI: SAFI(c.Value[3]),
		})
	}
	if fams == nil {
		fams = []Family{FamilyIPv4Unicast}
	}
	return fams
}

// Marshal encodes the framed OPEN message.
func (o *Open) Marshal() []byte {
	var caps []byte
	for _, c := range o.Capabilities {
		caps = append(caps, uint8(c.Code), uint8(len(c.Value)))
		caps = append(caps, c.Value...)
	}

	var params []byte
	if len(caps) > 0 {
		params = append(params, capabilitiesParamType, uint8(len(caps)))
		params = append(params, caps...)
	}

	id := o.RouterID.As4()

	msg := AppendHeader(nil, TypeOpen, 10+len(params))
	msg = append(msg, o.Version)
	msg = binary.BigEndian.AppendUint16(msg, o.ASN)
	msg = binary.BigEndian.AppendUint16(msg, o.HoldTime)
	msg = append(msg, id[:]...)
	msg = append(msg, uint8(len(params)))
	return append(msg, params...)
}

// decodeOpen parses an OPEN body. All decode faults map to the OPEN
// Message Error notification codes (RFC 4271 Section 6.2).
func decodeOpen(body []byte) (*Open, error) {
	// RFC 4271 Section 4.2: version(1) + my-AS(2) + hold-time(2) +
	// identifier(4) + opt-param-len(1) = 10 bytes minimum.
	if len(body) < 10 {
		return nil, NewNotify(NotifCodeMessageHeaderErr, NotifSubcodeBadLength,
			fmt.Sprintf("OPEN body too short (%d bytes)", len(body)))
	}

	o := &Open{
		Version:  body[0],
		ASN:      binary.BigEndian.Uint16(body[1:3]),
		HoldTime: binary.BigEndian.Uint16(body[3:5]),
		RouterID: netip.AddrFrom4([4]byte(body[5:9])),
	}

	if o.Version != Version {
		return nil, NewNotify(NotifCodeOpenMessageErr, NotifSubcodeUnsupportedVersionNumber,
			fmt.Sprintf("unsupported BGP version %d", o.Version))
	}

	paramLen := int(body[9])
	params := body[10:]
	if paramLen != len(params) {
		return nil, NewNotify(NotifCodeOpenMessageErr, 0,
			fmt.Sprintf("optional parameter length %d does not match remaining %d bytes",
				paramLen, len(params)))
	}

	for len(params) > 0 {
		// RFC 4271 Section 4.2: param type(1) + param length(1) + value.
		if len(params) < 2 {
			return nil, NewNotify(NotifCodeOpenMessageErr, 0, "truncated optional parameter header")
		}
		pType, pLen := params[0], int(params[1])
		if len(params) < 2+pLen {
			return nil, NewNotify(NotifCodeOpenMessageErr, 0, "truncated optional parameter value")
		}
		value := params[2 : 2+pLen]
		params = params[2+pLen:]

		if pType != capabilitiesParamType {
			return nil, NewNotify(NotifCodeOpenMessageErr, NotifSubcodeUnsupportedOptionalParam,
				fmt.Sprintf("unsupported optional parameter type %d", pType))
		}

		// RFC 5492 Section 4: capability code(1) + length(1) + value.
		for len(value) > 0 {
			if len(value) < 2 {
				return nil, NewNotify(NotifCodeOpenMessageErr, 0, "truncated capability header")
			}
			cCode, cLen := CapabilityCode(value[0]), int(value[1])
			if len(value) < 2+cLen {
				return nil, NewNotify(NotifCodeOpenMessageErr, 0, "truncated capability value")
			}
			o.Capabilities = append(o.Capabilities, Capability{
				Code:  cCode,
				Value: append([]byte(nil), value[2:2+cLen]...),
			})
			value = value[2+cLen:]
		}
	}

	return o, nil
}

// -------------------------------------------------------------------------
// Local OPEN construction
// -------------------------------------------------------------------------

// buildOpen assembles the local OPEN for a neighbor. The capability set
// follows the neighbor configuration: one Multiprotocol capability per
// family, Route Refresh, 4-octet AS, Graceful Restart (with the
// Restart State bit set when restarted), and Multisession when
// configured. A 4-octet local AS is encoded as ASTrans in the fixed
// field (RFC 6793 Section 9).
func buildOpen(n *Neighbor, restarted bool) *Open {
	caps := make([]Capability, 0, len(n.Families)+4)

	for _, f := range n.Families {
		v := binary.BigEndian.AppendUint16(nil, uint16(f.AFI))
		v = append(v, 0x00, uint8(f.SAFI))
		caps = append(caps, Capability{Code: CapMultiprotocol, Value: v})
	}

	caps = append(caps, Capability{Code: CapRouteRefresh})

	caps = append(caps, Capability{
		Code:  CapFourOctetAS,
		Value: binary.BigEndian.AppendUint32(nil, n.LocalAS),
	})

	// RFC 4724 Section 3: Restart Flags(4 bits) + Restart Time(12 bits),
	// then one AFI(2)+SAFI(1)+Flags(1) entry per preserved family.
	restartState := uint16(0)
	if restarted {
		restartState = 1 << 15
	}
	gr := binary.BigEndian.AppendUint16(nil, restartState|gracefulRestartTime)
	for _, f := range n.Families {
		gr = binary.BigEndian.AppendUint16(gr, uint16(f.AFI))
		gr = append(gr, uint8(f.SAFI), 0x00)
	}
	caps = append(caps, Capability{Code: CapGracefulRestart, Value: gr})

	if n.Multisession {
		caps = append(caps, Capability{Code: CapMultisession})
	}

	asn := uint16(n.LocalAS)
	if n.LocalAS > 0xFFFF {
		asn = ASTrans
	}

	return &Open{
		Version:      Version,
		ASN:          asn,
		HoldTime:     uint16(n.HoldTime.Seconds()),
		RouterID:     n.RouterID,
		Capabilities: caps,
	}
}

// gracefulRestartTime is the advertised Restart Time in seconds
// (RFC 4724 Section 3, low 12 bits of the first two octets).
const gracefulRestartTime uint16 = 120
