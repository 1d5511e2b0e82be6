package bgp

import (
	"errors"
	"fmt"
	"strings"
)

// -------------------------------------------------------------------------
// Address Families — RFC 4760
// -------------------------------------------------------------------------

// AFI is an IANA Address Family Identifier.
type AFI uint16

const (
	// AFIIPv4 is the IPv4 address family (value 1).
	AFIIPv4 AFI = 1

	// AFIIPv6 is the IPv6 address family (value 2).
	AFIIPv6 AFI = 2
)

// String returns the lowercase name for the AFI.
func (a AFI) String() string {
	switch a {
	case AFIIPv4:
		return "ipv4"
	case AFIIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf(unknownFmt, uint16(a))
	}
}

// SAFI is an IANA Subsequent Address Family Identifier.
type SAFI uint8

const (
	// SAFIUnicast is unicast forwarding (RFC 4760: value 1).
	SAFIUnicast SAFI = 1

	// SAFIMulticast is multicast forwarding (RFC 4760: value 2).
	SAFIMulticast SAFI = 2
)

// String returns the lowercase name for the SAFI.
func (s SAFI) String() string {
	switch s {
	case SAFIUnicast:
		return "unicast"
	case SAFIMulticast:
		return "multicast"
	default:
		return fmt.Sprintf(unknownFmt, uint8(s))
	}
}

// Family is an (AFI, SAFI) pair identifying one address family
// (RFC 4760 Section 3). The zero Family is invalid.
type Family struct {
	AFI  AFI
	SAFI SAFI
}

// Well-known families.
var (
	// FamilyIPv4Unicast is IPv4 unicast, the implicit BGP-4 family.
	FamilyIPv4Unicast = Family{AFI: AFIIPv4, SAFI: SAFIUnicast}

	// FamilyIPv6Unicast is IPv6 unicast.
	FamilyIPv6Unicast = Family{AFI: AFIIPv6, SAFI: SAFIUnicast}
)

// String returns the "afi/safi" form, e.g. "ipv4/unicast".
func (f Family) String() string {
	return f.AFI.String() + "/" + f.SAFI.String()
}

// IsValid reports whether both identifiers are recognized.
func (f Family) IsValid() bool {
	return (f.AFI == AFIIPv4 || f.AFI == AFIIPv6) &&
		(f.SAFI == SAFIUnicast || f.SAFI == SAFIMulticast)
}

// ErrUnknownFamily indicates an unparseable or unsupported family string.
var ErrUnknownFamily = errors.New("unknown address family")

// ParseFamily parses the "afi/safi" form used in configuration,
// e.g. "ipv4/unicast" or "ipv6/unicast".
func ParseFamily(s string) (Family, error) {
	afiStr, safiStr, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "/")
	if !ok {
		return Family{}, fmt.Errorf("parse family %q: %w", s, ErrUnknownFamily)
	}

	var f Family
	switch afiStr {
	case "ipv4":
		f.AFI = AFIIPv4
	case "ipv6":
		f.AFI = AFIIPv6
	default:
		return Family{}, fmt.Errorf("parse family %q: afi %q: %w", s, afiStr, ErrUnknownFamily)
	}
	switch safiStr {
	case "unicast":
		f.SAFI = SAFIUnicast
	case "multicast":
		f.SAFI = SAFIMulticast
	default:
		return Family{}, fmt.Errorf("parse family %q: safi %q: %w", s, safiStr, ErrUnknownFamily)
	}
	return f, nil
}
