package bgp_test

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"slices"
	"testing"
	"time"

	"github.com/nettrail/gobsp/internal/bgp"
)

// mpCap builds a Multiprotocol Extensions capability for one family.
func mpCap(f bgp.Family) bgp.Capability {
	v := binary.BigEndian.AppendUint16(nil, uint16(f.AFI))
	v = append(v, 0x00, uint8(f.SAFI))
	return bgp.Capability{Code: bgp.CapMultiprotocol, Value: v}
}

// as4Cap builds a 4-octet AS capability.
func as4Cap(asn uint32) bgp.Capability {
	return bgp.Capability{Code: bgp.CapFourOctetAS, Value: binary.BigEndian.AppendUint32(nil, asn)}
}

// testNeighbor returns a valid neighbor configuration for negotiation tests.
func testNeighbor() *bgp.Neighbor {
	return &bgp.Neighbor{
		Addr:        netip.MustParseAddr("192.0.2.1"),
		LocalAS:     64512,
		PeerAS:      64513,
		RouterID:    netip.MustParseAddr("10.0.0.1"),
		HoldTime:    90 * time.Second,
		RequireASN4: true,
		Families:    []bgp.Family{bgp.FamilyIPv4Unicast},
	}
}

// TestNegotiatedSingleAssignment verifies the builder contract: each
// direction is recorded exactly once, and a second OPEN in either
// direction fails with ErrAlreadyNegotiated instead of being silently
// accepted.
func TestNegotiatedSingleAssignment(t *testing.T) {
	t.Parallel()

	g := bgp.NewNegotiated(testNeighbor())
	sent := &bgp.Open{Version: 4, ASN: 64512, HoldTime: 90, RouterID: netip.MustParseAddr("10.0.0.1")}
	recv := &bgp.Open{Version: 4, ASN: 64513, HoldTime: 90, RouterID: netip.MustParseAddr("10.0.0.2")}

	if err := g.SetSent(sent); err != nil {
		t.Fatalf("SetSent() error = %v", err)
	}
	if err := g.SetSent(sent); !errors.Is(err, bgp.ErrAlreadyNegotiated) {
		t.Errorf("second SetSent() error = %v, want ErrAlreadyNegotiated", err)
	}

	if err := g.SetReceived(recv); err != nil {
		t.Fatalf("SetReceived() error = %v", err)
	}
	if err := g.SetReceived(recv); !errors.Is(err, bgp.ErrAlreadyNegotiated) {
		t.Errorf("second SetReceived() error = %v, want ErrAlreadyNegotiated", err)
	}

	if !g.Complete() {
		t.Error("Complete() = false after both directions recorded")
	}
}

// TestNegotiatedDerived verifies the derived session parameters: hold
// time is the smaller proposal (RFC 4271 Section 4.2), the peer AS comes
// from the 4-octet capability when advertised (RFC 6793), ASN4 requires
// both sides, and the family set is the intersection.
func TestNegotiatedDerived(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		sent         *bgp.Open
		recv         *bgp.Open
		wantHoldTime uint16
		wantPeerAS   uint32
		wantASN4     bool
		wantFamilies []bgp.Family
	}{
		{
			name: "hold time is the minimum of both proposals",
			sent: &bgp.Open{HoldTime: 90, Capabilities: []bgp.Capability{mpCap(bgp.FamilyIPv4Unicast)}},
			recv: &bgp.Open{HoldTime: 30, ASN: 64513,
				Capabilities: []bgp.Capability{mpCap(bgp.FamilyIPv4Unicast)}},
			wantHoldTime: 30,
			wantPeerAS:   64513,
			wantFamilies: []bgp.Family{bgp.FamilyIPv4Unicast},
		},
		{
			name: "zero hold time disables the hold timer",
			sent: &bgp.Open{HoldTime: 90, Capabilities: []bgp.Capability{mpCap(bgp.FamilyIPv4Unicast)}},
			recv: &bgp.Open{HoldTime: 0, ASN: 64513,
				Capabilities: []bgp.Capability{mpCap(bgp.FamilyIPv4Unicast)}},
			wantHoldTime: 0,
			wantPeerAS:   64513,
			wantFamilies: []bgp.Family{bgp.FamilyIPv4Unicast},
		},
		{
			name: "4-octet AS from capability 65 when both sides speak it",
			sent: &bgp.Open{HoldTime: 90,
				Capabilities: []bgp.Capability{mpCap(bgp.FamilyIPv4Unicast), as4Cap(64512)}},
			recv: &bgp.Open{HoldTime: 90, ASN: bgp.ASTrans,
				Capabilities: []bgp.Capability{mpCap(bgp.FamilyIPv4Unicast), as4Cap(4200000000)}},
			wantHoldTime: 90,
			wantPeerAS:   4200000000,
			wantASN4:     true,
			wantFamilies: []bgp.Family{bgp.FamilyIPv4Unicast},
		},
		{
			name: "peer ASN4 alone does not enable 4-octet encoding",
			sent: &bgp.Open{HoldTime: 90, Capabilities: []bgp.Capability{mpCap(bgp.FamilyIPv4Unicast)}},
			recv: &bgp.Open{HoldTime: 90, ASN: 64513,
				Capabilities: []bgp.Capability{mpCap(bgp.FamilyIPv4Unicast), as4Cap(64513)}},
			wantHoldTime: 90,
			wantPeerAS:   64513,
			wantASN4:     false,
			wantFamilies: []bgp.Family{bgp.FamilyIPv4Unicast},
		},
		{
			name: "families are the intersection of both MP capability sets",
			sent: &bgp.Open{HoldTime: 90, Capabilities: []bgp.Capability{
				mpCap(bgp.FamilyIPv4Unicast), mpCap(bgp.FamilyIPv6Unicast)}},
			recv: &bgp.Open{HoldTime: 90, ASN: 64513,
				Capabilities: []bgp.Capability{mpCap(bgp.FamilyIPv6Unicast)}},
			wantHoldTime: 90,
			wantPeerAS:   64513,
			wantFamilies: []bgp.Family{bgp.FamilyIPv6Unicast},
		},
		{
			name:         "no MP capability implies plain IPv4 unicast",
			sent:         &bgp.Open{HoldTime: 90},
			recv:         &bgp.Open{HoldTime: 90, ASN: 64513},
			wantHoldTime: 90,
			wantPeerAS:   64513,
			wantFamilies: []bgp.Family{bgp.FamilyIPv4Unicast},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := bgp.NewNegotiated(testNeighbor())
			if err := g.SetSent(tt.sent); err != nil {
				t.Fatalf("SetSent() error = %v", err)
			}
			if err := g.SetReceived(tt.recv); err != nil {
				t.Fatalf("SetReceived() error = %v", err)
			}

			if got := g.HoldTime(); got != tt.wantHoldTime {
				t.Errorf("HoldTime() = %d, want %d", got, tt.wantHoldTime)
			}
			if got := g.PeerAS(); got != tt.wantPeerAS {
				t.Errorf("PeerAS() = %d, want %d", got, tt.wantPeerAS)
			}
			if got := g.ASN4(); got != tt.wantASN4 {
				t.Errorf("ASN4() = %v, want %v", got, tt.wantASN4)
			}
			if got := g.Families(); !slices.Equal(got, tt.wantFamilies) {
				t.Errorf("Families() = %v, want %v", got, tt.wantFamilies)
			}
		})
	}
}

// TestNegotiatedMultisession verifies the tri-state multisession
// outcome: agreement yields a plain flag, disagreement stores a (2,7)
// notification that the handshake re-raises verbatim.
func TestNegotiatedMultisession(t *testing.T) {
	t.Parallel()

	msCap := bgp.Capability{Code: bgp.CapMultisession}

	tests := []struct {
		name      string
		sent      *bgp.Open
		recv      *bgp.Open
		wantOn    bool
		wantFault bool
	}{
		{
			name:   "both sides multisession",
			sent:   &bgp.Open{HoldTime: 90, Capabilities: []bgp.Capability{msCap}},
			recv:   &bgp.Open{HoldTime: 90, ASN: 64513, Capabilities: []bgp.Capability{msCap}},
			wantOn: true,
		},
		{
			name: "neither side multisession",
			sent: &bgp.Open{HoldTime: 90},
			recv: &bgp.Open{HoldTime: 90, ASN: 64513},
		},
		{
			name:      "local only",
			sent:      &bgp.Open{HoldTime: 90, Capabilities: []bgp.Capability{msCap}},
			recv:      &bgp.Open{HoldTime: 90, ASN: 64513},
			wantFault: true,
		},
		{
			name:      "peer only",
			sent:      &bgp.Open{HoldTime: 90},
			recv:      &bgp.Open{HoldTime: 90, ASN: 64513, Capabilities: []bgp.Capability{msCap}},
			wantFault: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := bgp.NewNegotiated(testNeighbor())
			if err := g.SetSent(tt.sent); err != nil {
				t.Fatalf("SetSent() error = %v", err)
			}
			if err := g.SetReceived(tt.recv); err != nil {
				t.Fatalf("SetReceived() error = %v", err)
			}

			on, fault := g.Multisession()
			if tt.wantFault {
				if fault == nil {
					t.Fatal("Multisession() fault = nil, want (2,7) notification")
				}
				if fault.Code != 2 || fault.Subcode != 7 {
					t.Errorf("fault = (%d,%d), want (2,7)", fault.Code, fault.Subcode)
				}
				return
			}
			if fault != nil {
				t.Fatalf("Multisession() fault = %v, want nil", fault)
			}
			if on != tt.wantOn {
				t.Errorf("Multisession() = %v, want %v", on, tt.wantOn)
			}
		})
	}
}
