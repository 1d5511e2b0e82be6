// Package rib holds the per-peer outbound Adj-RIB: the route store that
// produces the lazy framed-UPDATE fragment sequence consumed by the
// session engine's chunker.
package rib

import (
	"encoding/binary"
	"iter"
	"log/slog"
	"net/netip"
	"slices"

	"github.com/nettrail/gobsp/internal/bgp"
)

// maxPrefixesPerUpdate caps the NLRI (or withdrawn) prefixes packed into
// one UPDATE fragment, keeping every fragment comfortably inside
// bgp.MessageSize. An IPv4 prefix costs at most 5 wire bytes.
const maxPrefixesPerUpdate = 500

// Route is one outbound announcement: a prefix plus the attributes the
// local policy assigned to it.
type Route struct {
	// Prefix is the announced network.
	Prefix netip.Prefix

	// NextHop is the NEXT_HOP attribute value.
	NextHop netip.Addr

	// Origin is the ORIGIN attribute value, bgp.OriginIGP by default.
	Origin uint8

	// ASPath is the AS_SEQUENCE to advertise, local AS first. Empty for
	// locally originated routes on iBGP-style sessions.
	ASPath []uint32
}

// attrKey groups routes that share an identical attribute set.
type attrKey struct {
	nextHop netip.Addr
	origin  uint8
	asPath  string
}

func (r Route) key() attrKey {
	var p []byte
	for _, as := range r.ASPath {
		p = binary.BigEndian.AppendUint32(p, as)
	}
	return attrKey{nextHop: r.NextHop, origin: r.Origin, asPath: string(p)}
}

// Adj is the outbound route store for one peer. Announce and Withdraw
// stage changes; Updates drains them as framed UPDATE fragments. Like
// the session engine it is owned by a single reactor goroutine and needs
// no locking.
type Adj struct {
	logger *slog.Logger

	// pending are staged announcements, keyed by prefix; a re-announce
	// replaces the staged route.
	pending map[netip.Prefix]Route

	// withdrawn are staged withdrawals.
	withdrawn map[netip.Prefix]struct{}
}

// NewAdj creates an empty outbound store.
func NewAdj(logger *slog.Logger) *Adj {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adj{
		logger:    logger.With(slog.String("component", "rib")),
		pending:   make(map[netip.Prefix]Route),
		withdrawn: make(map[netip.Prefix]struct{}),
	}
}

// Announce stages a route for advertisement, superseding any staged
// withdrawal of the same prefix.
func (a *Adj) Announce(r Route) {
	delete(a.withdrawn, r.Prefix)
	a.pending[r.Prefix] = r
}

// Withdraw stages a prefix withdrawal, superseding any staged
// announcement of the same prefix.
func (a *Adj) Withdraw(p netip.Prefix) {
	delete(a.pending, p)
	a.withdrawn[p] = struct{}{}
}

// PendingCount returns the number of staged announcements and
// withdrawals, for status reporting.
func (a *Adj) PendingCount() (announce, withdraw int) {
	return len(a.pending), len(a.withdrawn)
}

// Updates drains the staged changes as a lazy sequence of framed UPDATE
// messages, the fragment form the chunker consumes. Withdrawals come
// first. When group is true, announcements sharing an attribute set are
// batched into one UPDATE; otherwise each prefix gets its own message.
// Changes are removed from the store as their fragment is yielded, so an
// interrupted iteration keeps the remainder staged.
func (a *Adj) Updates(asn4 bool, group bool) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for _, batch := range a.withdrawalBatches() {
			frag := bgp.MarshalUpdate(batch, nil, nil)
			for _, p := range batch {
				delete(a.withdrawn, p)
			}
			if !yield(frag) {
				return
			}
		}

		for _, batch := range a.announceBatches(group) {
			attrs := pathAttrs(batch[0], asn4)
			nlri := make([]netip.Prefix, len(batch))
			for i, r := range batch {
				nlri[i] = r.Prefix
			}
			frag := bgp.MarshalUpdate(nil, attrs, nlri)
			for _, r := range batch {
				delete(a.pending, r.Prefix)
			}
			if !yield(frag) {
				return
			}
		}
	}
}

// withdrawalBatches splits the staged withdrawals into bounded,
// deterministically ordered batches.
func (a *Adj) withdrawalBatches() [][]netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(a.withdrawn))
	for p := range a.withdrawn {
		prefixes = append(prefixes, p)
	}
	sortPrefixes(prefixes)

	var batches [][]netip.Prefix
	for len(prefixes) > 0 {
		n := min(len(prefixes), maxPrefixesPerUpdate)
		batches = append(batches, prefixes[:n])
		prefixes = prefixes[n:]
	}
	return batches
}

// announceBatches orders the staged announcements and, when grouping,
// batches routes with identical attributes.
func (a *Adj) announceBatches(group bool) [][]Route {
	routes := make([]Route, 0, len(a.pending))
	for _, r := range a.pending {
		routes = append(routes, r)
	}
	slices.SortFunc(routes, func(x, y Route) int {
		if c := x.Prefix.Addr().Compare(y.Prefix.Addr()); c != 0 {
			return c
		}
		return x.Prefix.Bits() - y.Prefix.Bits()
	})

	if !group {
		batches := make([][]Route, len(routes))
		for i, r := range routes {
			batches[i] = []Route{r}
		}
		return batches
	}

	var batches [][]Route
	byKey := make(map[attrKey]int)
	for _, r := range routes {
		k := r.key()
		i, ok := byKey[k]
		if !ok || len(batches[i]) >= maxPrefixesPerUpdate {
			batches = append(batches, []Route{r})
			byKey[k] = len(batches) - 1
			continue
		}
		batches[i] = append(batches[i], r)
	}
	return batches
}

// pathAttrs builds the mandatory attribute set for one route
// (RFC 4271 Section 5): ORIGIN, AS_PATH, NEXT_HOP.
func pathAttrs(r Route, asn4 bool) []bgp.PathAttr {
	const wellKnown = 0x40 // transitive, non-optional

	asPath := []byte{}
	if len(r.ASPath) > 0 {
		// One AS_SEQUENCE segment: type(1) + count(1) + ASNs.
		asPath = append(asPath, 2, uint8(len(r.ASPath)))
		for _, as := range r.ASPath {
			if asn4 {
				asPath = binary.BigEndian.AppendUint32(asPath, as)
				continue
			}
			if as > 0xFFFF {
				as = uint32(bgp.ASTrans)
			}
			asPath = binary.BigEndian.AppendUint16(asPath, uint16(as))
		}
	}

	nh := r.NextHop.As4()
	return []bgp.PathAttr{
		{Flags: wellKnown, Code: bgp.AttrOrigin, Value: []byte{r.Origin}},
		{Flags: wellKnown, Code: bgp.AttrASPath, Value: asPath},
		{Flags: wellKnown, Code: bgp.AttrNextHop, Value: nh[:]},
	}
}

// sortPrefixes orders prefixes by address then length for deterministic
// wire output.
func sortPrefixes(prefixes []netip.Prefix) {
	slices.SortFunc(prefixes, func(x, y netip.Prefix) int {
		if c := x.Addr().Compare(y.Addr()); c != 0 {
			return c
		}
		return x.Bits() - y.Bits()
	})
}
