package bgp

import "net/netip"

// Notifier is the optional external monitoring channel for one session.
// Every method is best-effort: the engine logs a returned error and
// continues; a monitoring failure is never a session failure.
type Notifier interface {
	// Connected reports the session transport coming up.
	Connected(peer netip.Addr) error

	// Down reports the session going down with a human-readable reason.
	Down(peer netip.Addr, reason string) error

	// Send forwards one encoded outbound message split into its type
	// byte, header, and body.
	Send(peer netip.Addr, msgType uint8, header, body []byte) error

	// Receive forwards one decoded inbound frame the same way.
	Receive(peer netip.Addr, msgType uint8, header, body []byte) error

	// Routes forwards the prefixes decoded from one inbound UPDATE.
	Routes(peer netip.Addr, announced, withdrawn []netip.Prefix) error
}

// NopNotifier is the Notifier used when no monitoring program is
// configured. All methods succeed without doing anything.
type NopNotifier struct{}

// Connected implements Notifier.
func (NopNotifier) Connected(netip.Addr) error { return nil }

// Down implements Notifier.
func (NopNotifier) Down(netip.Addr, string) error { return nil }

// Send implements Notifier.
func (NopNotifier) Send(netip.Addr, uint8, []byte, []byte) error { return nil }

// Receive implements Notifier.
func (NopNotifier) Receive(netip.Addr, uint8, []byte, []byte) error { return nil }

// Routes implements Notifier.
func (NopNotifier) Routes(netip.Addr, []netip.Prefix, []netip.Prefix) error { return nil }
