package bgp_test

import (
	"bytes"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/netip"
	"slices"
	"testing"
	"time"

	"github.com/nettrail/gobsp/internal/bgp"
)

// fakeConn implements bgp.Conn over in-memory frame queues. A nil inbox
// entry is a scripted would-block turn. When peer is set, flushed writes
// are delivered to the peer's inbox, forming an in-memory pipe.
type fakeConn struct {
	inbox   [][]byte
	written [][]byte

	peer *fakeConn

	// writeStalls is the number of unflushed attempts before each write
	// completes.
	writeStalls int
	stallLeft   int

	readErr  error
	writeErr error

	closeCalls int
}

func (c *fakeConn) ReadFrame() (bgp.Frame, error) {
	if c.readErr != nil {
		err := c.readErr
		c.readErr = nil
		return bgp.Frame{}, err
	}
	if len(c.inbox) == 0 {
		return bgp.Frame{}, nil
	}
	raw := c.inbox[0]
	c.inbox = c.inbox[1:]
	if raw == nil {
		return bgp.Frame{}, nil
	}
	return bgp.Frame{
		Length: len(raw),
		Type:   bgp.MessageType(raw[18]),
		Header: raw[:bgp.HeaderLength],
		Body:   raw[bgp.HeaderLength:],
	}, nil
}

func (c *fakeConn) WriteFrame(msg []byte) (bool, error) {
	if c.writeErr != nil {
		return false, c.writeErr
	}
	if c.stallLeft > 0 {
		c.stallLeft--
		return false, nil
	}
	c.stallLeft = c.writeStalls
	c.written = append(c.written, bytes.Clone(msg))
	if c.peer != nil {
		c.peer.inbox = append(c.peer.inbox, bytes.Clone(msg))
	}
	return true, nil
}

func (c *fakeConn) Close() error {
	c.closeCalls++
	return nil
}

// quietLogger discards session log output in tests.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSession builds a connected session over a fresh fakeConn.
func newTestSession(t *testing.T, n *bgp.Neighbor, opts ...bgp.SessionOption) (*bgp.Session, *fakeConn) {
	t.Helper()
	if err := n.Validate(); err != nil {
		t.Fatalf("neighbor config: %v", err)
	}
	conn := &fakeConn{}
	opts = append([]bgp.SessionOption{bgp.WithLogger(quietLogger())}, opts...)
	s := bgp.NewSession(n, opts...)
	s.Connect(conn)
	return s, conn
}

// drive drains a send iterator, failing the test on any yielded error.
func drive(t *testing.T, seq iter.Seq2[bgp.Progress, error]) []bgp.Progress {
	t.Helper()
	var out []bgp.Progress
	for p, err := range seq {
		if err != nil {
			t.Fatalf("send iterator error = %v", err)
		}
		out = append(out, p)
	}
	return out
}

// driveErr drains a send iterator until the first yielded error.
func driveErr(seq iter.Seq2[bgp.Progress, error]) ([]bgp.Progress, error) {
	var out []bgp.Progress
	for p, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

// keepaliveRaw is a framed KEEPALIVE message.
func keepaliveRaw() []byte {
	return bgp.AppendHeader(nil, bgp.TypeKeepAlive, 0)
}

// wantNotify asserts err is a *bgp.Notify with the given code/subcode.
func wantNotify(t *testing.T, err error, code, subcode uint8) {
	t.Helper()
	var n *bgp.Notify
	if !errors.As(err, &n) {
		t.Fatalf("error = %v, want *Notify(%d,%d)", err, code, subcode)
	}
	if n.Code != code || n.Subcode != subcode {
		t.Fatalf("notify = (%d,%d) %q, want (%d,%d)", n.Code, n.Subcode, n.Reason, code, subcode)
	}
}

// -------------------------------------------------------------------------
// Decode path
// -------------------------------------------------------------------------

// TestReadMessageWouldBlock verifies that a zero-length read yields only
// NoOp, never a real message, and that any number of would-block turns
// leaves subsequent full-frame decoding intact.
func TestReadMessageWouldBlock(t *testing.T) {
	t.Parallel()

	s, conn := newTestSession(t, testNeighbor())
	conn.inbox = [][]byte{nil, nil, nil, keepaliveRaw()}

	for range 3 {
		msg, err := s.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		if _, ok := msg.(bgp.NoOp); !ok {
			t.Fatalf("ReadMessage() = %T, want NoOp", msg)
		}
	}

	msg, err := s.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if _, ok := msg.(bgp.KeepAlive); !ok {
		t.Fatalf("ReadMessage() after would-block turns = %T, want KeepAlive", msg)
	}
}

// TestReadMessageUnknownType verifies that unrecognized type codes decode
// to Unknown and are never an error.
func TestReadMessageUnknownType(t *testing.T) {
	t.Parallel()

	s, conn := newTestSession(t, testNeighbor())
	raw := bgp.AppendHeader(nil, bgp.MessageType(9), 2)
	raw = append(raw, 0xDE, 0xAD)
	conn.inbox = [][]byte{raw}

	msg, err := s.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	u, ok := msg.(bgp.Unknown)
	if !ok {
		t.Fatalf("ReadMessage() = %T, want Unknown", msg)
	}
	if u.TypeCode != 9 {
		t.Errorf("TypeCode = %d, want 9", u.TypeCode)
	}
}

// TestReadMessageFramingFault verifies that a transport framing fault is
// converted to a session-fatal Notify at the dispatcher boundary.
func TestReadMessageFramingFault(t *testing.T) {
	t.Parallel()

	s, conn := newTestSession(t, testNeighbor())
	conn.readErr = &bgp.FramingError{Code: 1, Subcode: 1, Reason: "marker is not all ones"}

	_, err := s.ReadMessage()
	wantNotify(t, err, 1, 1)
}

// TestReadMessageEndOfRIB verifies End-of-RIB detection for both wire
// forms, independent of whether route decoding is enabled.
func TestReadMessageEndOfRIB(t *testing.T) {
	t.Parallel()

	// Hand-assembled MP_UNREACH_NLRI marker for IPv6 unicast: a 30-byte
	// UPDATE whose body is the fixed 8-byte prefix plus AFI and SAFI
	// (RFC 4724 Section 2).
	rawMP := bgp.AppendHeader(nil, bgp.TypeUpdate, 11)
	rawMP = append(rawMP, 0x00, 0x00, 0x00, 0x07, 0x90, 0x0F, 0x00, 0x03, 0x00, 0x02, 0x01)
	if len(rawMP) != 30 {
		t.Fatalf("MP EOR frame length = %d, want 30", len(rawMP))
	}

	s, conn := newTestSession(t, testNeighbor())
	conn.inbox = [][]byte{
		(&bgp.EndOfRIB{Family: bgp.FamilyIPv4Unicast}).Marshal(),
		(&bgp.EndOfRIB{Family: bgp.FamilyIPv6Unicast}).Marshal(),
		rawMP,
	}

	for _, want := range []bgp.Family{bgp.FamilyIPv4Unicast, bgp.FamilyIPv6Unicast, bgp.FamilyIPv6Unicast} {
		msg, err := s.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		eor, ok := msg.(*bgp.EndOfRIB)
		if !ok {
			t.Fatalf("ReadMessage() = %T, want *EndOfRIB", msg)
		}
		if eor.Family != want {
			t.Errorf("EOR family = %v, want %v", eor.Family, want)
		}
	}
}

// TestReadMessageUpdate verifies that UPDATE bodies are decoded only
// when route decoding is enabled, and short-circuit to NoOp otherwise.
func TestReadMessageUpdate(t *testing.T) {
	t.Parallel()

	nlri := []netip.Prefix{netip.MustParsePrefix("198.51.100.0/24")}
	withdrawn := []netip.Prefix{netip.MustParsePrefix("203.0.113.0/25")}
	attrs := []bgp.PathAttr{{Flags: 0x40, Code: bgp.AttrOrigin, Value: []byte{bgp.OriginIGP}}}
	raw := bgp.MarshalUpdate(withdrawn, attrs, nlri)

	t.Run("routes decoded", func(t *testing.T) {
		t.Parallel()

		n := testNeighbor()
		n.API.ReceiveRoutes = true
		s, conn := newTestSession(t, n)
		conn.inbox = [][]byte{raw}

		msg, err := s.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		u, ok := msg.(*bgp.Update)
		if !ok {
			t.Fatalf("ReadMessage() = %T, want *Update", msg)
		}
		if !slices.Equal(u.NLRI, nlri) {
			t.Errorf("NLRI = %v, want %v", u.NLRI, nlri)
		}
		if !slices.Equal(u.Withdrawn, withdrawn) {
			t.Errorf("Withdrawn = %v, want %v", u.Withdrawn, withdrawn)
		}
		if len(u.Attrs) != 1 || u.Attrs[0].Code != bgp.AttrOrigin {
			t.Errorf("Attrs = %+v, want one ORIGIN attribute", u.Attrs)
		}
	})

	t.Run("routes skipped", func(t *testing.T) {
		t.Parallel()

		s, conn := newTestSession(t, testNeighbor())
		conn.inbox = [][]byte{raw}

		msg, err := s.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		if _, ok := msg.(bgp.NoOp); !ok {
			t.Fatalf("ReadMessage() = %T, want NoOp with route decoding off", msg)
		}
	})
}

// -------------------------------------------------------------------------
// Handshake
// -------------------------------------------------------------------------

// peerOpen builds a peer OPEN acceptable to testNeighbor.
func peerOpen() *bgp.Open {
	return &bgp.Open{
		Version:  4,
		ASN:      64513,
		HoldTime: 90,
		RouterID: netip.MustParseAddr("10.0.0.2"),
		Capabilities: []bgp.Capability{
			mpCap(bgp.FamilyIPv4Unicast),
			as4Cap(64513),
		},
	}
}

// TestReadOpenValidation exercises the OPEN validation table in order:
// each rule fails fast with its mandated notification code/subcode.
func TestReadOpenValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		neighbor    func() *bgp.Neighbor
		inbound     func() []byte
		wantCode    uint8
		wantSubcode uint8
	}{
		{
			name:        "first packet is not an OPEN",
			neighbor:    testNeighbor,
			inbound:     keepaliveRaw,
			wantCode:    5,
			wantSubcode: 1,
		},
		{
			name:     "peer does not speak ASN4",
			neighbor: testNeighbor,
			inbound: func() []byte {
				o := peerOpen()
				o.Capabilities = []bgp.Capability{mpCap(bgp.FamilyIPv4Unicast)}
				return o.Marshal()
			},
			wantCode:    2,
			wantSubcode: 0,
		},
		{
			name: "ASN mismatch",
			neighbor: func() *bgp.Neighbor {
				n := testNeighbor()
				n.RequireASN4 = false
				return n
			},
			inbound: func() []byte {
				o := peerOpen()
				o.ASN = 64999
				o.Capabilities = []bgp.Capability{mpCap(bgp.FamilyIPv4Unicast), as4Cap(64999)}
				return o.Marshal()
			},
			wantCode:    2,
			wantSubcode: 2,
		},
		{
			name:     "zero router id",
			neighbor: testNeighbor,
			inbound: func() []byte {
				o := peerOpen()
				o.RouterID = netip.MustParseAddr("0.0.0.0")
				return o.Marshal()
			},
			wantCode:    2,
			wantSubcode: 3,
		},
		{
			name: "identifier collision on a same-AS session",
			neighbor: func() *bgp.Neighbor {
				n := testNeighbor()
				n.PeerAS = n.LocalAS
				return n
			},
			inbound: func() []byte {
				o := peerOpen()
				o.ASN = 64512
				o.Capabilities = []bgp.Capability{mpCap(bgp.FamilyIPv4Unicast), as4Cap(64512)}
				o.RouterID = netip.MustParseAddr("10.0.0.1")
				return o.Marshal()
			},
			wantCode:    2,
			wantSubcode: 3,
		},
		{
			name:     "hold time below three seconds",
			neighbor: testNeighbor,
			inbound: func() []byte {
				o := peerOpen()
				o.HoldTime = 2
				return o.Marshal()
			},
			wantCode:    2,
			wantSubcode: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, conn := newTestSession(t, tt.neighbor())
			conn.inbox = [][]byte{tt.inbound()}

			_, err := s.ReadOpen()
			wantNotify(t, err, tt.wantCode, tt.wantSubcode)
		})
	}
}

// TestReadOpenWouldBlock verifies the NoOp passthrough: ReadOpen with no
// frame pending neither fails nor consumes the negotiation slot.
func TestReadOpenWouldBlock(t *testing.T) {
	t.Parallel()

	s, conn := newTestSession(t, testNeighbor())

	msg, err := s.ReadOpen()
	if err != nil {
		t.Fatalf("ReadOpen() error = %v", err)
	}
	if _, ok := msg.(bgp.NoOp); !ok {
		t.Fatalf("ReadOpen() = %T, want NoOp", msg)
	}

	conn.inbox = [][]byte{peerOpen().Marshal()}
	msg, err = s.ReadOpen()
	if err != nil {
		t.Fatalf("ReadOpen() after would-block error = %v", err)
	}
	if _, ok := msg.(*bgp.Open); !ok {
		t.Fatalf("ReadOpen() = %T, want *Open", msg)
	}
}

// TestReadOpenRejectsSecondOpen verifies the single-assignment invariant
// at the session level: a second OPEN in the same session is an error,
// not silently accepted.
func TestReadOpenRejectsSecondOpen(t *testing.T) {
	t.Parallel()

	s, conn := newTestSession(t, testNeighbor())
	conn.inbox = [][]byte{peerOpen().Marshal(), peerOpen().Marshal()}

	if _, err := s.ReadOpen(); err != nil {
		t.Fatalf("first ReadOpen() error = %v", err)
	}
	_, err := s.ReadOpen()
	if !errors.Is(err, bgp.ErrAlreadyNegotiated) {
		t.Fatalf("second ReadOpen() error = %v, want ErrAlreadyNegotiated", err)
	}
}

// TestReadKeepalive verifies the keepalive read step: NoOp passthrough,
// success on KEEPALIVE, (5,2) on anything else.
func TestReadKeepalive(t *testing.T) {
	t.Parallel()

	s, conn := newTestSession(t, testNeighbor())

	msg, err := s.ReadKeepalive("openconfirm")
	if err != nil {
		t.Fatalf("ReadKeepalive() error = %v", err)
	}
	if _, ok := msg.(bgp.NoOp); !ok {
		t.Fatalf("ReadKeepalive() = %T, want NoOp", msg)
	}

	conn.inbox = [][]byte{keepaliveRaw(), peerOpen().Marshal()}
	if _, err := s.ReadKeepalive("openconfirm"); err != nil {
		t.Fatalf("ReadKeepalive() error = %v", err)
	}

	_, err = s.ReadKeepalive("openconfirm")
	wantNotify(t, err, 5, 2)
}

// TestHandshake runs a clean two-sided handshake over an in-memory pipe:
// both sides send OPEN and KEEPALIVE, read the peer's, and end up with a
// complete, matching negotiation and no notification.
func TestHandshake(t *testing.T) {
	t.Parallel()

	a := testNeighbor() // 64512 <-> 64513
	b := &bgp.Neighbor{
		Addr:        netip.MustParseAddr("192.0.2.2"),
		LocalAS:     64513,
		PeerAS:      64512,
		RouterID:    netip.MustParseAddr("10.0.0.2"),
		HoldTime:    30 * time.Second,
		RequireASN4: true,
		Families:    []bgp.Family{bgp.FamilyIPv4Unicast},
	}

	connA := &fakeConn{}
	connB := &fakeConn{}
	connA.peer = connB
	connB.peer = connA

	sa := bgp.NewSession(a, bgp.WithLogger(quietLogger()))
	sb := bgp.NewSession(b, bgp.WithLogger(quietLogger()))
	sa.Connect(connA)
	sb.Connect(connB)

	drive(t, sa.SendOpen(false))
	drive(t, sb.SendOpen(false))

	if _, err := sa.ReadOpen(); err != nil {
		t.Fatalf("A ReadOpen() error = %v", err)
	}
	if _, err := sb.ReadOpen(); err != nil {
		t.Fatalf("B ReadOpen() error = %v", err)
	}

	drive(t, sa.SendKeepalive("openconfirm"))
	drive(t, sb.SendKeepalive("openconfirm"))

	if _, err := sa.ReadKeepalive("openconfirm"); err != nil {
		t.Fatalf("A ReadKeepalive() error = %v", err)
	}
	if _, err := sb.ReadKeepalive("openconfirm"); err != nil {
		t.Fatalf("B ReadKeepalive() error = %v", err)
	}

	for name, g := range map[string]*bgp.Negotiated{"A": sa.Negotiated(), "B": sb.Negotiated()} {
		if !g.Complete() {
			t.Errorf("%s negotiation incomplete", name)
		}
		// 30s proposal wins on both sides.
		if g.HoldTime() != 30 {
			t.Errorf("%s HoldTime() = %d, want 30", name, g.HoldTime())
		}
		if !g.ASN4() {
			t.Errorf("%s ASN4() = false, want true", name)
		}
	}
	if got := sa.Negotiated().PeerAS(); got != 64513 {
		t.Errorf("A PeerAS() = %d, want 64513", got)
	}
	if got := sb.Negotiated().PeerAS(); got != 64512 {
		t.Errorf("B PeerAS() = %d, want 64512", got)
	}
}

// -------------------------------------------------------------------------
// Send path
// -------------------------------------------------------------------------

// TestSendOpenRecordsSent verifies SendOpen writes one framed OPEN and
// that a second SendOpen fails the single-assignment contract.
func TestSendOpenRecordsSent(t *testing.T) {
	t.Parallel()

	s, conn := newTestSession(t, testNeighbor())

	out := drive(t, s.SendOpen(false))
	if len(out) != 1 || !out[0].Done || out[0].Name != "OPEN" {
		t.Fatalf("SendOpen progress = %+v, want one terminal OPEN element", out)
	}
	if len(conn.written) != 1 || conn.written[0][18] != uint8(bgp.TypeOpen) {
		t.Fatalf("written = %d frames, want one OPEN", len(conn.written))
	}
	if s.Negotiated().Sent() == nil {
		t.Error("Sent() = nil after SendOpen")
	}

	_, err := driveErr(s.SendOpen(false))
	if !errors.Is(err, bgp.ErrAlreadyNegotiated) {
		t.Errorf("second SendOpen error = %v, want ErrAlreadyNegotiated", err)
	}
}

// TestSendKeepaliveStalledWrite verifies the suspension contract of the
// unchunked senders: each unflushed write attempt yields a zero element
// and the terminal element arrives only after the full flush.
func TestSendKeepaliveStalledWrite(t *testing.T) {
	t.Parallel()

	s, conn := newTestSession(t, testNeighbor())
	conn.writeStalls = 2
	conn.stallLeft = 2

	out := drive(t, s.SendKeepalive("test"))
	if len(out) != 3 {
		t.Fatalf("progress elements = %d, want 3 (two stalls + terminal)", len(out))
	}
	for _, p := range out[:2] {
		if p != (bgp.Progress{}) {
			t.Errorf("stall element = %+v, want zero Progress", p)
		}
	}
	if !out[2].Done || out[2].Count != 1 {
		t.Errorf("terminal element = %+v, want Done with Count 1", out[2])
	}
}

// TestSendNotificationAlwaysYields verifies that the notification value
// is produced even when the transport write fails outright: termination
// must be confirmed as attempted, and the caller closes regardless.
func TestSendNotificationAlwaysYields(t *testing.T) {
	t.Parallel()

	s, conn := newTestSession(t, testNeighbor())
	conn.writeErr = errors.New("broken pipe")

	out := drive(t, s.SendNotification(bgp.NewNotify(6, 2, "shutting down")))
	if len(out) != 1 || !out[0].Done {
		t.Fatalf("progress = %+v, want one terminal element", out)
	}
	notif, ok := out[0].Msg.(*bgp.Notification)
	if !ok {
		t.Fatalf("terminal Msg = %T, want *Notification", out[0].Msg)
	}
	if notif.Code != 6 || notif.Subcode != 2 {
		t.Errorf("notification = (%d,%d), want (6,2)", notif.Code, notif.Subcode)
	}
}

// TestSendUpdatesChunking verifies the chunked send path end to end:
// fragments are bin-packed into MessageSize chunks, each flushed chunk
// yields its fragment count, and the written bytes reassemble the input.
func TestSendUpdatesChunking(t *testing.T) {
	t.Parallel()

	s, conn := newTestSession(t, testNeighbor())

	// Three 2000-byte fragments against the 4077-byte message size:
	// two fit in the first chunk, the third seals a second chunk.
	frags := fragmentsOf(2000, 2000, 2000)

	out := drive(t, s.SendUpdates(slices.Values(frags)))
	if len(out) != 3 {
		t.Fatalf("progress elements = %d, want 3", len(out))
	}
	if out[0].Count != 2 || out[0].Name != "UPDATE" {
		t.Errorf("element[0] = %+v, want UPDATE count 2", out[0])
	}
	if out[1].Count != 1 {
		t.Errorf("element[1] = %+v, want count 1", out[1])
	}
	if !out[2].Done {
		t.Errorf("element[2] = %+v, want terminal", out[2])
	}

	if len(conn.written) != 2 {
		t.Fatalf("written chunks = %d, want 2", len(conn.written))
	}
	if len(conn.written[0]) != 4000 || len(conn.written[1]) != 2000 {
		t.Errorf("chunk sizes = %d, %d, want 4000, 2000",
			len(conn.written[0]), len(conn.written[1]))
	}
}

// TestSendUpdatesOversizeFragment verifies that an unencodable fragment
// surfaces as a fatal *SizeError through the send iterator.
func TestSendUpdatesOversizeFragment(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, testNeighbor())

	frags := [][]byte{make([]byte, bgp.MessageSize+1)}
	_, err := driveErr(s.SendUpdates(slices.Values(frags)))

	var sizeErr *bgp.SizeError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("error = %v, want *SizeError", err)
	}
}

// TestSendUpdatesWriteFailure verifies the stalled-output contract: a
// write failure mid-chunk yields a zero element and ends the iteration
// without raising, so the caller can detect the stall without tearing
// the session down.
func TestSendUpdatesWriteFailure(t *testing.T) {
	t.Parallel()

	s, conn := newTestSession(t, testNeighbor())
	conn.writeErr = errors.New("broken pipe")

	out, err := driveErr(s.SendUpdates(slices.Values(fragmentsOf(10, 10))))
	if err != nil {
		t.Fatalf("error = %v, want none (stalls are not errors)", err)
	}
	if len(out) != 1 || out[0] != (bgp.Progress{}) {
		t.Fatalf("progress = %+v, want a single zero element", out)
	}
}

// TestSendEORs verifies one End-of-RIB marker is sent per configured
// family when negotiation has not completed.
func TestSendEORs(t *testing.T) {
	t.Parallel()

	n := testNeighbor()
	n.Families = []bgp.Family{bgp.FamilyIPv4Unicast, bgp.FamilyIPv6Unicast}
	s, conn := newTestSession(t, n)

	out := drive(t, s.SendEORs())
	last := out[len(out)-1]
	if !last.Done || last.Name != "EOR" {
		t.Fatalf("terminal element = %+v, want Done EOR", last)
	}

	total := 0
	for _, p := range out {
		total += p.Count
	}
	if total != 2 {
		t.Errorf("fragments flushed = %d, want 2", total)
	}
	if len(conn.written) != 1 {
		t.Errorf("written chunks = %d, want 1 (both markers fit one chunk)", len(conn.written))
	}
}

// -------------------------------------------------------------------------
// Lifecycle
// -------------------------------------------------------------------------

// TestCloseIdempotent verifies that closing an already-closed session is
// a no-op: the transport is torn down exactly once.
func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	s, conn := newTestSession(t, testNeighbor())

	s.Close("test teardown")
	s.Close("test teardown")

	if conn.closeCalls != 1 {
		t.Errorf("transport Close calls = %d, want 1", conn.closeCalls)
	}
	if s.Connected() {
		t.Error("Connected() = true after Close")
	}
}
