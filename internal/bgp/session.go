package bgp

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
)

// -------------------------------------------------------------------------
// Session Protocol Engine
// -------------------------------------------------------------------------

// ErrNotConnected indicates an I/O operation on a session whose
// transport has not been attached or has been closed.
var ErrNotConnected = errors.New("session has no transport")

// SessionOption configures optional Session parameters.
type SessionOption func(*Session)

// WithMonitor attaches a monitoring Notifier to the session. If n is
// nil, the default no-op notifier is used.
func WithMonitor(n Notifier) SessionOption {
	return func(s *Session) {
		if n != nil {
			s.monitor = n
		}
	}
}

// WithMetrics attaches a MetricsReporter to the session. If mr is nil,
// the default no-op reporter is used.
func WithMetrics(mr MetricsReporter) SessionOption {
	return func(s *Session) {
		if mr != nil {
			s.metrics = mr
		}
	}
}

// WithLogger sets the session logger. If l is nil, the default logger
// is used.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Session is the protocol engine for one BGP peer: it classifies inbound
// frames into typed messages, drives the OPEN/KEEPALIVE handshake, and
// bin-packs outbound announcements into maximum-size messages.
//
// Scheduling is single-threaded and cooperative. The session performs no
// blocking calls and starts no goroutines: every read step may return
// NoOp ("no frame yet") and every send iterator may yield a zero
// Progress ("write not flushed yet"), handing control back to the owning
// reactor, which resumes the operation on a later turn. One Session
// exclusively owns its Conn; nothing here needs locking.
type Session struct {
	neighbor   *Neighbor
	negotiated *Negotiated

	// conn is nil until Connect attaches the transport.
	conn Conn

	monitor Notifier
	metrics MetricsReporter
	logger  *slog.Logger

	// peer is the cached metrics label for the neighbor address.
	peer string

	closed bool
}

// NewSession creates the engine for one neighbor. The transport is
// attached later via Connect.
func NewSession(n *Neighbor, opts ...SessionOption) *Session {
	s := &Session{
		neighbor:   n,
		negotiated: NewNegotiated(n),
		monitor:    NopNotifier{},
		metrics:    noopMetrics{},
		logger:     slog.Default(),
		peer:       n.Addr.String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("peer", s.peer))
	return s
}

// Neighbor returns the session's static peer configuration.
func (s *Session) Neighbor() *Neighbor { return s.neighbor }

// Negotiated returns the session's negotiation record.
func (s *Session) Negotiated() *Negotiated { return s.negotiated }

// Connected reports whether a transport is attached and not yet closed.
func (s *Session) Connected() bool { return s.conn != nil && !s.closed }

// Connect attaches the transport. The session takes exclusive ownership
// of conn until Close.
func (s *Session) Connect(conn Conn) {
	s.conn = conn
	s.closed = false
	if s.neighbor.API.NeighborChanges {
		if err := s.monitor.Connected(s.neighbor.Addr); err != nil {
			s.logger.Warn("monitor connected notification failed", slog.Any("error", err))
		}
	}
	s.logger.Info("transport attached")
}

// Close tears the session down. Idempotent: closing an already-closed
// session is a no-op. The reason is reported to the monitoring channel
// when neighbor-change forwarding is on.
func (s *Session) Close(reason string) {
	if s.closed {
		return
	}
	s.closed = true
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("transport close failed", slog.Any("error", err))
		}
	}
	if s.neighbor.API.NeighborChanges {
		if err := s.monitor.Down(s.neighbor.Addr, reason); err != nil {
			s.logger.Warn("monitor down notification failed", slog.Any("error", err))
		}
	}
	s.logger.Info("session closed", slog.String("reason", reason))
}

// -------------------------------------------------------------------------
// Decode path
// -------------------------------------------------------------------------

// ReadMessage performs one step of the decode pipeline: at most one
// frame is read and classified into exactly one Message variant.
//
//   - no complete frame yet: NoOp, resume later;
//   - transport framing fault: converted to a session-fatal *Notify;
//   - UPDATE matching an End-of-RIB marker: *EndOfRIB;
//   - UPDATE with route decoding off: NoOp (body is not parsed);
//   - unknown type codes: Unknown, logged, never an error.
func (s *Session) ReadMessage() (Message, error) {
	if s.conn == nil {
		return nil, ErrNotConnected
	}

	frame, err := s.conn.ReadFrame()
	if err != nil {
		var fe *FramingError
		if errors.As(err, &fe) {
			return nil, fe.Notify()
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if frame.Length == 0 {
		return NoOp{}, nil
	}

	if s.neighbor.API.ReceivePackets {
		if ferr := s.monitor.Receive(s.neighbor.Addr, uint8(frame.Type), frame.Header, frame.Body); ferr != nil {
			s.logger.Warn("monitor receive forwarding failed", slog.Any("error", ferr))
		}
	}

	var msg Message
	switch frame.Type {
	case TypeUpdate:
		if eor, ok := eorFromFrame(frame); ok {
			msg = eor
			break
		}
		if !s.neighbor.API.ReceiveRoutes {
			// Liveness-only session: skip the decode cost entirely.
			return NoOp{}, nil
		}
		update, derr := decodeUpdate(frame.Body)
		if derr != nil {
			return nil, derr
		}
		// Fire and forget: route forwarding never gates decoding.
		if ferr := s.monitor.Routes(s.neighbor.Addr, update.NLRI, update.Withdrawn); ferr != nil {
			s.logger.Debug("monitor route forwarding failed", slog.Any("error", ferr))
		}
		msg = update

	case TypeKeepAlive:
		msg = KeepAlive{}

	case TypeNotification:
		notif, derr := decodeNotification(frame.Body)
		if derr != nil {
			return nil, derr
		}
		msg = notif

	case TypeOpen:
		open, derr := decodeOpen(frame.Body)
		if derr != nil {
			return nil, derr
		}
		msg = open

	case TypeRouteRefresh:
		rr, derr := decodeRouteRefresh(frame.Body)
		if derr != nil {
			return nil, derr
		}
		msg = rr

	default:
		s.logger.Warn("ignoring message of unknown type", slog.Int("type", int(frame.Type)))
		msg = Unknown{TypeCode: uint8(frame.Type)}
	}

	s.metrics.MessageReceived(s.peer, msg.Name())
	return msg, nil
}

// -------------------------------------------------------------------------
// Handshake — RFC 4271 Section 8, RFC 6286
// -------------------------------------------------------------------------

// ReadOpen performs one handshake read step. It returns NoOp while no
// frame has arrived. The first real message must be an OPEN; it is then
// validated in a fixed order, failing fast with the mandated
// notification on the first violation. On success the peer's OPEN is
// recorded in the negotiation state and returned.
func (s *Session) ReadOpen() (Message, error) {
	msg, err := s.ReadMessage()
	if err != nil {
		return nil, err
	}
	if _, ok := msg.(NoOp); ok {
		return msg, nil
	}

	open, ok := msg.(*Open)
	if !ok {
		return nil, NewNotify(NotifCodeFSMErr, NotifSubcodeUnexpectedMessageOpenSent,
			fmt.Sprintf("the first packet received from %s is not an OPEN message (%s)",
				s.neighbor.Addr, msg.Name()))
	}

	peerAS := uint32(open.ASN)
	if as4, has := open.FourOctetAS(); has {
		peerAS = as4
	} else if s.neighbor.RequireASN4 {
		return nil, NewNotify(NotifCodeOpenMessageErr, 0,
			fmt.Sprintf("peer %s does not speak ASN4", s.neighbor.Addr))
	}

	if peerAS != s.neighbor.PeerAS {
		return nil, NewNotify(NotifCodeOpenMessageErr, NotifSubcodeBadPeerAS,
			fmt.Sprintf("ASN in OPEN (%d) did not match the expected ASN (%d)",
				peerAS, s.neighbor.PeerAS))
	}

	// RFC 6286 Section 2.1: the all-zeros BGP Identifier is invalid.
	if open.RouterID.IsUnspecified() {
		return nil, NewNotify(NotifCodeOpenMessageErr, NotifSubcodeBadBGPID,
			"0.0.0.0 is an invalid router id")
	}

	// Same identifier on a same-AS session: the peer is us, or is
	// misconfigured to look like us.
	if open.RouterID == s.neighbor.RouterID && peerAS == s.neighbor.LocalAS {
		return nil, NewNotify(NotifCodeOpenMessageErr, NotifSubcodeBadBGPID,
			fmt.Sprintf("BGP identifier collision (%s) on a same-AS session", open.RouterID))
	}

	// RFC 4271 Section 4.2: a nonzero hold time below 3 seconds is
	// unacceptable.
	if open.HoldTime != 0 && open.HoldTime < 3 {
		return nil, NewNotify(NotifCodeOpenMessageErr, NotifSubcodeUnacceptableHoldTime,
			fmt.Sprintf("hold time %d is invalid", open.HoldTime))
	}

	if err := s.negotiated.SetReceived(open); err != nil {
		return nil, err
	}

	// Multisession disagreement carries its stored notification out
	// verbatim; it is not re-interpreted here.
	if s.negotiated.Complete() {
		if _, fault := s.negotiated.Multisession(); fault != nil {
			return nil, fault
		}
	}

	s.logger.Info("received OPEN",
		slog.Uint64("asn", uint64(peerAS)),
		slog.String("router_id", open.RouterID.String()),
		slog.Int("hold_time", int(open.HoldTime)))
	return open, nil
}

// ReadKeepalive performs one handshake read step expecting a KEEPALIVE.
// It returns NoOp while no frame has arrived; any real message other
// than a KEEPALIVE fails with (5,2). The comment names the handshake
// phase in logs.
func (s *Session) ReadKeepalive(comment string) (Message, error) {
	msg, err := s.ReadMessage()
	if err != nil {
		return nil, err
	}
	if _, ok := msg.(NoOp); ok {
		return msg, nil
	}

	if _, ok := msg.(KeepAlive); !ok {
		return nil, NewNotify(NotifCodeFSMErr, NotifSubcodeUnexpectedMessageOpenConfirm,
			fmt.Sprintf("%s received instead of the expected KEEPALIVE (%s)", msg.Name(), comment))
	}

	s.logger.Debug("received KEEPALIVE", slog.String("phase", comment))
	return msg, nil
}

// -------------------------------------------------------------------------
// Send path
// -------------------------------------------------------------------------

// Progress is the structured result yielded by the send iterators. The
// zero Progress is a suspension turn: the underlying write did not flush
// (or stalled) and the iterator should be resumed later. A terminal
// element carries Done == true.
type Progress struct {
	// Name is the logical message name for observability, e.g. "UPDATE".
	Name string

	// Msg is the message value once fully sent, nil for chunked sends.
	Msg Message

	// Count is the number of fragments flushed by this element.
	Count int

	// Done marks the operation's final element.
	Done bool
}

// SendOpen builds the local OPEN, records it as sent, and writes it
// unchunked and immediately: handshake messages are never batched with
// other traffic. restarted sets the Restart State bit in the Graceful
// Restart capability.
func (s *Session) SendOpen(restarted bool) iter.Seq2[Progress, error] {
	return func(yield func(Progress, error) bool) {
		open := buildOpen(s.neighbor, restarted)
		if err := s.negotiated.SetSent(open); err != nil {
			yield(Progress{}, err)
			return
		}
		s.logger.Info("sending OPEN",
			slog.Uint64("asn", uint64(s.neighbor.LocalAS)),
			slog.String("router_id", s.neighbor.RouterID.String()),
			slog.Int("hold_time", int(open.HoldTime)))
		s.sendImmediate(open, open.Marshal(), yield)
	}
}

// SendKeepalive writes one KEEPALIVE, unchunked and immediately. The
// comment names the reason in logs.
func (s *Session) SendKeepalive(comment string) iter.Seq2[Progress, error] {
	return func(yield func(Progress, error) bool) {
		s.logger.Debug("sending KEEPALIVE", slog.String("phase", comment))
		s.sendImmediate(KeepAlive{}, AppendHeader(nil, TypeKeepAlive, 0), yield)
	}
}

// SendNotification writes the NOTIFICATION for a protocol violation,
// immediately. The notification value is always produced as the final
// element, even when the write fails: the caller closes the transport
// regardless, and needs confirmation that termination was at least
// attempted.
func (s *Session) SendNotification(n *Notify) iter.Seq2[Progress, error] {
	return func(yield func(Progress, error) bool) {
		notif := n.Message()
		s.logger.Warn("sending NOTIFICATION",
			slog.Int("code", int(n.Code)),
			slog.Int("subcode", int(n.Subcode)),
			slog.String("reason", n.Reason))

		if s.conn != nil {
			raw := notif.Marshal()
			s.forwardSend(raw)
			for {
				flushed, err := s.conn.WriteFrame(raw)
				if err != nil {
					s.logger.Warn("notification write failed", slog.Any("error", err))
					break
				}
				if flushed {
					s.metrics.MessageSent(s.peer, notif.Name())
					break
				}
				if !yield(Progress{}, nil) {
					return
				}
			}
		}

		s.metrics.NotificationSent(s.peer, n.Code, n.Subcode)
		yield(Progress{Name: notif.Name(), Msg: notif, Count: 1, Done: true}, nil)
	}
}

// SendUpdates chunks the framed UPDATE fragments produced by the route
// store and writes them. Each element reports the fragment count of one
// flushed chunk; a zero element is a stalled write.
func (s *Session) SendUpdates(frags iter.Seq[[]byte]) iter.Seq2[Progress, error] {
	return s.announce("UPDATE", frags)
}

// SendEORs writes one End-of-RIB marker per negotiated address family,
// through the same chunker as route updates.
func (s *Session) SendEORs() iter.Seq2[Progress, error] {
	families := s.negotiated.Families()
	if !s.negotiated.Complete() {
		families = s.neighbor.Families
	}
	frags := func(yield func([]byte) bool) {
		for _, f := range families {
			eor := &EndOfRIB{Family: f}
			if !yield(eor.Marshal()) {
				return
			}
		}
	}
	return s.announce("EOR", frags)
}

// sendImmediate writes one framed handshake message, yielding a zero
// Progress per unflushed attempt and the terminal element once the
// message has fully left the process. Write errors are propagated.
func (s *Session) sendImmediate(m Message, raw []byte, yield func(Progress, error) bool) {
	if s.conn == nil {
		yield(Progress{}, ErrNotConnected)
		return
	}
	s.forwardSend(raw)
	for {
		flushed, err := s.conn.WriteFrame(raw)
		if err != nil {
			yield(Progress{}, fmt.Errorf("write %s: %w", m.Name(), err))
			return
		}
		if flushed {
			break
		}
		if !yield(Progress{}, nil) {
			return
		}
	}
	s.metrics.MessageSent(s.peer, m.Name())
	yield(Progress{Name: m.Name(), Msg: m, Count: 1, Done: true}, nil)
}

// announce drives the chunker over frags and writes each chunk. On a
// full flush it yields the chunk's fragment count labeled with name; on
// a write failure mid-chunk it yields a zero element and stops, letting
// the caller observe stalled output without tearing the session down. A
// *SizeError from the chunker is propagated as a fatal error.
func (s *Session) announce(name string, frags iter.Seq[[]byte]) iter.Seq2[Progress, error] {
	return func(yield func(Progress, error) bool) {
		if s.conn == nil {
			yield(Progress{}, ErrNotConnected)
			return
		}
		chunker := NewChunker(MessageSize, frags)
		defer chunker.Stop()

		for {
			chunk, ok, err := chunker.Next()
			if err != nil {
				yield(Progress{}, err)
				return
			}
			if !ok {
				yield(Progress{Name: name, Done: true}, nil)
				return
			}

			s.forwardSend(chunk.Data)
			for {
				flushed, werr := s.conn.WriteFrame(chunk.Data)
				if werr != nil {
					s.logger.Warn("chunk write failed",
						slog.String("message", name), slog.Any("error", werr))
					yield(Progress{}, nil)
					return
				}
				if flushed {
					break
				}
				if !yield(Progress{}, nil) {
					return
				}
			}

			s.metrics.ChunkFlushed(s.peer, name, chunk.Count, len(chunk.Data))
			s.logger.Debug("flushed chunk",
				slog.String("message", name),
				slog.Int("fragments", chunk.Count),
				slog.Int("bytes", len(chunk.Data)))
			if !yield(Progress{Name: name, Count: chunk.Count}, nil) {
				return
			}
		}
	}
}

// forwardSend forwards one encoded outbound message to the monitoring
// channel when packet forwarding is on. Independent of write success.
func (s *Session) forwardSend(msg []byte) {
	if !s.neighbor.API.SendPackets {
		return
	}
	if err := s.monitor.Send(s.neighbor.Addr, msg[18], msg[:HeaderLength], msg[HeaderLength:]); err != nil {
		s.logger.Warn("monitor send forwarding failed", slog.Any("error", err))
	}
}
