package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/nettrail/gobsp/internal/bgp"
)

// pollInterval bounds how long one ReadFrame or WriteFrame attempt may
// block on the socket. A timed-out attempt reports "no progress" to the
// engine, which suspends and resumes on a later scheduling turn.
const pollInterval = 5 * time.Millisecond

// ErrConnClosed indicates I/O on a closed TCPConn.
var ErrConnClosed = errors.New("transport connection is closed")

// TCPConn implements bgp.Conn over a stream connection. It accumulates
// header and body bytes incrementally across ReadFrame calls, so a frame
// arriving in arbitrarily small pieces is reassembled without ever
// blocking past pollInterval. One TCPConn is exclusively owned by one
// session engine; no internal locking.
type TCPConn struct {
	conn   net.Conn
	logger *slog.Logger

	// --- inbound accumulation state ---

	header    [bgp.HeaderLength]byte
	headerLen int

	// expect is the total frame length from the validated header, zero
	// while the header is incomplete or unvalidated.
	expect int
	body   []byte
	bodyIn int

	// --- outbound state ---

	// woff is the partial-write offset into the message currently being
	// flushed. WriteFrame must be resumed with the same message until it
	// reports true.
	woff int

	closed bool
}

// NewTCPConn wraps an established stream connection.
func NewTCPConn(conn net.Conn, logger *slog.Logger) *TCPConn {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPConn{
		conn:   conn,
		logger: logger.With(slog.String("component", "transport")),
	}
}

// ReadFrame implements bgp.Conn. It performs at most one bounded read
// pass: bytes available within pollInterval are consumed into the
// header/body accumulators, and a zero Frame is returned until a whole
// message is present. Header faults surface as *bgp.FramingError.
func (c *TCPConn) ReadFrame() (bgp.Frame, error) {
	if c.closed {
		return bgp.Frame{}, ErrConnClosed
	}

	// Fixed header first (RFC 4271 Section 4.1).
	for c.headerLen < bgp.HeaderLength {
		n, err := c.readSome(c.header[c.headerLen:])
		c.headerLen += n
		if err != nil {
			return bgp.Frame{}, err
		}
		if c.headerLen < bgp.HeaderLength {
			return bgp.Frame{}, nil
		}
	}

	if c.expect == 0 {
		length, err := c.validateHeader()
		if err != nil {
			return bgp.Frame{}, err
		}
		c.expect = length
		c.body = make([]byte, length-bgp.HeaderLength)
		c.bodyIn = 0
	}

	for c.bodyIn < len(c.body) {
		n, err := c.readSome(c.body[c.bodyIn:])
		c.bodyIn += n
		if err != nil {
			return bgp.Frame{}, err
		}
		if c.bodyIn < len(c.body) {
			return bgp.Frame{}, nil
		}
	}

	frame := bgp.Frame{
		Length: c.expect,
		Type:   bgp.MessageType(c.header[18]),
		Header: append([]byte(nil), c.header[:]...),
		Body:   c.body,
	}
	c.headerLen = 0
	c.expect = 0
	c.body = nil
	c.bodyIn = 0
	return frame, nil
}

// readSome performs one bounded read into dst. A deadline expiry is not
// an error: it returns the bytes consumed so far and lets the caller
// report "no complete frame yet".
func (c *TCPConn) readSome(dst []byte) (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
		return 0, fmt.Errorf("set read deadline: %w", err)
	}
	n, err := c.conn.Read(dst)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return n, nil
		}
		if errors.Is(err, io.EOF) {
			return n, fmt.Errorf("connection closed by peer: %w", err)
		}
		return n, fmt.Errorf("read: %w", err)
	}
	return n, nil
}

// validateHeader checks the completed fixed header. Only the marker and
// the length bounds are enforced here: an unknown type code is NOT a
// framing fault, the dispatcher classifies it as Unknown and moves on.
func (c *TCPConn) validateHeader() (int, error) {
	if !bgp.ValidMarker(c.header[:]) {
		return 0, &bgp.FramingError{
			Code:    bgp.NotifCodeMessageHeaderErr,
			Subcode: bgp.NotifSubcodeConnNotSynchronized,
			Reason:  "header marker is not all ones",
		}
	}

	length := int(c.header[16])<<8 | int(c.header[17])
	if length < bgp.MinMessageLength || length > bgp.MaxMessageLength {
		return 0, &bgp.FramingError{
			Code:    bgp.NotifCodeMessageHeaderErr,
			Subcode: bgp.NotifSubcodeBadLength,
			Reason:  fmt.Sprintf("message length %d outside [%d, %d]", length, bgp.MinMessageLength, bgp.MaxMessageLength),
		}
	}

	// RFC 4271 Section 4.4: a KEEPALIVE is exactly the header.
	if bgp.MessageType(c.header[18]) == bgp.TypeKeepAlive && length != bgp.HeaderLength {
		return 0, &bgp.FramingError{
			Code:    bgp.NotifCodeMessageHeaderErr,
			Subcode: bgp.NotifSubcodeBadLength,
			Reason:  fmt.Sprintf("KEEPALIVE length %d, must be %d", length, bgp.HeaderLength),
		}
	}

	return length, nil
}

// WriteFrame implements bgp.Conn. One bounded write attempt per call; a
// deadline expiry leaves the partial-write offset in place and reports
// false so the engine suspends. Callers resume with the same message
// until true.
func (c *TCPConn) WriteFrame(msg []byte) (bool, error) {
	if c.closed {
		return false, ErrConnClosed
	}
	if c.woff >= len(msg) {
		// Defensive reset for a stale offset from an abandoned message.
		c.woff = 0
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(pollInterval)); err != nil {
		return false, fmt.Errorf("set write deadline: %w", err)
	}
	n, err := c.conn.Write(msg[c.woff:])
	c.woff += n
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return false, nil
		}
		return false, fmt.Errorf("write: %w", err)
	}
	if c.woff < len(msg) {
		return false, nil
	}
	c.woff = 0
	return true, nil
}

// Close implements bgp.Conn. Idempotent.
func (c *TCPConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// RemoteAddr returns the peer's transport address.
func (c *TCPConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
