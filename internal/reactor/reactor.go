// Package reactor drives BGP sessions to Established and keeps them
// there: it owns the connect/retry loop, the OPEN/KEEPALIVE handshake,
// the keepalive and hold timers, and the pacing of outbound UPDATE
// bursts. Each peer runs on one goroutine; everything inside a peer is
// cooperative and single-threaded.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nettrail/gobsp/internal/bgp"
	"github.com/nettrail/gobsp/internal/rib"
	"github.com/nettrail/gobsp/internal/transport"
)

const (
	// connectRetry is the pause between failed connect attempts.
	connectRetry = 5 * time.Second

	// handshakeTimeout bounds the OPEN/KEEPALIVE exchange.
	handshakeTimeout = 30 * time.Second

	// tick is the cooperative poll interval of the established loop.
	tick = 10 * time.Millisecond

	// sendBudget caps how many send-iterator steps one loop turn may
	// take before yielding back to reads and timers, so a large burst
	// cannot starve the hold timer.
	sendBudget = bgp.MaxBacklog
)

// State names the externally visible phase of a peer.
type State int32

const (
	StateIdle State = iota
	StateConnect
	StateOpenSent
	StateOpenConfirm
	StateEstablished
)

var stateNames = [...]string{"idle", "connect", "opensent", "openconfirm", "established"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Status is a point-in-time snapshot of one peer for the status
// endpoint.
type Status struct {
	Peer            string `json:"peer" yaml:"peer"`
	State           string `json:"state" yaml:"state"`
	PeerAS          uint32 `json:"peer_as" yaml:"peer_as"`
	HoldTime        uint16 `json:"hold_time" yaml:"hold_time"`
	UptimeSeconds   int64  `json:"uptime_seconds" yaml:"uptime_seconds"`
	PendingAnnounce int    `json:"pending_announce" yaml:"pending_announce"`
	PendingWithdraw int    `json:"pending_withdraw" yaml:"pending_withdraw"`
	LastError       string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// DialFunc opens a transport connection to the peer.
type DialFunc func(ctx context.Context, peer netip.Addr) (bgp.Conn, error)

// PeerOption customizes a Peer.
type PeerOption func(*Peer)

// WithDialFunc replaces the TCP dialer, used by tests to wire in-memory
// transports.
func WithDialFunc(dial DialFunc) PeerOption {
	return func(p *Peer) { p.dial = dial }
}

// WithMetrics attaches a metrics reporter, passed through to sessions.
func WithMetrics(m bgp.MetricsReporter) PeerOption {
	return func(p *Peer) { p.metrics = m }
}

// WithMonitor attaches the session event notifier.
func WithMonitor(n bgp.Notifier) PeerOption {
	return func(p *Peer) { p.monitor = n }
}

// WithLogger sets the peer's logger.
func WithLogger(logger *slog.Logger) PeerOption {
	return func(p *Peer) { p.logger = logger }
}

// Peer owns the lifecycle of one neighbor: connect, handshake, steady
// state, teardown, retry.
type Peer struct {
	neighbor *bgp.Neighbor
	adj      *rib.Adj
	dial     DialFunc
	monitor  bgp.Notifier
	metrics  bgp.MetricsReporter
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	upSince  time.Time
	peerAS   uint32
	holdTime uint16
	lastErr  string
}

// NewPeer builds the driver for one neighbor. The adj store is the
// outbound route source; it may be shared with whoever stages routes.
func NewPeer(n *bgp.Neighbor, adj *rib.Adj, opts ...PeerOption) *Peer {
	p := &Peer{
		neighbor: n,
		adj:      adj,
		monitor:  bgp.NopNotifier{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("peer", n.Addr.String()))
	if p.dial == nil {
		d := &transport.Dialer{
			LocalAddr: n.LocalAddr,
			MD5:       n.MD5,
			TTL:       n.TTL,
			Logger:    p.logger,
		}
		p.dial = func(ctx context.Context, peer netip.Addr) (bgp.Conn, error) {
			return d.Dial(ctx, peer)
		}
	}
	return p
}

// Status returns the current snapshot.
func (p *Peer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Status{
		Peer:      p.neighbor.Addr.String(),
		State:     p.state.String(),
		PeerAS:    p.peerAS,
		HoldTime:  p.holdTime,
		LastError: p.lastErr,
	}
	if p.state == StateEstablished {
		s.UptimeSeconds = int64(time.Since(p.upSince).Seconds())
	}
	s.PendingAnnounce, s.PendingWithdraw = p.adj.PendingCount()
	return s
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	if s == StateEstablished {
		p.upSince = time.Now()
	}
	p.mu.Unlock()
}

func (p *Peer) setNegotiated(peerAS uint32, holdTime uint16) {
	p.mu.Lock()
	p.peerAS = peerAS
	p.holdTime = holdTime
	p.mu.Unlock()
}

func (p *Peer) setErr(err error) {
	p.mu.Lock()
	if err != nil {
		p.lastErr = err.Error()
	}
	p.mu.Unlock()
}

// Run drives the peer until the context is cancelled. Every session
// failure is logged, recorded in the status snapshot, and followed by a
// connect-retry pause.
func (p *Peer) Run(ctx context.Context) error {
	for {
		if err := p.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.setErr(err)
			p.logger.Warn("session ended", slog.String("error", err.Error()))
		}
		p.setState(StateIdle)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(connectRetry):
		}
	}
}

// runOnce performs one full session: connect, handshake, steady state.
func (p *Peer) runOnce(ctx context.Context) error {
	p.setState(StateConnect)
	conn, err := p.dial(ctx, p.neighbor.Addr)
	if err != nil {
		return err
	}

	sess := bgp.NewSession(p.neighbor,
		bgp.WithLogger(p.logger),
		bgp.WithMonitor(p.monitor),
		bgp.WithMetrics(p.metrics),
	)
	sess.Connect(conn)

	if err := p.handshake(ctx, sess); err != nil {
		p.teardown(sess, err)
		return err
	}

	neg := sess.Negotiated()
	p.setNegotiated(neg.PeerAS(), neg.HoldTime())
	p.setState(StateEstablished)
	p.logger.Info("session established",
		slog.Uint64("peer_as", uint64(neg.PeerAS())),
		slog.Uint64("hold_time", uint64(neg.HoldTime())),
	)

	err = p.established(ctx, sess)
	p.teardown(sess, err)
	return err
}

// handshake runs OPEN exchange then the confirming KEEPALIVE pair.
func (p *Peer) handshake(ctx context.Context, sess *bgp.Session) error {
	deadline := time.Now().Add(handshakeTimeout)

	p.setState(StateOpenSent)
	if err := p.drain(ctx, deadline, sess.SendOpen(false)); err != nil {
		return fmt.Errorf("sending OPEN: %w", err)
	}
	if err := p.await(ctx, deadline, sess.ReadOpen); err != nil {
		return fmt.Errorf("waiting for OPEN: %w", err)
	}

	p.setState(StateOpenConfirm)
	if err := p.drain(ctx, deadline, sess.SendKeepalive("OPENCONFIRM")); err != nil {
		return fmt.Errorf("confirming OPEN: %w", err)
	}
	if err := p.await(ctx, deadline, func() (bgp.Message, error) {
		return sess.ReadKeepalive("OPENCONFIRM")
	}); err != nil {
		return fmt.Errorf("waiting for KEEPALIVE: %w", err)
	}
	return nil
}

// drain pumps a send iterator to completion, sleeping through
// would-block suspensions.
func (p *Peer) drain(ctx context.Context, deadline time.Time, seq iter.Seq2[bgp.Progress, error]) error {
	for progress, err := range seq {
		if err != nil {
			return err
		}
		if progress.Done || progress.Count > 0 {
			continue
		}
		if err := p.pause(ctx, deadline); err != nil {
			return err
		}
	}
	return nil
}

// await polls a read until it produces a real message.
func (p *Peer) await(ctx context.Context, deadline time.Time, read func() (bgp.Message, error)) error {
	for {
		msg, err := read()
		if err != nil {
			return err
		}
		if _, blocked := msg.(bgp.NoOp); !blocked {
			return nil
		}
		if err := p.pause(ctx, deadline); err != nil {
			return err
		}
	}
}

func (p *Peer) pause(ctx context.Context, deadline time.Time) error {
	if !deadline.IsZero() && time.Now().After(deadline) {
		return errors.New("handshake timed out")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(tick):
		return nil
	}
}

// established is the steady-state loop: read, expire timers, send
// keepalives, pace route bursts, announce end-of-RIB after the initial
// table drain.
func (p *Peer) established(ctx context.Context, sess *bgp.Session) error {
	neg := sess.Negotiated()
	holdTime := time.Duration(neg.HoldTime()) * time.Second
	keepaliveEvery := holdTime / 3

	lastReceived := time.Now()
	lastSent := time.Now()
	eorSent := false

	var next func() (bgp.Progress, error, bool)
	var stop func()
	defer func() {
		if stop != nil {
			stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			p.drain(context.Background(), time.Now().Add(time.Second),
				sess.SendNotification(bgp.NewNotify(bgp.NotifCodeCease, 0, "shutting down")))
			return nil
		default:
		}

		idle := true

		msg, err := sess.ReadMessage()
		if err != nil {
			return p.escalate(sess, err)
		}
		switch m := msg.(type) {
		case bgp.NoOp:
		case *bgp.Notification:
			return fmt.Errorf("notification received: %s", bgp.NewNotify(m.Code, m.Subcode, "").Error())
		default:
			lastReceived = time.Now()
			idle = false
		}

		if holdTime > 0 && time.Since(lastReceived) > holdTime {
			p.drain(ctx, time.Now().Add(time.Second),
				sess.SendNotification(bgp.NewNotify(bgp.NotifCodeHoldTimerExpired, 0, "hold timer expired")))
			return errors.New("hold timer expired")
		}

		if keepaliveEvery > 0 && time.Since(lastSent) > keepaliveEvery {
			if err := p.drain(ctx, time.Now().Add(keepaliveEvery), sess.SendKeepalive("ESTABLISHED")); err != nil {
				return p.escalate(sess, err)
			}
			lastSent = time.Now()
			idle = false
		}

		if next == nil {
			if ann, wd := p.adj.PendingCount(); ann > 0 || wd > 0 {
				seq := p.adj.Updates(neg.ASN4(), p.neighbor.GroupUpdates)
				next, stop = iter.Pull2(sess.SendUpdates(seq))
			} else if !eorSent {
				next, stop = iter.Pull2(sess.SendEORs())
				eorSent = true
			}
		}
		for budget := sendBudget; next != nil && budget > 0; budget-- {
			progress, err, ok := next()
			if !ok {
				stop()
				next, stop = nil, nil
				break
			}
			if err != nil {
				stop()
				return p.escalate(sess, err)
			}
			if progress.Count > 0 || progress.Done {
				lastSent = time.Now()
				idle = false
				continue
			}
			// Suspended on a full socket: yield back to reads.
			break
		}

		if idle {
			select {
			case <-ctx.Done():
			case <-time.After(tick):
			}
		}
	}
}

// escalate turns a session violation into a NOTIFICATION to the peer
// before reporting it. Non-protocol errors pass through unchanged.
func (p *Peer) escalate(sess *bgp.Session, err error) error {
	var notify *bgp.Notify
	if errors.As(err, &notify) {
		p.drain(context.Background(), time.Now().Add(time.Second), sess.SendNotification(notify))
	}
	return err
}

func (p *Peer) teardown(sess *bgp.Session, err error) {
	reason := "closing"
	if err != nil {
		reason = err.Error()
	}
	sess.Close(reason)
}

// Reactor runs a set of peers and serves their status snapshots.
type Reactor struct {
	peers []*Peer
}

// New assembles a reactor over the given peers.
func New(peers []*Peer) *Reactor {
	return &Reactor{peers: peers}
}

// Run drives all peers until the context is cancelled.
func (r *Reactor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range r.peers {
		g.Go(func() error { return p.Run(ctx) })
	}
	return g.Wait()
}

// Statuses snapshots every peer.
func (r *Reactor) Statuses() []Status {
	out := make([]Status, len(r.peers))
	for i, p := range r.peers {
		out[i] = p.Status()
	}
	return out
}
