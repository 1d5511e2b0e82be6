// Package monitor streams session events to an external helper program
// as JSON lines on its stdin: neighbor state changes, raw packet copies,
// and decoded route changes, each gated by the per-neighbor API options.
package monitor

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os/exec"
	"strings"
	"time"
)

// waitTimeout bounds how long Close waits for the helper to exit after
// its stdin is closed before killing it.
const waitTimeout = 5 * time.Second

// ErrNotStarted is returned when an event is emitted before Start.
var ErrNotStarted = errors.New("monitor process not started")

// ProcessError reports a failure of the helper process pipeline. The
// session engine treats these as monitoring faults and never lets them
// disturb the peer.
type ProcessError struct {
	// Program is the configured command line.
	Program string

	// Err is the underlying failure.
	Err error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("monitor process %q: %v", e.Program, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// event is one JSON line written to the helper.
type event struct {
	Type   string `json:"type"`
	Time   string `json:"time"`
	Peer   string `json:"peer"`
	Reason string `json:"reason,omitempty"`

	// Category is the BGP message type code for send/receive events.
	Category uint8  `json:"category,omitempty"`
	Header   string `json:"header,omitempty"`
	Body     string `json:"body,omitempty"`

	Announce []string `json:"announce,omitempty"`
	Withdraw []string `json:"withdraw,omitempty"`
}

// Process runs one helper program and implements the session engine's
// notifier interface by encoding events onto the helper's stdin. It is
// driven from the single reactor goroutine, so event emission needs no
// locking.
type Process struct {
	program string
	logger  *slog.Logger

	cmd *exec.Cmd
	w   io.Writer
	enc *json.Encoder

	// now is swappable for deterministic timestamps in tests.
	now func() time.Time
}

// New prepares a monitor for the given helper command line. The command
// is split on whitespace; the first field is the executable.
func New(program string, logger *slog.Logger) *Process {
	if logger == nil {
		logger = slog.Default()
	}
	return &Process{
		program: program,
		logger:  logger.With(slog.String("component", "monitor"), slog.String("program", program)),
		now:     time.Now,
	}
}

// NewWriter builds a monitor that encodes events onto w instead of a
// child process. Used by tests and by callers that pipe events
// elsewhere.
func NewWriter(w io.Writer, logger *slog.Logger) *Process {
	p := New("", logger)
	p.w = w
	p.enc = json.NewEncoder(w)
	return p
}

// Start launches the helper program. Its stderr is drained line by line
// into the log so a chatty helper cannot stall.
func (p *Process) Start(ctx context.Context) error {
	if p.w != nil {
		return nil
	}

	fields := strings.Fields(p.program)
	if len(fields) == 0 {
		return &ProcessError{Program: p.program, Err: errors.New("empty command line")}
	}

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &ProcessError{Program: p.program, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &ProcessError{Program: p.program, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return &ProcessError{Program: p.program, Err: err}
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.logger.Warn("helper stderr", slog.String("line", scanner.Text()))
		}
	}()

	p.cmd = cmd
	p.w = stdin
	p.enc = json.NewEncoder(stdin)
	p.logger.Info("monitor helper started", slog.Int("pid", cmd.Process.Pid))
	return nil
}

// Close shuts the helper's stdin and waits briefly for it to exit.
func (p *Process) Close() error {
	if p.cmd == nil {
		return nil
	}
	if c, ok := p.w.(io.Closer); ok {
		c.Close()
	}

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case err := <-done:
		p.cmd = nil
		if err != nil {
			return &ProcessError{Program: p.program, Err: err}
		}
		return nil
	case <-time.After(waitTimeout):
		p.cmd.Process.Kill()
		<-done
		p.cmd = nil
		return &ProcessError{Program: p.program, Err: errors.New("helper did not exit, killed")}
	}
}

// Connected reports the session reaching Established.
func (p *Process) Connected(peer netip.Addr) error {
	return p.emit(event{Type: "connected", Peer: peer.String()})
}

// Down reports the session leaving Established.
func (p *Process) Down(peer netip.Addr, reason string) error {
	return p.emit(event{Type: "down", Peer: peer.String(), Reason: reason})
}

// Send forwards a copy of an outgoing message.
func (p *Process) Send(peer netip.Addr, msgType uint8, header, body []byte) error {
	return p.emit(event{
		Type:     "send",
		Peer:     peer.String(),
		Category: msgType,
		Header:   hex.EncodeToString(header),
		Body:     hex.EncodeToString(body),
	})
}

// Receive forwards a copy of an incoming message.
func (p *Process) Receive(peer netip.Addr, msgType uint8, header, body []byte) error {
	return p.emit(event{
		Type:     "receive",
		Peer:     peer.String(),
		Category: msgType,
		Header:   hex.EncodeToString(header),
		Body:     hex.EncodeToString(body),
	})
}

// Routes forwards decoded route changes from one UPDATE.
func (p *Process) Routes(peer netip.Addr, announced, withdrawn []netip.Prefix) error {
	ev := event{Type: "route", Peer: peer.String()}
	for _, pfx := range announced {
		ev.Announce = append(ev.Announce, pfx.String())
	}
	for _, pfx := range withdrawn {
		ev.Withdraw = append(ev.Withdraw, pfx.String())
	}
	return p.emit(ev)
}

func (p *Process) emit(ev event) error {
	if p.enc == nil {
		return &ProcessError{Program: p.program, Err: ErrNotStarted}
	}
	ev.Time = p.now().UTC().Format(time.RFC3339Nano)
	if err := p.enc.Encode(ev); err != nil {
		return &ProcessError{Program: p.program, Err: err}
	}
	return nil
}
