// Package ttymux routes the tty channel's sequence-tagged frames: inbound bytes to the right exec's stdin, outbound PTY/pipe
// bytes back to the host, and "goodbye" EOF frames in both directions.
//
// Grounded on cmd/minimega/container.go's vm.console goroutine (copies
// PTY bytes to/from a listener) generalized from "one listener" to
// "route by seq over one shared channel", the way internal/ron/server.go
// multiplexes several logical streams (commands, files, tunnel, pipes)
// over a single ron.Message channel.
package ttymux

import (
	"syscall"

	"github.com/sandia-minimega/pod-init/internal/agentlog"
	"github.com/sandia-minimega/pod-init/internal/podstate"
	"github.com/sandia-minimega/pod-init/internal/procsup"
	"github.com/sandia-minimega/pod-init/internal/reactor"
	"github.com/sandia-minimega/pod-init/internal/wire"
)

// StdinQueuer is the subset of *procsup.Supervisor the multiplexer needs
// to route inbound bytes without an import cycle (procsup.Supervisor
// already satisfies this).
type StdinQueuer interface {
	QueueStdin(e *podstate.Exec, data []byte)
	RequestStdinClose(e *podstate.Exec)
}

// Mux owns the tty channel's Event and implements reactor.Handler for it.
type Mux struct {
	Pod   *podstate.Pod
	Execs StdinQueuer

	dec wire.TtyDecoder
	ev  *reactor.Event
	r   *reactor.Reactor
}

// Attach registers fd as the tty channel with r and records the resulting
// Event so SendData/SendEOF can queue outbound frames on it.
func (m *Mux) Attach(r *reactor.Reactor, fd int) error {
	ev, err := r.Register(fd, syscall.EPOLLIN, m, nil, false)
	if err != nil {
		return err
	}
	m.ev = ev
	m.r = r
	return nil
}

// OnReadable decodes every complete tty frame now available and routes
// it.
func (m *Mux) OnReadable(r *reactor.Reactor, ev *reactor.Event) error {
	buf := make([]byte, wire.TtyMaxFrame)
	n, err := syscall.Read(ev.Fd, buf)
	if err != nil {
		if err == syscall.EAGAIN {
			return nil
		}
		return err
	}
	if n == 0 {
		return errEOF
	}

	frames, err := m.dec.Feed(buf[:n])
	if err != nil {
		return err
	}

	for _, f := range frames {
		m.route(r, f)
	}
	return nil
}

func (m *Mux) OnWritable(r *reactor.Reactor, ev *reactor.Event) error {
	return ev.FlushWrite(r)
}

// route applies the inbound routing rules for one decoded frame.
func (m *Mux) route(r *reactor.Reactor, f wire.TtyFrame) {
	e, err := m.Pod.Exec(f.Seq)
	if err != nil {
		// Unknown seq: goodbye.
		m.SendEOF(f.Seq)
		return
	}

	if e.Exit || e.CloseStdinRequest {
		return
	}

	if f.EOF() {
		if !e.TTY {
			e.CloseStdinRequest = true
			m.Execs.RequestStdinClose(e)
		}
		return
	}

	m.Execs.QueueStdin(e, f.Payload)
}

// SendData frames and queues outbound bytes for seq.
func (m *Mux) SendData(seq uint64, data []byte) {
	if m.ev == nil || len(data) == 0 {
		return
	}
	const maxChunk = wire.TtyMaxFrame - wire.TtyHeaderLen
	for len(data) > 0 {
		n := len(data)
		if n > maxChunk {
			n = maxChunk
		}
		if err := m.ev.QueueWrite(m.r, wire.EncodeTty(seq, data[:n])); err != nil {
			agentlog.Warn("ttymux: queue outbound seq=%d: %v", seq, err)
		}
		data = data[n:]
	}
}

// SendEOF queues the length-12 goodbye frame for seq.
func (m *Mux) SendEOF(seq uint64) {
	if m.ev == nil {
		return
	}
	if err := m.ev.QueueWrite(m.r, wire.EncodeTtyEOF(seq)); err != nil {
		agentlog.Warn("ttymux: queue eof seq=%d: %v", seq, err)
	}
}

var errEOF = ttyClosedErr("tty channel closed")

type ttyClosedErr string

func (e ttyClosedErr) Error() string { return string(e) }

var _ procsup.TtySink = (*Mux)(nil)
