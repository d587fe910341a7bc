// Package control implements the channel handler (C3): it decodes
// complete control frames off the control channel fd, dispatches each to
// internal/handlers' table, and emits the ACK/ERROR reply -- except for
// STOPPOD/DESTROYPOD, whose reply is deferred until the sandbox process
// has been reaped.
//
// Grounded on internal/ron/command.go's Command/Response pair and
// cmd/miniccc/mux.go's "switch m.Type { case ron.MESSAGE_COMMAND: ... }"
// dispatch loop, adapted from gob-encoded messages on a net.Conn to this
// module's own binary frames on a raw fd.
package control

import (
	"syscall"

	"github.com/sandia-minimega/pod-init/internal/agentctx"
	"github.com/sandia-minimega/pod-init/internal/agenterr"
	"github.com/sandia-minimega/pod-init/internal/agentlog"
	"github.com/sandia-minimega/pod-init/internal/handlers"
	"github.com/sandia-minimega/pod-init/internal/reactor"
	"github.com/sandia-minimega/pod-init/internal/wire"
)

// Channel owns the control channel's Event and implements reactor.Handler
// for it. Its errors are always Fatal (see Attach) per §4.2: errors
// returned from a handler terminate the reactor only for the control
// channel.
type Channel struct {
	Ctx *agentctx.Context

	dec wire.ControlDecoder
	ev  *reactor.Event
	r   *reactor.Reactor
}

// Attach registers fd as the control channel, wires ctx.QueueReply back
// onto this channel, and queues the agent's own boot-time READY
// announcement (§6: "the first message the agent sends on the control
// channel after open is READY").
func (c *Channel) Attach(r *reactor.Reactor, fd int) error {
	ev, err := r.Register(fd, syscall.EPOLLIN, c, nil, true)
	if err != nil {
		return err
	}
	c.ev = ev
	c.r = r
	c.Ctx.QueueReply = c.queueReply

	c.queueReply(wire.TypeREADY, nil)
	return nil
}

func (c *Channel) queueReply(typ uint32, payload []byte) {
	if err := c.ev.QueueWrite(c.r, wire.EncodeControl(typ, payload)); err != nil {
		agentlog.Warn("control: queue reply type=%d: %v", typ, err)
	}
}

// OnReadable decodes every complete control frame now available and
// dispatches each in turn.
func (c *Channel) OnReadable(r *reactor.Reactor, ev *reactor.Event) error {
	buf := make([]byte, 64*1024)
	n, err := syscall.Read(ev.Fd, buf)
	if err != nil {
		if err == syscall.EAGAIN {
			return nil
		}
		return err
	}
	if n == 0 {
		return errClosed
	}

	frames, err := c.dec.Feed(buf[:n])
	if err != nil {
		// A Protocol error (oversized or malformed frame) on the control
		// channel is fatal per §7: "errors on the control channel
		// terminate the reactor."
		return err
	}

	for _, f := range frames {
		c.dispatch(f)
	}
	return nil
}

func (c *Channel) OnWritable(r *reactor.Reactor, ev *reactor.Event) error {
	return ev.FlushWrite(r)
}

// dispatch looks up and runs the handler for one decoded frame, emitting
// exactly one of ACK, ERROR, or a deferred stop per §8's invariant --
// unless the handler itself already queued something (e.g. the bootstrap
// READY frame is not produced through this path).
func (c *Channel) dispatch(f wire.ControlFrame) {
	c.Ctx.Pod.LastRequestType = f.Type

	fn, ok := handlers.Table[f.Type]
	if !ok {
		agentlog.Warn("control: unknown frame type %d", f.Type)
		c.reply(wire.TypeERROR, nil)
		return
	}

	result, err := fn(c.Ctx, f.Payload)
	if err != nil {
		agentlog.Warn("control: type=%d failed (%s): %v", f.Type, agenterr.KindOf(err), err)
		c.reply(wire.TypeERROR, nil)
		return
	}

	if result.Deferred {
		// STOPPOD/DESTROYPOD: no frame now. c.Ctx.PendingStop fires the
		// deferred ACK (or, for DESTROYPOD, closes StopCh with no reply at
		// all) once the sandbox's init pid has been reaped.
		return
	}

	c.reply(wire.TypeACK, result.Payload)
}

func (c *Channel) reply(typ uint32, payload []byte) {
	c.queueReply(typ, payload)
}

var errClosed = controlClosedErr("control channel closed")

type controlClosedErr string

func (e controlClosedErr) Error() string { return string(e) }
