// Package reactor implements the single-threaded, readiness-based event
// multiplexer: one epoll instance, one goroutine, and a
// suspension point that is the only place the reactor blocks. SIGCHLD
// delivery is bridged in as an ordinary readable fd (internal/reaper)
// rather than a raw signal-mask dance -- Go cannot install a bare
// sigaction the way a C agent would, so the reactor treats reaping as
// just another handler.
package reactor

import (
	"fmt"
	"syscall"

	"github.com/sandia-minimega/pod-init/internal/agentlog"
)

// Handler reacts to readiness on a registered fd.
type Handler interface {
	// OnReadable is invoked when the fd has data to read. Implementations
	// read what's available, feed it to a decoder, and call back into
	// higher layers once per complete frame.
	OnReadable(r *Reactor, ev *Event) error

	// OnWritable drains ev's write buffer. Most handlers can just call
	// ev.FlushWrite.
	OnWritable(r *Reactor, ev *Event) error
}

// Event is one reactor registration.
type Event struct {
	Fd       int
	Interest uint32 // EPOLLIN | EPOLLOUT
	Handler  Handler
	UserPtr  interface{}

	// Wbuf holds bytes queued for writing but not yet flushed to Fd.
	Wbuf []byte

	// Fatal marks this event's errors as terminating the whole reactor
	// rather than just closing this one fd.
	Fatal bool

	closed bool
}

// QueueWrite appends data to ev's write buffer and ensures EPOLLOUT
// interest is set so the reactor will flush it.
func (ev *Event) QueueWrite(r *Reactor, data []byte) error {
	ev.Wbuf = append(ev.Wbuf, data...)
	if ev.Interest&syscall.EPOLLOUT == 0 {
		return r.Modify(ev, ev.Interest|syscall.EPOLLOUT)
	}
	return nil
}

// FlushWrite drains as much of ev.Wbuf to ev.Fd as the kernel will accept,
// clearing EPOLLOUT interest once the buffer empties.
func (ev *Event) FlushWrite(r *Reactor) error {
	for len(ev.Wbuf) > 0 {
		n, err := syscall.Write(ev.Fd, ev.Wbuf)
		if err != nil {
			if err == syscall.EAGAIN {
				return nil
			}
			return err
		}
		ev.Wbuf = ev.Wbuf[n:]
	}
	if ev.Interest&syscall.EPOLLOUT != 0 {
		return r.Modify(ev, ev.Interest&^uint32(syscall.EPOLLOUT))
	}
	return nil
}

// Reactor is the epoll-backed dispatcher. All mutation of its registry
// happens on the goroutine calling Run -- there is no locking because
// there is no other writer.
type Reactor struct {
	epfd   int
	events map[int]*Event
}

// New creates an epoll instance.
func New() (*Reactor, error) {
	fd, err := syscall.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Reactor{epfd: fd, events: make(map[int]*Event)}, nil
}

// Register adds fd to the readiness set with the given initial interest.
func (r *Reactor) Register(fd int, interest uint32, h Handler, userPtr interface{}, fatal bool) (*Event, error) {
	ev := &Event{Fd: fd, Interest: interest, Handler: h, UserPtr: userPtr, Fatal: fatal}

	epEv := syscall.EpollEvent{Events: interest, Fd: int32(fd)}
	if err := syscall.EpollCtl(r.epfd, syscall.EPOLL_CTL_ADD, fd, &epEv); err != nil {
		return nil, fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}

	r.events[fd] = ev
	return ev, nil
}

// Lookup returns the Event registered for fd, if any.
func (r *Reactor) Lookup(fd int) (*Event, bool) {
	ev, ok := r.events[fd]
	return ev, ok
}

// Modify updates ev's interest mask. Handlers may mutate any Event's
// interest mask from within their own callback.
func (r *Reactor) Modify(ev *Event, interest uint32) error {
	ev.Interest = interest
	epEv := syscall.EpollEvent{Events: interest, Fd: int32(ev.Fd)}
	if err := syscall.EpollCtl(r.epfd, syscall.EPOLL_CTL_MOD, ev.Fd, &epEv); err != nil {
		return fmt.Errorf("epoll_ctl mod fd %d: %w", ev.Fd, err)
	}
	return nil
}

// Unregister removes fd from the readiness set. The caller is still
// responsible for closing the fd; this only guarantees the fd is
// deregistered exactly once.
func (r *Reactor) Unregister(ev *Event) error {
	if ev.closed {
		return nil
	}
	ev.closed = true
	delete(r.events, ev.Fd)
	// Ignore ENOENT: the fd may already have been closed by the kernel
	// (e.g. the peer hung up), which implicitly removes it from epoll.
	if err := syscall.EpollCtl(r.epfd, syscall.EPOLL_CTL_DEL, ev.Fd, nil); err != nil && err != syscall.ENOENT {
		return fmt.Errorf("epoll_ctl del fd %d: %w", ev.Fd, err)
	}
	return nil
}

const maxEvents = 10

// Run is the event loop. It blocks in epoll_wait -- the single
// suspension point in the whole agent -- until a terminating handler error
// occurs on a Fatal event, or stop is closed.
func (r *Reactor) Run(stop <-chan struct{}) error {
	raw := make([]syscall.EpollEvent, maxEvents)

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := syscall.EpollWait(r.epfd, raw, -1)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(raw[i].Fd)
			ev, ok := r.events[fd]
			if !ok {
				continue
			}

			if raw[i].Events&(syscall.EPOLLHUP|syscall.EPOLLERR) != 0 {
				if err := r.closeOnError(ev, fmt.Errorf("fd %d: hangup/error", fd)); err != nil {
					return err
				}
				continue
			}

			if raw[i].Events&syscall.EPOLLIN != 0 {
				if err := ev.Handler.OnReadable(r, ev); err != nil {
					if err := r.closeOnError(ev, err); err != nil {
						return err
					}
					continue
				}
			}

			if ev.closed {
				continue
			}

			if raw[i].Events&syscall.EPOLLOUT != 0 {
				if err := ev.Handler.OnWritable(r, ev); err != nil {
					if err := r.closeOnError(ev, err); err != nil {
						return err
					}
				}
			}
		}
	}
}

// closeOnError applies the error policy: fatal for the control channel,
// downgrade-to-close for everything else.
func (r *Reactor) closeOnError(ev *Event, err error) error {
	if ev.Fatal {
		return err
	}

	agentlog.Warn("reactor: fd %d handler error, closing: %v", ev.Fd, err)
	if uerr := r.Unregister(ev); uerr != nil {
		agentlog.Warn("reactor: unregister fd %d: %v", ev.Fd, uerr)
	}
	syscall.Close(ev.Fd)
	return nil
}
