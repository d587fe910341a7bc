// Package reaper implements SIGCHLD handling and the forced-termination
// sweep. Rather than a raw process-signal-mask trick (SIGCHLD unmasked
// only inside the suspension call), this bridges os/signal.Notify into a
// self-pipe fd that internal/reactor treats like any other readable fd.
// Go cannot install a bare sigaction the way the C agent does, so a
// self-pipe is the idiomatic replacement that preserves the same
// exclusivity: reaping only happens when the reactor's loop decides to
// service that fd, between two handler invocations, never concurrently
// with one.
package reaper

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/c9s/goprocinfo/linux"

	"github.com/sandia-minimega/pod-init/internal/agentlog"
	"github.com/sandia-minimega/pod-init/internal/reactor"
)

// Reaped describes one child process observed to have exited during a
// single drain pass.
type Reaped struct {
	PID      int
	ExitCode uint8 // 0 for signal deaths; only WIFEXITED carries a real code.
}

// Pipe bridges os/signal's SIGCHLD delivery into a reactor-managed fd. It
// implements reactor.Handler: OnReadable drains the wake bytes (there may
// be several coalesced into one readiness notification) and nothing more
// -- callers call Drain separately to collect exited children, keeping
// "a SIGCHLD arrived" decoupled from "here is who exited", which lets
// Drain be invoked once per OnReadable even if N signals coalesced.
type Pipe struct {
	r, w *os.File
	sigs chan os.Signal

	// OnSignal is invoked once per OnReadable call, after the wake bytes
	// are drained -- the reactor-thread-safe place to call Drain and
	// apply its results, keeping that application logic out of this
	// package (it has no business knowing about podstate or procsup).
	OnSignal func()
}

// New creates the self-pipe and starts forwarding SIGCHLD into it. Call
// Register to add it to a reactor.
func New() (*Pipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("reaper: self-pipe: %w", err)
	}

	p := &Pipe{r: r, w: w, sigs: make(chan os.Signal, 64)}
	signal.Notify(p.sigs, syscall.SIGCHLD)

	go p.forward()

	return p, nil
}

func (p *Pipe) forward() {
	for range p.sigs {
		if _, err := p.w.Write([]byte{1}); err != nil {
			return
		}
	}
}

// Fd is the read end's file descriptor, registered READ-only with the
// reactor.
func (p *Pipe) Fd() int { return int(p.r.Fd()) }

// OnReadable drains whatever woke bytes are pending. It never returns an
// error: a failure to read the self-pipe is not a channel failure.
func (p *Pipe) OnReadable(r *reactor.Reactor, ev *reactor.Event) error {
	buf := make([]byte, 64)
	for {
		n, err := syscall.Read(p.Fd(), buf)
		if n <= 0 || err != nil {
			break
		}
		if n < len(buf) {
			break
		}
	}
	if p.OnSignal != nil {
		p.OnSignal()
	}
	return nil
}

// OnWritable is never armed for this fd; present only to satisfy
// reactor.Handler.
func (p *Pipe) OnWritable(r *reactor.Reactor, ev *reactor.Event) error { return nil }

// Close stops signal delivery and closes both pipe ends.
func (p *Pipe) Close() {
	signal.Stop(p.sigs)
	close(p.sigs)
	p.r.Close()
	p.w.Close()
}

// Drain performs the non-blocking reap loop: wait4
// with WNOHANG until no more children are immediately reapable.
func Drain() []Reaped {
	var out []Reaped
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return out
		}

		var code uint8
		if ws.Exited() {
			code = uint8(ws.ExitStatus())
		}
		// Signal deaths report 0; only WIFEXITED carries a real code.

		out = append(out, Reaped{PID: pid, ExitCode: code})
	}
}

// TerminateAll implements the pod-teardown sweep:
// every pid under /proc except 1 gets SIGTERM, upgraded immediately to
// SIGKILL if /proc/<pid>/status reports it as ignoring SIGTERM.
func TerminateAll() {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		agentlog.Warn("reaper: readdir /proc: %v", err)
		return
	}

	const sigTermBit = uint64(1) << (uint(syscall.SIGTERM) - 1)

	for _, ent := range entries {
		pid, err := pidFromName(ent.Name())
		if err != nil || pid == 1 {
			continue
		}

		sig := syscall.SIGTERM
		if st, err := linux.ReadProcessStatus(fmt.Sprintf("/proc/%d/status", pid)); err == nil {
			if st.SigIgn&sigTermBit != 0 {
				sig = syscall.SIGKILL
			}
		}

		if err := syscall.Kill(pid, sig); err != nil {
			agentlog.Debug("reaper: kill %d (%v): %v", pid, sig, err)
		}
	}
}

func pidFromName(name string) (int, error) {
	var pid int
	if _, err := fmt.Sscanf(name, "%d", &pid); err != nil {
		return 0, err
	}
	if fmt.Sprint(pid) != name {
		return 0, fmt.Errorf("not a pid: %q", name)
	}
	return pid, nil
}
