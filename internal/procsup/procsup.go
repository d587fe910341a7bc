// Package procsup is the exec supervisor: spawning a
// process into the pod's shared namespaces plus a container's mount
// namespace, wiring its stdio (PTY or three pipes) into the reactor, and
// applying reaped exit codes back onto the registry.
//
// Grounded on cmd/minimega/container.go's launch sequence (pty.Start(cmd),
// a Cloneflags'd re-exec, cmd.Wait() in a goroutine feeding an errChan)
// and cmd/miniccc/commands.go's runCommand (the non-PTY pipe-stdio case),
// adapted from "one VM, fork+clone new namespaces" to "one exec, setns
// into namespaces that already exist" via internal/sandbox's ns-exec shim.
package procsup

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/kr/pty"

	"github.com/sandia-minimega/pod-init/internal/agentlog"
	"github.com/sandia-minimega/pod-init/internal/podstate"
	"github.com/sandia-minimega/pod-init/internal/reactor"
	"github.com/sandia-minimega/pod-init/internal/sandbox"
)

// TtySink is how procsup hands stdio bytes and EOF back to the tty
// multiplexer (C4) without importing it directly (internal/ttymux imports
// procsup's types the other way, for inbound routing).
type TtySink interface {
	SendData(seq uint64, data []byte)
	SendEOF(seq uint64)
}

// ExitWaiter is an interface for being told that a specific exec exited.
// Nothing in this module implements or calls it; REMOVECONTAINER checks
// Exec.Exit on the registry entry directly.
type ExitWaiter interface {
	NotifyExit(seq uint64)
}

// Supervisor owns live os-level process state keyed by the same seq the
// registry uses, and bridges it to the reactor.
type Supervisor struct {
	Pod      *podstate.Pod
	Reactor  *reactor.Reactor
	Tty      TtySink
	SelfPath string

	// OnPrimaryExit is invoked (container id) whenever a container's
	// primary exec reaps, after Pod.Remains has been decremented.
	OnPrimaryExit func(containerID string)
}

// SpawnParams describes one process launch, covering both a container's
// primary exec and an additional exec
// (EXECCMD).
type SpawnParams struct {
	Seq         uint64
	ContainerID string
	TTY         bool
	Cmd         []string
	Env         []string
	Workdir     string
	MntNsFd     int
	PodNS       sandbox.Namespaces
	IsPrimary   bool
}

type stdioEvent struct {
	sup *Supervisor
	e   *podstate.Exec
	fd  int
	// role is the event's role: 0=stdin(write-only from reactor's
	// perspective -- data arrives from the host, not this fd), 1=stdout,
	// 2=stderr, 3=pty(bidirectional)
	role int
}

// Spawn launches a new process.5 and registers its stdio with
// the reactor. On success the returned *podstate.Exec is already inserted
// into s.Pod.
func (s *Supervisor) Spawn(p SpawnParams) (*podstate.Exec, error) {
	if len(p.Cmd) == 0 {
		return nil, fmt.Errorf("procsup: empty command")
	}

	argv := sandbox.BuildNsExecArgv(s.SelfPath, 4, p.Cmd)
	cmd := &exec.Cmd{Path: argv[0], Args: argv}
	cmd.Env = p.Env
	if p.Workdir != "" {
		cmd.Dir = p.Workdir
	}
	cmd.ExtraFiles = []*os.File{
		os.NewFile(uintptr(p.PodNS.Ipc), "ns-ipc"),
		os.NewFile(uintptr(p.PodNS.Uts), "ns-uts"),
		os.NewFile(uintptr(p.PodNS.Pid), "ns-pid"),
		os.NewFile(uintptr(p.MntNsFd), "ns-mnt"),
	}
	// These wrap fds this package does not own (the pod's long-lived
	// namespace descriptors, reused across every Spawn call, and the
	// container's mount-namespace fd). os/exec only dup2's them into the
	// child; disarm each finalizer so dropping cmd's reference to them
	// can never close the original underneath another exec.
	for _, f := range cmd.ExtraFiles {
		runtime.SetFinalizer(f, nil)
	}

	e := &podstate.Exec{Seq: p.Seq, ContainerID: p.ContainerID, TTY: p.TTY}

	var masterFd int
	if p.TTY {
		// pty.Start forces Setsid on the child, which already makes it
		// the leader of a brand new process group (pgid == pid); no
		// explicit Setpgid needed here the way the pipe-stdio branch
		// below needs one.
		master, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("procsup: pty start: %w", err)
		}
		masterFd = int(master.Fd())
		// Disarm master's finalizer: the reactor and e.Ptyfd now own
		// this fd by number, and letting the *os.File wrapper get
		// garbage collected would otherwise close it out from under
		// them.
		runtime.SetFinalizer(master, nil)
		syscall.SetNonblock(masterFd, true)

		e.Ptyfd = masterFd
		e.Stdin, e.Stdout, e.Stderr = masterFd, masterFd, -1

		s.registerPty(e, masterFd)
	} else {
		stdinR, stdinW, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("procsup: stdin pipe: %w", err)
		}
		stdoutR, stdoutW, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("procsup: stdout pipe: %w", err)
		}
		stderrR, stderrW, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("procsup: stderr pipe: %w", err)
		}

		cmd.Stdin, cmd.Stdout, cmd.Stderr = stdinR, stdoutW, stderrW
		// The shim forks its real workload as an ordinary child (setns's
		// CLONE_NEWPID only takes effect on future children, never the
		// caller), so the workload inherits the shim's pgid. Giving the
		// shim its own new group here means a later KILLCONTAINER can
		// signal the whole group and reach the workload too, not just the
		// shim that re-exec'd into it.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		if err := cmd.Start(); err != nil {
			stdinR.Close()
			stdinW.Close()
			stdoutR.Close()
			stdoutW.Close()
			stderrR.Close()
			stderrW.Close()
			return nil, fmt.Errorf("procsup: start: %w", err)
		}
		stdinR.Close()
		stdoutW.Close()
		stderrW.Close()

		// Same finalizer concern as the PTY master above: these three
		// *os.File wrappers are about to be dropped in favor of their
		// raw fd numbers.
		runtime.SetFinalizer(stdinW, nil)
		runtime.SetFinalizer(stdoutR, nil)
		runtime.SetFinalizer(stderrR, nil)

		syscall.SetNonblock(int(stdinW.Fd()), true)
		syscall.SetNonblock(int(stdoutR.Fd()), true)
		syscall.SetNonblock(int(stderrR.Fd()), true)

		e.Stdin = int(stdinW.Fd())
		e.Stdout = int(stdoutR.Fd())
		e.Stderr = int(stderrR.Fd())

		s.registerPipes(e, int(stdinW.Fd()), int(stdoutR.Fd()), int(stderrR.Fd()))
	}

	e.Process = cmd.Process
	e.PID = cmd.Process.Pid

	if err := s.Pod.AddExec(e); err != nil {
		return nil, err
	}

	agentlog.Info("procsup: spawned seq=%d container=%s pid=%d tty=%v", e.Seq, e.ContainerID, e.PID, e.TTY)
	return e, nil
}

// registerPty wires a single bidirectional PTY fd to the reactor: reads
// become outbound tty frames, writes drain whatever was queued from an
// inbound tty frame.
func (s *Supervisor) registerPty(e *podstate.Exec, fd int) {
	h := &ptyHandler{sup: s, e: e}
	ev, err := s.Reactor.Register(fd, syscall.EPOLLIN, h, e, false)
	if err != nil {
		agentlog.Warn("procsup: register pty fd %d: %v", fd, err)
		return
	}
	h.ev = ev
}

func (s *Supervisor) registerPipes(e *podstate.Exec, stdinFd, stdoutFd, stderrFd int) {
	in := &pipeWriteHandler{sup: s, e: e}
	ev, err := s.Reactor.Register(stdinFd, 0, in, e, false)
	if err != nil {
		agentlog.Warn("procsup: register stdin fd %d: %v", stdinFd, err)
	} else {
		in.ev = ev
	}

	out := &pipeReadHandler{sup: s, e: e, which: "stdout"}
	if ev, err := s.Reactor.Register(stdoutFd, syscall.EPOLLIN, out, e, false); err != nil {
		agentlog.Warn("procsup: register stdout fd %d: %v", stdoutFd, err)
	} else {
		out.ev = ev
	}

	errh := &pipeReadHandler{sup: s, e: e, which: "stderr"}
	if ev, err := s.Reactor.Register(stderrFd, syscall.EPOLLIN, errh, e, false); err != nil {
		agentlog.Warn("procsup: register stderr fd %d: %v", stderrFd, err)
	} else {
		errh.ev = ev
	}
}

// QueueStdin appends bytes to the exec's stdin and enables write
// interest.4's inbound routing.
func (s *Supervisor) QueueStdin(e *podstate.Exec, data []byte) {
	fd := e.Stdin
	for _, ev := range s.eventsFor(fd) {
		ev.QueueWrite(s.Reactor, data)
		return
	}
}

// eventsFor is a small helper used only by QueueStdin/CloseStdin, since
// the reactor keys its registry by fd and this package doesn't keep its
// own fd->Event index (the registry is the reactor's single source of
// truth.6 "all mutation occurs on the reactor thread").
func (s *Supervisor) eventsFor(fd int) []*reactor.Event {
	if ev, ok := s.Reactor.Lookup(fd); ok {
		return []*reactor.Event{ev}
	}
	return nil
}

// RequestStdinClose arms the forced hangup for e's stdin on the next
// writable event, rather than closing inline here -- any bytes already
// queued ahead of the zero-length frame must flush first, preserving
// per-seq ordering.
func (s *Supervisor) RequestStdinClose(e *podstate.Exec) {
	ev, ok := s.Reactor.Lookup(e.Stdin)
	if !ok {
		return
	}
	if ev.Interest&syscall.EPOLLOUT == 0 {
		s.Reactor.Modify(ev, ev.Interest|syscall.EPOLLOUT)
	}
}

// closeStdin performs the actual hangup once pipeWriteHandler observes an
// empty write buffer with CloseStdinRequest set.
func (s *Supervisor) closeStdin(e *podstate.Exec) {
	if ev, ok := s.Reactor.Lookup(e.Stdin); ok {
		s.Reactor.Unregister(ev)
	}
	syscall.Close(e.Stdin)
}

// Resize applies a window size to e's PTY; a
// no-op for non-TTY execs.
func (s *Supervisor) Resize(e *podstate.Exec, rows, cols uint16) error {
	if !e.TTY {
		return nil
	}
	if rows == 0 || cols == 0 {
		// 0x0 is the wire protocol's "ignore this resize" sentinel, not a
		// real winsize to push down to the PTY.
		return nil
	}
	// os.NewFile's finalizer would close e.Ptyfd out from under the
	// reactor once f is collected; pty.Setsize only needs it transiently
	// for the Fd() value behind its ioctl, so disarm the finalizer before
	// f goes out of scope.
	f := os.NewFile(uintptr(e.Ptyfd), "pty")
	runtime.SetFinalizer(f, nil)
	return pty.Setsize(f, &pty.Winsize{Rows: rows, Cols: cols})
}

// HandleExit applies a reaped (pid, exitCode) pair onto the matching exec
//: sets Exit, stores the code, emits the EOF tty frame,
// and -- if this was a container's primary exec -- decrements Remains and
// invokes OnPrimaryExit.
func (s *Supervisor) HandleExit(pid int, exitCode uint8) {
	e, ok := s.Pod.ExecByPID(pid)
	if !ok {
		agentlog.Debug("procsup: reaped unknown pid %d", pid)
		return
	}
	if e.Exit {
		return // monotonic: already recorded
	}

	e.Exit = true
	e.ExitCode = exitCode

	s.Tty.SendEOF(e.Seq)

	c, err := s.Pod.Container(e.ContainerID)
	isPrimary := err == nil && c.Primary == e
	if isPrimary {
		remaining := s.Pod.DecRemains()
		agentlog.Info("procsup: primary exec of %s exited, remains=%d", e.ContainerID, remaining)
		if s.OnPrimaryExit != nil {
			s.OnPrimaryExit(e.ContainerID)
		}
	}
}

const readChunk = 32 * 1024

type ptyHandler struct {
	sup *Supervisor
	e   *podstate.Exec
	ev  *reactor.Event
}

func (h *ptyHandler) OnReadable(r *reactor.Reactor, ev *reactor.Event) error {
	buf := make([]byte, readChunk)
	for {
		n, err := syscall.Read(ev.Fd, buf)
		if n > 0 {
			h.sup.Tty.SendData(h.e.Seq, append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			if err == syscall.EAGAIN {
				return nil
			}
			// EIO on PTY read is the normal "slave closed" signal.
			return err
		}
		if n == 0 {
			return fmt.Errorf("pty %d: eof", ev.Fd)
		}
		if n < len(buf) {
			return nil
		}
	}
}

func (h *ptyHandler) OnWritable(r *reactor.Reactor, ev *reactor.Event) error {
	return ev.FlushWrite(r)
}

type pipeReadHandler struct {
	sup   *Supervisor
	e     *podstate.Exec
	ev    *reactor.Event
	which string
}

func (h *pipeReadHandler) OnReadable(r *reactor.Reactor, ev *reactor.Event) error {
	buf := make([]byte, readChunk)
	for {
		n, err := syscall.Read(ev.Fd, buf)
		if n > 0 {
			// The wire protocol carries one byte stream per seq; a non-TTY exec's stdout and stderr are both
			// multiplexed onto that same seq, same as a PTY's combined
			// stream.
			h.sup.Tty.SendData(h.e.Seq, append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			if err == syscall.EAGAIN {
				return nil
			}
			return err
		}
		if n == 0 {
			return fmt.Errorf("%s %d: eof", h.which, ev.Fd)
		}
		if n < len(buf) {
			return nil
		}
	}
}

func (h *pipeReadHandler) OnWritable(r *reactor.Reactor, ev *reactor.Event) error { return nil }

type pipeWriteHandler struct {
	sup *Supervisor
	e   *podstate.Exec
	ev  *reactor.Event
}

func (h *pipeWriteHandler) OnReadable(r *reactor.Reactor, ev *reactor.Event) error { return nil }

func (h *pipeWriteHandler) OnWritable(r *reactor.Reactor, ev *reactor.Event) error {
	if err := ev.FlushWrite(r); err != nil {
		return err
	}
	if h.e.CloseStdinRequest && len(ev.Wbuf) == 0 {
		h.sup.closeStdin(h.e)
	}
	return nil
}
