// Command podinit is the in-guest agent: process 1 inside a lightweight
// VM sandbox. It owns the control-plane/I-O-multiplexer core described by
// this module (internal/reactor, internal/control, internal/ttymux,
// internal/procsup, internal/sandbox, internal/reaper, internal/handlers)
// and re-execs itself into several tiny specialized roles (sandbox init,
// namespace-entry shim, rootfs holder, file I/O helper) the way
// cmd/minimega/container.go re-execs itself via a CONTAINER_MAGIC
// argv[1] marker.
package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/sandia-minimega/pod-init/internal/agentctx"
	"github.com/sandia-minimega/pod-init/internal/agentlog"
	"github.com/sandia-minimega/pod-init/internal/control"
	"github.com/sandia-minimega/pod-init/internal/fileio"
	"github.com/sandia-minimega/pod-init/internal/procsup"
	"github.com/sandia-minimega/pod-init/internal/reactor"
	"github.com/sandia-minimega/pod-init/internal/reaper"
	"github.com/sandia-minimega/pod-init/internal/rlimits"
	"github.com/sandia-minimega/pod-init/internal/rootfs"
	"github.com/sandia-minimega/pod-init/internal/sandbox"
	"github.com/sandia-minimega/pod-init/internal/ttymux"
)

// Default virtio-serial device names; overridable via flags for testing
// against a pair of unix sockets, pipes, or fifos.
const (
	defaultControlPath = "/dev/vport1p1"
	defaultTtyPath     = "/dev/vport2p1"
)

func main() {
	// Re-exec dispatch happens before any flag parsing: these markers are
	// argv[1] in a child this process spawned for itself (see
	// internal/sandbox, internal/rootfs, internal/fileio), never an
	// end-user invocation, so they take priority over the normal CLI.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case sandbox.SandboxInitArg:
			hostname := ""
			if len(os.Args) > 2 {
				hostname = os.Args[2]
			}
			sandbox.RunAsInit(3, hostname)
			return
		case sandbox.NsExecArg:
			if err := sandbox.RunNsExec(os.Args[2:]); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			return
		case rootfs.HolderArg:
			path := ""
			if len(os.Args) > 2 {
				path = os.Args[2]
			}
			rootfs.RunAsHolder(3, path)
			return
		case fileio.HelperArg:
			fileio.RunHelper(os.Args[1:])
			return
		}
	}

	controlPath := flag.String("control", defaultControlPath, "control channel device path")
	ttyPath := flag.String("tty", defaultTtyPath, "tty channel device path")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := agentlog.INFO
	if *debug {
		level = agentlog.DEBUG
	}
	agentlog.AddLogger("stderr", os.Stderr, level)

	if err := run(*controlPath, *ttyPath); err != nil {
		agentlog.Fatal("podinit: %v", err)
	}
}

func run(controlPath, ttyPath string) error {
	if os.Getpid() == 1 {
		sandbox.SetupDevPts()
	}

	if err := rlimits.Raise(); err != nil {
		return fmt.Errorf("raise rlimits: %w", err)
	}

	// The control channel is opened blocking; the tty channel
	// non-blocking (§6).
	controlFile, err := os.OpenFile(controlPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open control channel %s: %w", controlPath, err)
	}
	ttyFile, err := os.OpenFile(ttyPath, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open tty channel %s: %w", ttyPath, err)
	}

	selfPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve self path: %w", err)
	}

	r, err := reactor.New()
	if err != nil {
		return fmt.Errorf("create reactor: %w", err)
	}

	ctx := agentctx.New(selfPath)

	mux := &ttymux.Mux{Pod: ctx.Pod}
	ctx.Tty = mux

	sup := &procsup.Supervisor{
		Pod:      ctx.Pod,
		Reactor:  r,
		Tty:      mux,
		SelfPath: selfPath,
	}
	ctx.Execs = sup
	mux.Execs = sup

	ch := &control.Channel{Ctx: ctx}

	// Once a container's primary exec reaps, the registry already
	// reflects it (procsup.HandleExit decrements Remains); nothing else
	// to do here per-container. Pod-wide teardown completion is instead
	// driven by watching for ctx.Sandbox.InitPid reaping, below.
	sup.OnPrimaryExit = func(containerID string) {
		agentlog.Debug("podinit: container %s primary exec exited", containerID)
	}

	rp, err := reaper.New()
	if err != nil {
		return fmt.Errorf("create reaper: %w", err)
	}
	defer rp.Close()

	rp.OnSignal = func() {
		for _, reaped := range reaper.Drain() {
			if ctx.Sandbox.InitPid != 0 && reaped.PID == ctx.Sandbox.InitPid {
				agentlog.Info("podinit: sandbox init pid %d exited", reaped.PID)
				if ctx.PendingStop != nil {
					stop := ctx.PendingStop
					ctx.PendingStop = nil
					stop()
				}
				continue
			}
			sup.HandleExit(reaped.PID, reaped.ExitCode)
		}
	}

	if _, err := r.Register(rp.Fd(), syscall.EPOLLIN, rp, nil, false); err != nil {
		return fmt.Errorf("register reaper pipe: %w", err)
	}

	if err := ch.Attach(r, int(controlFile.Fd())); err != nil {
		return fmt.Errorf("attach control channel: %w", err)
	}
	if err := mux.Attach(r, int(ttyFile.Fd())); err != nil {
		return fmt.Errorf("attach tty channel: %w", err)
	}

	agentlog.Info("podinit: ready, control=%s tty=%s", controlPath, ttyPath)

	if err := r.Run(ctx.StopCh); err != nil {
		return fmt.Errorf("reactor: %w", err)
	}

	if ctx.Destroying {
		os.Exit(0)
	}
	return nil
}
