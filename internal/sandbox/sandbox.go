// Package sandbox implements the sandbox builder: the
// long-lived "pod init" process that owns the shared PID/UTS/IPC/MNT
// namespaces, and namespace entry for children launched later.
//
// Grounded on cmd/minimega/container.go's CONTAINER_FLAGS clone-flags
// constant and cgroup-mount helpers, generalized from "one VM container"
// to "one long-lived sandbox process that containers later setns into".
package sandbox

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/sandia-minimega/pod-init/internal/agentlog"
)

// Flags are the namespaces the sandbox process is created with. Unlike
// the teacher's CONTAINER_FLAGS (which also clones a network namespace per
// VM), the pod sandbox shares NET with the agent itself -- network setup
// is handled by the out-of-scope network collaborator against whichever
// namespace the pod's containers end up in, not by this process.
const Flags = syscall.CLONE_NEWPID | syscall.CLONE_NEWNS | syscall.CLONE_NEWIPC | syscall.CLONE_NEWUTS

// SandboxInitArg is the argv[1] marker cmd/podinit looks for to know it
// was re-exec'd to become the sandbox init process,
// rather than continuing as the normal control-plane agent.
const SandboxInitArg = "sandbox-init"

// Namespaces are descriptors into the sandbox's shared namespaces, kept
// open so later execs can re-enter them.
type Namespaces struct {
	Pid int
	Uts int
	Ipc int
}

// FDs returns the three descriptors in the order Ipc, Uts, Pid -- the same
// order procsup.Spawn hands them to the ns-exec shim, which applies them
// in turn.
func (n Namespaces) FDs() []int { return []int{n.Ipc, n.Uts, n.Pid} }

// Builder starts and owns the sandbox process.
type Builder struct {
	InitPid int
	NS      Namespaces
}

// Start creates the sandbox process and waits for its READY signal.
// A failure here is an Os error fatal to pod setup, not to the
// agent itself.
func (b *Builder) Start(hostname string) error {
	selfPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("sandbox: resolve self path: %w", err)
	}

	readyR, readyW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("sandbox: ready pipe: %w", err)
	}

	cmd := exec.Command(selfPath, SandboxInitArg, hostname)
	cmd.ExtraFiles = []*os.File{readyW}
	cmd.SysProcAttr = &syscall.SysProcAttr{Cloneflags: uintptr(Flags)}

	if err := cmd.Start(); err != nil {
		readyR.Close()
		readyW.Close()
		return fmt.Errorf("sandbox: start: %w", err)
	}
	readyW.Close()

	ready := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := bufio.NewReader(readyR).Read(buf)
		ready <- err
	}()

	select {
	case err := <-ready:
		if err != nil {
			cmd.Process.Kill()
			return fmt.Errorf("sandbox: waiting for READY: %w", err)
		}
	case <-time.After(10 * time.Second):
		cmd.Process.Kill()
		return fmt.Errorf("sandbox: timed out waiting for READY")
	}
	readyR.Close()

	b.InitPid = cmd.Process.Pid

	nsDir := fmt.Sprintf("/proc/%d/ns", b.InitPid)
	if b.NS.Pid, err = openNs(nsDir, "pid"); err != nil {
		return err
	}
	if b.NS.Uts, err = openNs(nsDir, "uts"); err != nil {
		return err
	}
	if b.NS.Ipc, err = openNs(nsDir, "ipc"); err != nil {
		return err
	}

	agentlog.Info("sandbox: started, init pid %d", b.InitPid)
	return nil
}

// openNs opens one of the sandbox init's /proc/<pid>/ns/* descriptors and
// keeps its fd alive past this call: the *os.File's own finalizer would
// otherwise close the fd out from under every later Spawn once f is
// collected, the same hazard procsup/rootfs/fileio disarm via
// runtime.SetFinalizer when they hand a raw fd across a similar boundary.
func openNs(nsDir, name string) (int, error) {
	f, err := os.Open(nsDir + "/" + name)
	if err != nil {
		return -1, fmt.Errorf("sandbox: open %s ns: %w", name, err)
	}
	runtime.SetFinalizer(f, nil)
	return int(f.Fd()), nil
}

// RunAsInit mounts /proc, sets the hostname, mounts cgroups, and signals
// readiness, then never returns. It is invoked
// from cmd/podinit's main when os.Args[1] == SandboxInitArg, running
// inside the freshly cloned namespaces.
//
// Step 1 ("close all inherited channel fds") is satisfied by construction:
// Start above launches this process via exec.Command with an explicit
// ExtraFiles list containing only the ready pipe, so there are no serial
// channel fds to inherit in the first place.
func RunAsInit(readyFd int, hostname string) {
	go reapForever()

	if err := syscall.Mount("proc", "/proc", "proc", syscall.MS_REMOUNT, ""); err != nil {
		// First entry into a fresh PID namespace: /proc isn't mounted
		// for it yet, so mount rather than remount.
		if merr := syscall.Mount("proc", "/proc", "proc", 0, ""); merr != nil {
			agentlog.Fatal("sandbox-init: mount /proc: %v / %v", err, merr)
		}
	}

	if err := syscall.Sethostname([]byte(hostname)); err != nil {
		agentlog.Fatal("sandbox-init: sethostname: %v", err)
	}

	if err := mountCgroups(); err != nil {
		agentlog.Warn("sandbox-init: cgroup mount: %v", err)
	}

	if _, err := syscall.Write(readyFd, []byte{'R'}); err != nil {
		agentlog.Fatal("sandbox-init: signal READY: %v", err)
	}
	syscall.Close(readyFd)

	select {} // suspend forever; reapForever keeps running in the background.
}

// reapForever is the sandbox process's own reap-only SIGCHLD handling:
// it only exists to prevent zombies directly parented
// to this pid-1-of-the-namespace process, distinct from internal/reaper's
// reaping of execs the control-plane agent tracks.
func reapForever() {
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, 0, nil)
		if err != nil {
			if err == syscall.ECHILD {
				time.Sleep(time.Second)
				continue
			}
			continue
		}
		agentlog.Debug("sandbox-init: reaped orphan pid %d", pid)
	}
}
