// Package rootfs is the "prepare container rootfs" collaborator: the
// core calls Prepare and receives a mount-namespace descriptor plus an
// executable spec. Image pulling itself is out of scope; what's
// implemented here is the interface plus a minimal default that actually
// produces a live mount-namespace descriptor, using the same "spawn a
// tiny long-lived holder process, then open /proc/<pid>/ns/*" trick
// internal/sandbox.Builder uses for the pod sandbox itself --
// generalized from "one shared sandbox" to "one mount namespace per
// container".
package rootfs

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"
)

// HolderArg is the argv[1] marker cmd/podinit looks for to become a
// rootfs mount-namespace holder process (this package's RunAsHolder).
const HolderArg = "rootfs-holder"

// Descriptor is what "prepare container rootfs" hands back.
type Descriptor struct {
	MntNsFd    int // descriptor into the container's mount namespace
	HolderPid  int // the process keeping that namespace alive
	Cmd        []string
	Env        []string
	Workdir    string
}

// Preparer prepares a container's root filesystem and returns a
// Descriptor; Cleanup tears down whatever Prepare built.
type Preparer interface {
	Prepare(containerID, rootfsPath string, cmd, env []string, workdir string) (Descriptor, error)
	Cleanup(d Descriptor) error
}

// Default treats rootfsPath as an already-unpacked directory tree and
// chroots a small holder process into it inside a freshly unshared mount
// namespace, the simplest thing that gives procsup a real mnt ns fd to
// setns later execs into.
type Default struct{}

func (Default) Prepare(containerID, rootfsPath string, cmd, env []string, workdir string) (Descriptor, error) {
	if rootfsPath == "" {
		return Descriptor{}, fmt.Errorf("rootfs: empty rootfsPath for container %s", containerID)
	}

	selfPath, err := os.Executable()
	if err != nil {
		return Descriptor{}, fmt.Errorf("rootfs: resolve self path: %w", err)
	}

	readyR, readyW, err := os.Pipe()
	if err != nil {
		return Descriptor{}, fmt.Errorf("rootfs: ready pipe: %w", err)
	}

	c := exec.Command(selfPath, HolderArg, rootfsPath)
	c.ExtraFiles = []*os.File{readyW}
	c.SysProcAttr = &syscall.SysProcAttr{Cloneflags: uintptr(syscall.CLONE_NEWNS)}

	if err := c.Start(); err != nil {
		readyR.Close()
		readyW.Close()
		return Descriptor{}, fmt.Errorf("rootfs: start holder: %w", err)
	}
	readyW.Close()

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := bufio.NewReader(readyR).Read(buf)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			c.Process.Kill()
			return Descriptor{}, fmt.Errorf("rootfs: waiting for holder READY: %w", err)
		}
	case <-time.After(10 * time.Second):
		c.Process.Kill()
		return Descriptor{}, fmt.Errorf("rootfs: holder timed out")
	}
	readyR.Close()

	nsFile, err := os.Open(fmt.Sprintf("/proc/%d/ns/mnt", c.Process.Pid))
	if err != nil {
		c.Process.Kill()
		return Descriptor{}, fmt.Errorf("rootfs: open holder mnt ns: %w", err)
	}
	// The caller keeps only the raw fd (in a podstate.Container, for the
	// holder's whole lifetime); disarm the finalizer so a GC pass on this
	// wrapper can't close it out from under them.
	runtime.SetFinalizer(nsFile, nil)

	return Descriptor{
		MntNsFd:   int(nsFile.Fd()),
		HolderPid: c.Process.Pid,
		Cmd:       cmd,
		Env:       env,
		Workdir:   workdir,
	}, nil
}

func (Default) Cleanup(d Descriptor) error {
	if d.HolderPid == 0 {
		return nil
	}
	if err := syscall.Kill(d.HolderPid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("rootfs: kill holder %d: %w", d.HolderPid, err)
	}
	var ws syscall.WaitStatus
	syscall.Wait4(d.HolderPid, &ws, 0, nil)
	return nil
}

// RunAsHolder is invoked from cmd/podinit's main when os.Args[1] ==
// HolderArg. It chroots into rootfsPath (argv[1]) inside the mount
// namespace its Cloneflags already created, signals readyFd, and suspends
// forever so /proc/<pid>/ns/mnt stays valid for later execs to setns
// into. It never returns.
func RunAsHolder(readyFd int, rootfsPath string) {
	if err := syscall.Chdir(rootfsPath); err != nil {
		os.Exit(1)
	}
	if err := syscall.Chroot(rootfsPath); err != nil {
		os.Exit(1)
	}
	if err := syscall.Chdir("/"); err != nil {
		os.Exit(1)
	}

	syscall.Write(readyFd, []byte{'R'})
	syscall.Close(readyFd)

	select {}
}
