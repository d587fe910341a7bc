package sandbox

import (
	"os"
	"syscall"

	"github.com/sandia-minimega/pod-init/internal/agentlog"
)

// SetupDevPts performs the devpts/ptmx scaffolding the original C agent
// does during its own PID-1 bootstrap (original_source/src/init.c):
// mount devpts at /dev/pts if not already present, symlink /dev/ptmx to
// it, detach from whatever controlling terminal was inherited with
// setsid, and grab a fresh controlling terminal via TIOCSCTTY. Mounting
// /proc/sys/dev themselves is the platform boot-glue Non-goal (§1); this
// step is additional scaffolding the sandbox still needs before any PTY
// exec can work and is not covered by that Non-goal.
//
// Call only when running as the guest's actual PID 1 -- the sandbox's own
// nested init (RunAsInit) never calls this; it shares /dev with the agent
// and containers setns into the sandbox's mount namespace, where devpts
// is already usable.
func SetupDevPts() {
	if err := os.MkdirAll("/dev/pts", 0755); err != nil {
		agentlog.Warn("sandbox: mkdir /dev/pts: %v", err)
		return
	}

	if err := syscall.Mount("devpts", "/dev/pts", "devpts", 0, "newinstance,ptmxmode=0666,mode=0620"); err != nil && err != syscall.EBUSY {
		agentlog.Warn("sandbox: mount devpts: %v", err)
	}

	os.Remove("/dev/ptmx")
	if err := os.Symlink("pts/ptmx", "/dev/ptmx"); err != nil {
		agentlog.Warn("sandbox: symlink /dev/ptmx: %v", err)
	}

	if _, err := syscall.Setsid(); err != nil {
		agentlog.Debug("sandbox: setsid: %v", err)
	}

	if err := ioctlSetCtty(0); err != nil {
		agentlog.Debug("sandbox: TIOCSCTTY on fd 0: %v", err)
	}
}

// ioctlSetCtty issues TIOCSCTTY on fd, grabbing it as the calling
// session's controlling terminal.
func ioctlSetCtty(fd int) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(syscall.TIOCSCTTY), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
