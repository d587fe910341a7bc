package sandbox

import (
	"os"
	"syscall"
)

// cgroupControllers is the fixed set of v1 controllers the sandbox mounts
// for its containers to be placed under.
var cgroupControllers = []string{"cpu", "memory", "devices", "freezer", "pids"}

// mountCgroups lays down a tmpfs at /sys/fs/cgroup plus one subdirectory
// per controller, mounting the matching cgroup filesystem into each.
// Failures are non-fatal to the sandbox as a whole.
func mountCgroups() error {
	const root = "/sys/fs/cgroup"

	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if err := syscall.Mount("tmpfs", root, "tmpfs", 0, "mode=755"); err != nil {
		return err
	}

	var firstErr error
	for _, ctrl := range cgroupControllers {
		dir := root + "/" + ctrl
		if err := os.MkdirAll(dir, 0755); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := syscall.Mount("cgroup", dir, "cgroup", 0, ctrl); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
