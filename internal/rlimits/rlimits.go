// Package rlimits raises the process's resource limits at agent
// bootstrap, preserving the exact values original_source/src/init.c used.
package rlimits

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/sandia-minimega/pod-init/internal/agentlog"
)

const (
	// NofileLimit is RLIMIT_NOFILE, raised to one million.
	NofileLimit = 1_000_000

	// NprocLimit is RLIMIT_NPROC. The source's value, 30604, is distinct
	// from NofileLimit and preserved exactly.
	NprocLimit = 30604

	// SigpendingLimit is RLIMIT_SIGPENDING, ~30k.
	SigpendingLimit = 30000

	fileMaxPath = "/proc/sys/fs/file-max"
)

// Raise applies all three rlimits and writes /proc/sys/fs/file-max. Only
// the rlimit failures are treated as fatal to the agent's own bootstrap;
// failing to write file-max (e.g. read-only /proc in a test sandbox) is
// logged and ignored.
func Raise() error {
	if err := setrlimit(unix.RLIMIT_NOFILE, NofileLimit); err != nil {
		return err
	}
	if err := setrlimit(unix.RLIMIT_NPROC, NprocLimit); err != nil {
		return err
	}
	if err := setrlimit(unix.RLIMIT_SIGPENDING, SigpendingLimit); err != nil {
		return err
	}

	if err := os.WriteFile(fileMaxPath, []byte("1000000\n"), 0644); err != nil {
		agentlog.Warn("rlimits: writing %s: %v", fileMaxPath, err)
	}

	return nil
}

func setrlimit(resource int, n uint64) error {
	lim := unix.Rlimit{Cur: n, Max: n}
	if err := unix.Setrlimit(resource, &lim); err != nil {
		return err
	}
	return nil
}
