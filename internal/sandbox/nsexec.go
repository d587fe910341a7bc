package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// NsExecArg is the argv[1] marker cmd/podinit looks for to re-exec itself
// as a tiny namespace-entry shim. Generalizes the teacher's /proc/self/exe re-exec trick
// (container.go launches args[0] == os.Args[0] with CONTAINER_FLAGS on
// the child's SysProcAttr to *create* namespaces at clone time) to
// *entering* existing ones instead.
//
// setns(2)'s CLONE_NEWPID only takes effect for the caller's *future*
// children, never the caller itself (man setns(2)); the other namespace
// types apply to the calling thread immediately. Entering a PID namespace
// therefore requires setns followed by a fork. RunNsExec below does
// exactly that fork via a second, ordinary os/exec.Command -- the same
// safe fork+exec path the Go runtime already uses everywhere else in this
// process, rather than a raw syscall.Fork from deep inside a
// multi-threaded Go binary, which is the one thing to avoid here.
const NsExecArg = "ns-exec"

// BuildNsExecArgv constructs the argv for a re-exec into selfPath that
// enters the namespaces backed by the fds at ExtraFiles indices
// [0,nsFdCount) (i.e. fds 3..3+nsFdCount-1 in the child, per os/exec's
// ExtraFiles contract) before execve'ing realArgv.
func BuildNsExecArgv(selfPath string, nsFdCount int, realArgv []string) []string {
	nums := make([]string, nsFdCount)
	for i := range nums {
		nums[i] = strconv.Itoa(3 + i)
	}
	argv := []string{selfPath, NsExecArg, strings.Join(nums, ",")}
	argv = append(argv, "--")
	argv = append(argv, realArgv...)
	return argv
}

// RunNsExec is invoked from cmd/podinit's main when os.Args[1] ==
// NsExecArg. It enters the namespaces named by argv[0] (a comma-separated
// fd list), forks a child (via os/exec) that inherits them, execve's
// argv[2:] in that child (argv[1] is the literal "--" separator), waits
// for it, and exits with its exit status. It never returns on success.
func RunNsExec(argv []string) error {
	if len(argv) < 2 || argv[1] != "--" {
		return fmt.Errorf("ns-exec: malformed argv %v", argv)
	}

	for _, s := range strings.Split(argv[0], ",") {
		if s == "" {
			continue
		}
		fd, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("ns-exec: bad fd %q: %w", s, err)
		}
		if err := unix.Setns(fd, 0); err != nil {
			return fmt.Errorf("ns-exec: setns fd %d: %w", fd, err)
		}
		syscall.Close(fd)
	}

	real := argv[2:]
	if len(real) == 0 {
		return fmt.Errorf("ns-exec: no command to exec")
	}

	// The fork happens here, through the ordinary os/exec path: this
	// process has already setns'd into everything but the PID namespace
	// took no effect on it, so the child exec.Command starts is the one
	// actually born inside it (e.g. as its pid 1).
	child := exec.Command(real[0], real[1:]...)
	child.Stdin, child.Stdout, child.Stderr = os.Stdin, os.Stdout, os.Stderr
	child.Env = os.Environ()

	if err := child.Start(); err != nil {
		return fmt.Errorf("ns-exec: start %v: %w", real, err)
	}

	err := child.Wait()
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		return fmt.Errorf("ns-exec: wait: %w", err)
	}

	os.Exit(code)
	return nil
}
