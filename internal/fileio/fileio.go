// Package fileio spawns a short-lived, namespace-entering helper process
// to perform a single file read or write inside a container's mount
// namespace, communicating a typed request/response over a pipe rather
// than having the long-lived agent process itself enter and leave
// namespaces on every file operation.
//
// Grounded on cmd/minimega/container.go's use of a dedicated re-exec
// marker (CONTAINER_MAGIC) to turn the same binary into a specialized
// child, adapted here from "become the container init" to "become a tiny
// file-read/write shim, then exit".
package fileio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"
)

// procAttr builds the re-exec command line for a file I/O helper.
func procAttr(selfPath, op, path string) *exec.Cmd {
	cmd := exec.Command(selfPath, HelperArg, op, path)
	cmd.SysProcAttr = &syscall.SysProcAttr{}
	return cmd
}

// HelperArg is the argv[1] marker cmd/podinit looks for to become a file
// I/O helper.
const HelperArg = "file-io"

const (
	opWrite = "write"
	opRead  = "read"
)

// resultHeaderLen is the helper's own tiny status protocol on its result
// pipe: a 1-byte ok flag, then always a 4-byte BE length and that many
// bytes -- the file data on a successful read, nothing on a successful
// write, an error string on failure.
const resultHeaderLen = 1

// Write runs a WRITEFILE request: a forked child enters the container's
// mount namespace (mntNsFd) and writes data to path.
func Write(selfPath string, mntNsFd int, path string, data []byte) error {
	return run(selfPath, mntNsFd, opWrite, path, data, nil)
}

// Read runs a READFILE request and returns the file's full contents.
func Read(selfPath string, mntNsFd int, path string) ([]byte, error) {
	var out []byte
	err := run(selfPath, mntNsFd, opRead, path, nil, &out)
	return out, err
}

// run spawns the helper, feeds it data over stdin (WRITEFILE) or nothing
// (READFILE), and parses its result-pipe response.
func run(selfPath string, mntNsFd int, op, path string, data []byte, out *[]byte) error {
	// mntNsFd is owned by the container's podstate.Container entry and
	// outlives this call; wrap it without letting the os.File finalizer
	// or a stray Close reach the underlying fd.
	nsFile := os.NewFile(uintptr(mntNsFd), "ns-mnt")
	runtime.SetFinalizer(nsFile, nil)

	resultR, resultW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("fileio: result pipe: %w", err)
	}
	defer resultR.Close()

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		resultW.Close()
		return fmt.Errorf("fileio: stdin pipe: %w", err)
	}

	cmd := procAttr(selfPath, op, path)
	cmd.ExtraFiles = []*os.File{nsFile, resultW}
	cmd.Stdin = stdinR

	if err := cmd.Start(); err != nil {
		resultW.Close()
		stdinR.Close()
		stdinW.Close()
		return fmt.Errorf("fileio: start helper: %w", err)
	}
	resultW.Close()
	stdinR.Close()

	if op == opWrite {
		go func() {
			stdinW.Write(data)
			stdinW.Close()
		}()
	} else {
		stdinW.Close()
	}

	ok, payload, rerr := readResult(resultR)
	waitErr := cmd.Wait()

	if rerr != nil {
		return fmt.Errorf("fileio: read result: %w", rerr)
	}
	if !ok {
		return fmt.Errorf("fileio: helper reported failure: %s", payload)
	}
	if waitErr != nil {
		return fmt.Errorf("fileio: helper exit: %w", waitErr)
	}
	if out != nil {
		*out = payload
	}
	return nil
}

func readResult(r *os.File) (ok bool, payload []byte, err error) {
	hdr := make([]byte, resultHeaderLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return false, nil, err
	}
	ok = hdr[0] == 1

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return ok, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	if n == 0 {
		return ok, nil, nil
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return ok, nil, err
	}
	return ok, buf, nil
}

func writeResult(w *os.File, ok bool, payload []byte) {
	var flag byte
	if ok {
		flag = 1
	}
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(payload)))

	w.Write([]byte{flag})
	w.Write(lenBuf)
	w.Write(payload)
}

// RunHelper is invoked from cmd/podinit's main when os.Args[1] ==
// HelperArg. It enters the mount namespace backed by fd 3, performs the
// read or write named by argv[1]/argv[2], reports the outcome on fd 4,
// and exits -- never returning to the caller's flow.
func RunHelper(argv []string) {
	result := os.NewFile(4, "fileio-result")

	if len(argv) < 3 {
		writeResult(result, false, []byte("fileio: malformed argv"))
		os.Exit(1)
	}

	op, path := argv[1], argv[2]

	if err := unix.Setns(3, syscall.CLONE_NEWNS); err != nil {
		writeResult(result, false, []byte(fmt.Sprintf("setns: %v", err)))
		os.Exit(1)
	}

	switch op {
	case opWrite:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			writeResult(result, false, []byte(fmt.Sprintf("read stdin: %v", err)))
			os.Exit(1)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			writeResult(result, false, []byte(fmt.Sprintf("write %s: %v", path, err)))
			os.Exit(1)
		}
		writeResult(result, true, nil)
	case opRead:
		data, err := os.ReadFile(path)
		if err != nil {
			writeResult(result, false, []byte(fmt.Sprintf("read %s: %v", path, err)))
			os.Exit(1)
		}
		writeResult(result, true, data)
	default:
		writeResult(result, false, []byte(fmt.Sprintf("unknown op %q", op)))
		os.Exit(1)
	}

	os.Exit(0)
}
