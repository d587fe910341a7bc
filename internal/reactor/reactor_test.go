package reactor

import (
	"syscall"
	"testing"
)

type recordingHandler struct {
	reads  [][]byte
	writes int
}

func (h *recordingHandler) OnReadable(r *Reactor, ev *Event) error {
	buf := make([]byte, 256)
	n, err := syscall.Read(ev.Fd, buf)
	if err != nil {
		if err == syscall.EAGAIN {
			return nil
		}
		return err
	}
	h.reads = append(h.reads, append([]byte(nil), buf[:n]...))
	return nil
}

func (h *recordingHandler) OnWritable(r *Reactor, ev *Event) error {
	h.writes++
	return ev.FlushWrite(r)
}

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := syscall.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	t.Cleanup(func() {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestRegisterAndOnReadableDispatch(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	agentFd, hostFd := socketpair(t)
	h := &recordingHandler{}
	ev, err := r.Register(agentFd, syscall.EPOLLIN, h, nil, false)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := syscall.Write(hostFd, []byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := h.OnReadable(r, ev); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}

	if len(h.reads) != 1 || string(h.reads[0]) != "hi" {
		t.Fatalf("got %v, want one read of %q", h.reads, "hi")
	}
}

func TestQueueWriteSetsInterestAndFlushClearsIt(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	agentFd, hostFd := socketpair(t)
	h := &recordingHandler{}
	ev, err := r.Register(agentFd, syscall.EPOLLIN, h, nil, false)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := ev.QueueWrite(r, []byte("out")); err != nil {
		t.Fatalf("QueueWrite: %v", err)
	}
	if ev.Interest&syscall.EPOLLOUT == 0 {
		t.Fatal("expected EPOLLOUT interest after QueueWrite")
	}

	if err := ev.FlushWrite(r); err != nil {
		t.Fatalf("FlushWrite: %v", err)
	}
	if ev.Interest&syscall.EPOLLOUT != 0 {
		t.Error("expected EPOLLOUT interest cleared once the write buffer drained")
	}

	buf := make([]byte, 16)
	n, err := syscall.Read(hostFd, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "out" {
		t.Errorf("got %q, want %q", buf[:n], "out")
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	agentFd, _ := socketpair(t)
	h := &recordingHandler{}
	ev, err := r.Register(agentFd, syscall.EPOLLIN, h, nil, false)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Unregister(ev); err != nil {
		t.Fatalf("first Unregister: %v", err)
	}
	if err := r.Unregister(ev); err != nil {
		t.Fatalf("second Unregister should be a no-op, got: %v", err)
	}

	if _, ok := r.Lookup(agentFd); ok {
		t.Error("expected Lookup to report the fd is gone after Unregister")
	}
}

func TestRunReturnsWhenStopClosed(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stop := make(chan struct{})
	close(stop)

	if err := r.Run(stop); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
