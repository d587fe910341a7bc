package control

import (
	"encoding/binary"
	"syscall"
	"testing"

	"github.com/sandia-minimega/pod-init/internal/agentctx"
	"github.com/sandia-minimega/pod-init/internal/reactor"
	"github.com/sandia-minimega/pod-init/internal/specjson"
	"github.com/sandia-minimega/pod-init/internal/wire"
)

func socketpair(t *testing.T) (agentFd, hostFd int) {
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

// setup attaches a fresh Channel to a socketpair and drains the agent's
// boot-time READY announcement (§6), returning the pieces a test needs to
// send further frames and read replies.
func setup(t *testing.T) (*Channel, *reactor.Reactor, *reactor.Event, int) {
	t.Helper()

	r, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}

	agentFd, hostFd := socketpair(t)

	ctx := agentctx.New("/self")
	ch := &Channel{Ctx: ctx}
	if err := ch.Attach(r, agentFd); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	ev, ok := r.Lookup(agentFd)
	if !ok {
		t.Fatal("expected an Event registered for agentFd")
	}

	if err := ch.OnWritable(r, ev); err != nil {
		t.Fatalf("flush boot READY: %v", err)
	}
	readyFrame := readFrame(t, hostFd)
	if readyFrame.Type != wire.TypeREADY || len(readyFrame.Payload) != 0 {
		t.Fatalf("boot frame = %+v, want a type-only READY", readyFrame)
	}

	return ch, r, ev, hostFd
}

func readFrame(t *testing.T, fd int) wire.ControlFrame {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := syscall.Read(fd, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var dec wire.ControlDecoder
	frames, err := dec.Feed(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	return frames[0]
}

func sendAndRead(t *testing.T, ch *Channel, r *reactor.Reactor, ev *reactor.Event, hostFd int, typ uint32, payload []byte) wire.ControlFrame {
	t.Helper()
	if _, err := syscall.Write(hostFd, wire.EncodeControl(typ, payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ch.OnReadable(r, ev); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if err := ch.OnWritable(r, ev); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}
	return readFrame(t, hostFd)
}

func TestGetVersionReturnsAPIVersion(t *testing.T) {
	ch, r, ev, hostFd := setup(t)

	reply := sendAndRead(t, ch, r, ev, hostFd, wire.TypeGETVERSION, nil)
	if reply.Type != wire.TypeACK {
		t.Fatalf("type = %d, want ACK", reply.Type)
	}
	if len(reply.Payload) != 4 {
		t.Fatalf("payload len = %d, want 4", len(reply.Payload))
	}
	if got := binary.BigEndian.Uint32(reply.Payload); got != wire.APIVersion {
		t.Errorf("version = %d, want %d", got, wire.APIVersion)
	}
}

func TestPingAcks(t *testing.T) {
	ch, r, ev, hostFd := setup(t)

	reply := sendAndRead(t, ch, r, ev, hostFd, wire.TypePING, nil)
	if reply.Type != wire.TypeACK {
		t.Fatalf("type = %d, want ACK", reply.Type)
	}
}

func TestUnknownFrameTypeErrors(t *testing.T) {
	ch, r, ev, hostFd := setup(t)

	reply := sendAndRead(t, ch, r, ev, hostFd, 0xDEAD, nil)
	if reply.Type != wire.TypeERROR {
		t.Fatalf("type = %d, want ERROR", reply.Type)
	}
	if len(reply.Payload) != 0 {
		t.Errorf("ERROR frame carries a payload: %v", reply.Payload)
	}
}

func TestWinsizeUnknownSeqIsNoopAck(t *testing.T) {
	ch, r, ev, hostFd := setup(t)

	payload, err := specjson.Marshal(specjson.WinsizeSpec{Seq: 999, Row: 40, Column: 132})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	reply := sendAndRead(t, ch, r, ev, hostFd, wire.TypeWINSIZE, payload)
	if reply.Type != wire.TypeACK {
		t.Fatalf("type = %d, want ACK", reply.Type)
	}
}

func TestRemoveContainerUnknownErrors(t *testing.T) {
	ch, r, ev, hostFd := setup(t)

	payload, err := specjson.Marshal(specjson.ContainerRef{Container: "nope"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	reply := sendAndRead(t, ch, r, ev, hostFd, wire.TypeREMOVECONTAINER, payload)
	if reply.Type != wire.TypeERROR {
		t.Fatalf("type = %d, want ERROR", reply.Type)
	}
}

func TestStartPodRejectsMalformedJSON(t *testing.T) {
	ch, r, ev, hostFd := setup(t)

	reply := sendAndRead(t, ch, r, ev, hostFd, wire.TypeSTARTPOD, []byte("not json"))
	if reply.Type != wire.TypeERROR {
		t.Fatalf("type = %d, want ERROR", reply.Type)
	}
}
