package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestControlRoundTrip(t *testing.T) {
	cases := []struct {
		typ     uint32
		payload []byte
	}{
		{TypeGETVERSION, nil},
		{TypeACK, []byte{0, 0, 0, 1}},
		{TypeSTARTPOD, []byte(`{"hostname":"h","containers":[]}`)},
	}

	for _, c := range cases {
		encoded := EncodeControl(c.typ, c.payload)

		var dec ControlDecoder
		frames, err := dec.Feed(encoded)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		if len(frames) != 1 {
			t.Fatalf("got %d frames, want 1", len(frames))
		}
		if frames[0].Type != c.typ {
			t.Errorf("type = %d, want %d", frames[0].Type, c.typ)
		}
		if !bytes.Equal(frames[0].Payload, c.payload) {
			t.Errorf("payload = %v, want %v", frames[0].Payload, c.payload)
		}
	}
}

func TestControlDecoderFeedsIncrementally(t *testing.T) {
	encoded := EncodeControl(TypePING, []byte("hello"))

	var dec ControlDecoder
	// Feed one byte at a time; only the last Feed call should produce a
	// frame.
	var got []ControlFrame
	for i := 0; i < len(encoded); i++ {
		frames, err := dec.Feed(encoded[i : i+1])
		if err != nil {
			t.Fatalf("Feed byte %d: %v", i, err)
		}
		got = append(got, frames...)
	}

	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	if got[0].Type != TypePING || string(got[0].Payload) != "hello" {
		t.Errorf("got %+v", got[0])
	}
}

func TestControlDecoderMultipleFramesInOneFeed(t *testing.T) {
	a := EncodeControl(TypePING, nil)
	b := EncodeControl(TypeGETPOD, nil)

	var dec ControlDecoder
	frames, err := dec.Feed(append(a, b...))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Type != TypePING || frames[1].Type != TypeGETPOD {
		t.Errorf("got types %d, %d", frames[0].Type, frames[1].Type)
	}
}

func TestControlOversizedFrameIsFatal(t *testing.T) {
	buf := make([]byte, ControlHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], TypeSTARTPOD)
	binary.BigEndian.PutUint32(buf[4:8], ControlMaxFrame+1)

	var dec ControlDecoder
	if _, err := dec.Feed(buf); err == nil {
		t.Fatal("expected an error for a frame exceeding ControlMaxFrame")
	}
}

func TestControlLengthSmallerThanHeaderIsFatal(t *testing.T) {
	buf := make([]byte, ControlHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], TypePING)
	binary.BigEndian.PutUint32(buf[4:8], 4) // smaller than the 8-byte header

	var dec ControlDecoder
	if _, err := dec.Feed(buf); err == nil {
		t.Fatal("expected an error for length < header size")
	}
}

func TestTtyRoundTrip(t *testing.T) {
	encoded := EncodeTty(42, []byte("hello\n"))

	var dec TtyDecoder
	frames, err := dec.Feed(encoded)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Seq != 42 {
		t.Errorf("seq = %d, want 42", frames[0].Seq)
	}
	if string(frames[0].Payload) != "hello\n" {
		t.Errorf("payload = %q, want %q", frames[0].Payload, "hello\n")
	}
	if frames[0].EOF() {
		t.Error("non-empty frame reported as EOF")
	}
}

func TestTtyEOFFrame(t *testing.T) {
	encoded := EncodeTtyEOF(99)
	if len(encoded) != TtyHeaderLen {
		t.Fatalf("EOF frame length = %d, want %d", len(encoded), TtyHeaderLen)
	}

	var dec TtyDecoder
	frames, err := dec.Feed(encoded)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(frames) != 1 || !frames[0].EOF() {
		t.Fatalf("expected a single EOF frame, got %+v", frames)
	}
	if frames[0].Seq != 99 {
		t.Errorf("seq = %d, want 99", frames[0].Seq)
	}
}

func TestTtyOversizedFrameIsFatal(t *testing.T) {
	buf := make([]byte, TtyHeaderLen)
	binary.BigEndian.PutUint64(buf[0:8], 1)
	binary.BigEndian.PutUint32(buf[8:12], TtyMaxFrame+1)

	var dec TtyDecoder
	if _, err := dec.Feed(buf); err == nil {
		t.Fatal("expected an error for a tty frame exceeding TtyMaxFrame")
	}
}

func TestTtyDecoderPending(t *testing.T) {
	var dec TtyDecoder
	partial := EncodeTty(1, []byte("abc"))[:TtyHeaderLen-1]
	if _, err := dec.Feed(partial); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if dec.Pending() != len(partial) {
		t.Errorf("Pending() = %d, want %d", dec.Pending(), len(partial))
	}
}
