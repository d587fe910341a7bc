package fileio

import (
	"os"
	"testing"
)

func TestWriteResultReadResultRoundTripSuccess(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()

	go func() {
		writeResult(w, true, []byte("file contents"))
		w.Close()
	}()

	ok, payload, err := readResult(r)
	if err != nil {
		t.Fatalf("readResult: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if string(payload) != "file contents" {
		t.Errorf("payload = %q, want %q", payload, "file contents")
	}
}

func TestWriteResultReadResultRoundTripFailure(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()

	go func() {
		writeResult(w, false, []byte("no such file"))
		w.Close()
	}()

	ok, payload, err := readResult(r)
	if err != nil {
		t.Fatalf("readResult: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false")
	}
	if string(payload) != "no such file" {
		t.Errorf("payload = %q, want %q", payload, "no such file")
	}
}

func TestWriteResultReadResultEmptyPayload(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()

	go func() {
		writeResult(w, true, nil)
		w.Close()
	}()

	ok, payload, err := readResult(r)
	if err != nil {
		t.Fatalf("readResult: %v", err)
	}
	if !ok || len(payload) != 0 {
		t.Errorf("got ok=%v payload=%v, want ok=true empty payload", ok, payload)
	}
}
