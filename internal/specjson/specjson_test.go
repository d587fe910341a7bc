package specjson

import (
	"bytes"
	"testing"
)

func TestSplitWriteFilePayloadBasic(t *testing.T) {
	header := `{"container":"c1","path":"/tmp/x"}`
	data := []byte("raw file bytes\x00\x01\x02")

	h, p, err := SplitWriteFilePayload(append([]byte(header), data...))
	if err != nil {
		t.Fatalf("SplitWriteFilePayload: %v", err)
	}
	if string(h) != header {
		t.Errorf("header = %q, want %q", h, header)
	}
	if !bytes.Equal(p, data) {
		t.Errorf("payload = %v, want %v", p, data)
	}
}

func TestSplitWriteFilePayloadBraceInString(t *testing.T) {
	// A '}' inside a quoted string must not be mistaken for the header's
	// closing brace (§4.3's documented brittleness: this only handles a
	// literal '}' inside a string correctly, nested objects included).
	header := `{"container":"c1","path":"/tmp/{weird}.txt"}`
	data := []byte("payload")

	h, p, err := SplitWriteFilePayload(append([]byte(header), data...))
	if err != nil {
		t.Fatalf("SplitWriteFilePayload: %v", err)
	}
	if string(h) != header {
		t.Errorf("header = %q, want %q", h, header)
	}
	if string(p) != "payload" {
		t.Errorf("payload = %q, want %q", p, "payload")
	}
}

func TestSplitWriteFilePayloadEscapedQuote(t *testing.T) {
	header := `{"container":"c1","path":"/tmp/a\"b.txt"}`
	data := []byte("x")

	h, _, err := SplitWriteFilePayload(append([]byte(header), data...))
	if err != nil {
		t.Fatalf("SplitWriteFilePayload: %v", err)
	}
	if string(h) != header {
		t.Errorf("header = %q, want %q", h, header)
	}
}

func TestSplitWriteFilePayloadNoClosingBrace(t *testing.T) {
	if _, _, err := SplitWriteFilePayload([]byte(`{"container":"c1"`)); err == nil {
		t.Fatal("expected an error for a payload with no top-level '}'")
	}
}

func TestSplitWriteFilePayloadEmptyData(t *testing.T) {
	header := `{"container":"c1","path":"/tmp/x"}`
	h, p, err := SplitWriteFilePayload([]byte(header))
	if err != nil {
		t.Fatalf("SplitWriteFilePayload: %v", err)
	}
	if string(h) != header {
		t.Errorf("header = %q, want %q", h, header)
	}
	if len(p) != 0 {
		t.Errorf("payload = %v, want empty", p)
	}
}

func TestParsePodSpec(t *testing.T) {
	raw := `{"hostname":"h","containers":[{"id":"c1","rootfsPath":"/rootfs","cmd":["/bin/sleep","infinity"],"tty":true,"seq":1}]}`

	var spec PodSpec
	if err := Parse([]byte(raw), &spec); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if spec.Hostname != "h" {
		t.Errorf("Hostname = %q, want %q", spec.Hostname, "h")
	}
	if len(spec.Containers) != 1 {
		t.Fatalf("got %d containers, want 1", len(spec.Containers))
	}
	c := spec.Containers[0]
	if c.ID != "c1" || c.RootfsPath != "/rootfs" || !c.TTY || c.Seq != 1 {
		t.Errorf("got %+v", c)
	}
	if len(c.Cmd) != 2 || c.Cmd[0] != "/bin/sleep" {
		t.Errorf("Cmd = %v", c.Cmd)
	}
}

func TestParseWinsizeSpec(t *testing.T) {
	var spec WinsizeSpec
	if err := Parse([]byte(`{"seq":7,"row":40,"column":132}`), &spec); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if spec.Seq != 7 || spec.Row != 40 || spec.Column != 132 {
		t.Errorf("got %+v", spec)
	}
}

func TestParseKillSpec(t *testing.T) {
	var spec KillSpec
	if err := Parse([]byte(`{"container":"c1","signal":9}`), &spec); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if spec.Container != "c1" || spec.Signal != 9 {
		t.Errorf("got %+v", spec)
	}
}

func TestParseInvalidJSON(t *testing.T) {
	var spec PodSpec
	if err := Parse([]byte(`not json`), &spec); err == nil {
		t.Fatal("expected an error parsing invalid JSON")
	}
}
