package agentlog

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	AddLogger("test-warn", &buf, WARN)
	defer DelLogger("test-warn")

	Debug("should not appear")
	Info("should not appear either")
	Warn("this one should appear: %d", 7)

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("lower-severity messages leaked through: %q", out)
	}
	if !strings.Contains(out, "this one should appear: 7") {
		t.Errorf("expected the WARN message in output, got %q", out)
	}
}

func TestSetLevelChangesFiltering(t *testing.T) {
	var buf bytes.Buffer
	AddLogger("test-setlevel", &buf, ERROR)
	defer DelLogger("test-setlevel")

	Info("hidden at ERROR level")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatal("INFO message should have been filtered at ERROR level")
	}

	SetLevel("test-setlevel", INFO)
	Info("visible now")
	if !strings.Contains(buf.String(), "visible now") {
		t.Error("expected INFO message to appear after SetLevel(INFO)")
	}
}

func TestDelLoggerStopsOutput(t *testing.T) {
	var buf bytes.Buffer
	AddLogger("test-del", &buf, DEBUG)
	DelLogger("test-del")

	Info("should not be written anywhere relevant")
	if strings.Contains(buf.String(), "should not be written") {
		t.Error("expected no output after DelLogger")
	}
}

func TestLevelString(t *testing.T) {
	cases := map[Level]string{DEBUG: "DEBUG", INFO: "INFO", WARN: "WARN", ERROR: "ERROR", FATAL: "FATAL"}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}
