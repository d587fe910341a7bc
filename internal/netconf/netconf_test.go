package netconf

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidHostname(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"h", true},
		{"my-pod", true},
		{"", false},
	}

	for _, c := range cases {
		if got := ValidHostname(c.name); got != c.want {
			t.Errorf("ValidHostname(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestWriteResolvConf(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resolv.conf")

	if err := WriteResolvConf(path, []string{"1.1.1.1", "8.8.8.8"}); err != nil {
		t.Fatalf("WriteResolvConf: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	want := "nameserver 1.1.1.1\nnameserver 8.8.8.8\n"
	if string(data) != want {
		t.Errorf("got %q, want %q", data, want)
	}
}
