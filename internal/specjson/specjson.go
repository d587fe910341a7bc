// Package specjson defines the typed records the host sends as control
// frame payloads. Made concrete with the standard library's encoding/json, the
// same choice the teacher makes for its own wire structs (internal/ron's
// Command/Response) -- there is no schema/codegen JSON library anywhere in
// the retrieval pack, so this is squarely "the teacher's way".
package specjson

import (
	"encoding/json"
	"fmt"
)

// PodSpec is the STARTPOD payload.
type PodSpec struct {
	Hostname   string          `json:"hostname"`
	ShareTag   string          `json:"shareTag,omitempty"`
	DNS        []string        `json:"dns,omitempty"`
	Containers []ContainerSpec `json:"containers"`
}

// ContainerSpec describes one container, whether batched inside a PodSpec
// or sent standalone via NEWCONTAINER.
type ContainerSpec struct {
	ID           string            `json:"id"`
	RootfsPath   string            `json:"rootfsPath"`
	Cmd          []string          `json:"cmd"`
	Env          []string          `json:"env,omitempty"`
	Workdir      string            `json:"workdir,omitempty"`
	TTY          bool              `json:"tty"`
	Seq          uint64            `json:"seq"`
	Interfaces   []InterfaceSpec   `json:"interfaces,omitempty"`
	Routes       []RouteSpec       `json:"routes,omitempty"`
	Annotations  map[string]string `json:"annotations,omitempty"`
}

// ExecSpec is the EXECCMD payload: an additional process inside an already
// running container.
type ExecSpec struct {
	Container string   `json:"container"`
	Seq       uint64   `json:"seq"`
	TTY       bool     `json:"tty"`
	Cmd       []string `json:"cmd"`
	Env       []string `json:"env,omitempty"`
	Workdir   string   `json:"workdir,omitempty"`
}

// ContainerRef is the payload shared by KILLCONTAINER/REMOVECONTAINER.
type ContainerRef struct {
	Container string `json:"container"`
}

// KillSpec is the KILLCONTAINER payload.
type KillSpec struct {
	Container string `json:"container"`
	Signal    int    `json:"signal"`
}

// WinsizeSpec is the WINSIZE payload.
type WinsizeSpec struct {
	Seq    uint64 `json:"seq"`
	Row    uint16 `json:"row"`
	Column uint16 `json:"column"`
}

// FileCmd is the JSON header preceding WRITEFILE's raw byte payload, and
// the entire payload of READFILE.
type FileCmd struct {
	Container string `json:"container"`
	Path      string `json:"path"`
}

// InterfaceSpec describes a guest network interface for the network
// collaborator.
type InterfaceSpec struct {
	Name    string   `json:"name"`
	IPAddrs []string `json:"ipAddrs"`
	Mtu     int      `json:"mtu,omitempty"`
}

// RouteSpec describes a guest route for the network collaborator.
type RouteSpec struct {
	Dest    string `json:"dest"`
	Gateway string `json:"gateway,omitempty"`
	Device  string `json:"device"`
}

// Parse is a thin wrapper so callers never import encoding/json directly.
func Parse(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Marshal renders v back to JSON. No agent reply uses it (READFILE's ACK
// carries the raw file bytes); tests use it to build request payloads.
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// SplitWriteFilePayload implements WRITEFILE's brittle-by-design framing
// rule: the header is everything up to and including the first '}' that
// closes the JSON object starting at depth 0; everything after it is the
// raw file payload. A '}' inside a quoted string does not count, but this
// does not attempt full JSON validation beyond that.
func SplitWriteFilePayload(data []byte) (header, payload []byte, err error) {
	depth := 0
	inString := false
	escaped := false

	for i, b := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return data[:i+1], data[i+1:], nil
			}
		}
	}

	return nil, nil, fmt.Errorf("specjson: no top-level '}' found in WRITEFILE payload")
}
