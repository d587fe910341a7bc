// Package handlers implements each control-channel verb on
// top of internal/podstate, internal/procsup, internal/sandbox and the two
// external collaborators internal/netconf and internal/rootfs.
//
// Grounded on cmd/miniccc/commands.go's processCommand (per-field dispatch
// within a single command), restructured here into one function per verb
// to match this protocol's one-frame-one-verb shape, since the request
// payload's type alone selects the handler rather than several optional
// fields on a shared Command struct.
package handlers

import (
	"github.com/sandia-minimega/pod-init/internal/agentctx"
	"github.com/sandia-minimega/pod-init/internal/agenterr"
)

// Result is what a handler hands back to internal/control: either a
// successful payload (possibly empty, e.g. plain ACK) or an error kind
// that C3 turns into a bare ERROR frame.
//
// Deferred marks STOPPOD/DESTROYPOD's special case: no frame is emitted
// now at all; ctx.PendingStop fires later once the sandbox process has
// been reaped.
type Result struct {
	Payload  []byte
	Deferred bool
}

// Func is the shape every verb handler satisfies.
type Func func(ctx *agentctx.Context, payload []byte) (Result, error)

// Table maps a control-frame type constant (internal/wire's TypeSTARTPOD
// etc.) to its handler, populated by each verb file's init().
var Table = map[uint32]Func{}

// register is called from each verb's init() so the table stays next to
// the handler that populates it, the same "each file owns its own slice
// of the dispatch table" shape ron.go's command constants and
// cmd/miniccc/commands.go's switch cases both follow (one file, one
// concern, contributing to one shared structure).
func register(typ uint32, fn Func) {
	Table[typ] = fn
}

// ok is a small helper used throughout this package for the common
// "succeeded, no/simple payload" case.
func ok(payload []byte) (Result, error) { return Result{Payload: payload}, nil }

// fail wraps an agenterr.Kind into the (Result, error) shape
// internal/control's dispatch expects; Result is ignored when err != nil; it's returned for clarity.
func fail(kind agenterr.Kind, op string, err error) (Result, error) {
	return Result{}, agenterr.New(kind, op, err)
}
