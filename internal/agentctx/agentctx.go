// Package agentctx aggregates every collaborator a command handler
// needs so internal/control and internal/handlers can share state without
// an import cycle: the pod registry, the exec supervisor, the sandbox
// builder, the tty multiplexer, and the rootfs collaborator (the network
// collaborator, internal/netconf, is called as a package).
//
// Grounded on the single long-lived "client" struct cmd/miniccc/client.go
// threads through its whole mux/commandHandler/dial pipeline (client.UUID,
// client.conn, client.commandChan, ...) -- this is that same shape,
// generalized from one struct embedding everything ad hoc to one struct
// deliberately built as a single long-lived context passed to handlers,
// not process-wide variables.
package agentctx

import (
	"github.com/sandia-minimega/pod-init/internal/podstate"
	"github.com/sandia-minimega/pod-init/internal/procsup"
	"github.com/sandia-minimega/pod-init/internal/rootfs"
	"github.com/sandia-minimega/pod-init/internal/sandbox"
	"github.com/sandia-minimega/pod-init/internal/ttymux"
)

// TtySink is the subset of *ttymux.Mux the Context carries; cmd/podinit
// sets it to the tty multiplexer. No command handler reads it.
type TtySink interface {
	SendData(seq uint64, data []byte)
	SendEOF(seq uint64)
}

// Context is the one struct threaded through every command handler.
type Context struct {
	Pod     *podstate.Pod
	Execs   *procsup.Supervisor
	Tty     TtySink
	Sandbox *sandbox.Builder
	Rootfs  rootfs.Preparer
	SelfPath string

	// StopCh is closed to tell the reactor's Run loop to return, used by
	// DESTROYPOD once teardown completes.
	StopCh chan struct{}

	// PendingStop, when non-nil, is the deferred-ACK callback for an
	// in-flight STOPPOD/DESTROYPOD request. Set by the STOPPOD/DESTROYPOD handler,
	// invoked once pod.InitPid has been reaped.
	PendingStop func()

	// Destroying marks that the pending stop is a DESTROYPOD, so once it
	// completes the agent should exit rather than just ACK.
	Destroying bool

	// QueueReply sends a frame on the control channel outside the normal
	// one-request-one-reply flow -- used only for the deferred ACK that
	// follows STOPPOD. Wired by internal/control at startup.
	QueueReply func(typ uint32, payload []byte)
}

// New builds an empty Context around a fresh, unstarted pod.
func New(selfPath string) *Context {
	return &Context{
		Pod:      podstate.New(),
		Sandbox:  &sandbox.Builder{},
		Rootfs:   rootfs.Default{},
		SelfPath: selfPath,
		StopCh:   make(chan struct{}),
	}
}
