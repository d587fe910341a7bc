package handlers

import (
	"encoding/binary"

	"github.com/sandia-minimega/pod-init/internal/agentctx"
	"github.com/sandia-minimega/pod-init/internal/agentlog"
	"github.com/sandia-minimega/pod-init/internal/wire"
)

func init() {
	register(wire.TypeGETVERSION, getVersion)
	register(wire.TypePING, ping)
	register(wire.TypeGETPOD, getPod)
	register(wire.TypeREADY, rescan)
	register(wire.TypeONLINECPUMEM, onlineCPUMem)
}

// getVersion replies with the 4-byte API version.
func getVersion(ctx *agentctx.Context, payload []byte) (Result, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, wire.APIVersion)
	return ok(buf)
}

// ping is a bare liveness check.
func ping(ctx *agentctx.Context, payload []byte) (Result, error) {
	return ok(nil)
}

// getPod is a bare liveness check scoped to pod state.
func getPod(ctx *agentctx.Context, payload []byte) (Result, error) {
	return ok(nil)
}

// rescan handles the READY verb sent by the host (distinct from the
// agent's own boot-time READY announcement): it asks the agent to
// rescan devices. Device rescanning is platform boot glue handled
// elsewhere; this still ACKs so the host's retry loop does not stall.
func rescan(ctx *agentctx.Context, payload []byte) (Result, error) {
	agentlog.Debug("handlers: READY (rescan) requested")
	return ok(nil)
}

// onlineCPUMem acknowledges an onlined-resource notification from the
// forked hotplug helper. Resource accounting itself is out of scope; the
// agent only needs to observe and ACK.
func onlineCPUMem(ctx *agentctx.Context, payload []byte) (Result, error) {
	agentlog.Debug("handlers: ONLINECPUMEM notification")
	return ok(nil)
}
