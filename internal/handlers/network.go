package handlers

import (
	"github.com/sandia-minimega/pod-init/internal/agentctx"
	"github.com/sandia-minimega/pod-init/internal/agenterr"
	"github.com/sandia-minimega/pod-init/internal/netconf"
	"github.com/sandia-minimega/pod-init/internal/specjson"
	"github.com/sandia-minimega/pod-init/internal/wire"
)

func init() {
	register(wire.TypeSETUPINTERFACE, setupInterface)
	register(wire.TypeSETUPROUTE, setupRoute)
}

// setupInterface delegates to the network collaborator.
func setupInterface(ctx *agentctx.Context, payload []byte) (Result, error) {
	var spec specjson.InterfaceSpec
	if err := specjson.Parse(payload, &spec); err != nil {
		return fail(agenterr.ParseError, "SetupInterface", err)
	}
	if err := netconf.ConfigureInterface(spec); err != nil {
		return fail(agenterr.Os, "SetupInterface", err)
	}
	return ok(nil)
}

// setupRoute delegates to the network collaborator.
func setupRoute(ctx *agentctx.Context, payload []byte) (Result, error) {
	var spec specjson.RouteSpec
	if err := specjson.Parse(payload, &spec); err != nil {
		return fail(agenterr.ParseError, "SetupRoute", err)
	}
	if err := netconf.ConfigureRoute(spec); err != nil {
		return fail(agenterr.Os, "SetupRoute", err)
	}
	return ok(nil)
}
