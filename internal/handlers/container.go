package handlers

import (
	"fmt"
	"syscall"

	"github.com/sandia-minimega/pod-init/internal/agentctx"
	"github.com/sandia-minimega/pod-init/internal/agenterr"
	"github.com/sandia-minimega/pod-init/internal/netconf"
	"github.com/sandia-minimega/pod-init/internal/podstate"
	"github.com/sandia-minimega/pod-init/internal/procsup"
	"github.com/sandia-minimega/pod-init/internal/specjson"
	"github.com/sandia-minimega/pod-init/internal/wire"
)

func init() {
	register(wire.TypeNEWCONTAINER, newContainer)
	register(wire.TypeKILLCONTAINER, killContainer)
	register(wire.TypeREMOVECONTAINER, removeContainer)
}

// startContainer is the shared "build one container and its primary
// exec" path used by both STARTPOD's batch and NEWCONTAINER.
func startContainer(ctx *agentctx.Context, spec specjson.ContainerSpec) (*podstate.Container, error) {
	if spec.ID == "" {
		return nil, agenterr.New(agenterr.ParseError, "startContainer", fmt.Errorf("empty container id"))
	}

	desc, err := ctx.Rootfs.Prepare(spec.ID, spec.RootfsPath, spec.Cmd, spec.Env, spec.Workdir)
	if err != nil {
		return nil, agenterr.New(agenterr.Os, "startContainer: prepare rootfs", err)
	}

	c := &podstate.Container{ID: spec.ID, MntNsFd: desc.MntNsFd}
	if err := ctx.Pod.AddContainer(c); err != nil {
		ctx.Rootfs.Cleanup(desc)
		return nil, err
	}
	c.Cleanups = append(c.Cleanups, func() error { return ctx.Rootfs.Cleanup(desc) })

	e, err := ctx.Execs.Spawn(procsup.SpawnParams{
		Seq:         spec.Seq,
		ContainerID: spec.ID,
		TTY:         spec.TTY,
		Cmd:         desc.Cmd,
		Env:         desc.Env,
		Workdir:     desc.Workdir,
		MntNsFd:     desc.MntNsFd,
		PodNS:       ctx.Sandbox.NS,
		IsPrimary:   true,
	})
	if err != nil {
		ctx.Pod.RemoveContainer(spec.ID)
		for _, cl := range c.Cleanups {
			cl()
		}
		return nil, agenterr.New(agenterr.Os, "startContainer: spawn primary", err)
	}
	c.Primary = e

	for _, iface := range spec.Interfaces {
		if err := netconf.ConfigureInterface(iface); err != nil {
			return nil, agenterr.New(agenterr.Os, "startContainer: configure interface", err)
		}
	}
	for _, route := range spec.Routes {
		if err := netconf.ConfigureRoute(route); err != nil {
			return nil, agenterr.New(agenterr.Os, "startContainer: configure route", err)
		}
	}

	return c, nil
}

// newContainer implements NEWCONTAINER: add and start one container
// against an already-running pod.
func newContainer(ctx *agentctx.Context, payload []byte) (Result, error) {
	if ctx.Pod.InitPid == 0 {
		return fail(agenterr.Internal, "NewContainer", fmt.Errorf("pod not started"))
	}

	var spec specjson.ContainerSpec
	if err := specjson.Parse(payload, &spec); err != nil {
		return fail(agenterr.ParseError, "NewContainer", err)
	}

	if _, err := startContainer(ctx, spec); err != nil {
		return Result{}, err
	}

	ctx.Pod.SetRemains(ctx.Pod.Remains + 1)
	return ok(nil)
}

// killContainer implements KILLCONTAINER: kill(primary_exec.pid, signal).
func killContainer(ctx *agentctx.Context, payload []byte) (Result, error) {
	var spec specjson.KillSpec
	if err := specjson.Parse(payload, &spec); err != nil {
		return fail(agenterr.ParseError, "KillContainer", err)
	}

	c, err := ctx.Pod.Container(spec.Container)
	if err != nil {
		return Result{}, err
	}
	if c.Primary == nil {
		return fail(agenterr.Internal, "KillContainer", fmt.Errorf("container %s has no primary exec", spec.Container))
	}

	// c.Primary.PID is the ns-exec shim's pid, not the workload it forked
	// after setns (CLONE_NEWPID only applies to the shim's own future
	// children). The workload inherits the shim's process group, so
	// signal the whole group (negative pid) rather than just the shim --
	// otherwise a non-terminal signal kills the shim and leaves the real
	// process running until pod teardown's TerminateAll sweep.
	if err := syscall.Kill(-c.Primary.PID, procSignal(spec.Signal)); err != nil {
		return fail(agenterr.Os, "KillContainer", err)
	}
	return ok(nil)
}

// removeContainer implements REMOVECONTAINER: requires the primary exec
// has already exited.
func removeContainer(ctx *agentctx.Context, payload []byte) (Result, error) {
	var ref specjson.ContainerRef
	if err := specjson.Parse(payload, &ref); err != nil {
		return fail(agenterr.ParseError, "RemoveContainer", err)
	}

	c, err := ctx.Pod.Container(ref.Container)
	if err != nil {
		return Result{}, err
	}
	if c.Primary == nil || !c.Primary.Exit {
		return fail(agenterr.Busy, "RemoveContainer", fmt.Errorf("container %s still running", ref.Container))
	}

	for _, cl := range c.Cleanups {
		if cerr := cl(); cerr != nil {
			return fail(agenterr.Os, "RemoveContainer: cleanup", cerr)
		}
	}
	if c.Primary != nil {
		ctx.Pod.RemoveExec(c.Primary.Seq)
	}
	if err := ctx.Pod.RemoveContainer(ref.Container); err != nil {
		return Result{}, err
	}

	return ok(nil)
}
