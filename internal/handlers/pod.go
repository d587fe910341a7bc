package handlers

import (
	"fmt"
	"os"
	"syscall"

	"github.com/sandia-minimega/pod-init/internal/agentctx"
	"github.com/sandia-minimega/pod-init/internal/agenterr"
	"github.com/sandia-minimega/pod-init/internal/agentlog"
	"github.com/sandia-minimega/pod-init/internal/netconf"
	"github.com/sandia-minimega/pod-init/internal/reaper"
	"github.com/sandia-minimega/pod-init/internal/specjson"
	"github.com/sandia-minimega/pod-init/internal/wire"
)

// sharedDirPath is the fixed mountpoint for a pod's shared directory.
const sharedDirPath = "/tmp/hyper/shared"

func init() {
	register(wire.TypeSTARTPOD, startPod)
	register(wire.TypeSTOPPOD, stopPod)
	register(wire.TypeDESTROYPOD, destroyPod)
}

// startPod implements STARTPOD: build the pod, start the sandbox, set up
// externals, start all containers.
func startPod(ctx *agentctx.Context, payload []byte) (Result, error) {
	if ctx.Pod.InitPid != 0 {
		return fail(agenterr.Internal, "StartPod", fmt.Errorf("pod already started"))
	}

	var spec specjson.PodSpec
	if err := specjson.Parse(payload, &spec); err != nil {
		return fail(agenterr.ParseError, "StartPod", err)
	}

	if spec.Hostname != "" && !netconf.ValidHostname(spec.Hostname) {
		return fail(agenterr.ParseError, "StartPod", fmt.Errorf("invalid hostname %q", spec.Hostname))
	}

	if err := ctx.Sandbox.Start(spec.Hostname); err != nil {
		return fail(agenterr.Os, "StartPod: sandbox", err)
	}

	ctx.Pod.Hostname = spec.Hostname
	ctx.Pod.ShareTag = spec.ShareTag
	ctx.Pod.InitPid = ctx.Sandbox.InitPid

	if len(spec.DNS) > 0 {
		if err := netconf.WriteResolvConf("/etc/resolv.conf", spec.DNS); err != nil {
			agentlog.Warn("StartPod: write resolv.conf: %v", err)
		}
	}

	if spec.ShareTag != "" {
		if err := mountShared(spec.ShareTag); err != nil {
			agentlog.Warn("StartPod: mount shared dir: %v", err)
		}
	}

	started := 0
	for _, cs := range spec.Containers {
		if _, err := startContainer(ctx, cs); err != nil {
			return Result{}, err
		}
		started++
	}
	ctx.Pod.SetRemains(started)

	return ok(nil)
}

// stopPod implements STOPPOD: initiate graceful termination; the ACK is
// deferred until the sandbox process itself has been reaped.
func stopPod(ctx *agentctx.Context, payload []byte) (Result, error) {
	if ctx.Pod.InitPid == 0 {
		return fail(agenterr.Internal, "StopPod", fmt.Errorf("pod not started"))
	}

	reaper.TerminateAll()
	ctx.PendingStop = func() {
		if ctx.Pod.ShareTag != "" {
			unmountShared()
		}
		ctx.QueueReply(wire.TypeACK, nil)
	}

	return Result{Deferred: true}, nil
}

// destroyPod implements DESTROYPOD: like StopPod but the agent shuts down
// once teardown completes, with no reply frame at all.
func destroyPod(ctx *agentctx.Context, payload []byte) (Result, error) {
	ctx.Destroying = true

	if ctx.Pod.InitPid == 0 {
		// Never started -- nothing to tear down, exit immediately.
		close(ctx.StopCh)
		return Result{Deferred: true}, nil
	}

	reaper.TerminateAll()
	ctx.PendingStop = func() {
		if ctx.Pod.ShareTag != "" {
			unmountShared()
		}
		close(ctx.StopCh)
	}

	return Result{Deferred: true}, nil
}

// mountShared mounts the pod's share-tagged 9p directory.
func mountShared(tag string) error {
	if err := os.MkdirAll(sharedDirPath, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", sharedDirPath, err)
	}
	const opts = "trans=virtio,version=9p2000.L,cache=mmap"
	if err := syscall.Mount(tag, sharedDirPath, "9p", 0, opts); err != nil {
		return fmt.Errorf("mount 9p %s: %w", sharedDirPath, err)
	}
	return nil
}

// unmountShared's cleanup order is unmount, then lazy unmount, then
// rmdir, then sync.
func unmountShared() {
	if err := syscall.Unmount(sharedDirPath, 0); err != nil {
		syscall.Unmount(sharedDirPath, syscall.MNT_DETACH)
	}
	os.Remove(sharedDirPath)
	syscall.Sync()
}
