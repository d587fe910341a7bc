package handlers

import (
	"fmt"
	"syscall"

	"github.com/sandia-minimega/pod-init/internal/agentctx"
	"github.com/sandia-minimega/pod-init/internal/agenterr"
	"github.com/sandia-minimega/pod-init/internal/procsup"
	"github.com/sandia-minimega/pod-init/internal/specjson"
	"github.com/sandia-minimega/pod-init/internal/wire"
)

func init() {
	register(wire.TypeEXECCMD, execCmd)
	register(wire.TypeWINSIZE, winsize)
}

// procSignal converts the wire-level int signal number into a
// syscall.Signal for syscall.Kill.
func procSignal(n int) syscall.Signal { return syscall.Signal(n) }

// execCmd implements EXECCMD: spawn an additional process inside an
// already-running container.
func execCmd(ctx *agentctx.Context, payload []byte) (Result, error) {
	var spec specjson.ExecSpec
	if err := specjson.Parse(payload, &spec); err != nil {
		return fail(agenterr.ParseError, "ExecCmd", err)
	}

	c, err := ctx.Pod.Container(spec.Container)
	if err != nil {
		return Result{}, err
	}
	if len(spec.Cmd) == 0 {
		return fail(agenterr.ParseError, "ExecCmd", fmt.Errorf("empty command"))
	}

	_, err = ctx.Execs.Spawn(procsup.SpawnParams{
		Seq:         spec.Seq,
		ContainerID: spec.Container,
		TTY:         spec.TTY,
		Cmd:         spec.Cmd,
		Env:         spec.Env,
		Workdir:     spec.Workdir,
		MntNsFd:     c.MntNsFd,
		PodNS:       ctx.Sandbox.NS,
	})
	if err != nil {
		return fail(agenterr.Os, "ExecCmd", err)
	}

	return ok(nil)
}

// winsize implements WINSIZE: apply {rows, cols} to the matching exec's
// PTY, a no-op (still ACK) for a non-PTY exec or unknown seq.
func winsize(ctx *agentctx.Context, payload []byte) (Result, error) {
	var spec specjson.WinsizeSpec
	if err := specjson.Parse(payload, &spec); err != nil {
		return fail(agenterr.ParseError, "Winsize", err)
	}

	e, err := ctx.Pod.Exec(spec.Seq)
	if err != nil {
		// Unknown seq: no-op, still ACK.
		return ok(nil)
	}

	if err := ctx.Execs.Resize(e, spec.Row, spec.Column); err != nil {
		return fail(agenterr.Os, "Winsize", err)
	}
	return ok(nil)
}
