package handlers

import (
	"github.com/sandia-minimega/pod-init/internal/agentctx"
	"github.com/sandia-minimega/pod-init/internal/agenterr"
	"github.com/sandia-minimega/pod-init/internal/fileio"
	"github.com/sandia-minimega/pod-init/internal/specjson"
	"github.com/sandia-minimega/pod-init/internal/wire"
)

func init() {
	register(wire.TypeWRITEFILE, writeFile)
	register(wire.TypeREADFILE, readFile)
}

// writeFile implements WRITEFILE. The payload is a JSON header followed
// immediately by the raw bytes to write, split at the header's closing
// brace; the write itself happens inside a helper that has entered the
// target container's mount namespace.
func writeFile(ctx *agentctx.Context, payload []byte) (Result, error) {
	header, data, err := specjson.SplitWriteFilePayload(payload)
	if err != nil {
		return fail(agenterr.ParseError, "WriteFile", err)
	}

	var cmd specjson.FileCmd
	if err := specjson.Parse(header, &cmd); err != nil {
		return fail(agenterr.ParseError, "WriteFile", err)
	}

	c, err := ctx.Pod.Container(cmd.Container)
	if err != nil {
		return Result{}, err
	}

	if err := fileio.Write(ctx.SelfPath, c.MntNsFd, cmd.Path, data); err != nil {
		return fail(agenterr.Os, "WriteFile", err)
	}
	return ok(nil)
}

// readFile implements READFILE: the returned ACK payload is the raw file
// content, with no JSON wrapping.
func readFile(ctx *agentctx.Context, payload []byte) (Result, error) {
	var cmd specjson.FileCmd
	if err := specjson.Parse(payload, &cmd); err != nil {
		return fail(agenterr.ParseError, "ReadFile", err)
	}

	c, err := ctx.Pod.Container(cmd.Container)
	if err != nil {
		return Result{}, err
	}

	data, err := fileio.Read(ctx.SelfPath, c.MntNsFd, cmd.Path)
	if err != nil {
		return fail(agenterr.Os, "ReadFile", err)
	}
	return ok(data)
}
