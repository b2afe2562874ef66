package executor

import (
	"context"
	"os"

	"github.com/codrhq/codr/internal/config"
)

// interpretedExecutor runs source directly under an interpreter.
type interpretedExecutor struct {
	cfg     *config.Config
	command string
}

func (e *interpretedExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	workdir, err := writeSource(req.Source, req.Filename)
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(workdir)

	// The process runs with workdir as its working directory, so the
	// filename resolves both bare and under the sandbox's private mount.
	command := []string{e.command, req.Filename}
	argv := sandboxArgv(e.cfg, workdir, e.cfg.ExecutionTimeoutSec, command)

	return runPTY(ctx, e.cfg, workdir, argv, req.OnOutput, req.Input)
}
