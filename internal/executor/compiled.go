package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/codrhq/codr/internal/config"
)

// binaryName is the fixed output name of the compile step.
const binaryName = "program"

// compiledExecutor compiles source to a binary in the scratch directory and
// runs the binary under the PTY supervisor.
type compiledExecutor struct {
	cfg      *config.Config
	compiler string
	flags    []string
}

func (e *compiledExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	workdir, err := writeSource(req.Source, req.Filename)
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(workdir)

	if res, ok := e.compile(ctx, workdir, req.Filename); !ok {
		return res, nil
	}

	command := []string{"./" + binaryName}
	argv := sandboxArgv(e.cfg, workdir, e.cfg.ExecutionTimeoutSec, command)

	return runPTY(ctx, e.cfg, workdir, argv, req.OnOutput, req.Input)
}

// compile runs the compiler with its own timeout. On failure the returned
// result carries the sanitized compiler log on stderr.
func (e *compiledExecutor) compile(ctx context.Context, workdir, filename string) (Result, bool) {
	timeout := time.Duration(e.cfg.CompilationTimeoutSec) * time.Second
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Source first, flags after: library flags must follow the objects
	// that need them.
	args := []string{filename, "-o", binaryName}
	args = append(args, e.flags...)

	cmd := exec.CommandContext(cctx, e.compiler, args...)
	cmd.Dir = workdir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start).Seconds()
	if err == nil {
		return Result{}, true
	}

	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return Result{
			Success:    false,
			ExitCode:   ExitCompileFailed,
			ElapsedSec: elapsed,
			Stderr:     fmt.Sprintf("compilation timed out after %ds", e.cfg.CompilationTimeoutSec),
		}, false
	}

	return Result{
		Success:    false,
		ExitCode:   ExitCompileFailed,
		ElapsedSec: elapsed,
		Stderr:     sanitizeCompileLog(output.String(), workdir, filename),
	}, false
}

// sanitizeCompileLog strips scratch-directory paths from compiler output so
// the user sees their own filename, not server paths.
func sanitizeCompileLog(log, workdir, filename string) string {
	log = strings.ReplaceAll(log, workdir+"/", "")
	log = strings.ReplaceAll(log, workdir, "")
	// Compilers sometimes print resolved temp paths the replacement above
	// missed; collapse those onto the logical filename. The scan resumes
	// after each insertion so a filename that itself contains the scratch
	// prefix cannot be matched again.
	const scratch = "codr-job-"
	for off := 0; ; {
		i := strings.Index(log[off:], scratch)
		if i < 0 {
			break
		}
		i += off
		start := i
		for start > off && log[start-1] != ' ' && log[start-1] != '\n' {
			start--
		}
		end := i
		for end < len(log) && log[end] != ' ' && log[end] != ':' && log[end] != '\n' {
			end++
		}
		log = log[:start] + filename + log[end:]
		off = start + len(filename)
	}
	return log
}
