package executor

import (
	"fmt"

	"github.com/codrhq/codr/internal/config"
)

// sandboxArgv wraps a command line with the sandbox binary and its
// containment flags. The wrapper confines the process to workdir, cuts the
// network, and applies the resource limits; timeoutSec is a backstop behind
// the supervisor's own wall clock. An empty SandboxBinary runs the command
// bare, which is only acceptable for tests and trusted development.
func sandboxArgv(cfg *config.Config, workdir string, timeoutSec int, command []string) []string {
	if cfg.SandboxBinary == "" {
		return command
	}

	argv := []string{cfg.SandboxBinary}
	if cfg.SandboxProfile != "" {
		argv = append(argv, "--profile="+cfg.SandboxProfile)
	}
	argv = append(argv,
		"--quiet",
		"--private="+workdir,
		"--net=none",
		"--nodbus",
		"--noroot",
		fmt.Sprintf("--rlimit-as=%d", cfg.MaxMemoryMiB*1024*1024),
		fmt.Sprintf("--rlimit-cpu=%d", timeoutSec),
		fmt.Sprintf("--rlimit-fsize=%d", cfg.MaxFileSizeMiB*1024*1024),
		"--timeout=" + clockFormat(timeoutSec+2),
	)
	return append(argv, command...)
}

// clockFormat renders seconds as the hh:mm:ss form the wrapper expects.
func clockFormat(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds/60)%60, seconds%60)
}
