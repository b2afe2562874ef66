// Package executor runs untrusted source under a PTY inside a sandbox
// wrapper. One Execute call is one job: write the source to a scratch
// directory, optionally compile it, run it with the wall clock enforced,
// and report the collected output and exit code.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/codrhq/codr/internal/config"
	"github.com/codrhq/codr/internal/protocol"
)

// Exit codes for abnormal termination.
const (
	// ExitCompileFailed reports a failed compile step.
	ExitCompileFailed = -1

	// ExitKilled reports a process killed by the supervisor, wall-clock
	// timeouts included.
	ExitKilled = -9
)

var ErrUnsupportedLanguage = errors.New("unsupported language")

// Result is the outcome of a single execution.
type Result struct {
	Success    bool
	ExitCode   int
	ElapsedSec float64
	Stdout     string
	Stderr     string
}

// Request describes one execution. OnOutput, when set, is called from the
// supervision loop with each chunk of PTY output as it arrives; the chunk
// is only valid for the duration of the call.
type Request struct {
	Source   string
	Filename string
	OnOutput func(chunk []byte)
	Input    *InputQueue
}

// Executor runs source for one language. A non-nil error reports an
// infrastructure fault; user-visible outcomes, compile failures and
// timeouts included, come back in the Result.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// New returns the executor for a language.
func New(language protocol.Language, cfg *config.Config) (Executor, error) {
	switch language {
	case protocol.LangPython:
		return &interpretedExecutor{cfg: cfg, command: "python3"}, nil
	case protocol.LangJavaScript:
		return &interpretedExecutor{cfg: cfg, command: "node"}, nil
	case protocol.LangC:
		return &compiledExecutor{cfg: cfg, compiler: "gcc", flags: []string{"-std=c11", "-O1", "-lm"}}, nil
	case protocol.LangCPP:
		return &compiledExecutor{cfg: cfg, compiler: "g++", flags: []string{"-std=c++17", "-O1"}}, nil
	case protocol.LangRust:
		return &compiledExecutor{cfg: cfg, compiler: "rustc", flags: []string{"-O"}}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
}

var filenamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateFilename refuses names that could escape the scratch directory
// or confuse the toolchain.
func ValidateFilename(name string) error {
	if name == "" {
		return errors.New("filename is empty")
	}
	if !filenamePattern.MatchString(name) {
		return fmt.Errorf("filename contains invalid characters: %q", name)
	}
	if strings.Contains(name, "..") || name == "." {
		return fmt.Errorf("invalid filename: %q", name)
	}
	return nil
}

// writeSource creates the scratch directory and writes the source into it.
// The caller removes the directory when done.
func writeSource(source, filename string) (string, error) {
	if err := ValidateFilename(filename); err != nil {
		return "", err
	}

	workdir, err := os.MkdirTemp("", "codr-job-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	path := filepath.Join(workdir, filename)
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		os.RemoveAll(workdir)
		return "", fmt.Errorf("write source: %w", err)
	}
	return workdir, nil
}
