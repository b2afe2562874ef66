package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/codrhq/codr/internal/config"
)

// Terminal geometry presented to the child. Interactive programs probe it;
// a zero-sized terminal breaks line editing in several runtimes.
const (
	ptyRows = 24
	ptyCols = 80
)

// killGrace is how long a process group gets between SIGTERM and SIGKILL.
const killGrace = 500 * time.Millisecond

// runPTY starts argv on a PTY in workdir and supervises it: streaming
// output chunks, feeding queued input, and enforcing the execution wall
// clock. The PTY merges the child's stdout and stderr into one stream, so
// Result.Stderr is empty on this path.
func runPTY(ctx context.Context, cfg *config.Config, workdir string, argv []string, onOutput func([]byte), input *InputQueue) (Result, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return Result{}, fmt.Errorf("open pty: %w", err)
	}
	defer master.Close()

	if err := pty.Setsize(master, &pty.Winsize{Rows: ptyRows, Cols: ptyCols}); err != nil {
		slave.Close()
		return Result{}, fmt.Errorf("size pty: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workdir
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}
	cmd.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin", "TERM=xterm", "HOME=" + workdir}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		slave.Close()
		return Result{}, fmt.Errorf("start process: %w", err)
	}
	// The child holds its own descriptor now.
	slave.Close()

	if err := unix.SetNonblock(int(master.Fd()), true); err != nil {
		killGroup(cmd, syscall.SIGKILL)
		cmd.Wait()
		return Result{}, fmt.Errorf("set pty nonblocking: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timeout := time.Duration(cfg.ExecutionTimeoutSec) * time.Second
	deadline := start.Add(timeout)
	pollTimeout := cfg.PTYPollIntervalMs

	var collected bytes.Buffer
	buf := make([]byte, cfg.PTYChunkBytes)

	// Bounded per call so a chattering child cannot starve the wall-clock
	// and input checks.
	readAvailable := func() bool {
		for reads := 0; reads < 32; reads++ {
			fds := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
			n, err := unix.Poll(fds, pollTimeout)
			if err != nil && err != unix.EINTR {
				return false
			}
			if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
				return true
			}
			nr, err := master.Read(buf)
			if nr > 0 {
				collected.Write(buf[:nr])
				if onOutput != nil {
					onOutput(buf[:nr])
				}
			}
			if err != nil {
				if errors.Is(err, unix.EAGAIN) {
					return true
				}
				// EIO means the child side is gone.
				return false
			}
		}
		return true
	}

	writeInput := func() {
		if input == nil {
			return
		}
		for _, chunk := range input.drain() {
			if _, err := master.Write(chunk); err != nil {
				slog.Debug("pty input write failed", "error", err)
				return
			}
		}
	}

	exited := false
	var waitErr error
	timedOut := false

supervise:
	for {
		select {
		case waitErr = <-waitCh:
			exited = true
			break supervise
		case <-ctx.Done():
			killGroup(cmd, syscall.SIGKILL)
			waitErr = <-waitCh
			exited = true
			break supervise
		default:
		}

		if time.Now().After(deadline) {
			timedOut = true
			killGroup(cmd, syscall.SIGTERM)
			select {
			case waitErr = <-waitCh:
			case <-time.After(killGrace):
				killGroup(cmd, syscall.SIGKILL)
				waitErr = <-waitCh
			}
			exited = true
			break supervise
		}

		writeInput()
		if !readAvailable() {
			// PTY read failed; wait for the child and stop.
			waitErr = <-waitCh
			exited = true
			break supervise
		}
	}

	// Drain whatever the child flushed on its way out.
	if exited {
		drainDeadline := time.Now().Add(100 * time.Millisecond)
		for time.Now().Before(drainDeadline) {
			if !readAvailable() {
				break
			}
		}
	}

	elapsed := time.Since(start).Seconds()
	exitCode := exitCodeOf(waitErr)
	stderr := ""
	if timedOut {
		exitCode = ExitKilled
		stderr = fmt.Sprintf("execution timed out after %ds", cfg.ExecutionTimeoutSec)
	}

	return Result{
		Success:    !timedOut && exitCode == 0,
		ExitCode:   exitCode,
		ElapsedSec: elapsed,
		Stdout:     collected.String(),
		Stderr:     stderr,
	}, nil
}

// killGroup signals the whole process group so sandbox children die with
// their parent.
func killGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		// Group may already be gone; fall back to the direct pid.
		_ = cmd.Process.Signal(sig)
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		status, ok := exitErr.Sys().(syscall.WaitStatus)
		if ok && status.Signaled() {
			return ExitKilled
		}
		return exitErr.ExitCode()
	}
	return ExitKilled
}
