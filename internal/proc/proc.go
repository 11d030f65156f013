// Package proc runs one simulator invocation inside its own working
// directory, capturing output to files.
package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Names of the capture files inside a run directory.
const (
	StdoutFile = "stdout"
	StderrFile = "stderr"
)

// Invocation describes a single process to run.
type Invocation struct {
	Executable string
	Args       []string
	// Env is the full environment of the process.
	Env []string
	// Dir is the working directory. It is created if missing and receives
	// the stdout and stderr capture files.
	Dir string
}

// Outcome is the result of a process that was started.
type Outcome struct {
	ExitCode int
	Elapsed  time.Duration
}

// Success reports whether the process exited with status 0.
func (o Outcome) Success() bool {
	return o.ExitCode == 0
}

// Run executes inv and waits for it. A non-zero exit is reported through
// Outcome.ExitCode; the error is reserved for failures to start the process
// or to prepare its directory.
func Run(ctx context.Context, inv Invocation) (Outcome, error) {
	if inv.Executable == "" {
		return Outcome{}, errors.New("executable is required")
	}
	if inv.Dir == "" {
		return Outcome{}, errors.New("working directory is required")
	}
	if err := os.MkdirAll(inv.Dir, 0o755); err != nil {
		return Outcome{}, fmt.Errorf("create run directory: %w", err)
	}

	stdout, err := os.Create(filepath.Join(inv.Dir, StdoutFile))
	if err != nil {
		return Outcome{}, fmt.Errorf("create stdout file: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(inv.Dir, StderrFile))
	if err != nil {
		return Outcome{}, fmt.Errorf("create stderr file: %w", err)
	}
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, inv.Executable, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = inv.Env
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code == 0 {
				code = -1
			}
			return Outcome{ExitCode: code, Elapsed: elapsed}, nil
		}
		return Outcome{}, fmt.Errorf("run %s: %w", inv.Executable, err)
	}
	return Outcome{ExitCode: 0, Elapsed: elapsed}, nil
}

// ReadOutput returns the captured stdout and stderr of the run in dir.
func ReadOutput(dir string) (stdout, stderr string, err error) {
	out, err := os.ReadFile(filepath.Join(dir, StdoutFile))
	if err != nil {
		return "", "", fmt.Errorf("read stdout: %w", err)
	}
	errOut, err := os.ReadFile(filepath.Join(dir, StderrFile))
	if err != nil {
		return "", "", fmt.Errorf("read stderr: %w", err)
	}
	return string(out), string(errOut), nil
}
