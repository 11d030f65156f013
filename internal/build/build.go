// Package build drives the simulator's build tool: configuration,
// compilation with progress reporting, and discovery of runnable programs.
package build

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/logger"
)

// Tool is the build tool entry point, relative to the simulator root.
const Tool = "./waf"

var progressPattern = regexp.MustCompile(`\[\s*(\d+)/(\d+)\]`)

// BuildError reports a build tool invocation that exited non-zero.
type BuildError struct {
	Step     string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s ended with exit code %d\nSTDERR\n%s\nSTDOUT\n%s", e.Step, e.ExitCode, e.Stderr, e.Stdout)
}

// Builder configures and compiles the simulator tree rooted at Path.
type Builder struct {
	Path      string
	Optimized bool
}

// New returns a Builder for the simulator at path.
func New(path string, optimized bool) *Builder {
	return &Builder{Path: path, Optimized: optimized}
}

// ConfigureArgs returns the arguments of the configuration command.
func (b *Builder) ConfigureArgs() []string {
	args := []string{"configure", "--enable-examples", "--disable-gtk", "--disable-python"}
	if b.Optimized {
		args = append(args, "--build-profile=optimized", "--out=build/optimized")
	}
	return args
}

// Configure runs the configuration command to completion.
func (b *Builder) Configure(ctx context.Context) error {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, Tool, b.ConfigureArgs()...)
	cmd.Dir = b.Path
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("configuring simulator", "path", b.Path, "optimized", b.Optimized)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &BuildError{Step: "configure", ExitCode: exitErr.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}
		}
		return fmt.Errorf("run configure: %w", err)
	}
	return nil
}

// Start launches the compilation and returns its progress. The caller must
// call Wait on the returned Progress.
func (b *Builder) Start(ctx context.Context) (*Progress, error) {
	cmd := exec.CommandContext(ctx, Tool, "build")
	cmd.Dir = b.Path
	p := &Progress{cmd: cmd}
	cmd.Stderr = &p.stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("build stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start build: %w", err)
	}
	p.out = bufio.NewReader(out)
	logger.Debug("building simulator", "path", b.Path)
	return p, nil
}

// Run configures (unless skipConfigure is set) and starts the compilation.
func (b *Builder) Run(ctx context.Context, skipConfigure bool) (*Progress, error) {
	if !skipConfigure {
		if err := b.Configure(ctx); err != nil {
			return nil, err
		}
	}
	return b.Start(ctx)
}

// Step is one progress report of the build tool.
type Step struct {
	Done  int
	Total int
}

// Progress observes a running compilation.
type Progress struct {
	cmd    *exec.Cmd
	out    *bufio.Reader
	stdout bytes.Buffer
	stderr bytes.Buffer

	mu       sync.Mutex
	consumed bool
	waited   bool
	waitErr  error
}

// Steps returns the progress reports of the build as they are printed. The
// sequence ends when the build's output ends and can be ranged over only
// once; later calls yield nothing. Stopping early leaves the remaining output
// to Wait.
func (p *Progress) Steps() iter.Seq[Step] {
	return func(yield func(Step) bool) {
		p.mu.Lock()
		if p.consumed || p.waited {
			p.mu.Unlock()
			return
		}
		p.consumed = true
		p.mu.Unlock()

		for {
			line, err := p.out.ReadString('\n')
			p.stdout.WriteString(line)
			if step, ok := parseStep(line); ok {
				if !yield(step) {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}
}

// Wait drains any unread output and waits for the build to exit. A non-zero
// exit is reported as a *BuildError.
func (p *Progress) Wait() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waited {
		return p.waitErr
	}
	p.waited = true

	if _, err := io.Copy(&p.stdout, p.out); err != nil {
		logger.Warn("failed to drain build output", "error", err)
	}
	if err := p.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.waitErr = &BuildError{Step: "build", ExitCode: exitErr.ExitCode(), Stdout: p.stdout.String(), Stderr: p.stderr.String()}
		} else {
			p.waitErr = fmt.Errorf("wait for build: %w", err)
		}
	}
	return p.waitErr
}

func parseStep(line string) (Step, bool) {
	m := progressPattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Step{}, false
	}
	done, err := strconv.Atoi(m[1])
	if err != nil {
		return Step{}, false
	}
	total, err := strconv.Atoi(m[2])
	if err != nil {
		return Step{}, false
	}
	return Step{Done: done, Total: total}, true
}
