package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/GoSim-25-26J-441/simulation-campaign/internal/build"
	"github.com/GoSim-25-26J-441/simulation-campaign/internal/proc"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/logger"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/models"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/GoSim-25-26J-441/simulation-campaign/internal/runner"

var (
	optionsBlock = regexp.MustCompile(`(?s)Program\s(?:Options|Arguments):(.*)General\sArguments`)
	optionName   = regexp.MustCompile(`(?m)^.*--(.*?):`)
)

// SimulationError reports a simulation that exited non-zero.
type SimulationError struct {
	Params   models.ParameterCombination
	ID       string
	ExitCode int
	Stdout   string
	Stderr   string
	// Command reproduces the run through the build tool.
	Command string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation exited with an error (exit code %d).\nParams: %v\n\nStderr: %s\nStdout: %s\nUse this command to reproduce:\n%s",
		e.ExitCode, e.Params, e.Stderr, e.Stdout, e.Command)
}

// Program is a compiled simulator script bound to its runtime environment.
type Program struct {
	// Root is the simulator source tree.
	Root string
	// Script is the script name the program was resolved from.
	Script string
	// Executable is the absolute path of the compiled program.
	Executable string
	// Env is the environment of every spawned simulation.
	Env []string
}

// NewProgram binds the runnable program matching script among programs.
func NewProgram(root, script string, optimized bool, programs []build.Program) (*Program, error) {
	match, err := build.ResolveScript(programs, script)
	if err != nil {
		return nil, err
	}
	return &Program{
		Root:       root,
		Script:     script,
		Executable: match.Path,
		Env:        build.Environment(os.Environ(), root, optimized),
	}, nil
}

// Command returns the build tool command line reproducing a run of combo.
func (p *Program) Command(combo models.ParameterCombination) string {
	parts := append([]string{p.Script}, combo.Args()...)
	return fmt.Sprintf("%s --run \"%s\"", build.Tool, strings.Join(parts, " "))
}

// Run executes combo in a fresh directory under dataDir and returns its
// result. A non-zero exit is reported as a *SimulationError.
func (p *Program) Run(ctx context.Context, combo models.ParameterCombination, dataDir string) (*models.Result, error) {
	id := utils.GenerateResultID()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "runner.simulation",
		trace.WithAttributes(attribute.String("sem.result_id", id), attribute.String("sem.params", combo.Key())))
	defer span.End()

	dir := filepath.Join(dataDir, id)
	outcome, err := proc.Run(ctx, proc.Invocation{
		Executable: p.Executable,
		Args:       combo.Args(),
		Env:        p.Env,
		Dir:        dir,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("run simulation %s: %w", id, err)
	}

	res, err := p.complete(combo, id, dir, outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "simulation failed")
	}
	return res, err
}

// complete turns a finished run into a result, or into a *SimulationError
// when it exited non-zero.
func (p *Program) complete(combo models.ParameterCombination, id, dir string, outcome proc.Outcome) (*models.Result, error) {
	if !outcome.Success() {
		stdout, stderr, err := proc.ReadOutput(dir)
		if err != nil {
			logger.Warn("failed to read output of failed simulation", "id", id, "error", err)
		}
		return nil, &SimulationError{
			Params:   combo.Clone(),
			ID:       id,
			ExitCode: outcome.ExitCode,
			Stdout:   stdout,
			Stderr:   stderr,
			Command:  p.Command(combo),
		}
	}
	elapsed := outcome.Elapsed.Seconds()
	logger.Debug("simulation completed", "id", id, "elapsed_time", elapsed)
	return &models.Result{
		Params: combo.Clone(),
		Meta:   &models.Meta{ID: id, ElapsedTime: elapsed},
	}, nil
}

// AvailableParameters lists the command line options the script declares in
// its help output. It returns an empty list when the help output has no
// program options section.
func (p *Program) AvailableParameters(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, p.Executable, "--PrintHelp")
	cmd.Dir = p.Root
	cmd.Env = p.Env
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("print help of %s: %w", p.Script, err)
	}
	return ParseParameters(string(out)), nil
}

// ParseParameters extracts option names from simulator help output.
func ParseParameters(help string) []string {
	block := optionsBlock.FindStringSubmatch(help)
	if block == nil {
		return []string{}
	}
	names := []string{}
	for _, m := range optionName.FindAllStringSubmatch(block[1], -1) {
		names = append(names, m[1])
	}
	return names
}
