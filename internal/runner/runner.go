// Package runner executes parameter combinations against a compiled
// simulator script. The Sequential, Parallel and Grid runners share one
// per-combination contract and differ only in how work is scheduled.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/GoSim-25-26J-441/simulation-campaign/internal/build"
	"github.com/GoSim-25-26J-441/simulation-campaign/internal/grid"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/config"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/logger"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/models"
	"google.golang.org/grpc"
)

// Completion is what a runner emits per dispatched combination: a result or
// the error that prevented one.
type Completion struct {
	Params models.ParameterCombination
	Result *models.Result
	Err    error
}

// Runner dispatches combinations and emits one completion per combination
// it attempted. The channel is closed once dispatch is over; the caller must
// drain it.
type Runner interface {
	Name() string
	Program() *Program
	Dispatch(ctx context.Context, combos []models.ParameterCombination, dataDir string) <-chan Completion
}

// Options configures New.
type Options struct {
	SimulatorPath string
	Script        string
	Optimized     bool
	SkipConfigure bool
	// Kind selects the runner. Empty means DetectKind.
	Kind string
	// Workers bounds the Parallel runner. Zero means one per CPU.
	Workers int

	GridAddress       string
	GridDetectTimeout time.Duration
	GridPollInterval  time.Duration
	GridMaxPoll       time.Duration
	GridDialOptions   []grpc.DialOption

	// OnProgress, when set, observes the build.
	OnProgress func(build.Step)
}

// OptionsFromSettings fills the runtime part of Options from settings.
func OptionsFromSettings(s *config.Settings) Options {
	if s == nil {
		return Options{}
	}
	return Options{
		Workers:           s.Workers,
		GridAddress:       s.GridAddress,
		GridDetectTimeout: s.GridDetectTimeout,
		GridPollInterval:  s.GridPollInterval,
		GridMaxPoll:       s.GridMaxPollInterval,
	}
}

// Build compiles the simulator once and binds the requested script.
func Build(ctx context.Context, opts Options) (*Program, error) {
	b := build.New(opts.SimulatorPath, opts.Optimized)
	progress, err := b.Run(ctx, opts.SkipConfigure)
	if err != nil {
		return nil, err
	}
	if opts.OnProgress != nil {
		for step := range progress.Steps() {
			opts.OnProgress(step)
		}
	}
	if err := progress.Wait(); err != nil {
		return nil, err
	}

	programs, err := build.LoadManifest(opts.SimulatorPath, opts.Optimized)
	if err != nil {
		return nil, err
	}
	return NewProgram(opts.SimulatorPath, opts.Script, opts.Optimized, programs)
}

// New builds the simulator, binds the script and returns a runner of the
// requested kind.
func New(ctx context.Context, opts Options) (Runner, error) {
	prog, err := Build(ctx, opts)
	if err != nil {
		return nil, err
	}
	return ForProgram(ctx, prog, opts)
}

// ForProgram wraps an already bound program in a runner of the requested
// kind.
func ForProgram(ctx context.Context, prog *Program, opts Options) (Runner, error) {
	kind := opts.Kind
	if kind == "" {
		kind = DetectKind(ctx, opts)
	}

	var r Runner
	switch kind {
	case config.RunnerSequential:
		r = NewSequential(prog)
	case config.RunnerParallel:
		r = NewParallel(prog, opts.Workers)
	case config.RunnerGrid:
		client, err := grid.Dial(opts.GridAddress, opts.GridDialOptions...)
		if err != nil {
			return nil, err
		}
		r = NewGrid(prog, client, opts.GridPollInterval, opts.GridMaxPoll)
	default:
		return nil, fmt.Errorf("unknown runner kind %q", kind)
	}
	logger.Info("runner ready", "runner", r.Name(), "script", prog.Script, "executable", prog.Executable)
	return r, nil
}

// DetectKind picks GridRunner when a serving scheduler answers at the
// configured grid address, ParallelRunner otherwise.
func DetectKind(ctx context.Context, opts Options) string {
	if opts.GridAddress == "" {
		return config.RunnerParallel
	}
	timeout := opts.GridDetectTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if grid.Detect(ctx, opts.GridAddress, timeout, opts.GridDialOptions...) {
		return config.RunnerGrid
	}
	logger.Warn("grid scheduler not reachable, using local workers", "address", opts.GridAddress)
	return config.RunnerParallel
}

// send delivers c unless ctx is done first.
func send(ctx context.Context, out chan<- Completion, c Completion) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
