package runner

import (
	"context"
	"runtime"

	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/config"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Parallel runs combinations on a bounded pool of local workers and emits
// completions as they finish. A failure only affects its own combination.
type Parallel struct {
	prog    *Program
	workers int
}

// NewParallel returns a pool of the given size; non-positive means one
// worker per CPU.
func NewParallel(prog *Program, workers int) *Parallel {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Parallel{prog: prog, workers: workers}
}

func (p *Parallel) Name() string      { return config.RunnerParallel }
func (p *Parallel) Program() *Program { return p.prog }

// Workers returns the pool size.
func (p *Parallel) Workers() int { return p.workers }

func (p *Parallel) Dispatch(ctx context.Context, combos []models.ParameterCombination, dataDir string) <-chan Completion {
	out := make(chan Completion)
	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(p.workers)
		for _, combo := range combos {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				res, err := p.prog.Run(ctx, combo, dataDir)
				send(ctx, out, Completion{Params: combo, Result: res, Err: err})
				return nil
			})
		}
		_ = g.Wait()
	}()
	return out
}
