package runner

import (
	"context"

	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/config"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/logger"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/models"
)

// Sequential runs one combination at a time in submission order. The first
// failure ends the batch.
type Sequential struct {
	prog *Program
}

func NewSequential(prog *Program) *Sequential {
	return &Sequential{prog: prog}
}

func (s *Sequential) Name() string      { return config.RunnerSequential }
func (s *Sequential) Program() *Program { return s.prog }

func (s *Sequential) Dispatch(ctx context.Context, combos []models.ParameterCombination, dataDir string) <-chan Completion {
	out := make(chan Completion)
	go func() {
		defer close(out)
		for i, combo := range combos {
			if ctx.Err() != nil {
				return
			}
			res, err := s.prog.Run(ctx, combo, dataDir)
			if !send(ctx, out, Completion{Params: combo, Result: res, Err: err}) {
				return
			}
			if err != nil {
				logger.Error("aborting batch after failed simulation", "remaining", len(combos)-i-1, "error", err)
				return
			}
		}
	}()
	return out
}
