package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/GoSim-25-26J-441/simulation-campaign/internal/grid"
	"github.com/GoSim-25-26J-441/simulation-campaign/internal/proc"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/config"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/logger"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/models"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/utils"
)

// Grid submits every combination to a remote scheduler and polls for
// completion. A failure only affects its own combination.
type Grid struct {
	prog    *Program
	client  *grid.Client
	backoff utils.BackoffStrategy
}

// NewGrid returns a runner polling client between rounds with a capped
// exponential backoff, or a fixed interval when maxPoll does not exceed poll.
func NewGrid(prog *Program, client *grid.Client, poll, maxPoll time.Duration) *Grid {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	var backoff utils.BackoffStrategy = utils.NewConstantBackoff(poll)
	if maxPoll > poll {
		backoff = utils.NewExponentialBackoff(poll, maxPoll, 2.0, true)
	}
	return &Grid{
		prog:    prog,
		client:  client,
		backoff: backoff,
	}
}

func (g *Grid) Name() string      { return config.RunnerGrid }
func (g *Grid) Program() *Program { return g.prog }

// Close releases the scheduler connection.
func (g *Grid) Close() error {
	return g.client.Close()
}

type gridJob struct {
	combo models.ParameterCombination
	dir   string
}

func (g *Grid) Dispatch(ctx context.Context, combos []models.ParameterCombination, dataDir string) <-chan Completion {
	out := make(chan Completion)
	go func() {
		defer close(out)

		pending := make(map[string]gridJob, len(combos))
		order := make([]string, 0, len(combos))
		for _, combo := range combos {
			id := utils.GenerateResultID()
			dir := filepath.Join(dataDir, id)
			_, err := g.client.Submit(ctx, grid.Job{
				ID:         id,
				Executable: g.prog.Executable,
				Args:       combo.Args(),
				Env:        g.prog.Env,
				Dir:        dir,
			})
			if err != nil {
				if !send(ctx, out, Completion{Params: combo, Err: fmt.Errorf("submit simulation %s: %w", id, err)}) {
					return
				}
				continue
			}
			pending[id] = gridJob{combo: combo, dir: dir}
			order = append(order, id)
		}
		logger.Info("simulations submitted to grid", "count", len(pending))

		for attempt := 0; len(pending) > 0; {
			select {
			case <-ctx.Done():
				return
			case <-time.After(g.backoff.NextDelay(attempt)):
			}

			progressed := false
			remaining := order[:0]
			for _, id := range order {
				job := pending[id]
				st, err := g.client.Status(ctx, id)
				if err == nil && !st.Terminal() {
					remaining = append(remaining, id)
					continue
				}
				progressed = true
				delete(pending, id)

				c := Completion{Params: job.combo}
				switch {
				case err != nil:
					c.Err = fmt.Errorf("poll simulation %s: %w", id, err)
				case st.Error != "":
					c.Err = fmt.Errorf("simulation %s could not run: %s", id, st.Error)
				default:
					c.Result, c.Err = g.prog.complete(job.combo, id, job.dir, proc.Outcome{
					ExitCode: st.ExitCode,
					Elapsed:  utils.SecondsToDuration(st.ElapsedSeconds),
				})
				}
				if !send(ctx, out, c) {
					return
				}
			}
			order = remaining

			if progressed {
				attempt = 0
			} else {
				attempt++
			}
		}
	}()
	return out
}
