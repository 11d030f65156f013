// Package engine ties a campaign's result store to a runner: it works out
// which simulations are missing, dispatches them and stores each result as
// soon as it arrives.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GoSim-25-26J-441/simulation-campaign/internal/runner"
	"github.com/GoSim-25-26J-441/simulation-campaign/internal/space"
	"github.com/GoSim-25-26J-441/simulation-campaign/internal/store"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/config"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/logger"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/GoSim-25-26J-441/simulation-campaign/internal/engine"

// Engine manages one campaign.
type Engine struct {
	db     *store.Database
	runner runner.Runner
	logger *slog.Logger
}

// New binds an open campaign to a runner.
func New(db *store.Database, r runner.Runner) *Engine {
	return &Engine{
		db:     db,
		runner: r,
		logger: logger.With("campaign_dir", db.Dir()),
	}
}

// NewCampaign builds the simulator, discovers the script's parameters and
// creates a campaign at cfg.CampaignDir. Empty cfg.RunnerKind selects the
// runner automatically; empty cfg.BuildProfile means optimized.
func NewCampaign(ctx context.Context, cfg config.Campaign, opts runner.Options, overwrite bool) (*Engine, error) {
	if cfg.CampaignDir == "" {
		return nil, errors.New("campaign directory is required")
	}
	if !overwrite {
		if err := store.Available(cfg.CampaignDir); err != nil {
			return nil, err
		}
	}
	if cfg.BuildProfile == "" {
		cfg.BuildProfile = config.ProfileOptimized
	}

	opts.SimulatorPath = cfg.SimulatorPath
	opts.Script = cfg.ScriptName
	opts.Optimized = cfg.Optimized()
	opts.Kind = cfg.RunnerKind
	r, err := runner.New(ctx, opts)
	if err != nil {
		return nil, err
	}

	params, err := r.Program().AvailableParameters(ctx)
	if err != nil {
		closeRunner(r)
		return nil, err
	}
	cfg.Params = params
	cfg.RunnerKind = r.Name()

	db, err := store.Create(ctx, cfg, overwrite)
	if err != nil {
		closeRunner(r)
		return nil, err
	}
	return New(db, r), nil
}

// LoadCampaign reopens the campaign at dir and rebuilds its simulator. The
// stored runner kind is used unless opts.Kind overrides it; a stored grid
// runner falls back to local workers when no scheduler is reachable.
func LoadCampaign(ctx context.Context, dir string, opts runner.Options) (*Engine, error) {
	db, err := store.Load(ctx, dir)
	if err != nil {
		return nil, err
	}
	cfg := db.Config()

	opts.SimulatorPath = cfg.SimulatorPath
	opts.Script = cfg.ScriptName
	opts.Optimized = cfg.Optimized()
	if opts.Kind == "" {
		opts.Kind = cfg.RunnerKind
	}
	if opts.Kind == config.RunnerGrid && runner.DetectKind(ctx, opts) != config.RunnerGrid {
		opts.Kind = config.RunnerParallel
	}

	r, err := runner.New(ctx, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db, r), nil
}

// DB returns the campaign store.
func (e *Engine) DB() *store.Database {
	return e.db
}

// Runner returns the bound runner.
func (e *Engine) Runner() runner.Runner {
	return e.runner
}

// Close releases the campaign store and, for runners holding a connection,
// the runner.
func (e *Engine) Close() error {
	return errors.Join(closeRunner(e.runner), e.db.Close())
}

func closeRunner(r runner.Runner) error {
	if c, ok := r.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// MissingSimulations returns the combinations needed to bring every
// fingerprint of spec to runs repetitions.
func (e *Engine) MissingSimulations(ctx context.Context, spec models.ParameterSpec, runs int) ([]models.ParameterCombination, error) {
	if err := space.Validate(spec, e.db.DeclaredParams()); err != nil {
		return nil, err
	}
	return space.Expand(ctx, spec, runs, e.db)
}

// RunMissingSimulations runs whatever spec still lacks to reach runs
// repetitions per fingerprint. Repeating a successful call does nothing.
func (e *Engine) RunMissingSimulations(ctx context.Context, spec models.ParameterSpec, runs int) (Summary, error) {
	combos, err := e.MissingSimulations(ctx, spec, runs)
	if err != nil {
		return Summary{}, err
	}
	e.logger.Info("missing simulations computed", "count", len(combos), "runs", runs)
	return e.RunSimulations(ctx, combos)
}

// RunSimulations dispatches combos and stores each result as it completes.
// Failed simulations are logged and returned joined once the runner is done.
func (e *Engine) RunSimulations(ctx context.Context, combos []models.ParameterCombination) (Summary, error) {
	batch := NewBatchTracker(len(combos))
	if len(combos) == 0 {
		batch.Start()
		batch.Complete()
		return batch.Summary(), nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.run_simulations",
		trace.WithAttributes(
			attribute.Int("sem.simulations", len(combos)),
			attribute.String("sem.runner", e.runner.Name()),
		))
	defer span.End()

	batch.Start()
	var errs []error
	for c := range e.runner.Dispatch(ctx, combos, e.db.DataDir()) {
		if c.Err != nil {
			batch.RecordFailure()
			e.logger.Error("simulation failed", "params", c.Params.Key(), "error", c.Err)
			errs = append(errs, c.Err)
			continue
		}
		if err := e.db.InsertResult(ctx, *c.Result); err != nil {
			batch.RecordFailure()
			e.logger.Error("failed to store result", "id", c.Result.Meta.ID, "error", err)
			errs = append(errs, fmt.Errorf("store result %s: %w", c.Result.Meta.ID, err))
			continue
		}
		batch.RecordSuccess(c.Result.Meta.ElapsedTime)
		e.logger.Debug("result stored", "id", c.Result.Meta.ID, "elapsed_time", c.Result.Meta.ElapsedTime)
	}
	if ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}

	if err := errors.Join(errs...); err != nil {
		batch.Fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "simulations failed")
		summary := batch.Summary()
		e.logger.Warn("simulations finished with failures", "completed", summary.Completed, "failed", summary.Failed)
		return summary, err
	}
	batch.Complete()
	summary := batch.Summary()
	e.logger.Info("simulations finished", "completed", summary.Completed, "mean_elapsed", summary.MeanElapsed)
	return summary, nil
}

// String describes the campaign.
func (e *Engine) String() string {
	cfg := e.db.Config()
	n, err := e.db.CountResults(context.Background(), nil)
	results := fmt.Sprint(n)
	if err != nil {
		results = "unknown"
	}
	return strings.Join([]string{
		"--- Campaign info ---",
		"script: " + cfg.ScriptName,
		"params: " + fmt.Sprint(cfg.Params),
		"runner: " + e.runner.Name(),
		"build profile: " + cfg.BuildProfile,
		"simulator: " + cfg.SimulatorPath,
		"campaign dir: " + e.db.Dir(),
		"results: " + results,
		"---------------------",
	}, "\n")
}
