package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/simulation-campaign/internal/runner"
	"github.com/GoSim-25-26J-441/simulation-campaign/internal/space"
	"github.com/GoSim-25-26J-441/simulation-campaign/internal/store"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/config"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/models"
	"github.com/stretchr/testify/require"
)

// fakeRunner completes combinations in order without spawning processes.
// Combinations with mode "bad" fail.
type fakeRunner struct {
	dispatched atomic.Int64
	// afterSend is called with the number of completions delivered so far.
	afterSend func(sent int)
}

func (f *fakeRunner) Name() string              { return config.RunnerSequential }
func (f *fakeRunner) Program() *runner.Program { return &runner.Program{Script: "fake"} }

func (f *fakeRunner) Dispatch(ctx context.Context, combos []models.ParameterCombination, dataDir string) <-chan runner.Completion {
	out := make(chan runner.Completion)
	go func() {
		defer close(out)
		for i, combo := range combos {
			f.dispatched.Add(1)
			c := runner.Completion{Params: combo}
			if combo["mode"] == "bad" {
				c.Err = &runner.SimulationError{Params: combo, ExitCode: 1}
			} else {
				c.Result = &models.Result{
					Params: combo.Clone(),
					Meta:   &models.Meta{ID: fmt.Sprintf("r-%d-%s", i, combo.Key()), ElapsedTime: 2},
				}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
			if f.afterSend != nil {
				f.afterSend(i + 1)
			}
		}
	}()
	return out
}

func newTestEngine(t *testing.T) (*Engine, *fakeRunner) {
	t.Helper()
	db, err := store.Create(context.Background(), config.Campaign{
		SimulatorPath: "/opt/ns-3",
		ScriptName:    "wifi-example",
		Params:        []string{"nodes", "mode", models.RngRunParam},
		RunnerKind:    config.RunnerSequential,
		BuildProfile:  config.ProfileOptimized,
		CampaignDir:   filepath.Join(t.TempDir(), "campaign"),
	}, false)
	require.NoError(t, err)
	fake := &fakeRunner{}
	e := New(db, fake)
	t.Cleanup(func() { _ = e.Close() })
	return e, fake
}

func TestRunMissingSimulationsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, fake := newTestEngine(t)
	spec := models.ParameterSpec{"nodes": []int{1, 2, 3}, "mode": "a"}

	summary, err := e.RunMissingSimulations(ctx, spec, 2)
	require.NoError(t, err)
	require.Equal(t, 6, summary.Completed)
	require.Equal(t, BatchCompleted, summary.Status)
	require.Equal(t, 2*time.Second, summary.MeanElapsed)

	results, err := e.DB().Results(ctx, nil)
	require.NoError(t, err)
	require.Len(t, results, 6)

	summary, err = e.RunMissingSimulations(ctx, spec, 2)
	require.NoError(t, err)
	require.Zero(t, summary.Requested)
	require.EqualValues(t, 6, fake.dispatched.Load())

	summary, err = e.RunMissingSimulations(ctx, spec, 3)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Completed)

	n, err := e.DB().CountRepetitions(ctx, models.MustParameterCombination(map[string]any{"nodes": 1, "mode": "a"}))
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestRunSimulationsInsertsAsResultsArrive(t *testing.T) {
	ctx := context.Background()
	e, fake := newTestEngine(t)

	var observed []int
	fake.afterSend = func(sent int) {
		n, err := e.DB().CountResults(ctx, nil)
		if err != nil {
			return
		}
		observed = append(observed, n)
	}

	_, err := e.RunMissingSimulations(ctx, models.ParameterSpec{"nodes": []int{1, 2, 3, 4}, "mode": "a"}, 1)
	require.NoError(t, err)
	require.Len(t, observed, 4)
	// When completion k has been handed over, completions before it are stored.
	for k, n := range observed {
		require.GreaterOrEqual(t, n, k, "after %d completions only %d stored", k+1, n)
	}
}

func TestRunSimulationsFailures(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	summary, err := e.RunMissingSimulations(ctx, models.ParameterSpec{"nodes": 1, "mode": []string{"a", "bad", "b"}}, 1)
	var simErr *runner.SimulationError
	require.True(t, errors.As(err, &simErr), "got %v", err)
	require.Equal(t, BatchFailed, summary.Status)
	require.Equal(t, 2, summary.Completed)
	require.Equal(t, 1, summary.Failed)

	results, err := e.DB().Results(ctx, store.Filter{"mode": {"bad"}})
	require.NoError(t, err)
	require.Empty(t, results)

	missing, err := e.MissingSimulations(ctx, models.ParameterSpec{"nodes": 1, "mode": []string{"a", "bad", "b"}}, 1)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, "bad", missing[0]["mode"])
}

func TestRunMissingSimulationsInvalidSpec(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.RunMissingSimulations(context.Background(), models.ParameterSpec{"nodes": 1}, 1)
	require.True(t, errors.Is(err, space.ErrInvalidSpec), "got %v", err)
}

func TestRunSimulationsEmpty(t *testing.T) {
	e, fake := newTestEngine(t)
	summary, err := e.RunSimulations(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, BatchCompleted, summary.Status)
	require.Zero(t, fake.dispatched.Load())
}

func TestEngineString(t *testing.T) {
	e, _ := newTestEngine(t)
	s := e.String()
	for _, want := range []string{"script: wifi-example", "runner: SequentialRunner", "results: 0", e.DB().Dir()} {
		require.True(t, strings.Contains(s, want), "%q missing %q", s, want)
	}
}

func TestNewCampaignRequiresDirectory(t *testing.T) {
	_, err := NewCampaign(context.Background(), config.Campaign{SimulatorPath: "/opt/ns-3", ScriptName: "x"}, runner.Options{}, false)
	require.Error(t, err)
}

func TestNewCampaignExistingDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := NewCampaign(context.Background(), config.Campaign{SimulatorPath: "/opt/ns-3", ScriptName: "x", CampaignDir: dir}, runner.Options{}, false)
	require.True(t, errors.Is(err, store.ErrConfigurationExists), "got %v", err)
}

func TestBatchTrackerLifecycle(t *testing.T) {
	b := NewBatchTracker(3)
	require.Equal(t, BatchPending, b.Summary().Status)

	b.Start()
	require.Equal(t, BatchRunning, b.Summary().Status)

	b.RecordSuccess(1)
	b.RecordSuccess(3)
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	b.Complete()

	s := b.Summary()
	require.Equal(t, BatchCompleted, s.Status)
	require.Equal(t, 3, s.Requested)
	require.Equal(t, 2, s.Completed)
	require.Equal(t, 1, s.Failed)
	require.Equal(t, 2*time.Second, s.MeanElapsed)
	require.Greater(t, s.Duration, time.Duration(0))
}

func TestBatchTrackerFail(t *testing.T) {
	b := NewBatchTracker(1)
	b.Start()
	b.Fail(errors.New("boom"))

	s := b.Summary()
	require.Equal(t, BatchFailed, s.Status)
	require.Equal(t, "boom", s.Error)
}
