//go:build integration
// +build integration

package integration_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/simulation-campaign/internal/build"
	"github.com/GoSim-25-26J-441/simulation-campaign/internal/engine"
	"github.com/GoSim-25-26J-441/simulation-campaign/internal/grid"
	"github.com/GoSim-25-26J-441/simulation-campaign/internal/runner"
	"github.com/GoSim-25-26J-441/simulation-campaign/internal/store"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/config"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const fakeSimulator = `#!/bin/sh
if [ "$1" = "--PrintHelp" ]; then
cat <<'EOF'
wifi [Program Options] [General Arguments]

Program Options:
    --distance:  Distance between nodes [10]
    --nodes:     Number of nodes [1]

General Arguments:
    --PrintGlobals:              Print the list of globals.
EOF
exit 0
fi
echo "throughput for $*"
`

const fakeWaf = `#!/bin/sh
case "$1" in
configure) ;;
build)
  echo "[1/3] Compiling wifi.cc"
  echo "[2/3] Compiling helper.cc"
  echo "[3/3] Linking wifi"
  printf "ns3_runnable_programs = ['build/optimized/scratch/wifi']\n" > build/optimized/build-status.py
  ;;
esac
`

func fakeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	scratch := filepath.Join(root, "build", "optimized", "scratch")
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "waf"), []byte(fakeWaf), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(scratch, "wifi"), []byte(fakeSimulator), 0o755); err != nil {
		t.Fatal(err)
	}
	return root
}

func serveGrid(t *testing.T) []grpc.DialOption {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	scheduler := grid.NewScheduler(grid.NewJobStore(), 2)
	srv := grpc.NewServer()
	grid.Register(srv, grid.NewServer(scheduler))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		srv.Stop()
		scheduler.Close()
	})
	return []grpc.DialOption{grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})}
}

func TestIntegration_CampaignLifecycle(t *testing.T) {
	ctx := context.Background()
	root := fakeTree(t)
	dir := filepath.Join(t.TempDir(), "campaign")

	var steps []build.Step
	e, err := engine.NewCampaign(ctx, config.Campaign{
		SimulatorPath: root,
		ScriptName:    "wifi",
		CampaignDir:   dir,
	}, runner.Options{Workers: 2, OnProgress: func(s build.Step) { steps = append(steps, s) }}, false)
	if err != nil {
		t.Fatalf("NewCampaign failed: %v", err)
	}
	if len(steps) != 3 || steps[2] != (build.Step{Done: 3, Total: 3}) {
		t.Fatalf("unexpected build progress: %v", steps)
	}
	if e.Runner().Name() != config.RunnerParallel {
		t.Fatalf("expected parallel runner without a scheduler, got %s", e.Runner().Name())
	}
	want := []string{"distance", "nodes", models.RngRunParam}
	if got := e.DB().DeclaredParams(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("declared params = %v, want %v", got, want)
	}

	spec := models.ParameterSpec{"nodes": []int{1, 2}, "distance": 10.5}
	summary, err := e.RunMissingSimulations(ctx, spec, 2)
	if err != nil {
		t.Fatalf("RunMissingSimulations failed: %v", err)
	}
	if summary.Completed != 4 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	results, err := e.DB().CompleteResults(ctx, store.Filter{"nodes": {2}})
	if err != nil {
		t.Fatalf("CompleteResults failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results for nodes=2, got %d", len(results))
	}
	for _, r := range results {
		if !strings.Contains(r.Output.Stdout, "--nodes=2") {
			t.Errorf("stdout %q does not mention the parameters", r.Output.Stdout)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A reopened campaign has nothing left to do for the same request.
	e, err = engine.LoadCampaign(ctx, dir, runner.Options{Workers: 2})
	if err != nil {
		t.Fatalf("LoadCampaign failed: %v", err)
	}
	summary, err = e.RunMissingSimulations(ctx, spec, 2)
	if err != nil {
		t.Fatalf("rerun failed: %v", err)
	}
	if summary.Requested != 0 {
		t.Fatalf("expected no work on rerun, got %+v", summary)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Raising the repetition count through the grid fills the gap.
	e, err = engine.LoadCampaign(ctx, dir, runner.Options{
		Kind:             config.RunnerGrid,
		GridAddress:      "passthrough:///bufnet",
		GridDialOptions:  serveGrid(t),
		GridPollInterval: 10 * time.Millisecond,
		GridMaxPoll:      50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("LoadCampaign(grid) failed: %v", err)
	}
	defer e.Close()
	if e.Runner().Name() != config.RunnerGrid {
		t.Fatalf("expected grid runner, got %s", e.Runner().Name())
	}
	summary, err = e.RunMissingSimulations(ctx, spec, 3)
	if err != nil {
		t.Fatalf("grid run failed: %v", err)
	}
	if summary.Completed != 2 {
		t.Fatalf("expected 2 grid simulations, got %+v", summary)
	}

	total, err := e.DB().CountResults(ctx, nil)
	if err != nil {
		t.Fatalf("CountResults failed: %v", err)
	}
	if total != 6 {
		t.Fatalf("expected 6 results, got %d", total)
	}
	fp := models.MustParameterCombination(map[string]any{"nodes": 1, "distance": 10.5})
	runs, err := e.DB().NextRngRuns(ctx, fp, 1)
	if err != nil {
		t.Fatalf("NextRngRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0] != 3 {
		t.Fatalf("expected next run 3, got %v", runs)
	}
}

func TestIntegration_ExistingCampaignDirectory(t *testing.T) {
	ctx := context.Background()
	root := fakeTree(t)
	dir := filepath.Join(t.TempDir(), "campaign")
	cfg := config.Campaign{SimulatorPath: root, ScriptName: "wifi", CampaignDir: dir, RunnerKind: config.RunnerSequential}

	e, err := engine.NewCampaign(ctx, cfg, runner.Options{}, false)
	if err != nil {
		t.Fatalf("NewCampaign failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := engine.NewCampaign(ctx, cfg, runner.Options{}, false); err == nil {
		t.Fatal("expected creating over an existing campaign to fail")
	}

	e, err = engine.NewCampaign(ctx, cfg, runner.Options{}, true)
	if err != nil {
		t.Fatalf("NewCampaign(overwrite) failed: %v", err)
	}
	defer e.Close()
	if e.Runner().Name() != config.RunnerSequential {
		t.Fatalf("expected sequential runner, got %s", e.Runner().Name())
	}
}
