// Command sem creates or resumes a simulation campaign and runs the
// simulations still missing for an interactively entered parameter space.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/GoSim-25-26J-441/simulation-campaign/internal/build"
	"github.com/GoSim-25-26J-441/simulation-campaign/internal/engine"
	"github.com/GoSim-25-26J-441/simulation-campaign/internal/runner"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/config"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/logger"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/telemetry"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/utils"
)

type cliFlags struct {
	simulatorPath  string
	resultsDir     string
	script         string
	noOptimization bool
	logLevel       string
}

func main() {
	var f cliFlags
	flag.StringVar(&f.simulatorPath, "ns-3-path", "", "path to the ns-3 installation")
	flag.StringVar(&f.resultsDir, "results-dir", "", "campaign directory")
	flag.StringVar(&f.script, "script", "", "simulation script to run")
	flag.BoolVar(&f.noOptimization, "no-optimization", false, "use the debug build profile")
	flag.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to SEM_LOG_LEVEL")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f, newPrompter(os.Stdin, os.Stdout), os.Stdout); err != nil {
		logger.Error("campaign failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, f cliFlags, p *prompter, out io.Writer) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}
	level := f.logLevel
	if level == "" {
		level = settings.LogLevel
	}
	logger.SetDefault(logger.NewText(level, os.Stderr))

	shutdownTracing, err := telemetry.Setup(ctx, "sem", settings.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	if f.resultsDir == "" {
		if f.resultsDir, err = p.line("Results dir"); err != nil {
			return err
		}
	}
	if f.resultsDir, err = filepath.Abs(f.resultsDir); err != nil {
		return err
	}

	opts := runner.OptionsFromSettings(settings)
	opts.OnProgress = progressLine(out)

	e, err := openCampaign(ctx, f, p, opts)
	// The progress line is left unterminated by the build.
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Warn("failed to close campaign", "error", err)
		}
	}()

	fmt.Fprintln(out, e.String())

	spec, err := p.spec(e.DB().DeclaredParams())
	if err != nil {
		return err
	}
	runs, err := p.count("Runs")
	if err != nil {
		return err
	}

	summary, err := e.RunMissingSimulations(ctx, spec, runs)
	fmt.Fprintf(out, "Executed %d of %d simulations (%d failed), mean elapsed %s, total %s\n",
		summary.Completed, summary.Requested, summary.Failed,
		utils.FormatDuration(summary.MeanElapsed), utils.FormatDuration(summary.Duration))
	return err
}

// openCampaign loads the campaign in f.resultsDir or creates it, prompting
// for whatever the creation still needs.
func openCampaign(ctx context.Context, f cliFlags, p *prompter, opts runner.Options) (*engine.Engine, error) {
	_, statErr := os.Stat(filepath.Join(f.resultsDir, config.CampaignFile))
	if statErr == nil {
		logger.Info("loading existing campaign", "campaign_dir", f.resultsDir)
		return engine.LoadCampaign(ctx, f.resultsDir, opts)
	}
	if !errors.Is(statErr, os.ErrNotExist) {
		return nil, statErr
	}

	var err error
	if f.simulatorPath == "" {
		if f.simulatorPath, err = p.line("Ns 3 path"); err != nil {
			return nil, err
		}
	}
	if f.simulatorPath, err = filepath.Abs(f.simulatorPath); err != nil {
		return nil, err
	}
	if _, err := os.Stat(f.simulatorPath); err != nil {
		return nil, fmt.Errorf("ns-3 path: %w", err)
	}
	if f.script == "" {
		if f.script, err = p.line("Script"); err != nil {
			return nil, err
		}
	}

	profile := config.ProfileOptimized
	if f.noOptimization {
		profile = config.ProfileDebug
	}
	return engine.NewCampaign(ctx, config.Campaign{
		SimulatorPath: f.simulatorPath,
		ScriptName:    f.script,
		BuildProfile:  profile,
		CampaignDir:   f.resultsDir,
	}, opts, false)
}

// progressLine renders build steps on one line rewritten in place.
func progressLine(out io.Writer) func(build.Step) {
	return func(s build.Step) {
		fmt.Fprintf(out, "\rBuilding ns-3: [%d/%d]", s.Done, s.Total)
	}
}
