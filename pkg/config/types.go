package config

import "time"

// Runner kinds accepted in a campaign configuration.
const (
	RunnerSequential = "SequentialRunner"
	RunnerParallel   = "ParallelRunner"
	RunnerGrid       = "GridRunner"
)

// Build profiles.
const (
	ProfileOptimized = "optimized"
	ProfileDebug     = "debug"
)

// Campaign is the configuration record of a simulation campaign. It is
// written once when the campaign is created and never modified afterwards.
type Campaign struct {
	SimulatorPath string   `yaml:"simulator_path"`
	ScriptName    string   `yaml:"script_name"`
	Params        []string `yaml:"params"`
	RunnerKind    string   `yaml:"runner_kind"`
	BuildProfile  string   `yaml:"build_profile"`

	// CampaignDir is where the campaign lives on disk. It is not part of the
	// persisted record; loading a campaign sets it to the directory read.
	CampaignDir string `yaml:"-"`
}

// Optimized reports whether the campaign uses the optimized build profile.
func (c *Campaign) Optimized() bool {
	return c.BuildProfile == ProfileOptimized
}

// Settings are runtime knobs read from the environment.
type Settings struct {
	LogLevel string `env:"SEM_LOG_LEVEL" envDefault:"info"`

	// Workers bounds the local parallel pool; 0 means host parallelism.
	Workers int `env:"SEM_WORKERS" envDefault:"0"`

	GridAddress         string        `env:"SEM_GRID_ADDRESS"`
	GridDetectTimeout   time.Duration `env:"SEM_GRID_DETECT_TIMEOUT" envDefault:"2s"`
	GridPollInterval    time.Duration `env:"SEM_GRID_POLL_INTERVAL" envDefault:"500ms"`
	GridMaxPollInterval time.Duration `env:"SEM_GRID_MAX_POLL_INTERVAL" envDefault:"10s"`

	OTelEndpoint string `env:"SEM_OTEL_ENDPOINT"`
}
