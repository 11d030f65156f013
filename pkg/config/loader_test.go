package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func validCampaign() *Campaign {
	return &Campaign{
		SimulatorPath: "/opt/ns-3",
		ScriptName:    "hash-example",
		Params:        []string{"dict", "time", "RngRun"},
		RunnerKind:    RunnerParallel,
		BuildProfile:  ProfileOptimized,
	}
}

func TestSaveAndLoadCampaign(t *testing.T) {
	dir := t.TempDir()
	cfg := validCampaign()
	cfg.CampaignDir = "/somewhere/else"

	if err := SaveCampaign(dir, cfg); err != nil {
		t.Fatalf("SaveCampaign failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, CampaignFile))
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if strings.Contains(string(data), "/somewhere/else") {
		t.Fatalf("campaign dir should not be persisted:\n%s", data)
	}

	loaded, err := LoadCampaign(dir)
	if err != nil {
		t.Fatalf("LoadCampaign failed: %v", err)
	}
	if loaded.CampaignDir != dir {
		t.Errorf("expected campaign dir %q, got %q", dir, loaded.CampaignDir)
	}

	want := *validCampaign()
	want.CampaignDir = dir
	if !reflect.DeepEqual(*loaded, want) {
		t.Errorf("loaded config = %+v, want %+v", *loaded, want)
	}
	if !loaded.Optimized() {
		t.Error("expected optimized profile")
	}
}

func TestLoadCampaignMissing(t *testing.T) {
	if _, err := LoadCampaign(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestParseCampaignYAMLValidation(t *testing.T) {
	tests := []struct {
		name     string
		yamlText string
	}{
		{
			name: "Missing simulator path",
			yamlText: `
script_name: foo
params: [RngRun]
runner_kind: ParallelRunner
build_profile: optimized`,
		},
		{
			name: "Missing script",
			yamlText: `
simulator_path: /ns3
params: [RngRun]
runner_kind: ParallelRunner
build_profile: optimized`,
		},
		{
			name: "Unknown runner",
			yamlText: `
simulator_path: /ns3
script_name: foo
params: [RngRun]
runner_kind: ThreadRunner
build_profile: optimized`,
		},
		{
			name: "Unknown profile",
			yamlText: `
simulator_path: /ns3
script_name: foo
params: [RngRun]
runner_kind: ParallelRunner
build_profile: release`,
		},
		{
			name: "Duplicate params",
			yamlText: `
simulator_path: /ns3
script_name: foo
params: [a, a, RngRun]
runner_kind: ParallelRunner
build_profile: debug`,
		},
		{
			name: "Missing RngRun",
			yamlText: `
simulator_path: /ns3
script_name: foo
params: [a]
runner_kind: ParallelRunner
build_profile: debug`,
		},
		{
			name:     "Malformed",
			yamlText: `simulator_path: [`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCampaignYAML([]byte(tt.yamlText)); err == nil {
				t.Fatalf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if s.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", s.LogLevel)
	}
	if s.Workers != 0 {
		t.Errorf("expected default workers 0, got %d", s.Workers)
	}
	if s.GridPollInterval != 500*time.Millisecond {
		t.Errorf("expected poll interval 500ms, got %s", s.GridPollInterval)
	}
}

func TestLoadSettingsFromEnv(t *testing.T) {
	t.Setenv("SEM_WORKERS", "3")
	t.Setenv("SEM_GRID_ADDRESS", "grid:7070")
	t.Setenv("SEM_GRID_POLL_INTERVAL", "1s")

	s, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if s.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", s.Workers)
	}
	if s.GridAddress != "grid:7070" {
		t.Errorf("expected grid address, got %q", s.GridAddress)
	}
	if s.GridPollInterval != time.Second {
		t.Errorf("expected 1s poll interval, got %s", s.GridPollInterval)
	}
}

func TestLoadSettingsInvalid(t *testing.T) {
	t.Setenv("SEM_WORKERS", "-1")
	if _, err := LoadSettings(); err == nil {
		t.Fatal("expected error for negative workers")
	}
}

func TestLoadSettingsInvalidLogLevel(t *testing.T) {
	t.Setenv("SEM_LOG_LEVEL", "loud")
	if _, err := LoadSettings(); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}
