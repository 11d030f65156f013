package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/models"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// CampaignFile is the name of the configuration record inside a campaign
// directory.
const CampaignFile = "config.yaml"

// LoadCampaign loads and validates the configuration record of the campaign
// rooted at dir.
func LoadCampaign(dir string) (*Campaign, error) {
	path := filepath.Join(dir, CampaignFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign config %s: %w", path, err)
	}
	cfg, err := ParseCampaignYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse campaign config %s: %w", path, err)
	}
	cfg.CampaignDir = dir
	return cfg, nil
}

// SaveCampaign validates cfg and writes it atomically to dir.
func SaveCampaign(dir string, cfg *Campaign) error {
	if err := validateCampaign(cfg); err != nil {
		return fmt.Errorf("invalid campaign config: %w", err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode campaign config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode campaign config: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, CampaignFile), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write campaign config: %w", err)
	}
	return nil
}

// ParseCampaignYAML parses a Campaign from YAML bytes and validates it.
func ParseCampaignYAML(data []byte) (*Campaign, error) {
	var cfg Campaign
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse campaign yaml: %w", err)
	}
	if err := validateCampaign(&cfg); err != nil {
		return nil, fmt.Errorf("invalid campaign config: %w", err)
	}
	return &cfg, nil
}

// LoadSettings reads runtime settings from the environment.
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := validateSettings(&s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

// validateCampaign performs validation on the campaign record
func validateCampaign(cfg *Campaign) error {
	if cfg.SimulatorPath == "" {
		return fmt.Errorf("simulator_path cannot be empty")
	}
	if cfg.ScriptName == "" {
		return fmt.Errorf("script_name cannot be empty")
	}

	validRunners := map[string]bool{
		RunnerSequential: true,
		RunnerParallel:   true,
		RunnerGrid:       true,
	}
	if !validRunners[cfg.RunnerKind] {
		return fmt.Errorf("invalid runner_kind: %s (must be %s, %s, or %s)",
			cfg.RunnerKind, RunnerSequential, RunnerParallel, RunnerGrid)
	}

	if cfg.BuildProfile != ProfileOptimized && cfg.BuildProfile != ProfileDebug {
		return fmt.Errorf("invalid build_profile: %s (must be %s or %s)", cfg.BuildProfile, ProfileOptimized, ProfileDebug)
	}

	seen := make(map[string]bool, len(cfg.Params))
	for _, p := range cfg.Params {
		if p == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[p] {
			return fmt.Errorf("duplicate parameter: %s", p)
		}
		seen[p] = true
	}
	if !slices.Contains(cfg.Params, models.RngRunParam) {
		return fmt.Errorf("params must include %s", models.RngRunParam)
	}
	return nil
}

// validateSettings validates the runtime settings
func validateSettings(s *Settings) error {
	validLogLevels := map[string]bool{
		"debug":   true,
		"info":    true,
		"warn":    true,
		"warning": true,
		"error":   true,
	}
	if !validLogLevels[s.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s.LogLevel)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", s.Workers)
	}
	if s.GridPollInterval <= 0 {
		return fmt.Errorf("grid poll interval must be positive, got %s", s.GridPollInterval)
	}
	if s.GridMaxPollInterval < s.GridPollInterval {
		return fmt.Errorf("grid max poll interval %s is below poll interval %s", s.GridMaxPollInterval, s.GridPollInterval)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
