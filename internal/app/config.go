package app

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coreconfig "github.com/m3rciful/edubot/core/config"
	coredatabase "github.com/m3rciful/edubot/core/database"
)

// Config aggregates the core bot configuration with the app-specific
// sections.
type Config struct {
	Core     coreconfig.Config   `yaml:",inline"`
	Database coredatabase.Config `yaml:"database"`
	App      AppConfig           `yaml:"app"`
}

// AppConfig holds knobs specific to this bot.
type AppConfig struct {
	// ArtifactsDir stores raw uploaded topic documents. Empty disables
	// artifact storage.
	ArtifactsDir string `yaml:"artifacts_dir" envconfig:"APP_ARTIFACTS_DIR"`
	// AutosaveMinutes is the snapshot autosave interval. 0 -> hourly.
	AutosaveMinutes int `yaml:"autosave_minutes" envconfig:"APP_AUTOSAVE_MINUTES"`
	// DuelSweepMinutes is the stale-duel sweep interval. 0 -> every 30 minutes.
	DuelSweepMinutes int `yaml:"duel_sweep_minutes" envconfig:"APP_DUEL_SWEEP_MINUTES"`
	// DuelStaleMinutes is the age past which an unfinished duel is
	// considered abandoned. 0 -> 30 minutes.
	DuelStaleMinutes int `yaml:"duel_stale_minutes" envconfig:"APP_DUEL_STALE_MINUTES"`
}

// CoreConfig exposes the embedded core configuration for the runner.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Core
}

// LoadConfig reads the YAML file, applies environment overrides, and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := coreconfig.Normalize(&cfg.Core); err != nil {
		return nil, err
	}
	if cfg.Core.Telegram.AdminID == 0 {
		return nil, fmt.Errorf("telegram.admin_id is required")
	}
	return &cfg, nil
}
