// Package config loads and validates loopsmith.yaml. Validation is strict
// and happens before any session state is written: a bad budget or empty
// workflow id must never leave a half-recorded session behind.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// ErrConfiguration marks fatal configuration problems. Wrapped by every
// validation failure so callers can errors.Is against one sentinel.
var ErrConfiguration = errors.New("configuration error")

type Config struct {
	Dir      string         `yaml:"dir"`
	Budget   BudgetConfig   `yaml:"budget"`
	Gates    []GateConfig   `yaml:"gates"`
	Registry RegistryConfig `yaml:"registry"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Logging  LoggingConfig  `yaml:"logging"`

	// AggregateGates switches the verify cycle from fail-fast (default)
	// to run-all-and-aggregate.
	AggregateGates bool `yaml:"aggregate_gates"`
}

type BudgetConfig struct {
	MaxIterations  int `yaml:"max_iterations"`
	MaxWallTimeMin int `yaml:"max_wall_time_min"`
}

// GateConfig declares one verification gate: a command invoked with the
// resolved workflow path appended to Args.
type GateConfig struct {
	Name       string   `yaml:"name"`
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args,omitempty"`
	TimeoutSec int      `yaml:"timeout_sec"`
}

type RegistryConfig struct {
	StaleAfterSec    int `yaml:"stale_after_sec"`
	SweepIntervalSec int `yaml:"sweep_interval_sec"`
	MailboxSize      int `yaml:"mailbox_size"`
}

type WorkflowConfig struct {
	SearchPaths []string `yaml:"search_paths"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads path, applies defaults, and validates. A missing file is not
// an error: defaults alone are a usable configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yamlv3.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Dir == "" {
		cfg.Dir = ".loopsmith"
	}
	if cfg.Budget.MaxIterations <= 0 {
		cfg.Budget.MaxIterations = 5
	}
	if cfg.Budget.MaxWallTimeMin <= 0 {
		cfg.Budget.MaxWallTimeMin = 30
	}
	if len(cfg.Gates) == 0 {
		cfg.Gates = []GateConfig{
			{Name: "validate", Command: "wfctl", Args: []string{"validate"}, TimeoutSec: 60},
			{Name: "dry_run", Command: "wfctl", Args: []string{"run", "--dry-run"}, TimeoutSec: 300},
		}
	}
	for i := range cfg.Gates {
		if cfg.Gates[i].TimeoutSec <= 0 {
			cfg.Gates[i].TimeoutSec = 300
		}
	}
	if cfg.Registry.StaleAfterSec <= 0 {
		cfg.Registry.StaleAfterSec = 90
	}
	if cfg.Registry.SweepIntervalSec <= 0 {
		cfg.Registry.SweepIntervalSec = 15
	}
	if cfg.Registry.MailboxSize <= 0 {
		cfg.Registry.MailboxSize = 256
	}
	if len(cfg.Workflow.SearchPaths) == 0 {
		cfg.Workflow.SearchPaths = []string{"workflows"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate rejects configurations the controller cannot run under.
func (c *Config) Validate() error {
	if c.Budget.MaxIterations < 1 {
		return fmt.Errorf("%w: max_iterations must be >= 1, got %d", ErrConfiguration, c.Budget.MaxIterations)
	}
	if c.Budget.MaxWallTimeMin < 1 {
		return fmt.Errorf("%w: max_wall_time_min must be >= 1, got %d", ErrConfiguration, c.Budget.MaxWallTimeMin)
	}
	seen := make(map[string]bool)
	for _, g := range c.Gates {
		if g.Name == "" {
			return fmt.Errorf("%w: gate with empty name", ErrConfiguration)
		}
		if g.Command == "" {
			return fmt.Errorf("%w: gate %s has no command", ErrConfiguration, g.Name)
		}
		if seen[g.Name] {
			return fmt.Errorf("%w: duplicate gate name %s", ErrConfiguration, g.Name)
		}
		seen[g.Name] = true
	}
	return nil
}

// MaxWallTime returns the wall-clock budget as a duration.
func (c *Config) MaxWallTime() time.Duration {
	return time.Duration(c.Budget.MaxWallTimeMin) * time.Minute
}

// GateTimeout returns gate g's timeout as a duration.
func (g GateConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSec) * time.Second
}
