// Package config loads and persists the collaborator roster.
//
// The roster is a JSON file describing how each collaborator MCP server
// is launched (command, args, env), plus the retry policy the connection
// manager applies to it. Missing roster file is not an error — built-in
// defaults cover all six collaborator kinds.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DataDirName is the dot-directory under the user's home that holds
// the roster file and the local journal database.
const DataDirName = ".maestro"

// RosterFile is the roster filename inside the data directory.
const RosterFile = "collaborators.json"

// Collaborator describes how to launch and talk to one collaborator
// MCP server over stdio.
type Collaborator struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
	// Disabled collaborators are never connected; they surface as
	// offline in health checks rather than erroring.
	Disabled bool `json:"disabled,omitempty"`
}

// Retry holds the connection manager's backoff policy.
type Retry struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Jitter      bool          `json:"jitter"`
}

// Timeouts bounds collaborator round-trips.
type Timeouts struct {
	Probe  time.Duration `json:"probe"`
	Invoke time.Duration `json:"invoke"`
}

// Config is the full maestro configuration.
type Config struct {
	Collaborators map[string]Collaborator `json:"collaborators"`
	Retry         Retry                   `json:"retry"`
	Timeouts      Timeouts                `json:"timeouts"`
	// SyncStrategies maps a conflict key to a resolution strategy,
	// e.g. "latest_checkpoint" -> "prefer_checkpoint".
	SyncStrategies map[string]string `json:"sync_strategies,omitempty"`
}

// Default returns the built-in configuration covering all six
// collaborator kinds with the reference MCP server commands.
func Default() *Config {
	return &Config{
		Collaborators: map[string]Collaborator{
			"memory":     {Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-memory"}},
			"filesystem": {Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-filesystem", "."}},
			"git":        {Command: "uvx", Args: []string{"mcp-server-git"}},
			"sqlite":     {Command: "uvx", Args: []string{"mcp-server-sqlite"}},
			"postgres":   {Command: "npx", Args: []string{"-y", "@modelcontextprotocol/server-postgres"}},
			"checkpoint": {Command: "maestro-checkpoint", Disabled: true},
		},
		Retry: Retry{
			MaxAttempts: 5,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    30 * time.Second,
			Jitter:      true,
		},
		Timeouts: Timeouts{
			Probe:  3 * time.Second,
			Invoke: 15 * time.Second,
		},
		SyncStrategies: map[string]string{
			"latest_checkpoint": "prefer_checkpoint",
			"head_commit":       "prefer_git",
			"branch":            "prefer_git",
		},
	}
}

// DataDir returns the maestro data directory path.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving home dir: %w", err)
	}
	return filepath.Join(home, DataDirName), nil
}

// RosterPath returns the roster file path inside dir.
func RosterPath(dir string) string {
	return filepath.Join(dir, RosterFile)
}

// Load reads the roster file from dir and merges it over the defaults.
// A missing file yields the defaults unchanged.
func Load(dir string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(RosterPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading roster: %w", err)
	}

	var overlay Config
	if err := json.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("config: parsing roster: %w", err)
	}

	for name, c := range overlay.Collaborators {
		cfg.Collaborators[name] = c
	}
	if overlay.Retry.MaxAttempts > 0 {
		cfg.Retry.MaxAttempts = overlay.Retry.MaxAttempts
	}
	if overlay.Retry.BaseDelay > 0 {
		cfg.Retry.BaseDelay = overlay.Retry.BaseDelay
	}
	if overlay.Retry.MaxDelay > 0 {
		cfg.Retry.MaxDelay = overlay.Retry.MaxDelay
	}
	if overlay.Timeouts.Probe > 0 {
		cfg.Timeouts.Probe = overlay.Timeouts.Probe
	}
	if overlay.Timeouts.Invoke > 0 {
		cfg.Timeouts.Invoke = overlay.Timeouts.Invoke
	}
	for key, strategy := range overlay.SyncStrategies {
		cfg.SyncStrategies[key] = strategy
	}

	return cfg, nil
}

// Save writes the configuration to the roster file in dir, creating
// the directory as needed.
func Save(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: creating data dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encoding roster: %w", err)
	}

	if err := os.WriteFile(RosterPath(dir), data, 0600); err != nil {
		return fmt.Errorf("config: writing roster: %w", err)
	}
	return nil
}
