// Package config loads the runtime configuration: process settings from
// one TOML file, plus the declarative workflow-type and step-graph files
// the workflow registry compiles.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nevindra/cortex"
)

type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	State     StateConfig     `toml:"state"`
	LLM       LLMConfig       `toml:"llm"`
	Workflows WorkflowsConfig `toml:"workflows"`
	Sandbox   SandboxConfig   `toml:"sandbox"`
	Observer  ObserverConfig  `toml:"observer"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver      string `toml:"driver"`
	Path        string `toml:"path"`
	PostgresURL string `toml:"postgres_url"`
}

type SchedulerConfig struct {
	// TickSeconds is the scheduled-event driver's polling period.
	TickSeconds int    `toml:"tick_seconds"`
	Timezone    string `toml:"timezone"`
}

type StateConfig struct {
	// Dir holds the sleep-context sidecar and the background task registry.
	Dir string `toml:"dir"`
}

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
}

type WorkflowsConfig struct {
	// DefinitionsPath maps workflow type names to their declarative entry.
	DefinitionsPath string `toml:"definitions_path"`
	// StepsPath enumerates the step graphs, one per workflow type.
	StepsPath string `toml:"steps_path"`
}

type SandboxConfig struct {
	// Runtime selects the system-action sandbox: "subprocess", "docker",
	// or "http".
	Runtime   string `toml:"runtime"`
	PythonBin string `toml:"python_bin"`
	Image     string `toml:"image"`
	Endpoint  string `toml:"endpoint"`
}

type ObserverConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	stateDir := filepath.Join(home, ".cortex")
	return Config{
		Database:  DatabaseConfig{Driver: "sqlite", Path: filepath.Join(stateDir, "cortex.db")},
		Scheduler: SchedulerConfig{TickSeconds: 30, Timezone: "Local"},
		State:     StateConfig{Dir: stateDir},
		LLM:       LLMConfig{Provider: "gemini", Model: "gemini-2.5-flash"},
		Workflows: WorkflowsConfig{
			DefinitionsPath: filepath.Join(stateDir, "workflows.toml"),
			StepsPath:       filepath.Join(stateDir, "workflow_steps.toml"),
		},
		Sandbox: SandboxConfig{Runtime: "subprocess", PythonBin: "python3"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "cortex.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("CORTEX_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("CORTEX_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CORTEX_POSTGRES_URL"); v != "" {
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv("CORTEX_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CORTEX_STATE_DIR"); v != "" {
		cfg.State.Dir = v
	}
	if v := os.Getenv("CORTEX_OTLP_ENDPOINT"); v != "" {
		cfg.Observer.Endpoint = v
	}
	if v := os.Getenv("CORTEX_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	if cfg.Scheduler.TickSeconds <= 0 {
		cfg.Scheduler.TickSeconds = 30
	}
	return cfg
}

// TickInterval returns the scheduler polling period as a duration.
func (c SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// Location resolves the configured timezone; "Local" or empty means the
// process timezone.
func (c SchedulerConfig) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// workflowDefsFile is the on-disk shape of the workflow-types file.
type workflowDefsFile struct {
	Workflows map[string]cortex.DeclarativeWorkflow `toml:"workflows"`
}

// stepGraphsFile is the on-disk shape of the step-graphs file.
type stepGraphsFile struct {
	Graphs map[string]cortex.DeclarativeGraph `toml:"graphs"`
}

// LoadWorkflowDefs reads the workflow-types file.
func LoadWorkflowDefs(path string) (map[string]cortex.DeclarativeWorkflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow definitions: %w", err)
	}
	var file workflowDefsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse workflow definitions: %w", err)
	}
	return file.Workflows, nil
}

// LoadStepGraphs reads the step-graphs file.
func LoadStepGraphs(path string) (map[string]cortex.DeclarativeGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read step graphs: %w", err)
	}
	var file stepGraphsFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse step graphs: %w", err)
	}
	return file.Graphs, nil
}
