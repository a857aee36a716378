// Package config provides hierarchical configuration management for pabot
// using koanf. Configuration is loaded with priority: environment variables >
// project config (.pabot/config.yml) > user config (~/.config/pabot/config.yml)
// > defaults. Command-line flags override everything and are applied by the
// CLI layer after loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Configuration holds the pabot defaults that flags may override.
type Configuration struct {
	// Command is the runner invocation used when --command is not given.
	Command []string `koanf:"command"`
	// Processes is the worker pool size. 0 means min(2, cpu_count).
	Processes int `koanf:"processes"`
	// Verbose enables per-worker command echo and stdout on completion.
	Verbose bool `koanf:"verbose"`
	// TestLevelSplit expands suites into individual tests at discovery.
	TestLevelSplit bool `koanf:"testlevelsplit"`
	// CoordinationEnabled starts the coordination server for the run.
	CoordinationEnabled bool `koanf:"coordination_enabled"`
	// CoordinationHost and CoordinationPort locate the coordination server.
	CoordinationHost string `koanf:"coordination_host"`
	CoordinationPort int    `koanf:"coordination_port"`
	// ProcessTimeout is the per-subprocess timeout in seconds, 0 = none.
	ProcessTimeout int `koanf:"process_timeout"`
	// Artifacts lists file extensions collected from worker output dirs.
	Artifacts []string `koanf:"artifacts"`
	// ArtifactsInSubfolders recurses into worker output subdirectories.
	ArtifactsInSubfolders bool `koanf:"artifacts_in_subfolders"`
	// ResourceFile seeds the coordination server's value sets.
	ResourceFile string `koanf:"resource_file"`
	// OutputDir is the base directory for pabot_results and merged output.
	OutputDir string `koanf:"output_dir"`
}

// DefaultProcesses returns the worker pool size used when none is
// configured: two workers, or one on a single-core machine.
func DefaultProcesses() int {
	if n := runtime.NumCPU(); n < 2 {
		return n
	}
	return 2
}

// GetDefaults returns the built-in configuration values.
func GetDefaults() map[string]interface{} {
	return map[string]interface{}{
		"command":                 []string{"robot"},
		"processes":               0,
		"verbose":                 false,
		"testlevelsplit":          false,
		"coordination_enabled":    true,
		"coordination_host":       "127.0.0.1",
		"coordination_port":       8270,
		"process_timeout":         0,
		"artifacts":               []string{"png"},
		"artifacts_in_subfolders": false,
		"resource_file":           "",
		"output_dir":              ".",
	}
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	// ProjectConfigPath overrides the project config path (default: .pabot/config.yml).
	ProjectConfigPath string
}

// Load loads configuration from user, project, and environment sources.
// Priority: environment variables > project config > user config > defaults.
func Load() (*Configuration, error) {
	return LoadWithOptions(LoadOptions{})
}

// LoadWithOptions loads configuration with custom options.
func LoadWithOptions(opts LoadOptions) (*Configuration, error) {
	k := koanf.New(".")

	for key, value := range GetDefaults() {
		k.Set(key, value)
	}

	if path, err := UserConfigPath(); err == nil && fileExists(path) {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading user config %s: %w", path, err)
		}
	}

	projectPath := opts.ProjectConfigPath
	if projectPath == "" {
		projectPath = ProjectConfigPath()
	}
	if fileExists(projectPath) {
		if err := k.Load(file.Provider(projectPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading project config %s: %w", projectPath, err)
		}
	}

	if err := k.Load(env.Provider("PABOT_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment config: %w", err)
	}

	var cfg Configuration
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envTransform maps PABOT_COORDINATION_HOST to coordination_host.
func envTransform(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, "PABOT_"))
}

func (c *Configuration) validate() error {
	if c.Processes < 0 {
		return fmt.Errorf("processes must be >= 0, got %d", c.Processes)
	}
	if c.CoordinationPort < 0 || c.CoordinationPort > 65535 {
		return fmt.Errorf("coordination_port must be in 0..65535, got %d", c.CoordinationPort)
	}
	if c.ProcessTimeout < 0 {
		return fmt.Errorf("process_timeout must be >= 0, got %d", c.ProcessTimeout)
	}
	if len(c.Command) == 0 {
		return fmt.Errorf("command cannot be empty")
	}
	return nil
}

// UserConfigPath returns the XDG-compliant user config file path.
func UserConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "pabot", "config.yml"), nil
}

// ProjectConfigPath returns the project config path relative to the
// current directory.
func ProjectConfigPath() string {
	return filepath.Join(".pabot", "config.yml")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
