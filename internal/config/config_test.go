package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWithOptions(LoadOptions{ProjectConfigPath: filepath.Join(t.TempDir(), "missing.yml")})
	require.NoError(t, err)

	assert.Equal(t, []string{"robot"}, cfg.Command)
	assert.Equal(t, 0, cfg.Processes)
	assert.True(t, cfg.CoordinationEnabled)
	assert.Equal(t, "127.0.0.1", cfg.CoordinationHost)
	assert.Equal(t, 8270, cfg.CoordinationPort)
	assert.Equal(t, []string{"png"}, cfg.Artifacts)
	assert.Equal(t, ".", cfg.OutputDir)
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("processes: 8\ncoordination_port: 9000\nartifacts:\n  - png\n  - log\n"), 0o644))

	cfg, err := LoadWithOptions(LoadOptions{ProjectConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Processes)
	assert.Equal(t, 9000, cfg.CoordinationPort)
	assert.Equal(t, []string{"png", "log"}, cfg.Artifacts)
	// Untouched keys keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.CoordinationHost)
}

func TestLoad_EnvironmentOverridesProject(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("coordination_host: 10.0.0.1\n"), 0o644))
	t.Setenv("PABOT_COORDINATION_HOST", "192.168.1.5")
	t.Setenv("PABOT_PROCESS_TIMEOUT", "30")

	cfg, err := LoadWithOptions(LoadOptions{ProjectConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.5", cfg.CoordinationHost)
	assert.Equal(t, 30, cfg.ProcessTimeout)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"negative processes": "processes: -1\n",
		"port out of range":  "coordination_port: 70000\n",
		"negative timeout":   "process_timeout: -5\n",
		"empty command":      "command: []\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			_, err := LoadWithOptions(LoadOptions{ProjectConfigPath: path})
			assert.Error(t, err)
		})
	}
}

func TestDefaultProcesses(t *testing.T) {
	t.Parallel()
	n := DefaultProcesses()
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 2)
}
