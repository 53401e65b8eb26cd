package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "nuncd", cmd.Use)
	assert.Equal(t, "0.1.0", cmd.Version)

	commands := cmd.Commands()
	assert.Len(t, commands, 2, "should have run and status subcommands")

	names := make(map[string]bool)
	for _, c := range commands {
		names[c.Use] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["status"])

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()
	assert.Equal(t, "run", cmd.Use)
	assert.NotNil(t, cmd.RunE)
}

func TestBuildStatusCommand(t *testing.T) {
	cmd := buildStatusCommand()
	assert.Equal(t, "status", cmd.Use)
	assert.NotNil(t, cmd.RunE)
}

func TestLoadHostConfig_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.yaml")

	content := `
pool:
  max_threads: 8

metrics:
  enabled: true
  port: 9100

demo:
  heartbeat_interval_ms: 500
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := loadHostConfig(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8, cfg.Pool.MaxThreads)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9100, cfg.Metrics.Port)
	assert.Equal(t, 500, cfg.Demo.HeartbeatIntervalMs)
}

func TestLoadHostConfig_FileNotFound(t *testing.T) {
	cfg, err := loadHostConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadHostConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalid := `
pool:
  max_threads: "not a number"
  broken
    indentation
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalid), 0644))

	cfg, err := loadHostConfig(configPath)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadHostConfig_DefaultsApplied(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "empty.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(""), 0644))

	cfg, err := loadHostConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Pool.MaxThreads, "zero MaxThreads should default to 4")
	assert.Equal(t, 1000, cfg.Demo.HeartbeatIntervalMs, "zero heartbeat should default to 1000ms")
}
